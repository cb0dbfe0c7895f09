// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package structcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupDecodeLittleEndianCBW(t *testing.T) {
	g := NewGroup("cbw",
		U32LE("sig"),
		U32LE("tag"),
		U32LE("datalen"),
		U8("flag"),
		U8("lun"),
		U8("cdblen"),
	)
	buf := []byte{'U', 'S', 'B', 'C', 1, 0, 0, 0, 0, 2, 0, 0, 0x80, 0, 0x0a}
	rest, err := g.Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.EqualValues(t, 0x43425355, g.U32("sig"))
	assert.EqualValues(t, 1, g.U32("tag"))
	assert.EqualValues(t, 0x200, g.U32("datalen"))
	assert.EqualValues(t, 0x80, g.U32("flag"))
	assert.EqualValues(t, 0x0a, g.U32("cdblen"))
}

func TestEnumFallthroughNeverFails(t *testing.T) {
	e := EnumDict{0x28: "READ(10)"}
	assert.Equal(t, "READ(10)", e.Name(0x28))
	name := e.Name(0xfe)
	assert.Contains(t, name, "0x")
	assert.NotPanics(t, func() { e.Name(0xffffffff) })
}

func TestShortBufferIsAnError(t *testing.T) {
	g := NewGroup("", U32LE("x"))
	_, err := g.Decode([]byte{1, 2})
	require.Error(t, err)
}

func TestUTF16LEDecode(t *testing.T) {
	// "Hi" in UTF-16LE
	buf := []byte{'H', 0, 'i', 0}
	item := UTF16LE("s")
	rest, err := item.Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, "Hi", item.String())
}

func TestGroupStringRendersFieldNameAndValue(t *testing.T) {
	inner := NewGroup("inner", U8("a"))
	_, err := inner.Decode([]byte{5})
	require.NoError(t, err)
	assert.Contains(t, inner.String(), "a")
	assert.Contains(t, inner.String(), "5")
}
