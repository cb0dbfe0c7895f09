// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package usbtx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendHexDataMonotoneDatalen(t *testing.T) {
	tx := &Transaction{Endpt: 1, Dir: Down}

	require.NoError(t, tx.AppendHexData("01 02 03"))
	assert.Equal(t, 3, tx.Datalen)

	require.NoError(t, tx.AppendHexData("0405"))
	assert.Equal(t, 5, tx.Datalen)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, tx.Data)

	// A further append of fewer bytes than already known must not lower datalen.
	tx.Datalen = 100
	require.NoError(t, tx.AppendHexData("06"))
	assert.Equal(t, 100, tx.Datalen)
}

func TestAppendHexDataEP0SubtractsSetup(t *testing.T) {
	tx := &Transaction{Endpt: 0, Dir: Down}
	require.NoError(t, tx.AppendHexData("8006000100001200"))
	assert.Equal(t, 0, tx.Datalen) // exactly the 8 SETUP bytes, no data stage yet

	require.NoError(t, tx.AppendHexData("0102030405060708091011121314151617181920"))
	assert.True(t, tx.Datalen >= len(tx.Data)-8)
}

func TestAppendHexDataRejectsMalformed(t *testing.T) {
	tx := &Transaction{}
	err := tx.AppendHexData("zz")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, MalformedRecord, perr.Kind)
}

func TestAppendAndPushDecoded(t *testing.T) {
	tx := &Transaction{}
	tx.AppendDecoded("first")
	assert.Equal(t, "first", tx.DecodedSummary)
	assert.Equal(t, "first", tx.Decoded)

	tx.AppendDecoded("second")
	assert.Equal(t, "first", tx.DecodedSummary) // append never changes the summary
	assert.Equal(t, "first\nsecond", tx.Decoded)

	tx.PushDecoded("top")
	assert.Equal(t, "top", tx.DecodedSummary) // push always wins the summary
	assert.Equal(t, "top\nfirst\nsecond", tx.Decoded)
}

func TestGetTransferString(t *testing.T) {
	assert.Equal(t, "EP0", (&Transaction{Endpt: 0}).GetTransferString())
	assert.Equal(t, "EP1 OUT", (&Transaction{Endpt: 1}).GetTransferString())
	assert.Equal(t, "EP1 IN", (&Transaction{Endpt: 0x81}).GetTransferString())
}

func TestIsDataTransactionNonControl(t *testing.T) {
	out := &Transaction{Endpt: 1, Dir: Down}
	assert.True(t, out.IsDataTransaction())
	assert.False(t, (&Transaction{Endpt: 1, Dir: Up}).IsDataTransaction())

	in := &Transaction{Endpt: 0x81, Dir: Up}
	assert.True(t, in.IsDataTransaction())
	assert.False(t, (&Transaction{Endpt: 0x81, Dir: Down}).IsDataTransaction())
}

func TestIsDataTransactionControlReadsSetupByte(t *testing.T) {
	// bmRequestType high bit set => device-to-host (IN) data stage
	in := &Transaction{Endpt: 0, Dir: Up, Data: []byte{0x80, 6, 0, 1, 0, 0, 0x12, 0}}
	assert.True(t, in.IsDataTransaction())
	down := &Transaction{Endpt: 0, Dir: Down, Data: []byte{0x80, 6, 0, 1, 0, 0, 0x12, 0}}
	assert.False(t, down.IsDataTransaction())

	out := &Transaction{Endpt: 0, Dir: Down, Data: []byte{0x00, 6, 0, 1, 0, 0, 0x12, 0}}
	assert.True(t, out.IsDataTransaction())
}

func TestGetDiffSummaryDependsOnlyOnDocumentedFields(t *testing.T) {
	a := &Transaction{Dir: Down, Endpt: 1, Datalen: 10, Data: []byte{1, 2, 3}, LineNumber: 5, DecodedSummary: "x"}
	b := &Transaction{Dir: Down, Endpt: 1, Datalen: 10, Data: []byte{1, 2, 3}, LineNumber: 999, DecodedSummary: "y"}
	assert.Equal(t, a.GetDiffSummary(), b.GetDiffSummary())

	c := &Transaction{Dir: Down, Endpt: 1, Datalen: 11, Data: []byte{1, 2, 3}}
	assert.NotEqual(t, a.GetDiffSummary(), c.GetDiffSummary())
}

func TestEP0SetupSharingInvariant(t *testing.T) {
	down := &Transaction{Endpt: 0, Dir: Down}
	require.NoError(t, down.AppendHexData("8006000100001200"))

	up := &Transaction{Endpt: 0, Dir: Up}
	up.Data = append(up.Data, down.Data[:8]...)

	assert.Equal(t, down.Data[:8], up.Data[:8])
}
