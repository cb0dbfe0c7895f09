// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

func TestVMXSingleURB(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewVMXParser(out)

	require.NoError(t, p.FeedLine("Nov 02 10:12:43.500 vmx| USBIO: Down dev=2 endpt=0x81 datalen=64", 1))
	require.NoError(t, p.FeedLine("Nov 02 10:12:43.501 vmx| USBIO: Up dev=2 endpt=0x81 datalen=64", 2))
	p.Flush()
	close(out)

	var txs []*usbtx.Transaction
	for ev := range out {
		tx, ok := ev.(*usbtx.Transaction)
		require.True(t, ok)
		txs = append(txs, tx)
	}
	require.Len(t, txs, 2)
	assert.Equal(t, usbtx.Down, txs[0].Dir)
	assert.Equal(t, usbtx.Up, txs[1].Dir)
	for _, tx := range txs {
		assert.Equal(t, 2, tx.Dev)
		assert.Equal(t, 0x81, tx.Endpt)
	}
}

func TestVMXSOFOnlyAfterEpoch(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewVMXParser(out)

	// No epoch established yet: frame (N) lines before the first USBIO
	// line must not emit a SOFMarker.
	require.NoError(t, p.FeedLine("Nov 02 10:12:43.000 vmx| UHCI: frame (10)", 1))
	require.NoError(t, p.FeedLine("Nov 02 10:12:43.100 vmx| USBIO: Down dev=1 endpt=0x00 datalen=0", 2))
	require.NoError(t, p.FeedLine("Nov 02 10:12:43.200 vmx| UHCI: frame (11)", 3))
	p.Flush()
	close(out)

	var sofs, txs int
	for ev := range out {
		switch ev.(type) {
		case usbtx.SOFMarker:
			sofs++
		case *usbtx.Transaction:
			txs++
		}
	}
	assert.Equal(t, 1, sofs)
	assert.Equal(t, 1, txs)
}

func TestVMXHexDumpAndDecodedLines(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewVMXParser(out)

	require.NoError(t, p.FeedLine("Nov 02 10:12:43.000 vmx| USBIO: Down dev=1 endpt=0x01 datalen=4", 1))
	require.NoError(t, p.FeedLine("Nov 02 10:12:43.001 vmx| USBIO: 000: 01 02 03 04", 2))
	require.NoError(t, p.FeedLine("Nov 02 10:12:43.002 vmx| USBIO: some decoded annotation", 3))
	p.Flush()
	close(out)

	var tx *usbtx.Transaction
	for ev := range out {
		if t2, ok := ev.(*usbtx.Transaction); ok {
			tx = t2
		}
	}
	require.NotNil(t, tx)
	assert.Equal(t, []byte{1, 2, 3, 4}, tx.Data)
}
