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

func TestUsbmonSetupConcatenation(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewUsbmonParser(out)

	require.NoError(t, p.FeedLine("ffff0001 1000 S Ci:1:002:0 s 80 06 0100 0000 0012 18 <", 1))
	require.NoError(t, p.FeedLine("ffff0001 1200 C Ci:1:002:0 0 18 = 12 01 00 02 00 00 00 40 d1 07 37 a3 00 02 01 02 00 01", 2))
	close(out)

	var up *usbtx.Transaction
	for ev := range out {
		tx := ev.(*usbtx.Transaction)
		if tx.Dir == usbtx.Up {
			up = tx
		}
	}
	require.NotNil(t, up)
	require.True(t, len(up.Data) >= 8)
	assert.Equal(t, []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}, up.Data[:8])
	assert.Equal(t, byte(0x12), up.Data[8]) // first descriptor byte follows the SETUP
}

func TestUsbmonEndpointDirectionBit(t *testing.T) {
	dev, endpt, err := parseUsbmonAddress("Ii:1:002:1")
	require.NoError(t, err)
	assert.Equal(t, 1002, dev) // device address 002 folded with bus 1
	assert.Equal(t, 0x81, endpt)
}

func TestUsbmonBusFoldedIntoDev(t *testing.T) {
	dev, _, err := parseUsbmonAddress("Co:2:005:0")
	require.NoError(t, err)
	assert.Equal(t, 2005, dev)
}

func TestUsbmonOrphanCompletionSynthesizesDownAndReportsStateViolation(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewUsbmonParser(out)

	err := p.FeedLine("ffff0002 1000 C Ci:1:002:0 0 4 = 01 02 03 04", 1)
	close(out)

	var perr *usbtx.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, usbtx.StateViolation, perr.Kind)

	var txs []*usbtx.Transaction
	for ev := range out {
		txs = append(txs, ev.(*usbtx.Transaction))
	}
	require.Len(t, txs, 2)
	assert.Equal(t, usbtx.Down, txs[0].Dir)
	assert.Equal(t, 0, txs[0].Datalen)
	assert.Equal(t, usbtx.Up, txs[1].Dir)
}

func TestUsbmonFrameAlwaysAbsent(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewUsbmonParser(out)
	require.NoError(t, p.FeedLine("ffff0001 1000 S Co:0:001:0 2 0", 1))
	close(out)
	tx := (<-out).(*usbtx.Transaction)
	assert.False(t, tx.HasFrame)
	assert.Equal(t, 0, tx.Frame)
}
