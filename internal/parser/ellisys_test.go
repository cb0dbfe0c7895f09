// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/vusb-analyzer/internal/config"
	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

func drainEllisys(t *testing.T, p *EllisysParser, xmlDoc string, out chan usbtx.Emission) []usbtx.Emission {
	t.Helper()
	require.NoError(t, p.Feed([]byte(xmlDoc)))
	p.Flush()
	close(out)
	var evs []usbtx.Emission
	for ev := range out {
		evs = append(evs, ev)
	}
	return evs
}

func TestEllisysEP0SetupCompletion(t *testing.T) {
	out := make(chan usbtx.Emission, 32)
	p := NewEllisysParser(out, config.Default())

	doc := `<USBSession>
	<Transaction device="2" endpoint="0">
		<Packet id="SETUP"><Data>40 A0 00 E6 00 00 01 00</Data></Packet>
	</Transaction>
	<Transaction device="2" endpoint="0">
		<Packet id="IN"/>
	</Transaction>
	<Transaction device="2" endpoint="0">
		<Packet id="ACK"/>
	</Transaction>
	</USBSession>`

	evs := drainEllisys(t, p, doc, out)

	var down, up *usbtx.Transaction
	for _, ev := range evs {
		tx, ok := ev.(*usbtx.Transaction)
		if !ok {
			continue
		}
		if tx.Dir == usbtx.Down {
			down = tx
		} else {
			up = tx
		}
	}
	require.NotNil(t, down)
	require.NotNil(t, up)
	assert.Equal(t, []byte{0x40, 0xA0, 0x00, 0xE6, 0x00, 0x00, 0x01, 0x00}, down.Data)
	assert.Equal(t, down.Data[:8], up.Data[:8])
	assert.True(t, up.Status.OK())
}

func TestEllisysResetCompletesOpenPipes(t *testing.T) {
	out := make(chan usbtx.Emission, 32)
	p := NewEllisysParser(out, config.Default())

	doc := `<USBSession>
	<Transaction device="3" endpoint="1">
		<Packet id="OUT"/>
	</Transaction>
	<Reset/>
	</USBSession>`

	evs := drainEllisys(t, p, doc, out)

	var last *usbtx.Transaction
	for _, ev := range evs {
		if tx, ok := ev.(*usbtx.Transaction); ok {
			last = tx
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, "Bus Reset", last.Status.Name)
}

func TestEllisysNonEP0NoHandshakeThenReopen(t *testing.T) {
	out := make(chan usbtx.Emission, 32)
	p := NewEllisysParser(out, config.Default())

	doc := `<USBSession>
	<Transaction device="4" endpoint="2">
		<Packet id="OUT"/>
	</Transaction>
	<Transaction device="4" endpoint="2">
		<Packet id="OUT"/>
	</Transaction>
	</USBSession>`

	evs := drainEllisys(t, p, doc, out)

	var statuses []string
	for _, ev := range evs {
		if tx, ok := ev.(*usbtx.Transaction); ok && tx.Status.Name != "" {
			statuses = append(statuses, tx.Status.Name)
		}
	}
	assert.Contains(t, statuses, "No Handshake")
}

func TestEllisysMaxPacketSizeConfigurable(t *testing.T) {
	cfg := config.Default()
	cfg.EllisysMaxPacketSize = 8
	out := make(chan usbtx.Emission, 32)
	p := NewEllisysParser(out, cfg)
	assert.Equal(t, 8, p.maxPacketSize())
}
