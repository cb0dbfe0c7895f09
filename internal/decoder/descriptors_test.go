// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// massStorageConfigDescriptor builds a minimal configuration descriptor
// with one interface (class 0x08, subclass 0x06, protocol 0x50) and two
// bulk endpoints, 0x01 OUT and 0x81 IN.
func massStorageConfigDescriptor() []byte {
	iface := []byte{9, 0x04, 0, 0, 2, 0x08, 0x06, 0x50, 0}
	epOut := []byte{7, 0x05, 0x01, 0x02, 0x40, 0, 0}
	epIn := []byte{7, 0x05, 0x81, 0x02, 0x40, 0, 0}
	cfg := []byte{9, 0x02, 0, 0, 0, 0, 0, 0, 0}
	out := append([]byte{}, cfg...)
	out = append(out, iface...)
	out = append(out, epOut...)
	out = append(out, epIn...)
	return out
}

func getDescriptorUp(dev int, payload []byte) *usbtx.Transaction {
	tx := &usbtx.Transaction{Dir: usbtx.Up, Dev: dev, Endpt: 0}
	setup := []byte{0x80, 0x06, 0, 0x02, 0, 0, byte(len(payload)), 0}
	tx.Data = append(setup, payload...)
	return tx
}

func TestTrackerLearnsInterfaceClassAndEndpointsFromConfigDescriptor(t *testing.T) {
	tr := NewTracker()
	tr.Observe(getDescriptorUp(1, massStorageConfigDescriptor()))

	out := tr.Context(1, 0x01)
	assert.Equal(t, byte(0x08), out.InterfaceClass)
	assert.Equal(t, byte(0x06), out.InterfaceSubclass)
	assert.True(t, out.IsBulk())
	assert.False(t, out.IsIn())

	in := tr.Context(1, 0x81)
	assert.Equal(t, byte(0x08), in.InterfaceClass)
	assert.True(t, in.IsBulk())
	assert.True(t, in.IsIn())
}

func TestTrackerUnseenDeviceYieldsBareContext(t *testing.T) {
	tr := NewTracker()
	ctx := tr.Context(99, 0x02)
	assert.Equal(t, 99, ctx.Dev)
	assert.Equal(t, byte(0), ctx.InterfaceClass)
	assert.Nil(t, ctx.SiblingEndpoints)
}

func TestTrackerIgnoresUnrelatedControlTransfers(t *testing.T) {
	tr := NewTracker()
	tx := &usbtx.Transaction{
		Dir: usbtx.Up, Dev: 1, Endpt: 0,
		Data: []byte{0x00, 0x09, 0x01, 0, 0, 0, 0, 0}, // SET_CONFIGURATION, OUT direction
	}
	tr.Observe(tx)
	assert.Nil(t, tr.Context(1, 0x01).SiblingEndpoints)
}

func TestTrackerResetOnBusResetForgetsDevice(t *testing.T) {
	tr := NewTracker()
	tr.Observe(getDescriptorUp(1, massStorageConfigDescriptor()))
	require.NotNil(t, tr.Context(1, 0x01))
	assert.Equal(t, byte(0x08), tr.Context(1, 0x01).InterfaceClass)

	tr.Observe(&usbtx.Transaction{Dev: 1, Status: usbtx.Status{Name: "Bus Reset"}})

	assert.Equal(t, byte(0), tr.Context(1, 0x01).InterfaceClass)
}
