// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package decoder

import "github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"

// Tracker builds the DeviceContext a Registry needs from descriptors it
// sees go by on EP0, since none of the log formats this core reads carry
// descriptors out of band: the only way to learn a pipe's interface
// class/subclass or its bmAttributes is to notice a standard
// GET_DESCRIPTOR(CONFIGURATION) response and walk it.
type Tracker struct {
	devices map[int]*deviceDescriptors
}

type deviceDescriptors struct {
	interfaces   map[int]ifaceInfo
	endpoints    map[byte]endpointInfo
	allEndpoints []byte
}

type ifaceInfo struct {
	class, subclass, protocol byte
}

type endpointInfo struct {
	ifaceNum   int
	attributes byte
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{devices: make(map[int]*deviceDescriptors)}
}

// Observe inspects tx and, if it is the data stage of a
// GET_DESCRIPTOR(CONFIGURATION) request (bmRequestType 0x80, bRequest
// 0x06, descriptor type 0x02), records every interface and endpoint
// descriptor the configuration blob carries. Anything else is a no-op.
func (t *Tracker) Observe(tx *usbtx.Transaction) {
	if tx.Status.Name == "Bus Reset" {
		t.Reset(tx.Dev)
		return
	}
	if tx.Dir != usbtx.Up || tx.Endpt != 0 || len(tx.Data) < 8 {
		return
	}
	setup := tx.Data[:8]
	if setup[0] != 0x80 || setup[1] != 0x06 || setup[3] != 0x02 {
		return
	}
	walkConfigDescriptor(tx.Data[8:], t.deviceFor(tx.Dev))
}

func (t *Tracker) deviceFor(dev int) *deviceDescriptors {
	dd, ok := t.devices[dev]
	if !ok {
		dd = &deviceDescriptors{interfaces: make(map[int]ifaceInfo), endpoints: make(map[byte]endpointInfo)}
		t.devices[dev] = dd
	}
	return dd
}

// walkConfigDescriptor parses a standard config-descriptor blob: a run
// of (bLength, bDescriptorType, ...) records. Interface descriptors
// (type 0x04) set the interface each following endpoint descriptor
// (type 0x05) until the next interface belongs to; anything else
// (configuration header, HID, class-specific descriptors) is skipped by
// its own bLength without being understood.
func walkConfigDescriptor(data []byte, dd *deviceDescriptors) {
	currentIface := -1
	var endpoints []byte
	for len(data) >= 2 {
		length := int(data[0])
		if length < 2 || length > len(data) {
			break
		}
		record := data[:length]
		switch record[1] {
		case 0x04: // INTERFACE
			if length >= 9 {
				currentIface = int(record[2])
				dd.interfaces[currentIface] = ifaceInfo{
					class:    record[5],
					subclass: record[6],
					protocol: record[7],
				}
			}
		case 0x05: // ENDPOINT
			if length >= 7 && currentIface >= 0 {
				addr := record[2]
				dd.endpoints[addr] = endpointInfo{ifaceNum: currentIface, attributes: record[3]}
				endpoints = append(endpoints, addr)
			}
		}
		data = data[length:]
	}
	if len(endpoints) > 0 {
		dd.allEndpoints = endpoints
	}
}

// Context builds the DeviceContext for (dev, endpt). A device or
// endpoint this Tracker has not seen a configuration descriptor for
// yields a bare context (Dev/EndpointAddr only) rather than an error, so
// a pipe whose enumeration fell outside the captured log still reaches
// the detectors — just without class information to match on.
func (t *Tracker) Context(dev int, endpt byte) *DeviceContext {
	dd, ok := t.devices[dev]
	if !ok {
		return &DeviceContext{Dev: dev, EndpointAddr: endpt}
	}
	ctx := &DeviceContext{
		Dev:              dev,
		EndpointAddr:     endpt,
		SiblingEndpoints: dd.allEndpoints,
	}
	ep, ok := dd.endpoints[endpt]
	if !ok {
		return ctx
	}
	ctx.InterfaceNum = ep.ifaceNum
	ctx.EndpointAttributes = ep.attributes
	if iface, ok := dd.interfaces[ep.ifaceNum]; ok {
		ctx.InterfaceClass = iface.class
		ctx.InterfaceSubclass = iface.subclass
		ctx.InterfaceProtocol = iface.protocol
	}
	return ctx
}

// Reset forgets everything learned about dev, mirroring the Registry's
// own per-device teardown on a bus reset.
func (t *Tracker) Reset(dev int) { delete(t.devices, dev) }
