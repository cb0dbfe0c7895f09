// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decoder dispatches class/vendor-specific protocol decoders to
// (device, interface, endpoint) pipes and keeps their per-pipe state.
package decoder

// DeviceContext is what a Detector inspects to decide whether it owns a
// given pipe. It is built from the device's configuration/interface/
// endpoint descriptors as the core observes them; spec.md §4.4 calls
// this "the descriptor tree so far, current interface triple, current
// endpoint descriptor".
type DeviceContext struct {
	Dev           int
	InterfaceNum  int

	InterfaceClass    byte
	InterfaceSubclass byte
	InterfaceProtocol byte

	EndpointAddr       byte
	EndpointAttributes byte // bmAttributes; &3 == 2 means bulk

	// SiblingEndpoints is every endpoint address advertised by the
	// device's configuration descriptor (across all of its interfaces),
	// needed by heuristics like the FX2 detector
	// that key off the full advertised endpoint set rather than a
	// single endpoint.
	SiblingEndpoints []byte
}

// IsBulk reports whether the current endpoint is a bulk endpoint.
func (c *DeviceContext) IsBulk() bool { return c.EndpointAttributes&0x03 == 0x02 }

// IsIn reports whether the current endpoint is an IN (device-to-host) endpoint.
func (c *DeviceContext) IsIn() bool { return c.EndpointAddr&0x80 != 0 }
