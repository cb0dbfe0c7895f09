// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package decoder

import (
	"fmt"
	"sort"

	"github.com/ClusterCockpit/vusb-analyzer/internal/structcodec"
	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// fx2EndpointSet is the Cypress FX2 reference firmware's fixed endpoint
// layout; a device advertising exactly this set is heuristically
// recognized as an FX2 part (spec.md §4.4.2).
var fx2EndpointSet = []byte{0x81, 0x82, 0x02, 0x84, 0x04, 0x86, 0x06, 0x88, 0x08}

// fx2VendorRequests names the bRequest values the FX2Decoder recognizes.
var fx2VendorRequests = structcodec.EnumDict{
	0xA0: "FirmwareCommand",
}

type fx2Register struct {
	name string
	desc string
}

// fx2Registers is the named on-chip address map the FirmwareCommand's
// wValue is classified against, supplemented from original_source's
// FX2Registers table beyond spec.md §8 scenario 4's single CPUCS example.
var fx2Registers = map[uint16]fx2Register{
	0xE600: {"CPUCS", "Control & Status"},
	0xE601: {"IFCONFIG", "Interface Configuration"},
	0xE602: {"PINFLAGSAB", "FIFO FLAGA/FLAGB Configuration"},
	0xE603: {"PINFLAGSCD", "FIFO FLAGC/FLAGD Configuration"},
	0xE604: {"FIFORESET", "FIFO Reset"},
	0xE605: {"BREAKPT", "Breakpoint"},
	0xE606: {"BPADDRH", "Breakpoint Address H"},
	0xE607: {"BPADDRL", "Breakpoint Address L"},
	0xE608: {"UART230", "230 Kbaud Clock"},
	0xE609: {"FIFOPINPOLAR", "FIFO Polarity"},
	0xE60A: {"REVID", "Chip Revision"},
	0xE60B: {"REVCTL", "Chip Revision Control"},
	0xE610: {"EP1OUTCFG", "Endpoint 1-OUT Configuration"},
	0xE611: {"EP1INCFG", "Endpoint 1-IN Configuration"},
	0xE612: {"EP2CFG", "Endpoint 2 Configuration"},
	0xE613: {"EP4CFG", "Endpoint 4 Configuration"},
	0xE614: {"EP6CFG", "Endpoint 6 Configuration"},
	0xE615: {"EP8CFG", "Endpoint 8 Configuration"},
	0xE618: {"EP2FIFOCFG", "Endpoint 2 FIFO Configuration"},
	0xE619: {"EP4FIFOCFG", "Endpoint 4 FIFO Configuration"},
	0xE61A: {"EP6FIFOCFG", "Endpoint 6 FIFO Configuration"},
	0xE61B: {"EP8FIFOCFG", "Endpoint 8 FIFO Configuration"},
	0xE620: {"EP2GPIFFLGSEL", "Endpoint 2 GPIF Flag Select"},
	0xE624: {"EP2GPIFTRIG", "Endpoint 2 GPIF Trigger"},
	0xE640: {"GPIFWFSELECT", "GPIF Waveform Select"},
	0xE641: {"GPIFIDLECS", "GPIF Idle, CAM, State"},
	0xE642: {"GPIFIDLECTL", "GPIF Idle Control"},
	0xE643: {"GPIFCTLCFG", "GPIF Control Pin Configuration"},
	0xE644: {"GPIFADRH", "GPIF Address H"},
	0xE645: {"GPIFADRL", "GPIF Address L"},
	0xE650: {"GPIFTCB3", "GPIF Transaction Count B3"},
	0xE651: {"GPIFTCB2", "GPIF Transaction Count B2"},
	0xE652: {"GPIFTCB1", "GPIF Transaction Count B1"},
	0xE653: {"GPIFTCB0", "GPIF Transaction Count B0"},
	0xE678: {"EP2GPIFPFSTOP", "Endpoint 2 GPIF Stop on Programmable Flag"},
	0xE67B: {"EP2GPIFFLGSEL2", "Endpoint 2 GPIF Flag Select (alt.)"},
	0xE6B3: {"UDMACRCH", "Dumb GPIF CRC16 H"},
	0xE6B4: {"UDMACRCL", "Dumb GPIF CRC16 L"},
	0xE6C0: {"EP0BCH", "Endpoint 0 Byte Count H"},
	0xE6C1: {"EP0BCL", "Endpoint 0 Byte Count L"},
	0xE6C2: {"EP1OUTBC", "Endpoint 1-OUT Byte Count"},
}

// getAddressDescription classifies an FX2 on-chip address, preferring
// the named register table and falling back to a coarse region guess
// (program memory, GPIF waveform RAM, endpoint buffer) so every address
// renders something legible even outside the explicitly named map.
func getAddressDescription(addr uint16) string {
	if reg, ok := fx2Registers[addr]; ok {
		return fmt.Sprintf("Register [%s] %s", reg.name, reg.desc)
	}
	switch {
	case addr < 0x4000:
		return "Program Memory"
	case addr >= 0xE400 && addr < 0xE600:
		return "GPIF Waveform"
	case addr >= 0xE600 && addr <= 0xE6FF:
		return fmt.Sprintf("Register 0x%04X", addr)
	case addr >= 0xE740 && addr < 0xE7C0:
		return "Endpoint Buffer"
	default:
		return fmt.Sprintf("0x%04X", addr)
	}
}

// FX2Decoder decodes the Cypress FX2 FirmwareCommand vendor request
// (bRequest 0xA0), classifying its wValue as an on-chip address.
type FX2Decoder struct{}

func (d *FX2Decoder) HandleEvent(tx *usbtx.Transaction) {
	if !tx.HasSetupData() || len(tx.Data) < 8 {
		return
	}
	setup := tx.Data[:8]
	bmRequestType := setup[0]
	bRequest := setup[1]
	wValue := uint16(setup[2]) | uint16(setup[3])<<8

	if bRequest != 0xA0 {
		tx.AppendDecoded(fmt.Sprintf("FX2 vendor request %s", fx2VendorRequests.Name(uint32(bRequest))))
		return
	}

	dir := "Write"
	if bmRequestType&0x80 != 0 {
		dir = "Read"
	}
	tx.PushDecoded(fmt.Sprintf("FX2 %s at 0x%04X (%s)", dir, wValue, getAddressDescription(wValue)))
}

// FX2Detector recognizes an FX2 part by its fixed reference-firmware
// endpoint layout rather than by any descriptor field, per spec.md
// §4.4.2, and claims the device's control pipe.
func FX2Detector(ctx *DeviceContext) Decoder {
	if ctx.EndpointAddr != 0 {
		return nil
	}
	if !sameEndpointSet(ctx.SiblingEndpoints, fx2EndpointSet) {
		return nil
	}
	return &FX2Decoder{}
}

func sameEndpointSet(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]byte(nil), a...)
	sb := append([]byte(nil), b...)
	sort.Slice(sa, func(i, j int) bool { return sa[i] < sa[j] })
	sort.Slice(sb, func(i, j int) bool { return sb[i] < sb[j] })
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
