// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package decoder

import (
	"fmt"

	"github.com/ClusterCockpit/vusb-analyzer/internal/structcodec"
	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// scsiOpcodes names the SCSI primary/block command set a USB mass-
// storage CDB carries. Unknown opcodes (vendor-specific ranges, newer
// commands) fall through to EnumDict's hex rendering rather than
// failing, per spec.md §4.2/§8 testable property 5. Supplemented from
// original_source's SCSIOpcodes table beyond spec.md §8's exemplars.
var scsiOpcodes = structcodec.EnumDict{
	0x00: "TEST_UNIT_READY",
	0x01: "REWIND",
	0x03: "REQUEST_SENSE",
	0x04: "FORMAT_UNIT",
	0x07: "REASSIGN_BLOCKS",
	0x08: "READ(6)",
	0x0A: "WRITE(6)",
	0x0B: "SEEK(6)",
	0x0F: "READ_REVERSE",
	0x10: "WRITE_FILEMARKS",
	0x11: "SPACE",
	0x12: "INQUIRY",
	0x13: "VERIFY(6)",
	0x15: "MODE_SELECT(6)",
	0x16: "RESERVE",
	0x17: "RELEASE",
	0x18: "COPY",
	0x19: "ERASE",
	0x1A: "MODE_SENSE(6)",
	0x1B: "START_STOP_UNIT",
	0x1C: "RECEIVE_DIAGNOSTIC_RESULTS",
	0x1D: "SEND_DIAGNOSTIC",
	0x1E: "PREVENT_ALLOW_MEDIUM_REMOVAL",
	0x23: "READ_FORMAT_CAPACITIES",
	0x25: "READ_CAPACITY(10)",
	0x28: "READ(10)",
	0x2A: "WRITE(10)",
	0x2B: "SEEK(10)",
	0x2C: "ERASE(10)",
	0x2E: "WRITE_AND_VERIFY(10)",
	0x2F: "VERIFY(10)",
	0x34: "PRE-FETCH(10)",
	0x35: "SYNCHRONIZE_CACHE(10)",
	0x37: "READ_DEFECT_DATA(10)",
	0x3B: "WRITE_BUFFER",
	0x3C: "READ_BUFFER",
	0x3E: "READ_LONG",
	0x3F: "WRITE_LONG",
	0x42: "UNMAP",
	0x43: "READ_TOC/PMA/ATIP",
	0x46: "GET_CONFIGURATION",
	0x4A: "GET_EVENT_STATUS_NOTIFICATION",
	0x4C: "LOG_SELECT",
	0x4D: "LOG_SENSE",
	0x51: "READ_DISC_INFORMATION",
	0x55: "MODE_SELECT(10)",
	0x5A: "MODE_SENSE(10)",
	0x88: "READ(16)",
	0x8A: "WRITE(16)",
	0x91: "SYNCHRONIZE_CACHE(16)",
	0x93: "WRITE_SAME(16)",
	0x9E: "SERVICE_ACTION_IN(16)",
	0xA0: "REPORT_LUNS",
	0xA8: "READ(12)",
	0xAA: "WRITE(12)",
	0xAF: "VERIFY(12)",
	0xB5: "SECURITY_PROTOCOL_IN",
	0xB9: "READ_CD_MSF",
	0xBD: "MECHANISM_STATUS",
	0xBE: "READ_CD",
}

// cdbDecoder extracts a one-line LBA/length summary from the fixed-
// layout opcodes spec.md §4.4.1 calls out for secondary decoding; ok is
// false when cdb is too short to contain the fields it expects.
type cdbDecoder func(cdb []byte) (summary string, ok bool)

var cdbDecoders = map[byte]cdbDecoder{
	0x08: rw6Summary,  // READ(6)
	0x0A: rw6Summary,  // WRITE(6)
	0x28: rw10Summary, // READ(10)
	0x2A: rw10Summary, // WRITE(10)
}

// rw6Summary decodes the 6-byte READ/WRITE CDB: a 5-bit LBA sharing its
// byte with flag bits, so it is read directly rather than through
// StructCodec (which has no sub-byte fields).
func rw6Summary(cdb []byte) (string, bool) {
	if len(cdb) < 6 {
		return "", false
	}
	lba := uint32(cdb[1]&0x1F)<<16 | uint32(cdb[2])<<8 | uint32(cdb[3])
	length := uint32(cdb[4])
	if length == 0 {
		length = 256
	}
	return fmt.Sprintf("0x%02x blocks at 0x%08x", length, lba), true
}

// rw10Summary decodes the 10-byte READ/WRITE CDB via StructCodec: opcode,
// flags, a big-endian LBA, a group number byte, a big-endian transfer
// length, and a control byte.
func rw10Summary(cdb []byte) (string, bool) {
	g := structcodec.NewGroup("",
		structcodec.U8("opcode"),
		structcodec.U8("flags"),
		structcodec.U32BE("lba"),
		structcodec.U8("group"),
		structcodec.U16BE("length"),
		structcodec.U8("control"),
	)
	if _, err := g.Decode(cdb); err != nil {
		return "", false
	}
	return fmt.Sprintf("0x%04x blocks at 0x%08x", g.U32("length"), g.U32("lba")), true
}

func cbwGroup() *structcodec.Group {
	return structcodec.NewGroup("cbw",
		structcodec.U32LE("sig"),
		structcodec.U32LE("tag"),
		structcodec.U32LE("datalen"),
		structcodec.U8("flag"),
		structcodec.U8("lun"),
		structcodec.U8("cdblen"),
	)
}

func cswGroup() *structcodec.Group {
	return structcodec.NewGroup("csw",
		structcodec.U32LE("sig"),
		structcodec.U32LE("tag"),
		structcodec.U32LE("residue"),
		structcodec.U8("status"),
	)
}

// CommandDecoder handles the OUT-direction half of a USB-BBB pipe: CBWs
// carrying SCSI CDBs.
type CommandDecoder struct{}

func (d *CommandDecoder) HandleEvent(tx *usbtx.Transaction) {
	if !tx.IsDataTransaction() || len(tx.Data) < 4 || string(tx.Data[:4]) != "USBC" {
		return
	}
	g := cbwGroup()
	rest, err := g.Decode(tx.Data)
	if err != nil {
		tx.AppendDecoded(fmt.Sprintf("Storage Command: malformed CBW (%v)", err))
		return
	}

	cdblen := int(g.U32("cdblen"))
	if cdblen > len(rest) {
		cdblen = len(rest)
	}
	cdb := rest[:cdblen]

	var opcode byte
	if len(cdb) > 0 {
		opcode = cdb[0]
	}
	name := scsiOpcodes.Name(uint32(opcode))

	summary := fmt.Sprintf("Storage Command: %s", name)
	if decode, ok := cdbDecoders[opcode]; ok {
		if detail, ok := decode(cdb); ok {
			summary = fmt.Sprintf("Storage Command: %s %s", name, detail)
		}
	}

	tx.PushDecoded(summary)
	tx.AppendDecoded(g.String())
	tx.AppendDecoded(fmt.Sprintf("cdb = % x", cdb))
}

// StatusDecoder handles the IN-direction half of a USB-BBB pipe: CSWs
// reporting the outcome of the command the paired CommandDecoder saw.
type StatusDecoder struct{}

func (d *StatusDecoder) HandleEvent(tx *usbtx.Transaction) {
	if !tx.IsDataTransaction() || len(tx.Data) < 4 || string(tx.Data[:4]) != "USBS" {
		return
	}
	g := cswGroup()
	if _, err := g.Decode(tx.Data); err != nil {
		tx.AppendDecoded(fmt.Sprintf("Storage Status: malformed CSW (%v)", err))
		return
	}

	status := g.U32("status")
	residue := g.U32("residue")
	name := cswStatusName(status)

	var summary string
	if residue != 0 {
		summary = fmt.Sprintf("Storage Status (%s, residue=%d)", name, residue)
	} else {
		summary = fmt.Sprintf("Storage Status (%s)", name)
	}
	tx.PushDecoded(summary)
	tx.AppendDecoded(g.String())
}

func cswStatusName(status uint32) string {
	switch status {
	case 0:
		return "ok"
	case 1:
		return "FAILED"
	case 2:
		return "PHASE ERROR"
	default:
		return fmt.Sprintf("0x%02x", status)
	}
}

// StorageDetector claims bulk endpoints of a mass-storage (class 0x08,
// subclass 0x06, i.e. SCSI transparent command set) interface: the OUT
// endpoint gets a CommandDecoder, the IN endpoint a StatusDecoder.
func StorageDetector(ctx *DeviceContext) Decoder {
	if ctx.InterfaceClass != 0x08 || ctx.InterfaceSubclass != 0x06 {
		return nil
	}
	if !ctx.IsBulk() {
		return nil
	}
	if ctx.IsIn() {
		return &StatusDecoder{}
	}
	return &CommandDecoder{}
}
