// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package structcodec is a declarative, composable decoder for the
// fixed-layout binary records USB protocols are built from (SETUP
// packets, CBWs, CSWs, CDBs): unsigned integers in either endianness,
// UTF-16 strings, and Group nodes that aggregate named children.
// Decoding consumes a prefix of a byte buffer and returns the remainder.
package structcodec

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Item is one field of a decoded record. Decode consumes a prefix of buf
// and returns what remains. Value is meaningful for integer items only;
// string items return 0 there and carry their text in String.
type Item interface {
	Decode(buf []byte) (remainder []byte, err error)
	Name() string
	Value() uint32
	String() string
}

type intItem struct {
	name   string
	size   int
	order  byteOrder
	hex    bool
	digits int
	value  uint32
	valid  bool
}

type byteOrder int

const (
	littleEndian byteOrder = iota
	bigEndian
)

func newInt(name string, size int, order byteOrder, hex bool, digits int) *intItem {
	return &intItem{name: name, size: size, order: order, hex: hex, digits: digits}
}

// U8 decodes an unsigned 8-bit integer.
func U8(name string) Item { return newInt(name, 1, littleEndian, false, 0) }

// U8Hex decodes an unsigned 8-bit integer, rendered as 0xXX.
func U8Hex(name string) Item { return newInt(name, 1, littleEndian, true, 2) }

// U16LE decodes a little-endian unsigned 16-bit integer.
func U16LE(name string) Item { return newInt(name, 2, littleEndian, false, 0) }

// U16BE decodes a big-endian unsigned 16-bit integer.
func U16BE(name string) Item { return newInt(name, 2, bigEndian, false, 0) }

// U16Hex decodes a little-endian unsigned 16-bit integer, rendered as 0xXXXX.
func U16Hex(name string) Item { return newInt(name, 2, littleEndian, true, 4) }

// U32LE decodes a little-endian unsigned 32-bit integer.
func U32LE(name string) Item { return newInt(name, 4, littleEndian, false, 0) }

// U32BE decodes a big-endian unsigned 32-bit integer.
func U32BE(name string) Item { return newInt(name, 4, bigEndian, false, 0) }

// U32Hex decodes a little-endian unsigned 32-bit integer, rendered as 0xXXXXXXXX.
func U32Hex(name string) Item { return newInt(name, 4, littleEndian, true, 8) }

func (it *intItem) Decode(buf []byte) ([]byte, error) {
	if len(buf) < it.size {
		return buf, fmt.Errorf("structcodec: field %q needs %d bytes, have %d", it.name, it.size, len(buf))
	}
	chunk, rest := buf[:it.size], buf[it.size:]
	var v uint32
	if it.order == bigEndian {
		for _, b := range chunk {
			v = v<<8 | uint32(b)
		}
	} else {
		for i := len(chunk) - 1; i >= 0; i-- {
			v = v<<8 | uint32(chunk[i])
		}
	}
	it.value = v
	it.valid = true
	return rest, nil
}

func (it *intItem) Name() string  { return it.name }
func (it *intItem) Value() uint32 { return it.value }
func (it *intItem) String() string {
	if !it.valid {
		return "None"
	}
	if it.hex {
		return fmt.Sprintf("0x%0*x", it.digits, it.value)
	}
	return fmt.Sprintf("%d", it.value)
}

var utf16leDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// utf16Item decodes the remainder of the buffer (rounded down to an even
// length) as a UTF-16LE string, consuming it entirely.
type utf16Item struct {
	name  string
	value string
	valid bool
}

// UTF16LE decodes the rest of the current buffer as a UTF-16LE string.
func UTF16LE(name string) Item { return &utf16Item{name: name} }

func (it *utf16Item) Decode(buf []byte) ([]byte, error) {
	n := len(buf) &^ 1
	out, _, err := transform.Bytes(utf16leDecoder, buf[:n])
	if err != nil && err != io.EOF {
		return buf[n:], fmt.Errorf("structcodec: field %q: %w", it.name, err)
	}
	it.value = string(bytes.TrimRight(out, "\x00"))
	it.valid = true
	return buf[n:], nil
}

func (it *utf16Item) Name() string  { return it.name }
func (it *utf16Item) Value() uint32 { return 0 }
func (it *utf16Item) String() string {
	if !it.valid {
		return "None"
	}
	return it.value
}

// Group is an item built from several child items. Children can be
// retrieved by name after decoding via Get.
type Group struct {
	name     string
	children []Item
	byName   map[string]Item
}

// NewGroup builds a Group. A name of "" is fine for an anonymous
// top-level record.
func NewGroup(name string, children ...Item) *Group {
	g := &Group{name: name, children: children, byName: make(map[string]Item, len(children))}
	for _, c := range children {
		g.byName[c.Name()] = c
	}
	return g
}

// Decode runs every child's Decode in order, threading the remaining
// buffer through.
func (g *Group) Decode(buf []byte) ([]byte, error) {
	for _, child := range g.children {
		var err error
		buf, err = child.Decode(buf)
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}

func (g *Group) Name() string  { return g.name }
func (g *Group) Value() uint32 { return 0 }

// Get returns the named child, or nil if there is none by that name.
func (g *Group) Get(name string) Item { return g.byName[name] }

// U32 is a convenience accessor equivalent to Get(name).Value(), for
// format strings that need a field's decoded value.
func (g *Group) U32(name string) uint32 {
	if item := g.byName[name]; item != nil {
		return item.Value()
	}
	return 0
}

func (g *Group) String() string {
	width := 0
	for _, c := range g.children {
		if l := len(c.Name()); l > width {
			width = l
		}
	}
	var b bytes.Buffer
	for i, c := range g.children {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %-*s = %s", width, c.Name(), c.String())
	}
	return b.String()
}
