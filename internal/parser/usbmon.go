// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// usbmonPending tracks an in-flight URB between its "S" (submission) and
// "C"/"E" (completion) lines, keyed by usbmon's tag word.
type usbmonPending struct {
	down  *usbtx.Transaction
	setup []byte
}

// UsbmonParser reads Linux usbmon's text format (see spec.md §4.3.3).
// Frame numbers are never available on this format: usbmon carries no
// frame counter, a limitation documented in spec.md §9 and preserved
// rather than fabricated.
type UsbmonParser struct {
	out chan<- usbtx.Emission

	epoch    float64
	hasEpoch bool

	pending map[string]*usbmonPending
}

// NewUsbmonParser builds a UsbmonParser.
func NewUsbmonParser(out chan<- usbtx.Emission) *UsbmonParser {
	return &UsbmonParser{out: out, pending: make(map[string]*usbmonPending)}
}

func (p *UsbmonParser) LineOriented() bool { return true }

func (p *UsbmonParser) Feed([]byte) error {
	return errors.New("parser: UsbmonParser is line-oriented, Feed is not supported")
}

// Epoch reports the (wall-clock-relative) timestamp of the first record.
func (p *UsbmonParser) Epoch() (time.Time, bool) {
	if !p.hasEpoch {
		return time.Time{}, false
	}
	return time.Unix(0, int64(p.epoch*1000)), true
}

func (p *UsbmonParser) Flush() {}

func (p *UsbmonParser) FeedLine(line string, lineNumber int) error {
	tokens := strings.Fields(line)
	if len(tokens) < 4 {
		return nil
	}

	tag := tokens[0]
	usec, err := strconv.ParseFloat(tokens[1], 64)
	if err != nil {
		return usbtx.NewParseError(usbtx.MalformedRecord, lineNumber, err)
	}
	if !p.hasEpoch {
		p.epoch = usec
		p.hasEpoch = true
	}
	ts := (usec - p.epoch) / 1_000_000

	eventType := tokens[2]
	addr := tokens[3]

	dev, endpt, err := parseUsbmonAddress(addr)
	if err != nil {
		return usbtx.NewParseError(usbtx.MalformedRecord, lineNumber, err)
	}

	rest := tokens[4:]

	switch eventType {
	case "S":
		tx := &usbtx.Transaction{
			Event: usbtx.Event{Timestamp: ts, LineNumber: lineNumber},
			Dir:   usbtx.Down,
			Dev:   dev,
			Endpt: endpt,
		}
		pend := &usbmonPending{down: tx}
		if len(rest) > 0 && rest[0] == "s" && len(rest) >= 6 {
			setup, err := parseUsbmonSetupWords(rest[1:6])
			if err != nil {
				return usbtx.NewParseError(usbtx.MalformedRecord, lineNumber, err)
			}
			pend.setup = setup
			tx.Data = append(tx.Data, setup...)
			tx.Datalen = len(setup)
		} else if len(rest) > 0 {
			appendUsbmonData(tx, rest)
		}
		p.pending[tag] = pend
		p.out <- tx
		return nil

	case "C", "E":
		pend, ok := p.pending[tag]
		var stateErr error
		if !ok {
			// A completion with no matching submission: usbmon's ring
			// buffer dropped or reordered the "S" line. Synthesize a
			// zero-datalen Down so the Up still pairs with something,
			// and report the gap rather than hiding it.
			p.out <- &usbtx.Transaction{
				Event:   usbtx.Event{Timestamp: ts, LineNumber: lineNumber},
				Dir:     usbtx.Down,
				Dev:     dev,
				Endpt:   endpt,
				Datalen: 0,
			}
			stateErr = usbtx.NewParseError(usbtx.StateViolation, lineNumber,
				fmt.Errorf("usbmon: tag %q completed with no matching submission", tag))
			pend = &usbmonPending{}
		} else {
			delete(p.pending, tag)
		}
		tx := &usbtx.Transaction{
			Event: usbtx.Event{Timestamp: ts, LineNumber: lineNumber},
			Dir:   usbtx.Up,
			Dev:   dev,
			Endpt: endpt,
		}
		if pend.setup != nil {
			tx.Data = append(tx.Data, pend.setup...)
		}
		if len(rest) > 0 {
			if status, err := strconv.Atoi(rest[0]); err == nil {
				tx.Status = usbtx.Status{Code: status}
			}
			appendUsbmonData(tx, rest[1:])
		}
		p.out <- tx
		return stateErr
	}
	return nil
}

// parseUsbmonAddress parses usbmon's "T d:B:D:E" address word: type+dir
// char, bus (optional on old kernels), device address, endpoint.
func parseUsbmonAddress(addr string) (dev, endpt int, err error) {
	fields := strings.Split(addr, ":")
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("usbmon: malformed address word %q", addr)
	}
	typeDir := fields[0]
	var busField, devField, epField string
	if len(fields) == 4 {
		busField, devField, epField = fields[1], fields[2], fields[3]
	} else {
		devField, epField = fields[1], fields[2]
	}

	devNum, err := strconv.Atoi(devField)
	if err != nil {
		return 0, 0, fmt.Errorf("usbmon: bad device field %q: %w", devField, err)
	}
	if busField != "" {
		busNum, err := strconv.Atoi(busField)
		if err == nil {
			devNum += busNum * 1000
		}
	}

	ep, err := strconv.Atoi(epField)
	if err != nil {
		return 0, 0, fmt.Errorf("usbmon: bad endpoint field %q: %w", epField, err)
	}
	if ep != 0 && len(typeDir) > 0 && typeDir[len(typeDir)-1] == 'i' {
		ep |= 0x80
	}
	return devNum, ep, nil
}

// parseUsbmonSetupWords reassembles the five whitespace-separated hex
// words following a setup tag 's' (bmRequestType, bRequest, wValue,
// wIndex, wLength — the last three printed as 16-bit values, not raw
// wire bytes) into the 8-byte wire-order SETUP packet.
func parseUsbmonSetupWords(words []string) ([]byte, error) {
	if len(words) != 5 {
		return nil, fmt.Errorf("usbmon: expected 5 setup words, got %d", len(words))
	}
	bmRequestType, err := strconv.ParseUint(words[0], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("usbmon: bad bmRequestType %q: %w", words[0], err)
	}
	bRequest, err := strconv.ParseUint(words[1], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("usbmon: bad bRequest %q: %w", words[1], err)
	}
	wValue, err := strconv.ParseUint(words[2], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("usbmon: bad wValue %q: %w", words[2], err)
	}
	wIndex, err := strconv.ParseUint(words[3], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("usbmon: bad wIndex %q: %w", words[3], err)
	}
	wLength, err := strconv.ParseUint(words[4], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("usbmon: bad wLength %q: %w", words[4], err)
	}

	buf := make([]byte, 8)
	buf[0] = byte(bmRequestType)
	buf[1] = byte(bRequest)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(wValue))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(wIndex))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(wLength))
	return buf, nil
}

// appendUsbmonData consumes the remainder of a line after the
// status/setup slot: an optional "length" token, then an "=" marker
// followed by big-endian-grouped hex bytes.
func appendUsbmonData(tx *usbtx.Transaction, rest []string) {
	for i, tok := range rest {
		if tok == "=" {
			data, err := hexBytes(strings.Join(rest[i+1:], " "))
			if err == nil {
				tx.AppendHexData(hexDump(data))
			}
			return
		}
		if n, err := strconv.Atoi(tok); err == nil && n > tx.Datalen {
			tx.Datalen = n
		}
	}
}

func hexBytes(s string) ([]byte, error) {
	fields := strings.Fields(s)
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		group, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("usbmon: bad hex group %q: %w", f, err)
		}
		out = append(out, group...)
	}
	return out, nil
}

func hexDump(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", v)
	}
	return sb.String()
}
