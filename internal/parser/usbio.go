// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

var (
	hexDumpNewRe = regexp.MustCompile(`^[0-9a-f]{3}:\s`)
	hexDumpOldRe = regexp.MustCompile(`^[0-9a-f]{2}\s`)
)

// usbioParser is the "USBIO:" sub-state-machine described in spec.md
// §4.3.1. It keeps one in-progress Transaction across calls; a new
// Up/Down line flushes whatever was building before starting the next
// one. Decoded-annotation lines that arrive before any Up/Down line has
// been seen stay attached to the in-progress (not yet directioned)
// transaction and surface once a real Up/Down line supplies Dir — this
// mirrors the original parser's behavior of accumulating onto a single
// mutable "current" record.
type usbioParser struct {
	out     chan<- usbtx.Emission
	current *usbtx.Transaction
	started bool
}

func newUsbioParser(out chan<- usbtx.Emission) *usbioParser {
	return &usbioParser{out: out, current: &usbtx.Transaction{}}
}

// flush pushes the in-progress transaction onto out, if one was ever
// properly started by an Up/Down line, and resets state. Idempotent.
func (p *usbioParser) flush() {
	if p.started {
		p.out <- p.current
		p.current = &usbtx.Transaction{}
		p.started = false
	}
}

func (p *usbioParser) parse(line string, timestamp float64, frame int, hasFrame bool, lineNumber int) error {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil
	}

	switch tokens[0] {
	case "Up", "Down":
		p.flush()
		p.current.LineNumber = lineNumber
		p.current.Timestamp = timestamp
		p.current.Frame = frame
		p.current.HasFrame = hasFrame
		if tokens[0] == "Up" {
			p.current.Dir = usbtx.Up
		} else {
			p.current.Dir = usbtx.Down
		}
		p.started = true
		return p.parseFields(tokens[1:])

	default:
		line = strings.TrimLeft(line, " \t")
		if hexDumpNewRe.MatchString(line) {
			data := line[strings.Index(line, ":")+1:]
			data = strings.TrimLeft(data, " ")
			return p.current.AppendHexData(truncate(data, 48))
		}
		if hexDumpOldRe.MatchString(line) {
			return p.current.AppendHexData(truncate(line, 48))
		}
		p.current.AppendDecoded(strings.TrimSpace(line))
		return nil
	}
}

// parseFields reads "key=value" tokens following an Up/Down line.
// endpt is interpreted in base 16 (it arrives as e.g. "0x81"); all other
// known fields are base 10. Fields the transaction model has no slot for
// are ignored — the original parser's dynamic setattr onto arbitrary
// attribute names has no static-typing equivalent here.
func (p *usbioParser) parseFields(tokens []string) error {
	for _, tok := range tokens {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, valStr := kv[0], kv[1]
		base := 10
		if key == "endpt" {
			base = 0
		}
		val, err := strconv.ParseInt(valStr, base, 64)
		if err != nil {
			return usbtx.NewParseError(usbtx.MalformedRecord, p.current.LineNumber, err)
		}
		switch key {
		case "dev":
			p.current.Dev = int(val)
		case "endpt":
			p.current.Endpt = int(val)
		case "datalen":
			p.current.Datalen = int(val)
		case "frame":
			p.current.Frame = int(val)
			p.current.HasFrame = true
		case "status":
			p.current.Status = usbtx.Status{Code: int(val)}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
