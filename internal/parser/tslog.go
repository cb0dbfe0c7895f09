// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// sentinelDatalen is the placeholder datalen tslog transactions carry so
// isDataTransaction-style predicates downstream have something to read;
// tslog has no real payload.
const sentinelDatalen = 0x1000

// TimestampLogParser reads the minimal "<nanoseconds> <name> <args...>"
// diagnostic format of spec.md §4.3.4. Names prefixed "begin-"/"end-"
// pair up as Down/Up on a virtual endpoint allocated per base name;
// unprefixed names emit both halves at the same instant.
type TimestampLogParser struct {
	out chan<- usbtx.Emission

	epoch    float64
	hasEpoch bool

	nextEndpt int
	endpts    map[string]int
	pending   map[string]*usbtx.Transaction
}

// NewTimestampLogParser builds a TimestampLogParser.
func NewTimestampLogParser(out chan<- usbtx.Emission) *TimestampLogParser {
	return &TimestampLogParser{
		out:       out,
		nextEndpt: 1,
		endpts:    make(map[string]int),
		pending:   make(map[string]*usbtx.Transaction),
	}
}

func (p *TimestampLogParser) LineOriented() bool { return true }

func (p *TimestampLogParser) Feed([]byte) error {
	return errors.New("parser: TimestampLogParser is line-oriented, Feed is not supported")
}

func (p *TimestampLogParser) Flush() {}

func (p *TimestampLogParser) Epoch() (time.Time, bool) {
	if !p.hasEpoch {
		return time.Time{}, false
	}
	return time.Unix(0, int64(p.epoch)), true
}

func (p *TimestampLogParser) endptFor(name string) int {
	if e, ok := p.endpts[name]; ok {
		return e
	}
	e := p.nextEndpt
	p.nextEndpt++
	p.endpts[name] = e
	return e
}

func (p *TimestampLogParser) FeedLine(line string, lineNumber int) error {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return nil
	}

	nanos, err := strconv.ParseFloat(tokens[0], 64)
	if err != nil {
		return usbtx.NewParseError(usbtx.MalformedRecord, lineNumber, err)
	}
	if !p.hasEpoch {
		p.epoch = nanos
		p.hasEpoch = true
	}
	ts := (nanos - p.epoch) / 1e9

	name := tokens[1]

	switch {
	case strings.HasPrefix(name, "begin-"):
		base := strings.TrimPrefix(name, "begin-")
		endpt := p.endptFor(base)
		tx := &usbtx.Transaction{
			Event:   usbtx.Event{Timestamp: ts, LineNumber: lineNumber},
			Dir:     usbtx.Down,
			Endpt:   endpt,
			Datalen: sentinelDatalen,
		}
		tx.AppendDecoded(strings.Join(tokens[1:], " "))
		p.pending[base] = tx
		p.out <- tx

	case strings.HasPrefix(name, "end-"):
		base := strings.TrimPrefix(name, "end-")
		endpt := p.endptFor(base)
		tx := &usbtx.Transaction{
			Event:   usbtx.Event{Timestamp: ts, LineNumber: lineNumber},
			Dir:     usbtx.Up,
			Endpt:   endpt,
			Datalen: sentinelDatalen,
		}
		tx.AppendDecoded(strings.Join(tokens[1:], " "))
		delete(p.pending, base)
		p.out <- tx

	default:
		endpt := p.endptFor(name)
		down := &usbtx.Transaction{
			Event:   usbtx.Event{Timestamp: ts, LineNumber: lineNumber},
			Dir:     usbtx.Down,
			Endpt:   endpt,
			Datalen: sentinelDatalen,
		}
		down.AppendDecoded(strings.Join(tokens[1:], " "))
		up := &usbtx.Transaction{
			Event:   usbtx.Event{Timestamp: ts, LineNumber: lineNumber},
			Dir:     usbtx.Up,
			Endpt:   endpt,
			Datalen: sentinelDatalen,
		}
		up.AppendDecoded(strings.Join(tokens[1:], " "))
		p.out <- down
		p.out <- up
	}
	return nil
}
