// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/vusb-analyzer/internal/config"
	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// ellisysPipe is the per-(dev,endpt) state table of spec.md §4.3.2.
type ellisysPipe struct {
	current     *usbtx.Transaction
	up          bool // true once flipped from Down to Up
	ep0Final    bool // ep0FinalStage: the data stage's last packet has been seen
	setup       []byte
}

// EllisysParser is a SAX-style content handler over the Ellisys capture
// XML export, driven by encoding/xml.Decoder.Token() rather than a DOM
// tree: the pack carries no third-party XML library (DESIGN.md), and
// streaming Token() calls match the Follower's incremental-chunk feed.
type EllisysParser struct {
	out chan<- usbtx.Emission
	cfg *config.Config

	dec        *xml.Decoder
	pr         *io.PipeReader
	pw         *io.PipeWriter
	done       chan struct{}
	lastErr    error
	lineNumber int

	epoch    time.Time
	hasEpoch bool

	dev   int
	endpt int

	inData bool
	pipes  map[pipeKey]*ellisysPipe
}

type pipeKey struct {
	dev, endpt int
}

// NewEllisysParser builds an EllisysParser. Unlike the line-oriented
// parsers, bytes arrive via Feed and are piped into an xml.Decoder run
// on a background goroutine, so partial chunks (the Follower's
// byte-oriented mode) are fine: Decoder.Token() blocks for more input
// exactly like it would reading a growing file directly.
func NewEllisysParser(out chan<- usbtx.Emission, cfg *config.Config) *EllisysParser {
	pr, pw := io.Pipe()
	p := &EllisysParser{
		out:   out,
		cfg:   cfg,
		dec:   xml.NewDecoder(pr),
		pr:    pr,
		pw:    pw,
		done:  make(chan struct{}),
		pipes: make(map[pipeKey]*ellisysPipe),
	}
	go p.run()
	return p
}

func (p *EllisysParser) LineOriented() bool { return false }

func (p *EllisysParser) FeedLine(string, int) error {
	return fmt.Errorf("parser: EllisysParser is byte-oriented, FeedLine is not supported")
}

func (p *EllisysParser) Feed(chunk []byte) error {
	if _, err := p.pw.Write(chunk); err != nil {
		return usbtx.NewParseError(usbtx.IOFailure, p.lineNumber, err)
	}
	return nil
}

// Epoch reports the timestamp of the first StartOfFrame observed.
func (p *EllisysParser) Epoch() (time.Time, bool) { return p.epoch, p.hasEpoch }

// Flush closes the pipe so the background Token() loop reaches EOF,
// completes every still-open pipe with "End of Log", and waits for the
// decode goroutine to exit. Safe to call more than once.
func (p *EllisysParser) Flush() {
	if p.done == nil {
		return
	}
	p.pw.Close()
	<-p.done
	p.completeAll(usbtx.Status{Name: "End of Log"})
	p.done = nil
}

// run drives the xml token loop on its own goroutine so Feed can push
// bytes without deadlocking on the synchronous io.Pipe. A malformed
// document stops the token loop (IOFailure, per spec.md §7); a single
// malformed element is swallowed by handleToken's own attribute
// fallbacks and never aborts the loop.
func (p *EllisysParser) run() {
	defer close(p.done)
	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			p.lastErr = usbtx.NewParseError(usbtx.IOFailure, p.lineNumber, err)
			return
		}
		p.lineNumber++
		p.handleToken(tok)
	}
}

func (p *EllisysParser) handleToken(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		switch t.Name.Local {
		case "StartOfFrame":
			return p.handleStartOfFrame(t)
		case "Transaction":
			return p.handleTransactionStart(t)
		case "Packet":
			return p.handlePacket(t)
		case "Reset":
			p.completeAll(usbtx.Status{Name: "Bus Reset"})
		case "Data":
			p.inData = true
		}
	case xml.EndElement:
		if t.Name.Local == "Data" {
			p.inData = false
		}
	case xml.CharData:
		if p.inData {
			p.appendData(string(t))
		}
	}
	return nil
}

// appendData parses whitespace-separated hex bytes from a <data> element
// body and appends them to whichever pipe's transaction is currently
// open for the active (dev, endpt) pair.
func (p *EllisysParser) appendData(text string) {
	pp, ok := p.pipes[pipeKey{p.dev, p.endpt}]
	if !ok || pp.current == nil {
		return
	}
	pp.current.AppendHexData(text)
}

func attr(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attrInt(start xml.StartElement, name string, base int) (int, bool) {
	s, ok := attr(start, name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), base, 64)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func (p *EllisysParser) handleStartOfFrame(start xml.StartElement) error {
	frame, _ := attrInt(start, "frame", 10)
	tsStr, _ := attr(start, "time")
	ts, _ := strconv.ParseFloat(tsStr, 64)
	if !p.hasEpoch {
		p.epoch = time.Unix(0, int64(ts*1e9))
		p.hasEpoch = true
		ts = 0
	} else {
		ts -= p.epoch.Sub(time.Unix(0, 0)).Seconds()
	}
	p.out <- usbtx.NewSOFMarker(ts, frame, p.lineNumber)
	return nil
}

func (p *EllisysParser) handleTransactionStart(start xml.StartElement) error {
	if dev, ok := attrInt(start, "device", 10); ok {
		p.dev = dev
	}
	if ep, ok := attrInt(start, "endpoint", 0); ok {
		p.endpt = ep
	}
	return nil
}

func (p *EllisysParser) pipeFor(dev, endpt int) *ellisysPipe {
	key := pipeKey{dev, endpt}
	pp, ok := p.pipes[key]
	if !ok {
		pp = &ellisysPipe{}
		p.pipes[key] = pp
	}
	return pp
}

func (p *EllisysParser) handlePacket(start xml.StartElement) error {
	id, _ := attr(start, "id")
	dev, endpt := p.dev, p.endpt
	ep0 := endpt == 0

	pp := p.pipeFor(dev, endpt)

	if ep0 {
		return p.handleEP0Packet(pp, dev, endpt, id)
	}
	return p.handleNonEP0Packet(pp, dev, endpt, id)
}

func (p *EllisysParser) newDown(dev, endpt int) *usbtx.Transaction {
	return &usbtx.Transaction{
		Event: usbtx.Event{LineNumber: p.lineNumber},
		Dir:   usbtx.Down,
		Dev:   dev,
		Endpt: endpt,
	}
}

func (p *EllisysParser) completePipe(pp *ellisysPipe, status usbtx.Status) {
	if pp.current == nil {
		return
	}
	pp.current.Status = status
	p.out <- pp.current
	pp.current = nil
	pp.up = false
	pp.ep0Final = false
	pp.setup = nil
}

func (p *EllisysParser) completeAll(status usbtx.Status) {
	for _, pp := range p.pipes {
		p.completePipe(pp, status)
	}
}

func (p *EllisysParser) handleEP0Packet(pp *ellisysPipe, dev, endpt int, id string) error {
	switch {
	case pp.current == nil && id == "SETUP":
		pp.current = p.newDown(dev, endpt)
		pp.ep0Final = false
		p.out <- pp.current
		return nil

	case pp.current != nil && !pp.up && id == "IN":
		pp.setup = append([]byte(nil), pp.current.Data[:min(8, len(pp.current.Data))]...)
		up := &usbtx.Transaction{
			Event: usbtx.Event{LineNumber: p.lineNumber},
			Dir:   usbtx.Up,
			Dev:   dev,
			Endpt: endpt,
		}
		up.Data = append(up.Data, pp.setup...)
		pp.current = up
		pp.up = true
		if len(pp.setup) > 0 && pp.setup[0]&0x80 == 0 {
			pp.ep0Final = true
		}
		p.out <- pp.current
		return nil

	case pp.current != nil && !pp.up && id == "OUT":
		if len(pp.current.Data) >= 1 && pp.current.Data[0]&0x80 != 0 {
			pp.ep0Final = true
		}
		return nil

	case pp.current != nil && (id == "STALL" || (id == "ACK" && pp.ep0Final)):
		p.completePipe(pp, usbtx.Status{})
		return nil

	case pp.current != nil && id == "PING":
		pp.ep0Final = false
		return nil
	}
	return nil
}

func (p *EllisysParser) handleNonEP0Packet(pp *ellisysPipe, dev, endpt int, id string) error {
	// A pipe pending its Down->Up flip that sees a fresh token (rather
	// than a handshake) means the previous URB never got one (frequent
	// on isochronous endpoints): complete it as best-effort, then fall
	// through to opening the new Down below.
	if pp.current != nil && !pp.up && (id == "OUT" || id == "IN" || id == "PING") {
		p.completePipe(pp, usbtx.Status{Name: "No Handshake"})
	}

	switch {
	case pp.current == nil && (id == "OUT" || id == "IN" || id == "PING"):
		e := endpt
		if id == "IN" {
			e |= 0x80
		}
		pp.current = p.newDown(dev, e)
		pp.up = false
		p.out <- pp.current
		return nil

	case pp.current != nil && !pp.up && (id == "NAK" || id == "NYET" || id == "STALL" || id == "IN"):
		up := &usbtx.Transaction{
			Event: usbtx.Event{LineNumber: p.lineNumber},
			Dir:   usbtx.Up,
			Dev:   pp.current.Dev,
			Endpt: pp.current.Endpt,
		}
		pp.current = up
		pp.up = true
		p.out <- pp.current
		return nil

	case pp.current != nil && pp.up && id == "ACK":
		if len(pp.current.Data)%p.maxPacketSize() != 0 {
			p.completePipe(pp, usbtx.Status{})
		}
		return nil

	case pp.current != nil && pp.up && (id == "NYET" || id == "STALL"):
		p.completePipe(pp, usbtx.Status{Name: id})
		return nil
	}
	return nil
}

func (p *EllisysParser) maxPacketSize() int {
	if p.cfg != nil && p.cfg.EllisysMaxPacketSize > 0 {
		return p.cfg.EllisysMaxPacketSize
	}
	return 64
}

