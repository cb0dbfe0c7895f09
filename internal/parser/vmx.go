// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

var (
	uhciFrameRe = regexp.MustCompile(`frame\s*\(\s*(\d+)\s*\)`)
	ehciFrameRe = regexp.MustCompile(`Execute frame\s+(\d+)`)
)

// VMXParser recognizes vmware.log-style lines: "UHCI:"/"EHCI:" carry the
// current frame number and produce a SOFMarker, "USBIO:" is delegated to
// the usbioParser sub-state-machine, anything else flushes it.
type VMXParser struct {
	out chan<- usbtx.Emission

	frame    int
	hasFrame bool

	epoch    time.Time
	hasEpoch bool
	year     int

	cachedStamp string
	cachedDay   time.Time

	usbio *usbioParser
}

// NewVMXParser builds a VMXParser. The calendar year is taken from the
// wall clock at construction time: per spec.md §9 this is a known,
// documented limitation for logs that straddle a New Year.
func NewVMXParser(out chan<- usbtx.Emission) *VMXParser {
	return &VMXParser{
		out:   out,
		year:  time.Now().Year(),
		usbio: newUsbioParser(out),
	}
}

func (p *VMXParser) LineOriented() bool { return true }

func (p *VMXParser) Feed([]byte) error {
	return errors.New("parser: VMXParser is line-oriented, Feed is not supported")
}

// Epoch reports the timestamp of the first record seen, if any.
func (p *VMXParser) Epoch() (time.Time, bool) { return p.epoch, p.hasEpoch }

func (p *VMXParser) FeedLine(line string, lineNumber int) error {
	if idx := strings.Index(line,"UHCI:"); idx >= 0 {
		if m := uhciFrameRe.FindStringSubmatch(line[idx:]); m != nil {
			return p.observeFrame(line, m[1], lineNumber)
		}
		p.usbio.flush()
		return nil
	}
	if idx := strings.Index(line,"EHCI:"); idx >= 0 {
		if m := ehciFrameRe.FindStringSubmatch(line[idx:]); m != nil {
			return p.observeFrame(line, m[1], lineNumber)
		}
		p.usbio.flush()
		return nil
	}
	if idx := strings.Index(line,"USBIO:"); idx >= 0 {
		ts := p.parseRelativeTime(line)
		return p.usbio.parse(line[idx+len("USBIO:"):], ts, p.frame, p.hasFrame, lineNumber)
	}
	p.usbio.flush()
	return nil
}

func (p *VMXParser) observeFrame(line, frameStr string, lineNumber int) error {
	frame, err := strconv.Atoi(frameStr)
	if err != nil {
		return usbtx.NewParseError(usbtx.MalformedRecord, lineNumber, err)
	}
	p.frame = frame
	p.hasFrame = true
	if p.hasEpoch {
		ts := p.parseRelativeTime(line)
		p.out <- usbtx.NewSOFMarker(ts, frame, lineNumber)
	}
	return nil
}

func (p *VMXParser) Flush() { p.usbio.flush() }

// parseRelativeTime extracts the "MMM DD HH:MM:SS.mmm" word at the
// start of line and returns its offset from the epoch (establishing the
// epoch on the first call).
func (p *VMXParser) parseRelativeTime(line string) float64 {
	t := p.parseTime(line)
	if !p.hasEpoch {
		p.epoch = t
		p.hasEpoch = true
	}
	return t.Sub(p.epoch).Seconds()
}

// parseTime parses the leading "MMM DD HH:MM:SS.mmm" word, reusing a
// one-slot cache for the month/day/time-of-day portion so a log with one
// entry per millisecond does not re-run time.Parse on every line.
func (p *VMXParser) parseTime(line string) time.Time {
	if len(line) < 15 {
		return time.Time{}
	}
	stamp := line[:15] // "Nov 02 10:12:43"
	if stamp != p.cachedStamp {
		if t, err := time.Parse("Jan 02 15:04:05", stamp); err == nil {
			p.cachedDay = t
			p.cachedStamp = stamp
		}
	}
	msec := 0
	if len(line) >= 19 && line[15] == '.' {
		if v, err := strconv.Atoi(line[16:19]); err == nil {
			msec = v
		}
	}
	d := p.cachedDay
	return time.Date(p.year, d.Month(), d.Day(), d.Hour(), d.Minute(), d.Second(), msec*1_000_000, time.UTC)
}
