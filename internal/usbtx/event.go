// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package usbtx holds the canonical value objects exchanged between the
// log parsers, the decoder registry, the diff engine and the event bus:
// Event, Transaction, SOFMarker and DiffMarker.
package usbtx

// Event is the base record shared by everything the parsers emit.
// Timestamp is seconds, relative to the first record a parser observed.
type Event struct {
	Timestamp  float64
	Frame      int
	HasFrame   bool
	LineNumber int
}

// AsEvent makes Event itself satisfy Emission, and is promoted to every
// type that embeds Event (Transaction, SOFMarker, DiffMarker), value or
// pointer receiver alike.
func (e Event) AsEvent() Event { return e }

// Emission is what flows through the parser -> decoder registry ->
// EventBus pipeline: *Transaction, SOFMarker and DiffMarker all satisfy
// it via their embedded Event.
type Emission interface {
	AsEvent() Event
}

// SOFMarker marks a single "start of frame" observation. Frame is always
// valid on a SOFMarker.
type SOFMarker struct {
	Event
}

// NewSOFMarker builds a SOFMarker with Frame/HasFrame already set.
func NewSOFMarker(timestamp float64, frame, lineNumber int) SOFMarker {
	return SOFMarker{Event{Timestamp: timestamp, Frame: frame, HasFrame: true, LineNumber: lineNumber}}
}

// DiffMarker carries two non-empty, parallel, chronologically-ordered runs
// of Transactions that the diff engine found to match across two logs.
type DiffMarker struct {
	Event
	Matches     []*Transaction
	MatchedWith []*Transaction
}

// NewDiffMarker builds a DiffMarker from a matching block. Both slices
// must be non-empty and the same length.
func NewDiffMarker(matches, matchedWith []*Transaction) DiffMarker {
	return DiffMarker{
		Event:       Event{Timestamp: matches[0].Timestamp},
		Matches:     matches,
		MatchedWith: matchedWith,
	}
}
