// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package parser turns the heterogeneous textual/XML USB bus-capture
// formats (VMware VMX log, Ellisys XML export, Linux usbmon text, and a
// generic timestamp log) into a canonical stream of usbtx.Event values.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ClusterCockpit/vusb-analyzer/internal/config"
	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// Format identifies which parser a log file needs, decided purely from
// its (post-.gz) file extension.
type Format int

const (
	FormatVMX Format = iota
	FormatEllisys
	FormatUsbmon
	FormatTimestampLog
)

func (f Format) String() string {
	switch f {
	case FormatEllisys:
		return "ellisys"
	case FormatUsbmon:
		return "usbmon"
	case FormatTimestampLog:
		return "tslog"
	default:
		return "vmx"
	}
}

// DetectFormat picks a Format from a filename, peeling off a trailing
// ".gz" first. Anything not recognized falls back to the VMX format, as
// it is the most permissive (any plain-text log).
func DetectFormat(path string) Format {
	base := path
	if strings.EqualFold(filepath.Ext(base), ".gz") {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".xml":
		return FormatEllisys
	case ".mon":
		return FormatUsbmon
	case ".tslog":
		return FormatTimestampLog
	default:
		return FormatVMX
	}
}

// Parser is the shared contract every format-specific parser satisfies:
// consume either whole lines or raw byte chunks, emit usbtx.Event onto
// Out, tolerate incomplete trailing records, and expose an idempotent
// Flush boundary.
type Parser interface {
	// LineOriented reports whether this parser wants FeedLine (true) or
	// Feed (false).
	LineOriented() bool
	// FeedLine consumes one line, without its trailing newline.
	FeedLine(line string, lineNumber int) error
	// Feed consumes a raw chunk of bytes (XML parsers only).
	Feed(chunk []byte) error
	// Flush forces any in-progress transaction to be completed. Safe to
	// call more than once.
	Flush()
}

// New builds the Parser for the given format, emitting events onto out.
func New(format Format, out chan<- usbtx.Emission, cfg *config.Config) (Parser, error) {
	switch format {
	case FormatVMX:
		return NewVMXParser(out), nil
	case FormatEllisys:
		return NewEllisysParser(out, cfg), nil
	case FormatUsbmon:
		return NewUsbmonParser(out), nil
	case FormatTimestampLog:
		return NewTimestampLogParser(out), nil
	default:
		return nil, fmt.Errorf("parser: unknown format %v", format)
	}
}
