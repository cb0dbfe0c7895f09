// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package follower tails a regular or gzip-compressed log file, feeding
// its bytes to a parser.Parser on its own producer thread, following the
// teacher's Follower->Parser->bus pipeline shape.
package follower

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"

	"github.com/ClusterCockpit/vusb-analyzer/internal/config"
	"github.com/ClusterCockpit/vusb-analyzer/internal/parser"
	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
	log "github.com/ClusterCockpit/vusb-analyzer/pkg/log"
)

const readChunkSize = 64 * 1024

// Follower tails path, decoding it with the parser.New selects for its
// extension and feeding the decoded Emissions onto Out().
type Follower struct {
	path         string
	file         *os.File
	reader       io.Reader
	totalBytes   int64
	bytesRead    atomic.Int64
	pollInterval time.Duration
	cfg          *config.Config
	out          chan usbtx.Emission
	bar          *mpb.Bar
}

// New opens path (transparently peeling .gz) and computes its total size
// for progress reporting, without starting to read it yet.
func New(path string, cfg *config.Config, bufferSize int) (*Follower, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("follower: %w", err)
	}

	fl := &Follower{
		path:         path,
		file:         f,
		pollInterval: cfg.FollowerPollInterval,
		cfg:          cfg,
		out:          make(chan usbtx.Emission, bufferSize),
	}

	if isGzip(path) {
		total, err := gzipISIZE(path)
		if err != nil {
			f.Close()
			return nil, err
		}
		gz, err := newCountingGzipReader(f, &fl.bytesRead)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("follower: %w", err)
		}
		fl.reader = gz
		fl.totalBytes = total
	} else {
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("follower: %w", err)
		}
		fl.reader = &countingReader{r: f, n: &fl.bytesRead}
		fl.totalBytes = stat.Size()
	}

	return fl, nil
}

func isGzip(path string) bool {
	return len(path) > 3 && path[len(path)-3:] == ".gz"
}

// gzipISIZE reads the uncompressed size from a gzip file's trailing
// 4-byte ISIZE footer (mod 2^32, per RFC 1952), used as total_bytes so
// progress is reported against decompressed bytes read.
func gzipISIZE(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("follower: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("follower: %w", err)
	}
	if stat.Size() < 4 {
		return 0, fmt.Errorf("follower: %s is too small to contain a gzip ISIZE footer", path)
	}

	footer := make([]byte, 4)
	if _, err := f.ReadAt(footer, stat.Size()-4); err != nil {
		return 0, fmt.Errorf("follower: reading ISIZE footer of %s: %w", path, err)
	}
	return int64(binary.LittleEndian.Uint32(footer)), nil
}

// SetBar attaches an mpb progress bar updated after every chunk read.
func (fl *Follower) SetBar(bar *mpb.Bar) { fl.bar = bar }

// Out is the Follower's output queue: the bounded channel its internal
// parser publishes decoded Emissions onto. Closed once Run returns.
func (fl *Follower) Out() <-chan usbtx.Emission { return fl.out }

// TotalBytes is the size Progress is measured against.
func (fl *Follower) TotalBytes() int64 { return fl.totalBytes }

// Progress is bytes read over total_bytes, in [0, 1].
func (fl *Follower) Progress() float64 {
	if fl.totalBytes <= 0 {
		return 0
	}
	p := float64(fl.bytesRead.Load()) / float64(fl.totalBytes)
	if p > 1 {
		p = 1
	}
	return p
}

// Run feeds path's contents to a parser on the calling goroutine until
// EOF. With follow, it polls at cfg.FollowerPollInterval on EOF instead
// of returning, watching for appended data. follow is ignored for gzip
// inputs: once the gzip stream's trailing CRC/ISIZE has been consumed,
// the reader does not resume against further appended bytes.
//
// On context cancellation, Run unblocks any in-flight send from the
// internal parser to Out() by draining it, then returns ctx.Err().
func (fl *Follower) Run(ctx context.Context, follow bool) error {
	defer fl.file.Close()

	format := parser.DetectFormat(fl.path)
	p, err := parser.New(format, fl.out, fl.cfg)
	if err != nil {
		close(fl.out)
		return err
	}

	runDone := make(chan struct{})
	go func() {
		select {
		case <-runDone:
			return
		case <-ctx.Done():
		}
		for range fl.out {
		}
	}()

	err = fl.feed(ctx, p, follow && !isGzip(fl.path))
	p.Flush()
	close(runDone)
	close(fl.out)
	return err
}

func (fl *Follower) feed(ctx context.Context, p parser.Parser, follow bool) error {
	buf := make([]byte, readChunkSize)
	var split lineSplitter
	lineNumber := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := fl.reader.Read(buf)
		if n > 0 {
			if fl.bar != nil {
				fl.bar.SetCurrent(fl.bytesRead.Load())
			}
			if p.LineOriented() {
				for _, line := range split.push(buf[:n]) {
					lineNumber++
					if ferr := p.FeedLine(line, lineNumber); ferr != nil {
						log.Warnf("follower: %s:%d: %v", fl.path, lineNumber, ferr)
					}
				}
			} else if ferr := p.Feed(buf[:n]); ferr != nil {
				log.Warnf("follower: %s: %v", fl.path, ferr)
			}
		}

		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("follower: reading %s: %w", fl.path, err)
		}

		if !follow {
			// A file not ending in a newline still owes its last line to
			// the parser; a file still being appended to does not, since
			// what looks unterminated now may just be mid-write.
			if p.LineOriented() {
				if rest := split.rest(); rest != "" {
					lineNumber++
					if ferr := p.FeedLine(rest, lineNumber); ferr != nil {
						log.Warnf("follower: %s:%d: %v", fl.path, lineNumber, ferr)
					}
				}
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fl.pollInterval):
		}
	}
}

// lineSplitter accumulates chunks and yields complete newline-terminated
// lines across Read calls, so a line split across two chunks (or across
// an EOF-then-append gap, in follow mode) is never fed short.
type lineSplitter struct {
	buf []byte
}

func (ls *lineSplitter) push(chunk []byte) []string {
	ls.buf = append(ls.buf, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(ls.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(ls.buf[:i], "\r")))
		ls.buf = ls.buf[i+1:]
	}
	return lines
}

// rest returns (and clears) any data accumulated since the last newline,
// for callers that want to flush a final, unterminated line at EOF.
func (ls *lineSplitter) rest() string {
	if len(ls.buf) == 0 {
		return ""
	}
	s := string(ls.buf)
	ls.buf = nil
	return s
}
