// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package follower

import (
	"compress/gzip"
	"io"
	"sync/atomic"
)

// countingReader tallies bytes read from r into n, so Progress() can
// report bytes_read/total_bytes without the caller threading a counter
// through every Read call site.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// newCountingGzipReader wraps f in a gzip.Reader that counts decompressed
// bytes, matching total_bytes (the ISIZE footer, also a decompressed-byte
// count) unit for unit.
func newCountingGzipReader(f io.Reader, bytesRead *atomic.Int64) (io.Reader, error) {
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	return &countingReader{r: gz, n: bytesRead}, nil
}
