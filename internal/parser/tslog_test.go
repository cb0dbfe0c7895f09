// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

func TestTimestampLogBeginEndPairing(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewTimestampLogParser(out)

	require.NoError(t, p.FeedLine("1000000000 begin-render frame-1", 1))
	require.NoError(t, p.FeedLine("1000500000 end-render frame-1", 2))
	close(out)

	var down, up *usbtx.Transaction
	for ev := range out {
		tx := ev.(*usbtx.Transaction)
		switch tx.Dir {
		case usbtx.Down:
			down = tx
		case usbtx.Up:
			up = tx
		}
	}
	require.NotNil(t, down)
	require.NotNil(t, up)
	assert.Equal(t, down.Endpt, up.Endpt)
	assert.Equal(t, sentinelDatalen, down.Datalen)
	assert.True(t, down.IsDataTransaction())
}

func TestTimestampLogUnprefixedEmitsBoth(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewTimestampLogParser(out)

	require.NoError(t, p.FeedLine("2000000000 checkpoint", 1))
	close(out)

	var n int
	for range out {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestTimestampLogAllocatesVirtualEndpointsIncrementally(t *testing.T) {
	out := make(chan usbtx.Emission, 8)
	p := NewTimestampLogParser(out)

	require.NoError(t, p.FeedLine("0 begin-a x", 1))
	require.NoError(t, p.FeedLine("0 begin-b y", 2))
	close(out)

	var endpts []int
	for ev := range out {
		endpts = append(endpts, ev.(*usbtx.Transaction).Endpt)
	}
	require.Len(t, endpts, 2)
	assert.Equal(t, 1, endpts[0])
	assert.Equal(t, 2, endpts[1])
}
