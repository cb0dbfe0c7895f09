// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package diff streams the matching blocks between two Transaction
// sequences, correlating transactions across the two logs.
package diff

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
)

// Block is one matching run: the N transactions starting at a[I] equal,
// by fingerprint, those starting at b[J]. The final block of a run always
// has N == 0 and I == len(a), J == len(b) — the sentinel marking
// completion.
type Block struct {
	I, J, N int
}

// Peer is what the correlation map records for one side of a match: the
// corresponding transaction on the other log.
type Peer struct {
	Other *usbtx.Transaction
}

// Engine streams the matching blocks between two transaction sequences
// and the DiffMarker events (one per side) each non-empty block produces.
// a and b are treated as immutable snapshots for the engine's lifetime.
type Engine struct {
	a, b []*usbtx.Transaction

	blocks   chan Block
	progress chan float64
	markersA chan usbtx.DiffMarker
	markersB chan usbtx.DiffMarker

	correlation map[*usbtx.Transaction]Peer
}

// New builds an Engine over two already-captured transaction sequences.
func New(a, b []*usbtx.Transaction) *Engine {
	return &Engine{
		a: a, b: b,
		blocks:      make(chan Block, 16),
		progress:    make(chan float64, 16),
		markersA:    make(chan usbtx.DiffMarker, 16),
		markersB:    make(chan usbtx.DiffMarker, 16),
		correlation: make(map[*usbtx.Transaction]Peer),
	}
}

// Blocks streams every matching block, including the terminal sentinel,
// in chronological order.
func (e *Engine) Blocks() <-chan Block { return e.blocks }

// Progress streams (i+j)/(|a|+|b|) after each block, reaching 1.0 at
// the sentinel.
func (e *Engine) Progress() <-chan float64 { return e.progress }

// MarkersA streams the A-side DiffMarker for each non-empty block: Matches
// is the run in a, MatchedWith the corresponding run in b.
func (e *Engine) MarkersA() <-chan usbtx.DiffMarker { return e.markersA }

// MarkersB is MarkersA's mirror for the b side.
func (e *Engine) MarkersB() <-chan usbtx.DiffMarker { return e.markersB }

// Correlation returns the bidirectional transaction -> Peer map. Entries
// for a given block are present once that block has been received from
// Blocks(); the whole map is complete once Run has returned.
func (e *Engine) Correlation() map[*usbtx.Transaction]Peer { return e.correlation }

// Run computes the matching blocks and streams them onto the Engine's
// channels, closing all of them when done. It runs the computation on its
// own goroutine under an errgroup so callers can fold it into the same
// cancellation scope as Follower producers; a ctx cancellation aborts
// before the next block is sent and Run returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(e.blocks)
		defer close(e.progress)
		defer close(e.markersA)
		defer close(e.markersB)
		return e.produce(ctx)
	})
	return g.Wait()
}

func (e *Engine) produce(ctx context.Context) error {
	blocks := matchingBlocks(fingerprints(e.a), fingerprints(e.b))
	total := float64(len(e.a) + len(e.b))

	for _, blk := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}

		if blk.N > 0 {
			matchesA := e.a[blk.I : blk.I+blk.N]
			matchesB := e.b[blk.J : blk.J+blk.N]
			for k := 0; k < blk.N; k++ {
				e.correlation[matchesA[k]] = Peer{Other: matchesB[k]}
				e.correlation[matchesB[k]] = Peer{Other: matchesA[k]}
			}
			if err := send(ctx, e.markersA, usbtx.NewDiffMarker(matchesA, matchesB)); err != nil {
				return err
			}
			if err := send(ctx, e.markersB, usbtx.NewDiffMarker(matchesB, matchesA)); err != nil {
				return err
			}
		}

		if err := send(ctx, e.blocks, blk); err != nil {
			return err
		}

		progress := 1.0
		if total > 0 {
			progress = float64(blk.I+blk.J) / total
		}
		if err := send(ctx, e.progress, progress); err != nil {
			return err
		}
	}
	return nil
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fingerprints(txs []*usbtx.Transaction) []usbtx.DiffSummary {
	out := make([]usbtx.DiffSummary, len(txs))
	for i, tx := range txs {
		out[i] = tx.GetDiffSummary()
	}
	return out
}
