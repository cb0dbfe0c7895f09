// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command vusb-analyze is the headless core described by the module's
// design: it tails one (or, with -diff, two) USB bus-capture logs,
// dispatches each transaction through the decoder registry, and fans
// every Transaction/SOFMarker/DiffMarker out over an in-process event
// bus. It has no UI of its own; the sink below is a stand-in for one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/ClusterCockpit/vusb-analyzer/internal/bus"
	"github.com/ClusterCockpit/vusb-analyzer/internal/config"
	"github.com/ClusterCockpit/vusb-analyzer/internal/decoder"
	"github.com/ClusterCockpit/vusb-analyzer/internal/diff"
	"github.com/ClusterCockpit/vusb-analyzer/internal/follower"
	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
	log "github.com/ClusterCockpit/vusb-analyzer/pkg/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	var diffPath string
	var follow bool
	var loglevel string
	var logdate bool
	var quiet bool

	flag.StringVar(&diffPath, "diff", "", "diff the primary log against a second capture file")
	flag.BoolVar(&follow, "follow", false, "keep tailing the primary log for newly appended data (ignored with -diff, and for .gz inputs)")
	flag.StringVar(&loglevel, "loglevel", "info", "debug, info, notice, warn, err or crit")
	flag.BoolVar(&logdate, "logdate", false, "prefix log output with the date and time")
	flag.BoolVar(&quiet, "quiet", false, "suppress the progress bar")
	cfg := config.Init(flag.CommandLine)
	flag.Parse()

	log.SetLogLevel(loglevel)
	log.SetLogDateTime(logdate)

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <capture-file>\n", os.Args[0])
		flag.PrintDefaults()
		return 1
	}
	primaryPath := flag.Arg(0)
	if diffPath != "" && follow {
		log.Warn("-follow has no effect together with -diff; a diff needs both logs complete before it can run")
		follow = false
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventBus := bus.New()
	_, sink := eventBus.Subscribe(256)
	var sinkWg sync.WaitGroup
	sinkWg.Add(1)
	go func() {
		defer sinkWg.Done()
		for ev := range sink {
			fmt.Println(describe(ev))
		}
	}()

	var progress *mpb.Progress
	if !quiet {
		progress = mpb.NewWithContext(ctx)
	}

	primary, err := follower.New(primaryPath, cfg, 256)
	if err != nil {
		log.Errorf("%v", err)
		eventBus.Close()
		sinkWg.Wait()
		return 1
	}
	if progress != nil {
		primary.SetBar(addBar(progress, "primary", primary.TotalBytes()))
	}

	registry := decoder.NewRegistry(decoder.StorageDetector, decoder.FX2Detector)
	primaryTracker := decoder.NewTracker()

	exitCode := 0

	if diffPath == "" {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return primary.Run(gctx, follow) })
		g.Go(func() error {
			for ev := range primary.Out() {
				handleEmission("primary", ev, registry, primaryTracker, eventBus, nil)
			}
			registry.Reset("primary")
			return nil
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("%v", err)
			exitCode = 1
		}
	} else {
		secondary, err := follower.New(diffPath, cfg, 256)
		if err != nil {
			log.Errorf("%v", err)
			eventBus.Close()
			sinkWg.Wait()
			return 1
		}
		if progress != nil {
			secondary.SetBar(addBar(progress, "secondary", secondary.TotalBytes()))
		}
		secondaryTracker := decoder.NewTracker()

		var primaryTxs, secondaryTxs []*usbtx.Transaction

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return primary.Run(gctx, false) })
		g.Go(func() error { return secondary.Run(gctx, false) })
		g.Go(func() error {
			mergePumps(registry, primaryTracker, secondaryTracker, eventBus,
				primary.Out(), secondary.Out(), &primaryTxs, &secondaryTxs)
			return nil
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("%v", err)
			exitCode = 1
		}

		if exitCode == 0 {
			var diffBar *mpb.Bar
			if progress != nil {
				diffBar = progress.AddBar(1000,
					mpb.PrependDecorators(decor.Name("diff: ")),
					mpb.AppendDecorators(decor.Percentage()),
				)
			}
			engine := diff.New(primaryTxs, secondaryTxs)
			dg, dctx := errgroup.WithContext(ctx)
			dg.Go(func() error { return engine.Run(dctx) })
			dg.Go(func() error { return drainDiff(dctx, engine, eventBus, diffBar) })
			if err := dg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("diff: %v", err)
				exitCode = 1
			}
		}
	}

	eventBus.Close()
	sinkWg.Wait()
	if progress != nil {
		progress.Wait()
	}
	return exitCode
}

func addBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	return p.AddBar(total,
		mpb.PrependDecorators(decor.Name(name+": ")),
		mpb.AppendDecorators(decor.Percentage()),
	)
}

// handleEmission routes one Emission from a single log source: a
// Transaction is offered to the descriptor tracker and decoder registry
// before either is published to the bus; other Emissions (SOFMarker) go
// straight through. collect, when non-nil, accumulates every Transaction
// seen, for a caller that will later feed the run to the DiffEngine.
func handleEmission(source string, ev usbtx.Emission, reg *decoder.Registry, tr *decoder.Tracker, b *bus.EventBus, collect *[]*usbtx.Transaction) {
	if tx, ok := ev.(*usbtx.Transaction); ok {
		tr.Observe(tx)
		dctx := tr.Context(tx.Dev, byte(tx.Endpt))
		key := decoder.PipeKey{Source: source, Dev: tx.Dev, InterfaceNum: dctx.InterfaceNum, Endpt: byte(tx.Endpt)}
		reg.Dispatch(key, dctx, tx)
		if tx.Status.Name == "Bus Reset" {
			reg.ResetDevice(source, tx.Dev)
		}
		if collect != nil {
			*collect = append(*collect, tx)
		}
	}
	b.Publish(ev)
}

// mergePumps serializes both sources' Emissions onto a single goroutine
// before they reach the registry, since a shared Registry's per-pipe
// decoder state (see spec §5) assumes one delivery thread; the two
// Followers themselves keep running concurrently on their own producer
// threads. Returns once both output channels are closed.
func mergePumps(reg *decoder.Registry, trPrimary, trSecondary *decoder.Tracker, b *bus.EventBus,
	primaryOut, secondaryOut <-chan usbtx.Emission, primaryTxs, secondaryTxs *[]*usbtx.Transaction) {

	pCh, sCh := primaryOut, secondaryOut
	for pCh != nil || sCh != nil {
		select {
		case ev, ok := <-pCh:
			if !ok {
				pCh = nil
				reg.Reset("primary")
				continue
			}
			handleEmission("primary", ev, reg, trPrimary, b, primaryTxs)
		case ev, ok := <-sCh:
			if !ok {
				sCh = nil
				reg.Reset("secondary")
				continue
			}
			handleEmission("secondary", ev, reg, trSecondary, b, secondaryTxs)
		}
	}
}

// drainDiff forwards a running DiffEngine's four channels onto the bus
// (MarkersA/MarkersB) and the progress bar (Blocks/Progress), returning
// once all four are closed or ctx is cancelled.
func drainDiff(ctx context.Context, eng *diff.Engine, b *bus.EventBus, bar *mpb.Bar) error {
	blocks := eng.Blocks()
	progress := eng.Progress()
	markersA := eng.MarkersA()
	markersB := eng.MarkersB()

	for blocks != nil || progress != nil || markersA != nil || markersB != nil {
		select {
		case _, ok := <-blocks:
			if !ok {
				blocks = nil
			}
		case p, ok := <-progress:
			if !ok {
				progress = nil
			} else if bar != nil {
				bar.SetCurrent(int64(p * 1000))
			}
		case m, ok := <-markersA:
			if !ok {
				markersA = nil
				continue
			}
			b.Publish(m)
		case m, ok := <-markersB:
			if !ok {
				markersB = nil
				continue
			}
			b.Publish(m)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// describe renders one Emission as a single line, standing in for the
// UI this core does not provide.
func describe(ev usbtx.Emission) string {
	switch v := ev.(type) {
	case *usbtx.Transaction:
		line := fmt.Sprintf("[%.6f] dev=%d %s %s", v.Timestamp, v.Dev, v.GetTransferString(), v.Dir)
		if v.DecodedSummary != "" {
			line += " " + v.DecodedSummary
		}
		return line
	case usbtx.SOFMarker:
		return fmt.Sprintf("[%.6f] SOF frame=%d", v.Timestamp, v.Frame)
	case usbtx.DiffMarker:
		return fmt.Sprintf("[%.6f] diff match: %d transaction(s)", v.Timestamp, len(v.Matches))
	default:
		return fmt.Sprintf("%+v", ev.AsEvent())
	}
}
