// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bus fans an Emission stream out to any number of subscribers,
// each delivered in its own context (goroutine) per spec.md §5 and the
// teacher's per-worker NATS-subscription fan-out shape.
package bus

import (
	"sync"

	"github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"
	log "github.com/ClusterCockpit/vusb-analyzer/pkg/log"
)

// SubscriptionID names one registered subscriber, returned by Subscribe
// and consumed by Unsubscribe.
type SubscriptionID uint64

type subscriber struct {
	id SubscriptionID
	ch chan usbtx.Emission
}

// EventBus fans out Emissions (Transaction, SOFMarker, DiffMarker) to
// every subscriber in emission order. One subscriber blocked or slow
// never blocks delivery to another: each has its own bounded buffer, and
// a full buffer causes the event being published to be dropped for that
// subscriber, with a warning, rather than stalling Publish.
type EventBus struct {
	mu     sync.Mutex
	nextID SubscriptionID
	subs   []*subscriber
}

// New builds an empty EventBus.
func New() *EventBus {
	return &EventBus{}
}

// Subscribe registers a new subscriber with the given channel buffer size
// and returns its receive channel and ID. The channel is closed by
// Unsubscribe or Close.
func (b *EventBus) Subscribe(buffer int) (SubscriptionID, <-chan usbtx.Emission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan usbtx.Emission, buffer)}
	b.subs = append(b.subs, sub)
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel. A no-op if id
// is unknown (already unsubscribed).
func (b *EventBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			close(sub.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every current subscriber. Per spec.md §4.6,
// consumers must tolerate at-least-once delivery across parser restarts
// but never duplicates within one session; Publish here delivers exactly
// once per subscriber per call, so duplication can only come from a
// caller re-publishing, not from the bus itself.
func (b *EventBus) Publish(ev usbtx.Emission) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			log.Warnf("bus: subscriber %d is behind, dropping event", sub.id)
		}
	}
}

// Close unsubscribes and closes every remaining subscriber's channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
