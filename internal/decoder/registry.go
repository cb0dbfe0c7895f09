// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package decoder

import "github.com/ClusterCockpit/vusb-analyzer/internal/usbtx"

// Decoder is a class/vendor-specific protocol decoder bound to one pipe.
// Its single operation mutates the transaction in place, via
// AppendDecoded/PushDecoded, before the registry's caller pushes it onto
// the bus. Modeled as a tagged variant (CommandDecoder, StatusDecoder,
// FX2Decoder) over
// the small fixed set of known decoders, per spec.md §9's guidance
// against a virtual-call megastructure — the interface here exists only
// because Go has no closed union types, not as an invitation to add a
// plugin system.
type Decoder interface {
	HandleEvent(tx *usbtx.Transaction)
}

// Detector inspects a DeviceContext and returns the Decoder that should
// own the described pipe, or nil if it does not recognize it. The first
// non-nil result wins.
type Detector func(ctx *DeviceContext) Decoder

// PipeKey identifies one decoder slot: a device, its interface, and one
// of that interface's endpoints. source distinguishes the two streams of
// a dual-file diff session, which otherwise could collide on identical
// (dev, interface, endpoint) triples.
type PipeKey struct {
	Source       string
	Dev          int
	InterfaceNum int
	Endpt        byte
}

// Registry holds the known Detectors and the live Decoder cache. It is
// not safe for concurrent use from multiple goroutines without external
// synchronization — per spec.md §5, all events for a given (dev, endpt)
// arrive on the same delivery thread, so none is needed in the intended
// usage.
type Registry struct {
	detectors []Detector
	decoders  map[PipeKey]Decoder
}

// NewRegistry builds a Registry with the given detectors, tried in
// order. Register additional detectors with Register.
func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{
		detectors: append([]Detector(nil), detectors...),
		decoders:  make(map[PipeKey]Decoder),
	}
}

// Register adds a detector, tried after every detector already registered.
func (r *Registry) Register(d Detector) { r.detectors = append(r.detectors, d) }

// Bind finds (or reuses, if already bound) the decoder for key given
// ctx, returning nil if no detector claims the pipe.
func (r *Registry) Bind(source string, key PipeKey, ctx *DeviceContext) Decoder {
	if d, ok := r.decoders[key]; ok {
		return d
	}
	for _, detect := range r.detectors {
		if d := detect(ctx); d != nil {
			r.decoders[key] = d
			return d
		}
	}
	return nil
}

// Dispatch hands tx to the decoder bound for key, if any, doing nothing
// otherwise. ctx is used only the first time a pipe is seen, to resolve
// which decoder owns it.
func (r *Registry) Dispatch(key PipeKey, ctx *DeviceContext, tx *usbtx.Transaction) {
	d := r.Bind("", key, ctx)
	if d != nil {
		d.HandleEvent(tx)
	}
}

// Reset tears down every decoder bound under a given source stream, per
// spec.md §3's lifecycle rule ("decoder state ... is torn down on bus
// reset, end-of-log, or session close").
func (r *Registry) Reset(source string) {
	for k := range r.decoders {
		if k.Source == source {
			delete(r.decoders, k)
		}
	}
}

// ResetDevice tears down every decoder bound to one device on one
// source stream, for a device-level (not whole-bus) reset.
func (r *Registry) ResetDevice(source string, dev int) {
	for k := range r.decoders {
		if k.Source == source && k.Dev == dev {
			delete(r.decoders, k)
		}
	}
}
