// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

// CircleBuffer is a fixed-length ring buffer with push-front-only
// semantics: the logical "newest" slot moves backward through a preallocated
// array, wrapping around, so that pushing never allocates and never
// discards anything but the single oldest slot each push overwrites.
// Used for the temporal history windows addressed by Encoders and Decoders.
type CircleBuffer[T any] struct {
	data  []T
	start int
}

// NewCircleBuffer allocates a ring of the given fixed capacity. Elements
// start zero-valued.
func NewCircleBuffer[T any](capacity int) *CircleBuffer[T] {
	return &CircleBuffer[T]{data: make([]T, capacity)}
}

// PushFront rotates the ring so that index 0 addresses a new (stale) slot,
// which the caller is expected to immediately overwrite.
func (c *CircleBuffer[T]) PushFront() {
	c.start--
	if c.start < 0 {
		c.start += len(c.data)
	}
}

// At returns a pointer to the element index steps behind the front (0 is
// the newest, Size()-1 is the oldest).
func (c *CircleBuffer[T]) At(index int) *T {
	return &c.data[(c.start+index)%len(c.data)]
}

// Get returns a copy of the element at the given logical index.
func (c *CircleBuffer[T]) Get(index int) T {
	return c.data[(c.start+index)%len(c.data)]
}

// Set overwrites the element at the given logical index.
func (c *CircleBuffer[T]) Set(index int, v T) {
	c.data[(c.start+index)%len(c.data)] = v
}

// Front returns a pointer to the newest element (logical index 0).
func (c *CircleBuffer[T]) Front() *T { return c.At(0) }

// Size returns the fixed capacity of the ring.
func (c *CircleBuffer[T]) Size() int { return len(c.data) }

// Start returns the raw internal start offset, used only by serialization
// to preserve the exact rotation across a write/read round-trip.
func (c *CircleBuffer[T]) Start() int { return c.start }

// SetStart restores a raw internal start offset read back from a stream.
func (c *CircleBuffer[T]) SetStart(start int) { c.start = start }

// Raw exposes the backing array in storage (not logical) order, for
// serialization.
func (c *CircleBuffer[T]) Raw() []T { return c.data }
