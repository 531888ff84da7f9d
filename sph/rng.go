// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import "github.com/chewxy/math32"

// RNGState is a 64-bit multiply-with-carry generator state (MWC64X), the
// same generator the reference engine uses. It is small enough to be
// derived per-column so that a parallel pass over hidden columns is
// reproducible regardless of execution order: each column consumes its own
// substream rather than sharing one global generator.
type RNGState uint64

// NewRNGState seeds a generator from a single 64-bit value. Zero is
// remapped to a fixed nonzero constant since an all-zero MWC64X state
// never advances.
func NewRNGState(seed uint64) RNGState {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return RNGState(seed)
}

// Next draws the next raw 32-bit output, advancing the state.
func (s *RNGState) Next() uint32 {
	c := uint32(uint64(*s) >> 32)
	x := uint32(uint64(*s) & 0xffffffff)
	*s = RNGState(uint64(x)*4294883355 + uint64(c))
	return x ^ c
}

// Intn draws a uniform integer in [0, n).
func (s *RNGState) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Next() % uint32(n))
}

// Float32 draws a uniform float32 in [0, 1).
func (s *RNGState) Float32() float32 {
	return float32(s.Next()) / float32(1<<32)
}

// Float32Range draws a uniform float32 in [low, high).
func (s *RNGState) Float32Range(low, high float32) float32 {
	return low + (high-low)*s.Float32()
}

// deriveColumnSeed folds the global seed together with the layer, kernel,
// step, and column coordinates into a per-column substream seed, via an
// FNV-1a-style mix. Two calls with identical arguments always produce the
// same state, which is what makes a parallel-for over columns deterministic
// independent of which goroutine happens to visit which column first.
func deriveColumnSeed(globalSeed uint64, layer, kernel, step, x, y int) RNGState {
	const prime = 1099511628211
	h := globalSeed ^ 0xcbf29ce484222325
	mix := func(v int) {
		h ^= uint64(int64(v))
		h *= prime
	}
	mix(layer)
	mix(kernel)
	mix(step)
	mix(x)
	mix(y)
	if h == 0 {
		h = 0x9E3779B97F4A7C15
	}
	return RNGState(h)
}

// softmax writes softmax(scale*logits) into dst, which may alias logits.
func softmax(dst, logits FloatBuffer, scale float32) {
	maxV := float32(math32.Inf(-1))
	for _, v := range logits {
		sv := v * scale
		if sv > maxV {
			maxV = sv
		}
	}
	sum := float32(0)
	for i, v := range logits {
		e := math32.Exp(v*scale - maxV)
		dst[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range dst {
			dst[i] *= inv
		}
	}
}

// argmaxTieLow returns the index of the largest element, breaking ties in
// favor of the lowest index, as the reference competitive coder does.
func argmaxTieLow(vals FloatBuffer) int {
	best := 0
	bestV := vals[0]
	for i := 1; i < len(vals); i++ {
		if vals[i] > bestV {
			bestV = vals[i]
			best = i
		}
	}
	return best
}

// sampleCategorical draws an index from a (not necessarily normalized)
// probability buffer, given a uniform [0,1) draw u.
func sampleCategorical(probs FloatBuffer, u float32) int {
	sum := float32(0)
	for _, p := range probs {
		sum += p
	}
	if sum <= 0 {
		return 0
	}
	target := u * sum
	acc := float32(0)
	for i, p := range probs {
		acc += p
		if target < acc {
			return i
		}
	}
	return len(probs) - 1
}
