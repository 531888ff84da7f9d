// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import (
	"bytes"
	"testing"
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d := &Decoder{}
	descs := []DecoderVisibleLayerDesc{
		{Size: Int3{X: 4, Y: 4, Z: 3}, Radius: 2},
	}
	if err := d.InitRandom(Int3{X: 4, Y: 4, Z: 3}, descs, 1337); err != nil {
		t.Fatalf("InitRandom: %v", err)
	}
	return d
}

func TestDecoderPredictsOncePerColumn(t *testing.T) {
	d := newTestDecoder(t)
	cw := NewColumnWorkers(1)
	var p DecoderParams
	p.SetDefaults()

	input := NewIntBuffer(16)
	for i := range input {
		input[i] = i % 3
	}
	if err := d.Step(cw, []IntBuffer{input}, nil, false, p); err != nil {
		t.Fatalf("Step: %v", err)
	}
	for i, c := range d.HiddenCis {
		if c < 0 || c >= 3 {
			t.Fatalf("HiddenCis[%d] = %d out of range", i, c)
		}
	}
}

// TestDecoderLearnUsesLaggedInput exercises the one-tick lag: the first
// Step's target is scored against zeroed InputCisPrev (nothing arrived yet),
// and only the second Step's learn call sees the first Step's input.
func TestDecoderLearnUsesLaggedInput(t *testing.T) {
	d := newTestDecoder(t)
	cw := NewColumnWorkers(1)
	var p DecoderParams
	p.SetDefaults()

	input1 := NewIntBuffer(16)
	for i := range input1 {
		input1[i] = 1
	}
	target := NewIntBuffer(16)
	for i := range target {
		target[i] = 2
	}

	if err := d.Step(cw, []IntBuffer{input1}, target, true, p); err != nil {
		t.Fatalf("first Step: %v", err)
	}
	for vli := range d.VisibleLayers {
		for i, v := range d.VisibleLayers[vli].InputCisPrev {
			if v != input1[i] {
				t.Fatalf("InputCisPrev not updated to input1 at %d: got %d", i, v)
			}
		}
	}

	input2 := NewIntBuffer(16)
	for i := range input2 {
		input2[i] = 0
	}
	if err := d.Step(cw, []IntBuffer{input2}, target, true, p); err != nil {
		t.Fatalf("second Step: %v", err)
	}
	for vli := range d.VisibleLayers {
		for i, v := range d.VisibleLayers[vli].InputCisPrev {
			if v != input2[i] {
				t.Fatalf("InputCisPrev not advanced to input2 at %d: got %d", i, v)
			}
		}
	}
}

func TestDecoderStepRejectsWrongVisibleCount(t *testing.T) {
	d := newTestDecoder(t)
	cw := NewColumnWorkers(1)
	var p DecoderParams
	p.SetDefaults()
	err := d.Step(cw, []IntBuffer{}, nil, false, p)
	if err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestDecoderWriteReadRoundTrip(t *testing.T) {
	d := newTestDecoder(t)
	cw := NewColumnWorkers(1)
	var p DecoderParams
	p.SetDefaults()
	input := NewIntBuffer(16)
	target := NewIntBuffer(16)
	for i := range input {
		input[i] = i % 3
		target[i] = (i + 1) % 3
	}
	if err := d.Step(cw, []IntBuffer{input}, target, true, p); err != nil {
		t.Fatalf("Step: %v", err)
	}

	var buf bytes.Buffer
	if err := d.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() != d.Size() {
		t.Fatalf("Write wrote %d bytes, Size() reported %d", buf.Len(), d.Size())
	}

	var d2 Decoder
	if err := d2.Read(&buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, vl := range d.VisibleLayers {
		for j, w := range vl.Weights {
			if d2.VisibleLayers[i].Weights[j] != w {
				t.Fatalf("weight %d/%d mismatch after round trip", i, j)
			}
		}
	}

	// Read() only restores weights, not transient state (InputCisPrev,
	// HiddenCis); seed both decoders' transient state identically before
	// checking that they stay in lockstep across further steps.
	d.ClearState()
	d2.ClearState()
	for step := 1; step <= 5; step++ {
		nextInput := NewIntBuffer(16)
		nextTarget := NewIntBuffer(16)
		for i := range nextInput {
			nextInput[i] = (i + step) % 3
			nextTarget[i] = (i + step + 1) % 3
		}
		if err := d.Step(cw, []IntBuffer{nextInput}, nextTarget, true, p); err != nil {
			t.Fatalf("post-round-trip d.Step: %v", err)
		}
		if err := d2.Step(cw, []IntBuffer{nextInput}, nextTarget, true, p); err != nil {
			t.Fatalf("post-round-trip d2.Step: %v", err)
		}
		for i := range d.HiddenCis {
			if d.HiddenCis[i] != d2.HiddenCis[i] {
				t.Fatalf("step %d: HiddenCis[%d] diverged after round trip: %d vs %d", step, i, d.HiddenCis[i], d2.HiddenCis[i])
			}
		}
		for i, vl := range d.VisibleLayers {
			for j, w := range vl.Weights {
				if d2.VisibleLayers[i].Weights[j] != w {
					t.Fatalf("step %d: weight %d/%d diverged after round trip", step, i, j)
				}
			}
		}
	}
}

func TestDecoderStateRoundTrip(t *testing.T) {
	d := newTestDecoder(t)
	cw := NewColumnWorkers(1)
	var p DecoderParams
	p.SetDefaults()
	input := NewIntBuffer(16)
	target := NewIntBuffer(16)
	for i := range input {
		input[i] = i % 3
		target[i] = (i + 2) % 3
	}
	if err := d.Step(cw, []IntBuffer{input}, target, true, p); err != nil {
		t.Fatalf("Step: %v", err)
	}

	var buf bytes.Buffer
	if err := d.WriteState(&buf); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	if buf.Len() != d.StateSize() {
		t.Fatalf("WriteState wrote %d bytes, StateSize() reported %d", buf.Len(), d.StateSize())
	}

	d2 := newTestDecoder(t)
	if err := d2.ReadState(&buf); err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	for i, v := range d.HiddenCis {
		if d2.HiddenCis[i] != v {
			t.Fatalf("HiddenCis[%d] mismatch after state round trip", i)
		}
	}
	for vli := range d.VisibleLayers {
		for i, v := range d.VisibleLayers[vli].InputCisPrev {
			if d2.VisibleLayers[vli].InputCisPrev[i] != v {
				t.Fatalf("InputCisPrev[%d][%d] mismatch after state round trip", vli, i)
			}
		}
	}
}
