// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import (
	"io"

	"github.com/chewxy/math32"
)

// DecoderVisibleLayerDesc describes one visible-layer input to a Decoder.
type DecoderVisibleLayerDesc struct {
	Size   Int3
	Radius int
}

// SetDefaults assigns the reference default size and radius.
func (d *DecoderVisibleLayerDesc) SetDefaults() {
	if d.Size.Volume() == 0 {
		d.Size = Int3{4, 4, 16}
	}
	if d.Radius == 0 {
		d.Radius = 2
	}
}

// DecoderVisibleLayer holds one visible layer's prediction weights plus the
// one-tick-lagged bookkeeping learn needs: the inputs that produced the
// prediction currently being scored against a just-arrived target, and the
// gate that scoring produced (kept for introspection/serialization parity
// with the reference Visible_Layer.gates field; see DESIGN.md).
type DecoderVisibleLayer struct {
	Weights ByteBuffer // [outputVolume * patchArea * vz]

	InputCisPrev IntBuffer   // [visibleArea], inputs from the previous forward
	Gates        FloatBuffer // [outputArea], last learn's per-column gate
}

// Decoder is the per-column softmax next-step predictor: it accumulates
// byte-weighted evidence from its visible layers into per-column logits
// over the output alphabet, argmax's the prediction, and learns from a
// target supplied one tick after the input that produced the prediction.
type Decoder struct {
	HiddenSize Int3 // shape of the predicted/output grid

	HiddenCis  IntBuffer   // [outputArea]
	HiddenActs FloatBuffer // [outputArea * cz]

	VisibleLayers     []DecoderVisibleLayer
	VisibleLayerDescs []DecoderVisibleLayerDesc

	seed uint64
}

// InitRandom allocates and randomly initializes the decoder.
func (d *Decoder) InitRandom(hiddenSize Int3, descs []DecoderVisibleLayerDesc, seed uint64) error {
	if hiddenSize.X <= 0 || hiddenSize.Y <= 0 || hiddenSize.Z <= 0 {
		return configErrorf("decoder hidden size %+v has a zero or negative dimension", hiddenSize)
	}
	if len(descs) == 0 {
		return configErrorf("decoder requires at least one visible layer")
	}

	d.HiddenSize = hiddenSize
	d.seed = seed
	outArea := hiddenSize.Area()
	d.HiddenCis = NewIntBuffer(outArea)
	d.HiddenActs = NewFloatBuffer(outArea * hiddenSize.Z)

	d.VisibleLayerDescs = make([]DecoderVisibleLayerDesc, len(descs))
	d.VisibleLayers = make([]DecoderVisibleLayer, len(descs))

	for vli, desc := range descs {
		desc.SetDefaults()
		if desc.Size.X <= 0 || desc.Size.Y <= 0 || desc.Size.Z <= 0 {
			return configErrorf("decoder visible layer %d size %+v has a zero or negative dimension", vli, desc.Size)
		}
		if desc.Radius < 0 {
			return configErrorf("decoder visible layer %d has a negative radius %d", vli, desc.Radius)
		}
		d.VisibleLayerDescs[vli] = desc

		vl := &d.VisibleLayers[vli]
		pArea := patchArea(desc.Radius)
		vl.Weights = NewByteBuffer(outArea * hiddenSize.Z * pArea * desc.Size.Z)
		vl.InputCisPrev = NewIntBuffer(desc.Size.Area())
		vl.Gates = NewFloatBuffer(outArea)

		for i := range vl.Weights {
			rng := deriveColumnSeed(seed, 0, int(kernelDecoderInit), vli, i, 0)
			vl.Weights[i] = initByteWeight(rng.Float32())
		}
	}
	return nil
}

type decoderKernel int

const (
	kernelDecoderInit decoderKernel = iota
	kernelDecoderForward
	kernelDecoderLearn
)

// columnLogits accumulates the byte-weighted evidence at output column
// (cx, cy) across all visible layers, given the supplied per-layer inputs.
func (d *Decoder) columnLogits(cx, cy int, inputs []IntBuffer) FloatBuffer {
	cz := d.HiddenSize.Z
	logits := make(FloatBuffer, cz)

	for vli := range d.VisibleLayers {
		vl := &d.VisibleLayers[vli]
		desc := d.VisibleLayerDescs[vli]
		r := ratios(d.HiddenSize, desc.Size)
		center := project(Int2{X: cx, Y: cy}, r)
		lower, upper := patchBounds(center, desc.Radius, Int2{X: desc.Size.X, Y: desc.Size.Y})
		pArea := patchArea(desc.Radius)

		for vx := lower.X; vx < upper.X; vx++ {
			for vy := lower.Y; vy < upper.Y; vy++ {
				vCol := address2(Int2{X: vx, Y: vy}, Int2{X: desc.Size.X, Y: desc.Size.Y})
				vActive := inputs[vli][vCol]
				dx := vx - center.X + desc.Radius
				dy := vy - center.Y + desc.Radius
				patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*desc.Radius + 1, Y: 2*desc.Radius + 1})
				for z := 0; z < cz; z++ {
					gi := hiddenGlobalIndex(d.HiddenSize, cx, cy, z)
					wi := gi*pArea*desc.Size.Z + patchOff*desc.Size.Z + vActive
					logits[z] += byteToFloat(vl.Weights[wi])
				}
			}
		}
	}
	return logits
}

// forward computes the prediction for one output column from the current
// inputs and current weights.
func (d *Decoder) forward(cx, cy int, inputs []IntBuffer, params DecoderParams) {
	logits := d.columnLogits(cx, cy, inputs)
	cCol := address2(Int2{X: cx, Y: cy}, Int2{X: d.HiddenSize.X, Y: d.HiddenSize.Y})
	winner := argmaxTieLow(logits)
	d.HiddenCis[cCol] = winner
	acts := d.HiddenActs[cCol*d.HiddenSize.Z : cCol*d.HiddenSize.Z+d.HiddenSize.Z]
	softmax(acts, logits, params.Scale)
}

// learn scores the prediction the previous forward made (recomputed here
// from the still-current weights against the inputs that were live back
// then) against the target that has just arrived, and applies a
// cross-entropy-gated weight update addressed by those same cached inputs.
func (d *Decoder) learn(cx, cy int, targetCis IntBuffer, params DecoderParams) {
	cz := d.HiddenSize.Z
	cCol := address2(Int2{X: cx, Y: cy}, Int2{X: d.HiddenSize.X, Y: d.HiddenSize.Y})
	target := targetCis[cCol]

	prevInputs := make([]IntBuffer, len(d.VisibleLayers))
	for vli := range d.VisibleLayers {
		prevInputs[vli] = d.VisibleLayers[vli].InputCisPrev
	}
	logits := d.columnLogits(cx, cy, prevInputs)
	probs := make(FloatBuffer, cz)
	softmax(probs, logits, params.Scale)

	delta := make(FloatBuffer, cz)
	sq := float32(0)
	for z := 0; z < cz; z++ {
		onehot := float32(0)
		if z == target {
			onehot = 1
		}
		delta[z] = onehot - probs[z]
		sq += delta[z] * delta[z]
	}
	gate := math32.Exp(-params.Gcurve * sq)

	for vli := range d.VisibleLayers {
		vl := &d.VisibleLayers[vli]
		vl.Gates[cCol] = gate
		desc := d.VisibleLayerDescs[vli]
		r := ratios(d.HiddenSize, desc.Size)
		center := project(Int2{X: cx, Y: cy}, r)
		lower, upper := patchBounds(center, desc.Radius, Int2{X: desc.Size.X, Y: desc.Size.Y})
		pArea := patchArea(desc.Radius)

		for vx := lower.X; vx < upper.X; vx++ {
			for vy := lower.Y; vy < upper.Y; vy++ {
				vCol := address2(Int2{X: vx, Y: vy}, Int2{X: desc.Size.X, Y: desc.Size.Y})
				vActive := vl.InputCisPrev[vCol]
				dx := vx - center.X + desc.Radius
				dy := vy - center.Y + desc.Radius
				patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*desc.Radius + 1, Y: 2*desc.Radius + 1})
				for z := 0; z < cz; z++ {
					gi := hiddenGlobalIndex(d.HiddenSize, cx, cy, z)
					wi := gi*pArea*desc.Size.Z + patchOff*desc.Size.Z + vActive
					addByteSaturating(vl.Weights, wi, params.Lr*gate*delta[z])
				}
			}
		}
	}
}

// Step runs one prediction (+ optional learn against target) pass over
// every output column, then caches the current inputs for next tick.
func (d *Decoder) Step(cw *ColumnWorkers, inputs []IntBuffer, targetCis IntBuffer, learnEnabled bool, params DecoderParams) error {
	if len(inputs) != len(d.VisibleLayers) {
		return shapeMismatchErrorf("decoder step got %d input buffers, want %d", len(inputs), len(d.VisibleLayers))
	}
	outGrid := Int2{X: d.HiddenSize.X, Y: d.HiddenSize.Y}

	if learnEnabled {
		if len(targetCis) != outGrid.X*outGrid.Y {
			return shapeMismatchErrorf("decoder target has %d columns, want %d", len(targetCis), outGrid.X*outGrid.Y)
		}
		cw.For(outGrid, func(x, y int) {
			d.learn(x, y, targetCis, params)
		})
	}

	cw.For(outGrid, func(x, y int) {
		d.forward(x, y, inputs, params)
	})

	for vli := range d.VisibleLayers {
		copy(d.VisibleLayers[vli].InputCisPrev, inputs[vli])
	}
	return nil
}

// ClearState zeroes hidden_cis/hidden_acts and the cached previous inputs
// and gates (weights are untouched).
func (d *Decoder) ClearState() {
	d.HiddenCis.Fill(0)
	d.HiddenActs.Fill(0)
	for vli := range d.VisibleLayers {
		d.VisibleLayers[vli].InputCisPrev.Fill(0)
		d.VisibleLayers[vli].Gates.Fill(0)
	}
}

// Size returns the number of bytes Write emits.
func (d *Decoder) Size() int {
	size := 3*4 + 4
	for vli := range d.VisibleLayers {
		size += 3*4 + 4
		size += len(d.VisibleLayers[vli].Weights)
	}
	return size
}

// StateSize returns the number of bytes WriteState emits.
func (d *Decoder) StateSize() int {
	size := len(d.HiddenCis)*4 + len(d.HiddenActs)*4
	for vli := range d.VisibleLayers {
		size += len(d.VisibleLayers[vli].InputCisPrev)*4 + len(d.VisibleLayers[vli].Gates)*4
	}
	return size
}

// Write emits the decoder's shape and weights (not its transient state).
func (d *Decoder) Write(w io.Writer) error {
	if err := writeInt3(w, d.HiddenSize); err != nil {
		return err
	}
	if err := writeInt(w, len(d.VisibleLayers)); err != nil {
		return err
	}
	for vli := range d.VisibleLayers {
		desc := d.VisibleLayerDescs[vli]
		if err := writeInt3(w, desc.Size); err != nil {
			return err
		}
		if err := writeInt(w, desc.Radius); err != nil {
			return err
		}
		if err := writeBytes(w, d.VisibleLayers[vli].Weights); err != nil {
			return err
		}
	}
	return nil
}

// Read reconstitutes a decoder previously written by Write.
func (d *Decoder) Read(r io.Reader) error {
	hiddenSize, err := readInt3(r)
	if err != nil {
		return serializationErrorf("decoder hidden size: %v", err)
	}
	numVisible, err := readInt(r)
	if err != nil {
		return serializationErrorf("decoder visible layer count: %v", err)
	}

	d.HiddenSize = hiddenSize
	outArea := hiddenSize.Area()
	d.HiddenCis = NewIntBuffer(outArea)
	d.HiddenActs = NewFloatBuffer(outArea * hiddenSize.Z)
	d.VisibleLayerDescs = make([]DecoderVisibleLayerDesc, numVisible)
	d.VisibleLayers = make([]DecoderVisibleLayer, numVisible)

	for vli := 0; vli < numVisible; vli++ {
		size, err := readInt3(r)
		if err != nil {
			return serializationErrorf("decoder visible layer %d size: %v", vli, err)
		}
		radius, err := readInt(r)
		if err != nil {
			return serializationErrorf("decoder visible layer %d radius: %v", vli, err)
		}
		d.VisibleLayerDescs[vli] = DecoderVisibleLayerDesc{Size: size, Radius: radius}

		vl := &d.VisibleLayers[vli]
		pArea := patchArea(radius)
		weights, err := readBytes(r, outArea*hiddenSize.Z*pArea*size.Z)
		if err != nil {
			return serializationErrorf("decoder visible layer %d weights: %v", vli, err)
		}
		vl.Weights = weights
		vl.InputCisPrev = NewIntBuffer(size.Area())
		vl.Gates = NewFloatBuffer(outArea)
	}
	return nil
}

// WriteState emits the decoder's transient state: hidden_cis/hidden_acts
// plus, per visible layer, the one-tick-lagged input_cis_prev and gates.
func (d *Decoder) WriteState(w io.Writer) error {
	if err := writeInts(w, d.HiddenCis); err != nil {
		return err
	}
	if err := writeFloats(w, d.HiddenActs); err != nil {
		return err
	}
	for vli := range d.VisibleLayers {
		if err := writeInts(w, d.VisibleLayers[vli].InputCisPrev); err != nil {
			return err
		}
		if err := writeFloats(w, d.VisibleLayers[vli].Gates); err != nil {
			return err
		}
	}
	return nil
}

// ReadState restores the decoder's transient state.
func (d *Decoder) ReadState(r io.Reader) error {
	cis, err := readInts(r, len(d.HiddenCis))
	if err != nil {
		return serializationErrorf("decoder hidden_cis: %v", err)
	}
	acts, err := readFloats(r, len(d.HiddenActs))
	if err != nil {
		return serializationErrorf("decoder hidden_acts: %v", err)
	}
	d.HiddenCis = cis
	d.HiddenActs = acts
	for vli := range d.VisibleLayers {
		prev, err := readInts(r, len(d.VisibleLayers[vli].InputCisPrev))
		if err != nil {
			return serializationErrorf("decoder visible layer %d input_cis_prev: %v", vli, err)
		}
		gates, err := readFloats(r, len(d.VisibleLayers[vli].Gates))
		if err != nil {
			return serializationErrorf("decoder visible layer %d gates: %v", vli, err)
		}
		d.VisibleLayers[vli].InputCisPrev = prev
		d.VisibleLayers[vli].Gates = gates
	}
	return nil
}
