// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import (
	"io"

	"github.com/chewxy/math32"
)

// EncoderVisibleLayerDesc describes one visible-layer input to an Encoder.
type EncoderVisibleLayerDesc struct {
	Size   Int3
	Radius int
}

// SetDefaults assigns the reference default size and radius.
func (d *EncoderVisibleLayerDesc) SetDefaults() {
	if d.Size.Volume() == 0 {
		d.Size = Int3{4, 4, 16}
	}
	if d.Radius == 0 {
		d.Radius = 2
	}
}

// EncoderVisibleLayer holds one visible layer's reconstruction weights and
// the transient buffers its gate/learn kernels need within a single step.
type EncoderVisibleLayer struct {
	Weights ByteBuffer // [hiddenVolume * patchArea * vz]

	// ReconSums accumulates, per visible column, the raw byte-weight sum
	// reconstructing each of that column's vz candidate values from the
	// current winners. Sized visibleArea * vz.
	ReconSums IntBuffer
	// ReconDeltas holds, per visible column, the (target_onehot - recon
	// softmax) vector computed by updateGates and consumed by learn within
	// the same step. Sized visibleArea * vz.
	ReconDeltas FloatBuffer

	// Importance scales this layer's contribution to hidden-column
	// competition; set from Hierarchy Params.IOs[i].Importance for layer 0.
	Importance float32
}

// Encoder is the competitive sparse coder: one instance per hierarchy
// layer, owning every visible-layer weight tensor that layer's hidden
// columns compete to reconstruct.
type Encoder struct {
	HiddenSize Int3

	HiddenCis  IntBuffer   // [hiddenArea], winning cell per hidden column
	HiddenActs FloatBuffer // [hiddenArea * hz], softmax activations per column

	VisibleLayers     []EncoderVisibleLayer
	VisibleLayerDescs []EncoderVisibleLayerDesc

	seed uint64 // base seed for per-column substream derivation
	step int     // number of Step calls; no derived seed reads it
}

func patchArea(radius int) int {
	side := 2*radius + 1
	return side * side
}

// hiddenGlobalIndex ravels a (hx, hy, cell) triple into [0, hiddenVolume).
func hiddenGlobalIndex(hiddenSize Int3, hx, hy, cell int) int {
	return address3(Int3{X: hx, Y: hy, Z: cell}, hiddenSize)
}

// InitRandom allocates and randomly initializes the encoder for the given
// hidden size and visible layer descriptors, deriving initial byte weights
// from a per-weight substream of seed so that construction is itself
// deterministic and reproducible.
func (e *Encoder) InitRandom(hiddenSize Int3, descs []EncoderVisibleLayerDesc, seed uint64) error {
	if hiddenSize.X <= 0 || hiddenSize.Y <= 0 || hiddenSize.Z <= 0 {
		return configErrorf("encoder hidden size %+v has a zero or negative dimension", hiddenSize)
	}
	if len(descs) == 0 {
		return configErrorf("encoder requires at least one visible layer")
	}

	e.HiddenSize = hiddenSize
	e.seed = seed
	hiddenArea := hiddenSize.Area()
	e.HiddenCis = NewIntBuffer(hiddenArea)
	e.HiddenActs = NewFloatBuffer(hiddenArea * hiddenSize.Z)

	e.VisibleLayerDescs = make([]EncoderVisibleLayerDesc, len(descs))
	e.VisibleLayers = make([]EncoderVisibleLayer, len(descs))

	for vli, d := range descs {
		d.SetDefaults()
		if d.Size.X <= 0 || d.Size.Y <= 0 || d.Size.Z <= 0 {
			return configErrorf("encoder visible layer %d size %+v has a zero or negative dimension", vli, d.Size)
		}
		if d.Radius < 0 {
			return configErrorf("encoder visible layer %d has a negative radius %d", vli, d.Radius)
		}
		if 2*d.Radius+1 > 4*max(d.Size.X, d.Size.Y)+1 {
			return configErrorf("encoder visible layer %d radius %d is too large for size %+v", vli, d.Radius, d.Size)
		}
		e.VisibleLayerDescs[vli] = d

		vl := &e.VisibleLayers[vli]
		vl.Importance = 1.0
		pArea := patchArea(d.Radius)
		vl.Weights = NewByteBuffer(hiddenArea * hiddenSize.Z * pArea * d.Size.Z)
		vl.ReconSums = NewIntBuffer(d.Size.Area() * d.Size.Z)
		vl.ReconDeltas = NewFloatBuffer(d.Size.Area() * d.Size.Z)

		for i := range vl.Weights {
			rng := deriveColumnSeed(seed, 0, int(kernelEncoderInit), vli, i, 0)
			vl.Weights[i] = initByteWeight(rng.Float32())
		}
	}
	return nil
}

type encoderKernel int

const (
	kernelEncoderInit encoderKernel = iota
	kernelEncoderForward
	kernelEncoderGate
	kernelEncoderLearn
)

// ratios precomputes the (visible/hidden) axis ratios used to project a
// hidden column onto the center of its visible receptive field.
func ratios(hiddenSize, visibleSize Int3) [2]float32 {
	return [2]float32{
		float32(visibleSize.X) / float32(hiddenSize.X),
		float32(visibleSize.Y) / float32(hiddenSize.Y),
	}
}

// forward computes hidden_acts/hidden_cis for one hidden column.
func (e *Encoder) forward(hx, hy int, inputCis []IntBuffer, params EncoderParams) {
	hz := e.HiddenSize.Z
	scores := make(FloatBuffer, hz)

	for vli := range e.VisibleLayers {
		vl := &e.VisibleLayers[vli]
		d := e.VisibleLayerDescs[vli]
		r := ratios(e.HiddenSize, d.Size)
		center := project(Int2{X: hx, Y: hy}, r)
		lower, upper := patchBounds(center, d.Radius, Int2{X: d.Size.X, Y: d.Size.Y})
		importance := vl.Importance

		for vx := lower.X; vx < upper.X; vx++ {
			for vy := lower.Y; vy < upper.Y; vy++ {
				vCol := address2(Int2{X: vx, Y: vy}, Int2{X: d.Size.X, Y: d.Size.Y})
				vActive := inputCis[vli][vCol]
				dx := vx - center.X + d.Radius
				dy := vy - center.Y + d.Radius
				patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*d.Radius + 1, Y: 2*d.Radius + 1})
				for c := 0; c < hz; c++ {
					gi := hiddenGlobalIndex(e.HiddenSize, hx, hy, c)
					wi := gi*patchArea(d.Radius)*d.Size.Z + patchOff*d.Size.Z + vActive
					scores[c] += importance * byteToFloat(vl.Weights[wi])
				}
			}
		}
	}

	winner := argmaxTieLow(scores)
	hCol := address2(Int2{X: hx, Y: hy}, Int2{X: e.HiddenSize.X, Y: e.HiddenSize.Y})
	e.HiddenCis[hCol] = winner

	acts := e.HiddenActs[hCol*hz : hCol*hz+hz]
	softmax(acts, scores, params.Scale)
}

// updateGates recomputes, for every visible column of one visible layer,
// the reconstruction softmax against the current winners and stores the
// resulting (target - predicted) delta for learn to consume in this same
// step.
func (e *Encoder) updateGates(vli int, inputCis []IntBuffer, params EncoderParams) {
	vl := &e.VisibleLayers[vli]
	d := e.VisibleLayerDescs[vli]
	vz := d.Size.Z
	r := ratios(e.HiddenSize, d.Size)
	pArea := patchArea(d.Radius)

	for i := range vl.ReconSums {
		vl.ReconSums[i] = 0
	}

	for hx := 0; hx < e.HiddenSize.X; hx++ {
		for hy := 0; hy < e.HiddenSize.Y; hy++ {
			center := project(Int2{X: hx, Y: hy}, r)
			lower, upper := patchBounds(center, d.Radius, Int2{X: d.Size.X, Y: d.Size.Y})
			hCol := address2(Int2{X: hx, Y: hy}, Int2{X: e.HiddenSize.X, Y: e.HiddenSize.Y})
			winner := e.HiddenCis[hCol]
			gi := hiddenGlobalIndex(e.HiddenSize, hx, hy, winner)

			for vx := lower.X; vx < upper.X; vx++ {
				for vy := lower.Y; vy < upper.Y; vy++ {
					dx := vx - center.X + d.Radius
					dy := vy - center.Y + d.Radius
					patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*d.Radius + 1, Y: 2*d.Radius + 1})
					vCol := address2(Int2{X: vx, Y: vy}, Int2{X: d.Size.X, Y: d.Size.Y})
					base := gi*pArea*vz + patchOff*vz
					sumBase := vCol * vz
					for z := 0; z < vz; z++ {
						vl.ReconSums[sumBase+z] += int(vl.Weights[base+z])
					}
				}
			}
		}
	}

	probs := make(FloatBuffer, vz)
	logits := make(FloatBuffer, vz)
	for vCol := 0; vCol < d.Size.Area(); vCol++ {
		base := vCol * vz
		for z := 0; z < vz; z++ {
			logits[z] = float32(vl.ReconSums[base+z]) * byteWeightScale
		}
		softmax(probs, logits, params.Scale)
		target := inputCis[vli][vCol]
		for z := 0; z < vz; z++ {
			onehot := float32(0)
			if z == target {
				onehot = 1
			}
			vl.ReconDeltas[base+z] = onehot - probs[z]
		}
	}
}

// gateOf returns the scalar damping factor for the given visible column,
// derived from the delta vector updateGates just stored there.
func gateOf(deltas FloatBuffer, base, vz int, gcurve float32) float32 {
	sq := float32(0)
	for z := 0; z < vz; z++ {
		v := deltas[base+z]
		sq += v * v
	}
	return math32.Exp(-gcurve * sq)
}

// learn applies the reconstruction-error-gated weight update for one hidden
// column, across every visible layer, saturating byte weights.
func (e *Encoder) learn(hx, hy int, inputCis []IntBuffer, params EncoderParams) {
	hCol := address2(Int2{X: hx, Y: hy}, Int2{X: e.HiddenSize.X, Y: e.HiddenSize.Y})
	winner := e.HiddenCis[hCol]

	for vli := range e.VisibleLayers {
		vl := &e.VisibleLayers[vli]
		d := e.VisibleLayerDescs[vli]
		vz := d.Size.Z
		r := ratios(e.HiddenSize, d.Size)
		center := project(Int2{X: hx, Y: hy}, r)
		lower, upper := patchBounds(center, d.Radius, Int2{X: d.Size.X, Y: d.Size.Y})
		pArea := patchArea(d.Radius)
		gi := hiddenGlobalIndex(e.HiddenSize, hx, hy, winner)

		for vx := lower.X; vx < upper.X; vx++ {
			for vy := lower.Y; vy < upper.Y; vy++ {
				vCol := address2(Int2{X: vx, Y: vy}, Int2{X: d.Size.X, Y: d.Size.Y})
				base := vCol * vz
				gate := gateOf(vl.ReconDeltas, base, vz, params.Gcurve)
				dx := vx - center.X + d.Radius
				dy := vy - center.Y + d.Radius
				patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*d.Radius + 1, Y: 2*d.Radius + 1})
				wbase := gi*pArea*vz + patchOff*vz
				for z := 0; z < vz; z++ {
					delta := params.Lr * gate * vl.ReconDeltas[base+z]
					addByteSaturating(vl.Weights, wbase+z, delta)
				}
			}
		}
	}
}

// Step runs one forward + (optional) learn pass over every hidden column,
// using cw to fan the per-column kernels out across goroutines.
func (e *Encoder) Step(cw *ColumnWorkers, inputCis []IntBuffer, learnEnabled bool, params EncoderParams) error {
	if len(inputCis) != len(e.VisibleLayers) {
		return shapeMismatchErrorf("encoder step got %d input buffers, want %d", len(inputCis), len(e.VisibleLayers))
	}
	for vli, buf := range inputCis {
		want := e.VisibleLayerDescs[vli].Size.Area()
		if len(buf) != want {
			return shapeMismatchErrorf("encoder input %d has %d columns, want %d", vli, len(buf), want)
		}
	}

	hiddenGrid := Int2{X: e.HiddenSize.X, Y: e.HiddenSize.Y}
	cw.For(hiddenGrid, func(x, y int) {
		e.forward(x, y, inputCis, params)
	})

	if learnEnabled {
		for vli := range e.VisibleLayers {
			e.updateGates(vli, inputCis, params)
		}
		cw.For(hiddenGrid, func(x, y int) {
			e.learn(x, y, inputCis, params)
		})
	}

	e.step++
	return nil
}

// ClearState zeroes hidden_cis/hidden_acts (weights are untouched).
func (e *Encoder) ClearState() {
	e.HiddenCis.Fill(0)
	e.HiddenActs.Fill(0)
}

// Size returns the number of bytes Write emits.
func (e *Encoder) Size() int {
	size := 3*4 + 4
	for vli := range e.VisibleLayers {
		size += 3*4 + 4
		size += len(e.VisibleLayers[vli].Weights)
	}
	return size
}

// StateSize returns the number of bytes WriteState emits.
func (e *Encoder) StateSize() int {
	return len(e.HiddenCis)*4 + len(e.HiddenActs)*4
}

// Write emits the encoder's shape and weights (not its transient state).
func (e *Encoder) Write(w io.Writer) error {
	if err := writeInt3(w, e.HiddenSize); err != nil {
		return err
	}
	if err := writeInt(w, len(e.VisibleLayers)); err != nil {
		return err
	}
	for vli := range e.VisibleLayers {
		d := e.VisibleLayerDescs[vli]
		if err := writeInt3(w, d.Size); err != nil {
			return err
		}
		if err := writeInt(w, d.Radius); err != nil {
			return err
		}
		if err := writeBytes(w, e.VisibleLayers[vli].Weights); err != nil {
			return err
		}
	}
	return nil
}

// Read reconstitutes an encoder previously written by Write.
func (e *Encoder) Read(r io.Reader) error {
	hiddenSize, err := readInt3(r)
	if err != nil {
		return serializationErrorf("encoder hidden size: %v", err)
	}
	numVisible, err := readInt(r)
	if err != nil {
		return serializationErrorf("encoder visible layer count: %v", err)
	}

	e.HiddenSize = hiddenSize
	hiddenArea := hiddenSize.Area()
	e.HiddenCis = NewIntBuffer(hiddenArea)
	e.HiddenActs = NewFloatBuffer(hiddenArea * hiddenSize.Z)
	e.VisibleLayerDescs = make([]EncoderVisibleLayerDesc, numVisible)
	e.VisibleLayers = make([]EncoderVisibleLayer, numVisible)

	for vli := 0; vli < numVisible; vli++ {
		size, err := readInt3(r)
		if err != nil {
			return serializationErrorf("encoder visible layer %d size: %v", vli, err)
		}
		radius, err := readInt(r)
		if err != nil {
			return serializationErrorf("encoder visible layer %d radius: %v", vli, err)
		}
		e.VisibleLayerDescs[vli] = EncoderVisibleLayerDesc{Size: size, Radius: radius}

		vl := &e.VisibleLayers[vli]
		vl.Importance = 1.0
		pArea := patchArea(radius)
		weights, err := readBytes(r, hiddenArea*hiddenSize.Z*pArea*size.Z)
		if err != nil {
			return serializationErrorf("encoder visible layer %d weights: %v", vli, err)
		}
		vl.Weights = weights
		vl.ReconSums = NewIntBuffer(size.Area() * size.Z)
		vl.ReconDeltas = NewFloatBuffer(size.Area() * size.Z)
	}
	return nil
}

// WriteState emits the encoder's transient state (hidden_cis/hidden_acts).
func (e *Encoder) WriteState(w io.Writer) error {
	if err := writeInts(w, e.HiddenCis); err != nil {
		return err
	}
	return writeFloats(w, e.HiddenActs)
}

// ReadState restores the encoder's transient state.
func (e *Encoder) ReadState(r io.Reader) error {
	cis, err := readInts(r, len(e.HiddenCis))
	if err != nil {
		return serializationErrorf("encoder hidden_cis: %v", err)
	}
	acts, err := readFloats(r, len(e.HiddenActs))
	if err != nil {
		return serializationErrorf("encoder hidden_acts: %v", err)
	}
	e.HiddenCis = cis
	e.HiddenActs = acts
	return nil
}
