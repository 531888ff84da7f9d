// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import (
	"encoding/binary"
	"io"
)

// ActorVisibleLayerDesc describes one visible-layer input to an Actor.
type ActorVisibleLayerDesc struct {
	Size   Int3
	Radius int
}

// SetDefaults assigns the reference default size and radius.
func (d *ActorVisibleLayerDesc) SetDefaults() {
	if d.Size.Volume() == 0 {
		d.Size = Int3{4, 4, 16}
	}
	if d.Radius == 0 {
		d.Radius = 2
	}
}

// ActorVisibleLayer holds one visible layer's value-head and action-head
// weights. Unlike Encoder/Decoder weights these are plain float32: the
// actor-critic update is a continuous gradient step, not a saturating byte
// counter, so there is nothing to gain from quantizing it.
type ActorVisibleLayer struct {
	ValueWeights  FloatBuffer // [hiddenArea * patchArea * vz]
	ActionWeights FloatBuffer // [hiddenVolume * patchArea * vz]
}

// HistorySample is one entry of an Actor's replay ring: the inputs that
// produced a step, the action that was actually taken (or imitated) that
// tick, and the reward that followed.
type HistorySample struct {
	InputCis            []IntBuffer
	HiddenTargetCisPrev IntBuffer
	Reward              float32
}

// Actor is the per-column advantage-actor-critic: a value head and an
// action head sharing visible-layer patch geometry, trained off a replay
// ring of past samples rather than the single most recent transition.
type Actor struct {
	HiddenSize  Int3
	HistorySize int

	HiddenActs   FloatBuffer // [hiddenArea * hz]
	HiddenCis    IntBuffer   // [hiddenArea]
	HiddenValues FloatBuffer // [hiddenArea]

	HistorySamples *CircleBuffer[HistorySample]

	VisibleLayers     []ActorVisibleLayer
	VisibleLayerDescs []ActorVisibleLayerDesc

	historyFilled int
	seed          uint64
	step          int
}

// InitRandom allocates the actor. Action/value weights start at zero:
// there is nothing analogous to the encoder's random reconstruction basis
// to break symmetry with, since both heads start indifferent to every
// input until reward or imitation says otherwise.
func (a *Actor) InitRandom(hiddenSize Int3, historyCapacity int, descs []ActorVisibleLayerDesc, seed uint64) error {
	if hiddenSize.X <= 0 || hiddenSize.Y <= 0 || hiddenSize.Z <= 0 {
		return configErrorf("actor hidden size %+v has a zero or negative dimension", hiddenSize)
	}
	if historyCapacity <= 0 {
		return configErrorf("actor history capacity must be positive, got %d", historyCapacity)
	}
	if len(descs) == 0 {
		return configErrorf("actor requires at least one visible layer")
	}

	a.HiddenSize = hiddenSize
	a.HistorySize = historyCapacity
	a.seed = seed
	hiddenArea := hiddenSize.Area()
	a.HiddenActs = NewFloatBuffer(hiddenArea * hiddenSize.Z)
	a.HiddenCis = NewIntBuffer(hiddenArea)
	a.HiddenValues = NewFloatBuffer(hiddenArea)
	a.HistorySamples = NewCircleBuffer[HistorySample](historyCapacity)

	a.VisibleLayerDescs = make([]ActorVisibleLayerDesc, len(descs))
	a.VisibleLayers = make([]ActorVisibleLayer, len(descs))

	for vli, desc := range descs {
		desc.SetDefaults()
		if desc.Size.X <= 0 || desc.Size.Y <= 0 || desc.Size.Z <= 0 {
			return configErrorf("actor visible layer %d size %+v has a zero or negative dimension", vli, desc.Size)
		}
		if desc.Radius < 0 {
			return configErrorf("actor visible layer %d has a negative radius %d", vli, desc.Radius)
		}
		a.VisibleLayerDescs[vli] = desc

		vl := &a.VisibleLayers[vli]
		pArea := patchArea(desc.Radius)
		vl.ValueWeights = NewFloatBuffer(hiddenArea * pArea * desc.Size.Z)
		vl.ActionWeights = NewFloatBuffer(hiddenArea * hiddenSize.Z * pArea * desc.Size.Z)
	}

	for i := 0; i < a.HistorySize; i++ {
		sample := a.HistorySamples.At(i)
		sample.InputCis = make([]IntBuffer, len(descs))
		for vli, desc := range a.VisibleLayerDescs {
			sample.InputCis[vli] = NewIntBuffer(desc.Size.Area())
		}
		sample.HiddenTargetCisPrev = NewIntBuffer(hiddenArea)
	}
	return nil
}

// valueAt accumulates the value-head prediction for one hidden column from
// the given per-layer inputs.
func (a *Actor) valueAt(hx, hy int, inputs []IntBuffer) float32 {
	value := float32(0)
	for vli := range a.VisibleLayers {
		vl := &a.VisibleLayers[vli]
		desc := a.VisibleLayerDescs[vli]
		r := ratios(a.HiddenSize, desc.Size)
		center := project(Int2{X: hx, Y: hy}, r)
		lower, upper := patchBounds(center, desc.Radius, Int2{X: desc.Size.X, Y: desc.Size.Y})
		pArea := patchArea(desc.Radius)
		hCol := address2(Int2{X: hx, Y: hy}, Int2{X: a.HiddenSize.X, Y: a.HiddenSize.Y})

		for vx := lower.X; vx < upper.X; vx++ {
			for vy := lower.Y; vy < upper.Y; vy++ {
				vCol := address2(Int2{X: vx, Y: vy}, Int2{X: desc.Size.X, Y: desc.Size.Y})
				vActive := inputs[vli][vCol]
				dx := vx - center.X + desc.Radius
				dy := vy - center.Y + desc.Radius
				patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*desc.Radius + 1, Y: 2*desc.Radius + 1})
				wi := hCol*pArea*desc.Size.Z + patchOff*desc.Size.Z + vActive
				value += vl.ValueWeights[wi]
			}
		}
	}
	return value
}

// actionLogitsAt accumulates the action-head logits for one hidden column
// from the given per-layer inputs.
func (a *Actor) actionLogitsAt(hx, hy int, inputs []IntBuffer) FloatBuffer {
	hz := a.HiddenSize.Z
	logits := make(FloatBuffer, hz)

	for vli := range a.VisibleLayers {
		vl := &a.VisibleLayers[vli]
		desc := a.VisibleLayerDescs[vli]
		r := ratios(a.HiddenSize, desc.Size)
		center := project(Int2{X: hx, Y: hy}, r)
		lower, upper := patchBounds(center, desc.Radius, Int2{X: desc.Size.X, Y: desc.Size.Y})
		pArea := patchArea(desc.Radius)

		for vx := lower.X; vx < upper.X; vx++ {
			for vy := lower.Y; vy < upper.Y; vy++ {
				vCol := address2(Int2{X: vx, Y: vy}, Int2{X: desc.Size.X, Y: desc.Size.Y})
				vActive := inputs[vli][vCol]
				dx := vx - center.X + desc.Radius
				dy := vy - center.Y + desc.Radius
				patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*desc.Radius + 1, Y: 2*desc.Radius + 1})
				for z := 0; z < hz; z++ {
					gi := hiddenGlobalIndex(a.HiddenSize, hx, hy, z)
					wi := gi*pArea*desc.Size.Z + patchOff*desc.Size.Z + vActive
					logits[z] += vl.ActionWeights[wi]
				}
			}
		}
	}
	return logits
}

// forward computes the value estimate and action for one hidden column from
// the tick's current inputs. The action is sampled from softmax(logits)
// unless mimic is active (mimic > 0, a supervisor is driving this step), in
// which case it is chosen greedily so the column commits to the action the
// supervisor's target will reinforce rather than exploring around it.
func (a *Actor) forward(hx, hy int, inputs []IntBuffer, rng *RNGState, mimic float32) {
	hCol := address2(Int2{X: hx, Y: hy}, Int2{X: a.HiddenSize.X, Y: a.HiddenSize.Y})
	a.HiddenValues[hCol] = a.valueAt(hx, hy, inputs)

	logits := a.actionLogitsAt(hx, hy, inputs)
	hz := a.HiddenSize.Z
	probs := a.HiddenActs[hCol*hz : hCol*hz+hz]
	softmax(probs, logits, 1)
	if mimic > 0 {
		a.HiddenCis[hCol] = argmaxTieLow(logits)
	} else {
		a.HiddenCis[hCol] = sampleCategorical(probs, rng.Float32())
	}
}

// applyGradient adds a per-column, per-layer update to both heads using the
// sample's cached inputs as the update's patch-one-hot address.
func (a *Actor) applyGradient(hx, hy int, sample *HistorySample, valueDelta float32, actionDelta FloatBuffer, params ActorParams) {
	hCol := address2(Int2{X: hx, Y: hy}, Int2{X: a.HiddenSize.X, Y: a.HiddenSize.Y})
	hz := a.HiddenSize.Z

	for vli := range a.VisibleLayers {
		vl := &a.VisibleLayers[vli]
		desc := a.VisibleLayerDescs[vli]
		r := ratios(a.HiddenSize, desc.Size)
		center := project(Int2{X: hx, Y: hy}, r)
		lower, upper := patchBounds(center, desc.Radius, Int2{X: desc.Size.X, Y: desc.Size.Y})
		pArea := patchArea(desc.Radius)

		for vx := lower.X; vx < upper.X; vx++ {
			for vy := lower.Y; vy < upper.Y; vy++ {
				vCol := address2(Int2{X: vx, Y: vy}, Int2{X: desc.Size.X, Y: desc.Size.Y})
				vActive := sample.InputCis[vli][vCol]
				dx := vx - center.X + desc.Radius
				dy := vy - center.Y + desc.Radius
				patchOff := address2(Int2{X: dx, Y: dy}, Int2{X: 2*desc.Radius + 1, Y: 2*desc.Radius + 1})

				vwi := hCol*pArea*desc.Size.Z + patchOff*desc.Size.Z + vActive
				vl.ValueWeights[vwi] += params.Vlr * valueDelta

				for z := 0; z < hz; z++ {
					gi := hiddenGlobalIndex(a.HiddenSize, hx, hy, z)
					awi := gi*pArea*desc.Size.Z + patchOff*desc.Size.Z + vActive
					vl.ActionWeights[awi] += params.Alr * actionDelta[z]
				}
			}
		}
	}
}

// learnSample runs one n-step TD replay pass anchored at ring offset t,
// updating both heads across every hidden column.
func (a *Actor) learnSample(cw *ColumnWorkers, t int, mimic float32, params ActorParams) {
	discountedReturn := float32(0)
	gammaK := float32(1)
	for k := 0; k < t; k++ {
		discountedReturn += gammaK * a.HistorySamples.Get(k).Reward
		gammaK *= params.Discount
	}

	sample := a.HistorySamples.Get(t)
	hz := a.HiddenSize.Z
	hiddenGrid := Int2{X: a.HiddenSize.X, Y: a.HiddenSize.Y}

	cw.For(hiddenGrid, func(hx, hy int) {
		hCol := address2(Int2{X: hx, Y: hy}, Int2{X: a.HiddenSize.X, Y: a.HiddenSize.Y})

		bootstrap := a.valueAt(hx, hy, sample.InputCis)
		ret := discountedReturn + gammaK*bootstrap
		advantage := ret - a.HiddenValues[hCol]

		logits := a.actionLogitsAt(hx, hy, sample.InputCis)
		pi := make(FloatBuffer, hz)
		softmax(pi, logits, 1)

		target := sample.HiddenTargetCisPrev[hCol]
		actionDelta := make(FloatBuffer, hz)
		actionScale := (1-mimic)*advantage + mimic
		for z := 0; z < hz; z++ {
			onehot := float32(0)
			if z == target {
				onehot = 1
			}
			actionDelta[z] = actionScale * (onehot - pi[z])
		}

		a.applyGradient(hx, hy, &sample, advantage, actionDelta, params)
	})
}

// Step runs one forward pass producing this tick's action, pushes the
// resulting sample into the replay ring, and (when enabled) runs
// history_iters n-step TD replay passes over randomly chosen past offsets.
func (a *Actor) Step(cw *ColumnWorkers, inputs []IntBuffer, hiddenTargetCisPrev IntBuffer, reward float32, learnEnabled bool, mimic float32, params ActorParams) error {
	if len(inputs) != len(a.VisibleLayers) {
		return shapeMismatchErrorf("actor step got %d input buffers, want %d", len(inputs), len(a.VisibleLayers))
	}
	hiddenArea := a.HiddenSize.Area()
	if len(hiddenTargetCisPrev) != hiddenArea {
		return shapeMismatchErrorf("actor target has %d columns, want %d", len(hiddenTargetCisPrev), hiddenArea)
	}

	hiddenGrid := Int2{X: a.HiddenSize.X, Y: a.HiddenSize.Y}
	cw.For(hiddenGrid, func(x, y int) {
		rng := deriveColumnSeed(a.seed, 0, 1, a.step, x, y)
		a.forward(x, y, inputs, &rng, mimic)
	})

	a.HistorySamples.PushFront()
	front := a.HistorySamples.Front()
	for vli := range a.VisibleLayers {
		copy(front.InputCis[vli], inputs[vli])
	}
	copy(front.HiddenTargetCisPrev, hiddenTargetCisPrev)
	front.Reward = reward
	if a.historyFilled < a.HistorySize {
		a.historyFilled++
	}

	if learnEnabled && a.historyFilled > params.MinSteps {
		limit := a.historyFilled - 1
		for it := 0; it < params.HistoryIters; it++ {
			rng := deriveColumnSeed(a.seed, 0, 2, a.step, it, 0)
			span := limit - params.MinSteps
			if span <= 0 {
				break
			}
			t := params.MinSteps + rng.Intn(span)
			a.learnSample(cw, t, mimic, params)
		}
	}

	a.step++
	return nil
}

// ClearState zeroes hidden_cis/hidden_acts/hidden_values and empties the
// replay ring (weights are untouched).
func (a *Actor) ClearState() {
	a.HiddenCis.Fill(0)
	a.HiddenActs.Fill(0)
	a.HiddenValues.Fill(0)
	a.historyFilled = 0
	for i := 0; i < a.HistorySize; i++ {
		sample := a.HistorySamples.At(i)
		for vli := range sample.InputCis {
			sample.InputCis[vli].Fill(0)
		}
		sample.HiddenTargetCisPrev.Fill(0)
		sample.Reward = 0
	}
}

// Size returns the number of bytes Write emits.
func (a *Actor) Size() int {
	size := 3*4 + 4 + 4 + 8
	for vli := range a.VisibleLayers {
		size += 3*4 + 4
		size += len(a.VisibleLayers[vli].ValueWeights) * 4
		size += len(a.VisibleLayers[vli].ActionWeights) * 4
	}
	return size
}

// StateSize returns the number of bytes WriteState emits.
func (a *Actor) StateSize() int {
	size := len(a.HiddenCis)*4 + len(a.HiddenActs)*4 + len(a.HiddenValues)*4 + 4 + 4 + 4
	for i := 0; i < a.HistorySize; i++ {
		sample := a.HistorySamples.At(i)
		for vli := range sample.InputCis {
			size += len(sample.InputCis[vli]) * 4
		}
		size += len(sample.HiddenTargetCisPrev)*4 + 4
	}
	return size
}

// Write emits the actor's shape, seed, and both heads' weights (not its
// transient state or replay ring contents).
func (a *Actor) Write(w io.Writer) error {
	if err := writeInt3(w, a.HiddenSize); err != nil {
		return err
	}
	if err := writeInt(w, a.HistorySize); err != nil {
		return err
	}
	if err := writeUint64(w, a.seed); err != nil {
		return err
	}
	if err := writeInt(w, len(a.VisibleLayers)); err != nil {
		return err
	}
	for vli := range a.VisibleLayers {
		desc := a.VisibleLayerDescs[vli]
		if err := writeInt3(w, desc.Size); err != nil {
			return err
		}
		if err := writeInt(w, desc.Radius); err != nil {
			return err
		}
		if err := writeFloats(w, a.VisibleLayers[vli].ValueWeights); err != nil {
			return err
		}
		if err := writeFloats(w, a.VisibleLayers[vli].ActionWeights); err != nil {
			return err
		}
	}
	return nil
}

// Read reconstitutes an actor previously written by Write.
func (a *Actor) Read(r io.Reader) error {
	hiddenSize, err := readInt3(r)
	if err != nil {
		return serializationErrorf("actor hidden size: %v", err)
	}
	historySize, err := readInt(r)
	if err != nil {
		return serializationErrorf("actor history size: %v", err)
	}
	seed, err := readUint64(r)
	if err != nil {
		return serializationErrorf("actor seed: %v", err)
	}
	numVisible, err := readInt(r)
	if err != nil {
		return serializationErrorf("actor visible layer count: %v", err)
	}

	a.HiddenSize = hiddenSize
	a.HistorySize = historySize
	a.seed = seed
	hiddenArea := hiddenSize.Area()
	a.HiddenActs = NewFloatBuffer(hiddenArea * hiddenSize.Z)
	a.HiddenCis = NewIntBuffer(hiddenArea)
	a.HiddenValues = NewFloatBuffer(hiddenArea)
	a.HistorySamples = NewCircleBuffer[HistorySample](historySize)
	a.VisibleLayerDescs = make([]ActorVisibleLayerDesc, numVisible)
	a.VisibleLayers = make([]ActorVisibleLayer, numVisible)

	for vli := 0; vli < numVisible; vli++ {
		size, err := readInt3(r)
		if err != nil {
			return serializationErrorf("actor visible layer %d size: %v", vli, err)
		}
		radius, err := readInt(r)
		if err != nil {
			return serializationErrorf("actor visible layer %d radius: %v", vli, err)
		}
		a.VisibleLayerDescs[vli] = ActorVisibleLayerDesc{Size: size, Radius: radius}

		vl := &a.VisibleLayers[vli]
		pArea := patchArea(radius)
		valueWeights, err := readFloats(r, hiddenArea*pArea*size.Z)
		if err != nil {
			return serializationErrorf("actor visible layer %d value weights: %v", vli, err)
		}
		actionWeights, err := readFloats(r, hiddenArea*hiddenSize.Z*pArea*size.Z)
		if err != nil {
			return serializationErrorf("actor visible layer %d action weights: %v", vli, err)
		}
		vl.ValueWeights = valueWeights
		vl.ActionWeights = actionWeights
	}

	for i := 0; i < a.HistorySize; i++ {
		sample := a.HistorySamples.At(i)
		sample.InputCis = make([]IntBuffer, numVisible)
		for vli, desc := range a.VisibleLayerDescs {
			sample.InputCis[vli] = NewIntBuffer(desc.Size.Area())
		}
		sample.HiddenTargetCisPrev = NewIntBuffer(hiddenArea)
	}
	return nil
}

// WriteState emits the actor's transient state: hidden_cis/hidden_acts/
// hidden_values, the step counter that seeds each tick's column RNG
// substreams, the replay ring's fill count and rotation, and every sample
// currently held in the ring.
func (a *Actor) WriteState(w io.Writer) error {
	if err := writeInts(w, a.HiddenCis); err != nil {
		return err
	}
	if err := writeFloats(w, a.HiddenActs); err != nil {
		return err
	}
	if err := writeFloats(w, a.HiddenValues); err != nil {
		return err
	}
	if err := writeInt(w, a.step); err != nil {
		return err
	}
	if err := writeInt(w, a.historyFilled); err != nil {
		return err
	}
	if err := writeInt(w, a.HistorySamples.Start()); err != nil {
		return err
	}
	for i := 0; i < a.HistorySize; i++ {
		sample := a.HistorySamples.At(i)
		for vli := range sample.InputCis {
			if err := writeInts(w, sample.InputCis[vli]); err != nil {
				return err
			}
		}
		if err := writeInts(w, sample.HiddenTargetCisPrev); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, sample.Reward); err != nil {
			return err
		}
	}
	return nil
}

// ReadState restores the actor's transient state.
func (a *Actor) ReadState(r io.Reader) error {
	cis, err := readInts(r, len(a.HiddenCis))
	if err != nil {
		return serializationErrorf("actor hidden_cis: %v", err)
	}
	acts, err := readFloats(r, len(a.HiddenActs))
	if err != nil {
		return serializationErrorf("actor hidden_acts: %v", err)
	}
	values, err := readFloats(r, len(a.HiddenValues))
	if err != nil {
		return serializationErrorf("actor hidden_values: %v", err)
	}
	step, err := readInt(r)
	if err != nil {
		return serializationErrorf("actor step: %v", err)
	}
	filled, err := readInt(r)
	if err != nil {
		return serializationErrorf("actor history filled: %v", err)
	}
	start, err := readInt(r)
	if err != nil {
		return serializationErrorf("actor history start: %v", err)
	}
	a.HiddenCis = cis
	a.HiddenActs = acts
	a.HiddenValues = values
	a.step = step
	a.historyFilled = filled
	a.HistorySamples.SetStart(start)

	for i := 0; i < a.HistorySize; i++ {
		sample := a.HistorySamples.At(i)
		for vli := range sample.InputCis {
			buf, err := readInts(r, len(sample.InputCis[vli]))
			if err != nil {
				return serializationErrorf("actor history sample %d input %d: %v", i, vli, err)
			}
			sample.InputCis[vli] = buf
		}
		target, err := readInts(r, len(sample.HiddenTargetCisPrev))
		if err != nil {
			return serializationErrorf("actor history sample %d target: %v", i, err)
		}
		sample.HiddenTargetCisPrev = target
		var reward float32
		if err := binary.Read(r, binary.LittleEndian, &reward); err != nil {
			return serializationErrorf("actor history sample %d reward: %v", i, err)
		}
		sample.Reward = reward
	}
	return nil
}
