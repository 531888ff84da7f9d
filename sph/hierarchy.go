// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import (
	"io"

	"github.com/c2h5oh/datasize"
)

// Hierarchy is an exponentially time-scaled stack of (Encoder, {Decoders,
// Actors}) layers: the top-level sparse predictive memory. It owns every
// component beneath it; nothing it owns holds a reference back.
type Hierarchy struct {
	Encoders []Encoder
	Decoders [][]Decoder
	Actors   []Actor

	// IIndices maps a layer-0 decoder slot to its channel index, and an
	// actor slot (offset by len(IOSizes)) to its channel index.
	IIndices IntBuffer
	// DIndices maps a channel to its layer-0 decoder or actor slot, -1 if
	// the channel has neither.
	DIndices IntBuffer

	Histories [][]*CircleBuffer[IntBuffer]

	Updates        []bool
	Ticks          IntBuffer
	TicksPerUpdate IntBuffer

	IOSizes []Int3
	IOTypes []IOType

	Params Params

	seed uint64
	cw   *ColumnWorkers
}

// NewHierarchy allocates and randomly initializes a Hierarchy.
func NewHierarchy(ioDescs []IODesc, layerDescs []LayerDesc, seed uint64) (*Hierarchy, error) {
	h := &Hierarchy{}
	if err := h.InitRandom(ioDescs, layerDescs, seed); err != nil {
		return nil, err
	}
	return h, nil
}

// InitRandom builds every layer's Encoder, Decoders, and (at layer 0)
// Actors, following the reference construction exactly: layer 0's Encoder
// gets one visible layer per (channel, history slot) pair, higher layers
// get one visible layer per history slot of the layer below, and every
// Decoder/Actor reads its own layer's hidden code plus, if a layer above
// exists, that layer's tick-phased Decoder output.
func (h *Hierarchy) InitRandom(ioDescs []IODesc, layerDescs []LayerDesc, seed uint64) error {
	if len(ioDescs) == 0 {
		return configErrorf("hierarchy requires at least one io channel")
	}
	if len(layerDescs) == 0 {
		return configErrorf("hierarchy requires at least one layer")
	}

	numLayers := len(layerDescs)
	h.seed = seed
	h.cw = NewColumnWorkers(1)

	ios := make([]IODesc, len(ioDescs))
	copy(ios, ioDescs)
	lds := make([]LayerDesc, len(layerDescs))
	copy(lds, layerDescs)

	h.IOSizes = make([]Int3, len(ios))
	h.IOTypes = make([]IOType, len(ios))
	numPredictions := 0
	numActions := 0
	for i := range ios {
		ios[i].SetDefaults()
		if ios[i].Size.X <= 0 || ios[i].Size.Y <= 0 || ios[i].Size.Z <= 0 {
			return configErrorf("io channel %d size %+v has a zero or negative dimension", i, ios[i].Size)
		}
		h.IOSizes[i] = ios[i].Size
		h.IOTypes[i] = ios[i].Type
		switch ios[i].Type {
		case Prediction:
			numPredictions++
		case Action:
			numActions++
		}
	}

	h.Encoders = make([]Encoder, numLayers)
	h.Decoders = make([][]Decoder, numLayers)
	h.Histories = make([][]*CircleBuffer[IntBuffer], numLayers)
	h.Ticks = NewIntBuffer(numLayers)
	h.TicksPerUpdate = NewIntBuffer(numLayers)
	h.Updates = make([]bool, numLayers)

	for l := range lds {
		lds[l].SetDefaults()
		if lds[l].HiddenSize.X <= 0 || lds[l].HiddenSize.Y <= 0 || lds[l].HiddenSize.Z <= 0 {
			return configErrorf("layer %d hidden size %+v has a zero or negative dimension", l, lds[l].HiddenSize)
		}
		if l > 0 && lds[l].TicksPerUpdate > lds[l].TemporalHorizon {
			return configErrorf("layer %d ticks_per_update %d exceeds temporal_horizon %d", l, lds[l].TicksPerUpdate, lds[l].TemporalHorizon)
		}
		if l == 0 {
			h.TicksPerUpdate[l] = 1
		} else {
			h.TicksPerUpdate[l] = lds[l].TicksPerUpdate
		}
	}

	h.IIndices = NewIntBuffer(2 * len(ios))
	h.DIndices = NewIntBuffer(len(ios))
	h.DIndices.Fill(-1)

	for l := range lds {
		ld := lds[l]
		var eVisibleDescs []EncoderVisibleLayerDesc

		if l == 0 {
			horizon := ld.TemporalHorizon
			eVisibleDescs = make([]EncoderVisibleLayerDesc, len(ios)*horizon)
			for i := range ios {
				for t := 0; t < horizon; t++ {
					eVisibleDescs[t+horizon*i] = EncoderVisibleLayerDesc{Size: ios[i].Size, Radius: ios[i].UpRadius}
				}
			}

			h.Histories[l] = make([]*CircleBuffer[IntBuffer], len(ios))
			for i := range ios {
				ring := NewCircleBuffer[IntBuffer](horizon)
				for t := 0; t < horizon; t++ {
					ring.Set(t, NewIntBuffer(ios[i].Size.Area()))
				}
				h.Histories[l][i] = ring
			}

			h.Decoders[l] = make([]Decoder, numPredictions)
			h.Actors = make([]Actor, numActions)

			dIndex := 0
			for i := range ios {
				if ios[i].Type != Prediction {
					continue
				}
				dVisibleDescs := make([]DecoderVisibleLayerDesc, 1, 2)
				dVisibleDescs[0] = DecoderVisibleLayerDesc{Size: ld.HiddenSize, Radius: ios[i].DownRadius}
				if l < numLayers-1 {
					dVisibleDescs = append(dVisibleDescs, dVisibleDescs[0])
				}
				if err := h.Decoders[l][dIndex].InitRandom(ios[i].Size, dVisibleDescs, seed+uint64(dIndex)+1); err != nil {
					return err
				}
				h.IIndices[dIndex] = i
				h.DIndices[i] = dIndex
				dIndex++
			}

			aIndex := 0
			for i := range ios {
				if ios[i].Type != Action {
					continue
				}
				aVisibleDescs := make([]ActorVisibleLayerDesc, 1, 2)
				aVisibleDescs[0] = ActorVisibleLayerDesc{Size: ld.HiddenSize, Radius: ios[i].DownRadius}
				if l < numLayers-1 {
					aVisibleDescs = append(aVisibleDescs, aVisibleDescs[0])
				}
				if err := h.Actors[aIndex].InitRandom(ios[i].Size, ios[i].HistoryCapacity, aVisibleDescs, seed+uint64(aIndex)+1000); err != nil {
					return err
				}
				h.IIndices[len(ios)+aIndex] = i
				h.DIndices[i] = aIndex
				aIndex++
			}
		} else {
			horizon := ld.TemporalHorizon
			below := lds[l-1].HiddenSize
			eVisibleDescs = make([]EncoderVisibleLayerDesc, horizon)
			for t := 0; t < horizon; t++ {
				eVisibleDescs[t] = EncoderVisibleLayerDesc{Size: below, Radius: ld.UpRadius}
			}

			ring := NewCircleBuffer[IntBuffer](horizon)
			for t := 0; t < horizon; t++ {
				ring.Set(t, NewIntBuffer(below.Area()))
			}
			h.Histories[l] = []*CircleBuffer[IntBuffer]{ring}

			h.Decoders[l] = make([]Decoder, ld.TicksPerUpdate)
			dVisibleDescs := make([]DecoderVisibleLayerDesc, 1, 2)
			dVisibleDescs[0] = DecoderVisibleLayerDesc{Size: ld.HiddenSize, Radius: ld.DownRadius}
			if l < numLayers-1 {
				dVisibleDescs = append(dVisibleDescs, dVisibleDescs[0])
			}
			for t := range h.Decoders[l] {
				if err := h.Decoders[l][t].InitRandom(below, dVisibleDescs, seed+uint64(l)*1000+uint64(t)+1); err != nil {
					return err
				}
			}
		}

		if err := h.Encoders[l].InitRandom(ld.HiddenSize, eVisibleDescs, seed+uint64(l)*7919); err != nil {
			return err
		}
	}

	h.Params.Layers = make([]LayerParams, numLayers)
	for l := range h.Params.Layers {
		h.Params.Layers[l].SetDefaults()
	}
	h.Params.IOs = make([]IOParams, len(ios))
	for i := range h.Params.IOs {
		h.Params.IOs[i].SetDefaults()
	}

	return nil
}

func (h *Hierarchy) setInputImportance(i int, importance float32) {
	ring := h.Histories[0][i]
	horizon := ring.Size()
	for t := 0; t < horizon; t++ {
		h.Encoders[0].VisibleLayers[i*horizon+t].Importance = importance
	}
}

// Step pushes input_cis into the bottom history, runs the ascending pass
// (every layer scheduled to tick runs its Encoder and, if not the top
// layer, pushes its hidden code upward), then the descending pass (every
// layer that updated this tick runs its Decoders, and layer 0 also runs
// its Actors).
func (h *Hierarchy) Step(inputCis []IntBuffer, learnEnabled bool, reward, mimic float32) error {
	if len(h.Params.Layers) != len(h.Encoders) || len(h.Params.IOs) != len(h.IOSizes) {
		return configErrorf("params shape does not match hierarchy shape")
	}
	if len(inputCis) != len(h.IOSizes) {
		return shapeMismatchErrorf("step got %d input buffers, want %d", len(inputCis), len(h.IOSizes))
	}
	for i, buf := range inputCis {
		want := h.IOSizes[i].Area()
		if len(buf) != want {
			return shapeMismatchErrorf("input %d has %d columns, want %d", i, len(buf), want)
		}
	}

	for i := range h.IOSizes {
		h.setInputImportance(i, h.Params.IOs[i].Importance)
	}

	h.Ticks[0] = 0

	for i := range h.IOSizes {
		ring := h.Histories[0][i]
		ring.PushFront()
		copy(*ring.Front(), inputCis[i])
	}

	for l := range h.Updates {
		h.Updates[l] = false
	}

	numLayers := len(h.Encoders)
	for l := 0; l < numLayers; l++ {
		if l != 0 && h.Ticks[l] < h.TicksPerUpdate[l] {
			continue
		}
		h.Ticks[l] = 0
		h.Updates[l] = true

		var layerInputCis []IntBuffer
		for i := range h.Histories[l] {
			ring := h.Histories[l][i]
			for t := 0; t < ring.Size(); t++ {
				layerInputCis = append(layerInputCis, ring.Get(t))
			}
		}

		if err := h.Encoders[l].Step(h.cw, layerInputCis, learnEnabled, h.Params.Layers[l].Encoder); err != nil {
			return err
		}

		if l < numLayers-1 {
			lNext := l + 1
			ring := h.Histories[lNext][0]
			ring.PushFront()
			copy(*ring.Front(), h.Encoders[l].HiddenCis)
			h.Ticks[lNext]++
		}
	}

	for l := numLayers - 1; l >= 0; l-- {
		if !h.Updates[l] {
			continue
		}

		layerInputCis := []IntBuffer{h.Encoders[l].HiddenCis}
		if l < numLayers-1 {
			phase := h.TicksPerUpdate[l+1] - 1 - h.Ticks[l+1]
			layerInputCis = append(layerInputCis, h.Decoders[l+1][phase].HiddenCis)
		}

		for d := range h.Decoders[l] {
			var target IntBuffer
			var dp DecoderParams
			if l == 0 {
				target = h.Histories[0][h.IIndices[d]].Get(0)
				dp = h.Params.IOs[h.IIndices[d]].Decoder
			} else {
				target = h.Histories[l][0].Get(d)
				dp = h.Params.Layers[l].Decoder
			}
			if err := h.Decoders[l][d].Step(h.cw, layerInputCis, target, learnEnabled, dp); err != nil {
				return err
			}
		}

		if l == 0 {
			for d := range h.Actors {
				channel := h.IIndices[len(h.IOSizes)+d]
				ap := h.Params.IOs[channel].Actor
				if err := h.Actors[d].Step(h.cw, layerInputCis, inputCis[channel], reward, learnEnabled, mimic, ap); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// ClearState zeroes histories, ticks, updates, and every component's
// transient state. Weights are untouched.
func (h *Hierarchy) ClearState() {
	for l := range h.Updates {
		h.Updates[l] = false
	}
	h.Ticks.Fill(0)

	for l := range h.Encoders {
		for i := range h.Histories[l] {
			ring := h.Histories[l][i]
			for t := 0; t < ring.Size(); t++ {
				ring.Get(t).Fill(0)
			}
		}
	}

	for l := range h.Encoders {
		h.Encoders[l].ClearState()
	}
	for l := range h.Decoders {
		for d := range h.Decoders[l] {
			h.Decoders[l][d].ClearState()
		}
	}
	for d := range h.Actors {
		h.Actors[d].ClearState()
	}
}

// SetNumWorkers changes the column worker pool size used by every kernel.
func (h *Hierarchy) SetNumWorkers(n int) { h.cw.SetNumWorkers(n) }

// GetNumLayers returns the number of encoder layers.
func (h *Hierarchy) GetNumLayers() int { return len(h.Encoders) }

// IOLayerExists reports whether channel i has an attached decoder or actor.
func (h *Hierarchy) IOLayerExists(i int) bool { return h.DIndices[i] != -1 }

// GetPredictionCis returns the prediction (or action) column-index field
// for channel i.
func (h *Hierarchy) GetPredictionCis(i int) (IntBuffer, error) {
	if h.DIndices[i] == -1 {
		return nil, channelUnusedErrorf("channel %d has no decoder or actor", i)
	}
	if h.IOTypes[i] == Action {
		return h.Actors[h.DIndices[i]].HiddenCis, nil
	}
	return h.Decoders[0][h.DIndices[i]].HiddenCis, nil
}

// GetPredictionActs returns the prediction (or action) softmax activation
// field for channel i.
func (h *Hierarchy) GetPredictionActs(i int) (FloatBuffer, error) {
	if h.DIndices[i] == -1 {
		return nil, channelUnusedErrorf("channel %d has no decoder or actor", i)
	}
	if h.IOTypes[i] == Action {
		return h.Actors[h.DIndices[i]].HiddenActs, nil
	}
	return h.Decoders[0][h.DIndices[i]].HiddenActs, nil
}

// GetUpdate reports whether layer l updated on the most recent step.
func (h *Hierarchy) GetUpdate(l int) bool { return h.Updates[l] }

// GetTicks returns layer l's current tick count.
func (h *Hierarchy) GetTicks(l int) int { return h.Ticks[l] }

// GetTicksPerUpdate returns layer l's configured tick ratio.
func (h *Hierarchy) GetTicksPerUpdate(l int) int { return h.TicksPerUpdate[l] }

// GetNumIO returns the number of IO channels.
func (h *Hierarchy) GetNumIO() int { return len(h.IOSizes) }

// GetIOSize returns channel i's column-grid size.
func (h *Hierarchy) GetIOSize(i int) Int3 { return h.IOSizes[i] }

// GetIOType returns channel i's type.
func (h *Hierarchy) GetIOType(i int) IOType { return h.IOTypes[i] }

// GetEncoder returns layer l's Encoder.
func (h *Hierarchy) GetEncoder(l int) *Encoder { return &h.Encoders[l] }

// GetDecoder returns the Decoder addressing channel i at layer l (l == 0)
// or the i-th tick-phase Decoder at layer l (l > 0).
func (h *Hierarchy) GetDecoder(l, i int) *Decoder {
	if l == 0 {
		return &h.Decoders[l][h.DIndices[i]]
	}
	return &h.Decoders[l][i]
}

// GetActor returns the Actor attached to channel i.
func (h *Hierarchy) GetActor(i int) *Actor { return &h.Actors[h.DIndices[i]] }

// SizeReport summarizes the hierarchy's weight-memory footprint, in the
// style of the teacher's Network.SizeReport.
func (h *Hierarchy) SizeReport() string {
	var nbytes int64
	for l := range h.Encoders {
		for _, vl := range h.Encoders[l].VisibleLayers {
			nbytes += int64(len(vl.Weights))
		}
		for d := range h.Decoders[l] {
			for _, vl := range h.Decoders[l][d].VisibleLayers {
				nbytes += int64(len(vl.Weights))
			}
		}
	}
	for a := range h.Actors {
		for _, vl := range h.Actors[a].VisibleLayers {
			nbytes += int64(len(vl.ValueWeights)) * 4
			nbytes += int64(len(vl.ActionWeights)) * 4
		}
	}
	return datasize.ByteSize(nbytes).HumanReadable()
}

func writeLayerParams(w io.Writer, p LayerParams) error {
	for _, v := range []float32{p.Encoder.Scale, p.Encoder.Lr, p.Encoder.Gcurve, p.Decoder.Scale, p.Decoder.Lr, p.Decoder.Gcurve} {
		if err := binaryWriteFloat32(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readLayerParams(r io.Reader) (LayerParams, error) {
	var p LayerParams
	vals := make([]float32, 6)
	for i := range vals {
		v, err := binaryReadFloat32(r)
		if err != nil {
			return p, err
		}
		vals[i] = v
	}
	p.Encoder.Scale, p.Encoder.Lr, p.Encoder.Gcurve = vals[0], vals[1], vals[2]
	p.Decoder.Scale, p.Decoder.Lr, p.Decoder.Gcurve = vals[3], vals[4], vals[5]
	return p, nil
}

func writeIOParams(w io.Writer, p IOParams) error {
	for _, v := range []float32{p.Decoder.Scale, p.Decoder.Lr, p.Decoder.Gcurve, p.Actor.Vlr, p.Actor.Alr, p.Actor.Discount} {
		if err := binaryWriteFloat32(w, v); err != nil {
			return err
		}
	}
	if err := writeInt(w, p.Actor.MinSteps); err != nil {
		return err
	}
	if err := writeInt(w, p.Actor.HistoryIters); err != nil {
		return err
	}
	return binaryWriteFloat32(w, p.Importance)
}

func readIOParams(r io.Reader) (IOParams, error) {
	var p IOParams
	vals := make([]float32, 6)
	for i := range vals {
		v, err := binaryReadFloat32(r)
		if err != nil {
			return p, err
		}
		vals[i] = v
	}
	p.Decoder.Scale, p.Decoder.Lr, p.Decoder.Gcurve = vals[0], vals[1], vals[2]
	p.Actor.Vlr, p.Actor.Alr, p.Actor.Discount = vals[3], vals[4], vals[5]

	minSteps, err := readInt(r)
	if err != nil {
		return p, err
	}
	historyIters, err := readInt(r)
	if err != nil {
		return p, err
	}
	importance, err := binaryReadFloat32(r)
	if err != nil {
		return p, err
	}
	p.Actor.MinSteps = minSteps
	p.Actor.HistoryIters = historyIters
	p.Importance = importance
	return p, nil
}

// Size returns the exact byte count Write will emit.
func (h *Hierarchy) Size() int {
	numIO := len(h.IOSizes)
	size := 4*4 + numIO*(3*4) + numIO*1 + len(h.Updates)*1 + 2*len(h.Ticks)*4 + len(h.IIndices)*4 + len(h.DIndices)*4

	for l := range h.Encoders {
		size += 4
		for i := range h.Histories[l] {
			ring := h.Histories[l][i]
			size += 2 * 4
			for t := 0; t < ring.Size(); t++ {
				size += 4 + len(ring.Get(t))*4
			}
		}
		size += h.Encoders[l].Size()
		for d := range h.Decoders[l] {
			size += h.Decoders[l][d].Size()
		}
	}
	for a := range h.Actors {
		size += h.Actors[a].Size()
	}

	size += len(h.Encoders) * (6 * 4)
	size += numIO * (6*4 + 2*4 + 4)
	return size
}

// StateSize returns the exact byte count WriteState will emit.
func (h *Hierarchy) StateSize() int {
	size := len(h.Updates)*1 + len(h.Ticks)*4

	for l := range h.Encoders {
		for i := range h.Histories[l] {
			ring := h.Histories[l][i]
			size += 4
			for t := 0; t < ring.Size(); t++ {
				size += len(ring.Get(t)) * 4
			}
		}
		size += h.Encoders[l].StateSize()
		for d := range h.Decoders[l] {
			size += h.Decoders[l][d].StateSize()
		}
	}
	for a := range h.Actors {
		size += h.Actors[a].StateSize()
	}
	return size
}

// Write emits a full dump: layer/channel counts, IO descriptors, tick
// state, the i_indices/d_indices maps, and then per layer the history
// contents and every component's permanent (shape + weight) bytes, in the
// exact order hierarchy.cpp uses.
func (h *Hierarchy) Write(w io.Writer) error {
	numLayers := len(h.Encoders)
	numIO := len(h.IOSizes)
	numPredictions := len(h.Decoders[0])
	numActions := len(h.Actors)

	if err := writeInt(w, numLayers); err != nil {
		return err
	}
	if err := writeInt(w, numIO); err != nil {
		return err
	}
	if err := writeInt(w, numPredictions); err != nil {
		return err
	}
	if err := writeInt(w, numActions); err != nil {
		return err
	}
	for i := 0; i < numIO; i++ {
		if err := writeInt3(w, h.IOSizes[i]); err != nil {
			return err
		}
	}
	for i := 0; i < numIO; i++ {
		if _, err := w.Write([]byte{byte(h.IOTypes[i])}); err != nil {
			return err
		}
	}
	for _, u := range h.Updates {
		if err := writeBool(w, u); err != nil {
			return err
		}
	}
	if err := writeInts(w, h.Ticks); err != nil {
		return err
	}
	if err := writeInts(w, h.TicksPerUpdate); err != nil {
		return err
	}
	if err := writeInts(w, h.IIndices); err != nil {
		return err
	}
	if err := writeInts(w, h.DIndices); err != nil {
		return err
	}

	for l := 0; l < numLayers; l++ {
		if err := writeInt(w, len(h.Histories[l])); err != nil {
			return err
		}
		for i := range h.Histories[l] {
			ring := h.Histories[l][i]
			if err := writeInt(w, ring.Size()); err != nil {
				return err
			}
			if err := writeInt(w, ring.Start()); err != nil {
				return err
			}
			for t := 0; t < ring.Size(); t++ {
				buf := ring.Get(t)
				if err := writeInt(w, len(buf)); err != nil {
					return err
				}
				if err := writeInts(w, buf); err != nil {
					return err
				}
			}
		}

		if err := h.Encoders[l].Write(w); err != nil {
			return err
		}
		for d := range h.Decoders[l] {
			if err := h.Decoders[l][d].Write(w); err != nil {
				return err
			}
		}
	}

	for a := range h.Actors {
		if err := h.Actors[a].Write(w); err != nil {
			return err
		}
	}

	for l := 0; l < numLayers; l++ {
		if err := writeLayerParams(w, h.Params.Layers[l]); err != nil {
			return err
		}
	}
	for i := 0; i < numIO; i++ {
		if err := writeIOParams(w, h.Params.IOs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Read reconstitutes a hierarchy previously written by Write.
func (h *Hierarchy) Read(r io.Reader) error {
	numLayers, err := readInt(r)
	if err != nil {
		return serializationErrorf("num_layers: %v", err)
	}
	numIO, err := readInt(r)
	if err != nil {
		return serializationErrorf("num_io: %v", err)
	}
	numPredictions, err := readInt(r)
	if err != nil {
		return serializationErrorf("num_predictions: %v", err)
	}
	numActions, err := readInt(r)
	if err != nil {
		return serializationErrorf("num_actions: %v", err)
	}

	h.IOSizes = make([]Int3, numIO)
	for i := 0; i < numIO; i++ {
		size, err := readInt3(r)
		if err != nil {
			return serializationErrorf("io_sizes[%d]: %v", i, err)
		}
		h.IOSizes[i] = size
	}
	h.IOTypes = make([]IOType, numIO)
	for i := 0; i < numIO; i++ {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return serializationErrorf("io_types[%d]: %v", i, err)
		}
		h.IOTypes[i] = IOType(b[0])
	}

	h.Encoders = make([]Encoder, numLayers)
	h.Decoders = make([][]Decoder, numLayers)
	h.Histories = make([][]*CircleBuffer[IntBuffer], numLayers)
	h.Updates = make([]bool, numLayers)
	h.Ticks = NewIntBuffer(numLayers)
	h.TicksPerUpdate = NewIntBuffer(numLayers)

	for l := 0; l < numLayers; l++ {
		u, err := readBool(r)
		if err != nil {
			return serializationErrorf("updates[%d]: %v", l, err)
		}
		h.Updates[l] = u
	}
	ticks, err := readInts(r, numLayers)
	if err != nil {
		return serializationErrorf("ticks: %v", err)
	}
	ticksPerUpdate, err := readInts(r, numLayers)
	if err != nil {
		return serializationErrorf("ticks_per_update: %v", err)
	}
	h.Ticks = ticks
	h.TicksPerUpdate = ticksPerUpdate

	h.IIndices, err = readInts(r, 2*numIO)
	if err != nil {
		return serializationErrorf("i_indices: %v", err)
	}
	h.DIndices, err = readInts(r, numIO)
	if err != nil {
		return serializationErrorf("d_indices: %v", err)
	}

	h.cw = NewColumnWorkers(1)

	for l := 0; l < numLayers; l++ {
		numLayerInputs, err := readInt(r)
		if err != nil {
			return serializationErrorf("layer %d num_layer_inputs: %v", l, err)
		}
		h.Histories[l] = make([]*CircleBuffer[IntBuffer], numLayerInputs)
		for i := 0; i < numLayerInputs; i++ {
			historySize, err := readInt(r)
			if err != nil {
				return serializationErrorf("layer %d history %d size: %v", l, i, err)
			}
			historyStart, err := readInt(r)
			if err != nil {
				return serializationErrorf("layer %d history %d start: %v", l, i, err)
			}
			ring := NewCircleBuffer[IntBuffer](historySize)
			ring.SetStart(historyStart)
			for t := 0; t < historySize; t++ {
				bufSize, err := readInt(r)
				if err != nil {
					return serializationErrorf("layer %d history %d[%d] size: %v", l, i, t, err)
				}
				buf, err := readInts(r, bufSize)
				if err != nil {
					return serializationErrorf("layer %d history %d[%d]: %v", l, i, t, err)
				}
				ring.Set(t, buf)
			}
			h.Histories[l][i] = ring
		}

		if err := h.Encoders[l].Read(r); err != nil {
			return err
		}

		var numDecoders int
		if l == 0 {
			numDecoders = numPredictions
		} else {
			numDecoders = h.TicksPerUpdate[l]
		}
		h.Decoders[l] = make([]Decoder, numDecoders)
		for d := range h.Decoders[l] {
			if err := h.Decoders[l][d].Read(r); err != nil {
				return err
			}
		}
	}

	h.Actors = make([]Actor, numActions)
	for a := range h.Actors {
		if err := h.Actors[a].Read(r); err != nil {
			return err
		}
	}

	h.Params.Layers = make([]LayerParams, numLayers)
	for l := 0; l < numLayers; l++ {
		p, err := readLayerParams(r)
		if err != nil {
			return serializationErrorf("layer %d params: %v", l, err)
		}
		h.Params.Layers[l] = p
	}
	h.Params.IOs = make([]IOParams, numIO)
	for i := 0; i < numIO; i++ {
		p, err := readIOParams(r)
		if err != nil {
			return serializationErrorf("io %d params: %v", i, err)
		}
		h.Params.IOs[i] = p
	}
	return nil
}

// WriteState emits only transient state: updates, ticks, history contents,
// and every component's state_size blob. Shapes must already match a
// hierarchy built with the same descriptors.
func (h *Hierarchy) WriteState(w io.Writer) error {
	for _, u := range h.Updates {
		if err := writeBool(w, u); err != nil {
			return err
		}
	}
	if err := writeInts(w, h.Ticks); err != nil {
		return err
	}

	for l := range h.Encoders {
		for i := range h.Histories[l] {
			ring := h.Histories[l][i]
			if err := writeInt(w, ring.Start()); err != nil {
				return err
			}
			for t := 0; t < ring.Size(); t++ {
				if err := writeInts(w, ring.Get(t)); err != nil {
					return err
				}
			}
		}
		if err := h.Encoders[l].WriteState(w); err != nil {
			return err
		}
		for d := range h.Decoders[l] {
			if err := h.Decoders[l][d].WriteState(w); err != nil {
				return err
			}
		}
	}
	for a := range h.Actors {
		if err := h.Actors[a].WriteState(w); err != nil {
			return err
		}
	}
	return nil
}

// ReadState restores transient state previously written by WriteState.
func (h *Hierarchy) ReadState(r io.Reader) error {
	for l := range h.Updates {
		u, err := readBool(r)
		if err != nil {
			return serializationErrorf("updates[%d]: %v", l, err)
		}
		h.Updates[l] = u
	}
	ticks, err := readInts(r, len(h.Ticks))
	if err != nil {
		return serializationErrorf("ticks: %v", err)
	}
	h.Ticks = ticks

	for l := range h.Encoders {
		for i := range h.Histories[l] {
			ring := h.Histories[l][i]
			start, err := readInt(r)
			if err != nil {
				return serializationErrorf("layer %d history %d start: %v", l, i, err)
			}
			ring.SetStart(start)
			for t := 0; t < ring.Size(); t++ {
				buf, err := readInts(r, len(ring.Get(t)))
				if err != nil {
					return serializationErrorf("layer %d history %d[%d]: %v", l, i, t, err)
				}
				ring.Set(t, buf)
			}
		}
		if err := h.Encoders[l].ReadState(r); err != nil {
			return err
		}
		for d := range h.Decoders[l] {
			if err := h.Decoders[l][d].ReadState(r); err != nil {
				return err
			}
		}
	}
	for a := range h.Actors {
		if err := h.Actors[a].ReadState(r); err != nil {
			return err
		}
	}
	return nil
}
