// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

// IOType classifies a hierarchy input/output channel.
type IOType int

const (
	// None channels are neither predicted nor acted upon.
	None IOType = iota
	// Prediction channels get a layer-0 Decoder predicting their next value.
	Prediction
	// Action channels get a layer-0 Actor producing a discrete action.
	Action
)

func (t IOType) String() string {
	switch t {
	case Prediction:
		return "Prediction"
	case Action:
		return "Action"
	default:
		return "None"
	}
}

// initByteWeight draws one saturating byte weight uniformly over [0,1)
// from the RNG draw u, so that per-column derived seeds (see rng.go)
// govern initialization exactly the way they govern learning.
func initByteWeight(u float32) byte {
	v := u
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return byte(v*byteWeightMax + 0.5)
}

// EncoderParams holds the learning parameters for one Encoder.step call.
type EncoderParams struct {
	// Scale is the softmax sharpness for the competitive coding step.
	Scale float32 `def:"8"`
	// Lr is the byte-weight learning rate.
	Lr float32 `def:"0.02"`
	// Gcurve is the gate falloff on reconstruction error.
	Gcurve float32 `def:"16"`
}

// SetDefaults assigns the reference default parameters.
func (p *EncoderParams) SetDefaults() {
	p.Scale = 8
	p.Lr = 0.02
	p.Gcurve = 16
}

// DecoderParams holds the learning parameters for one Decoder.step call.
type DecoderParams struct {
	// Scale is the prediction softmax temperature.
	Scale float32 `def:"64"`
	// Lr is the byte-weight learning rate.
	Lr float32 `def:"0.05"`
	// Gcurve is the gate falloff on prediction error.
	Gcurve float32 `def:"16"`
}

// SetDefaults assigns the reference default parameters.
func (p *DecoderParams) SetDefaults() {
	p.Scale = 64
	p.Lr = 0.05
	p.Gcurve = 16
}

// ActorParams holds the learning parameters for one Actor.step call.
type ActorParams struct {
	// Vlr is the value-head learning rate.
	Vlr float32 `def:"0.02"`
	// Alr is the action-head learning rate.
	Alr float32 `def:"0.02"`
	// Discount is the TD discount factor, gamma.
	Discount float32 `def:"0.99"`
	// MinSteps is the minimum ring occupancy before a sample is eligible
	// for replay.
	MinSteps int `def:"8"`
	// HistoryIters is the number of replay passes run per step.
	HistoryIters int `def:"8"`
}

// SetDefaults assigns the reference default parameters.
func (p *ActorParams) SetDefaults() {
	p.Vlr = 0.02
	p.Alr = 0.02
	p.Discount = 0.99
	p.MinSteps = 8
	p.HistoryIters = 8
}

// LayerParams groups the per-layer Encoder and (non-IO) Decoder parameters
// addressed as hierarchy.Params.Layers[l].
type LayerParams struct {
	Encoder EncoderParams
	Decoder DecoderParams
}

// SetDefaults assigns reference defaults to both sub-params.
func (p *LayerParams) SetDefaults() {
	p.Encoder.SetDefaults()
	p.Decoder.SetDefaults()
}

// IOParams groups the per-channel layer-0 Decoder/Actor parameters and the
// encoder-side importance weight, addressed as hierarchy.Params.IOs[i].
type IOParams struct {
	Decoder DecoderParams
	Actor   ActorParams
	// Importance scales this channel's visible-layer weight contribution
	// in the layer-0 Encoder's competition. Defaults to 1.
	Importance float32 `def:"1"`
}

// SetDefaults assigns reference defaults to both sub-params and importance.
func (p *IOParams) SetDefaults() {
	p.Decoder.SetDefaults()
	p.Actor.SetDefaults()
	p.Importance = 1
}

// Params is the full parameter set of a Hierarchy: one LayerParams per
// layer and one IOParams per IO channel.
type Params struct {
	Layers []LayerParams
	IOs    []IOParams
}

// IODesc describes one hierarchy input/output channel at construction time.
type IODesc struct {
	Size IO3

	Type IOType

	// UpRadius is the Encoder's receptive-field radius onto this channel.
	UpRadius int
	// DownRadius is the Decoder's (and Actor's) receptive-field radius
	// reading back from the hidden layer.
	DownRadius int
	// HistoryCapacity is the Actor replay ring size; unused for
	// non-Action channels.
	HistoryCapacity int
}

// IO3 is an alias kept distinct from Int3 only for documentation clarity at
// the construction API boundary — an IO channel's size is always a column
// grid shape.
type IO3 = Int3

// SetDefaults assigns the reference default radii and ring size.
func (d *IODesc) SetDefaults() {
	if d.UpRadius == 0 {
		d.UpRadius = 2
	}
	if d.DownRadius == 0 {
		d.DownRadius = 2
	}
	if d.HistoryCapacity == 0 {
		d.HistoryCapacity = 256
	}
}

// LayerDesc describes one hierarchy layer at construction time.
type LayerDesc struct {
	HiddenSize Int3

	UpRadius   int
	DownRadius int

	// TicksPerUpdate is how many ticks of the layer below must elapse
	// before this layer updates (ignored for layer 0, which is always 1).
	TicksPerUpdate int
	// TemporalHorizon is how many past ticks this layer's history keeps
	// per input channel. Must be >= TicksPerUpdate.
	TemporalHorizon int
}

// SetDefaults assigns the reference default radii, tick ratio, and horizon.
func (d *LayerDesc) SetDefaults() {
	if d.UpRadius == 0 {
		d.UpRadius = 2
	}
	if d.DownRadius == 0 {
		d.DownRadius = 2
	}
	if d.TicksPerUpdate == 0 {
		d.TicksPerUpdate = 2
	}
	if d.TemporalHorizon == 0 {
		d.TemporalHorizon = 2
	}
}
