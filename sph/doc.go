// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sph implements a Sparse Predictive Hierarchy (SPH): an online,
// biologically-inspired sequence-learning engine whose state is a stack of
// sparse-coded column grids trained incrementally, one discrete observation
// at a time. Learning is fully local (per hidden column) and operates on
// small integer and float32 fixed-point-adjacent weights — there is no
// batch gradient descent or autodiff machinery anywhere in this package.
//
// A Hierarchy is built from three column-local kernels:
//
//   - Encoder: a competitive sparse coder that picks one winning cell per
//     hidden column from many visible-layer inputs, and learns
//     reconstruction weights.
//   - Decoder: a per-column softmax classifier predicting the next input
//     column for one output channel.
//   - Actor: a per-column advantage actor-critic with a replayed history
//     ring, producing discrete actions driven by scalar reward.
//
// These are stacked by Hierarchy into an exponentially time-scaled memory:
// higher layers tick less often than the ones below them, each holding a
// short window of the layer beneath's history.
package sph
