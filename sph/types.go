// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import "github.com/chewxy/math32"

// Int2 is a 2D integer position or size (X, Y).
type Int2 struct {
	X, Y int
}

// Int3 is a 3D integer position or size (X, Y, Z) — the shape of a column
// grid, where Z is the number of cells per column.
type Int3 struct {
	X, Y, Z int
}

// Area returns X*Y, the number of columns in a grid of this size.
func (s Int3) Area() int { return s.X * s.Y }

// Volume returns X*Y*Z, the total number of cells in a grid of this size.
func (s Int3) Volume() int { return s.X * s.Y * s.Z }

// address2 ravels a 2D position into a row-major index over dims.
func address2(pos, dims Int2) int {
	return pos.Y + pos.X*dims.Y
}

// address3 ravels a 3D position into a row-major index over dims.
func address3(pos, dims Int3) int {
	return pos.Z + pos.Y*dims.Z + pos.X*dims.Z*dims.Y
}

// inBounds0 reports whether pos lies in [0, upperBound) on both axes.
func inBounds0(pos, upperBound Int2) bool {
	return pos.X >= 0 && pos.X < upperBound.X && pos.Y >= 0 && pos.Y < upperBound.Y
}

// project maps a hidden column position into the center of its receptive
// patch on a visible grid, given the ratio of visible to hidden extents on
// each axis. Matches the reference projection exactly, including its
// round-half-up-via-truncation behavior for nonnegative inputs.
func project(pos Int2, toScalars [2]float32) Int2 {
	return Int2{
		X: int(float32(pos.X)*toScalars[0] + 0.5),
		Y: int(float32(pos.Y)*toScalars[1] + 0.5),
	}
}

// patchBounds returns the half-open [lower, upper) column range of the
// radius-r square patch centered at center, clamped to [0, size).
func patchBounds(center Int2, radius int, size Int2) (lower, upper Int2) {
	lower = Int2{X: center.X - radius, Y: center.Y - radius}
	upper = Int2{X: center.X + radius + 1, Y: center.Y + radius + 1}
	if lower.X < 0 {
		lower.X = 0
	}
	if lower.Y < 0 {
		lower.Y = 0
	}
	if upper.X > size.X {
		upper.X = size.X
	}
	if upper.Y > size.Y {
		upper.Y = size.Y
	}
	return lower, upper
}

// sigmoid is the logistic function, used nowhere in the learning math but
// kept available for diagnostics that want a bounded squashing function.
func sigmoid(x float32) float32 {
	if x < 0 {
		z := math32.Exp(x)
		return z / (1 + z)
	}
	return 1 / (1 + math32.Exp(-x))
}
