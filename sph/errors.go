// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Concrete errors returned from this package wrap one
// of these with fmt.Errorf("%w: ...detail...", ErrX) so callers can test
// with errors.Is, matching the teacher's own error-wrapping idiom
// (see leabra/rl.go's use of errors.Log around fmt.Errorf-built errors).
var (
	// ErrConfiguration marks a caller bug in construction: a zero-sized
	// dimension, a radius too large for its grid, ticks_per_update greater
	// than temporal_horizon, an empty IO or layer list, or an action
	// channel requested above layer 0.
	ErrConfiguration = errors.New("sph: configuration error")

	// ErrChannelUnused marks a prediction/activation query against a
	// channel with no decoder or actor attached.
	ErrChannelUnused = errors.New("sph: channel has no decoder or actor")

	// ErrShapeMismatch marks a Step call with the wrong number of input
	// buffers, or an input buffer whose size doesn't match its channel.
	ErrShapeMismatch = errors.New("sph: input shape mismatch")

	// ErrSerialization marks a stream shorter than expected, or a version
	// mismatch, during read.
	ErrSerialization = errors.New("sph: serialization error")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func channelUnusedErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrChannelUnused, fmt.Sprintf(format, args...))
}

func shapeMismatchErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}

func serializationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(format, args...))
}
