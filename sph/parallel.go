// Copyright (c) 2019, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sph

import "sync"

// ColumnWorkers runs independent per-column kernels across a fixed pool of
// goroutines, fanning out and joining once per call — the same fork-join
// shape as the teacher's Network.ThrLayFun/WaitGp, generalized from "one
// goroutine per layer" to "one goroutine per chunk of hidden columns".
// Because every kernel in this package writes only to the weight slab owned
// by the column it is visiting, no synchronization is required within a
// call: columns never contend for the same memory.
type ColumnWorkers struct {
	n int
}

// NewColumnWorkers returns a worker pool sized to n goroutines per call
// (n < 1 is treated as 1, i.e. sequential).
func NewColumnWorkers(n int) *ColumnWorkers {
	if n < 1 {
		n = 1
	}
	return &ColumnWorkers{n: n}
}

// SetNumWorkers changes the pool size used by subsequent For calls. This is
// the Go analogue of the reference engine's set_num_threads.
func (cw *ColumnWorkers) SetNumWorkers(n int) {
	if n < 1 {
		n = 1
	}
	cw.n = n
}

// NumWorkers returns the current pool size.
func (cw *ColumnWorkers) NumWorkers() int { return cw.n }

// For calls fn(x, y) once for every column of a size.X by size.Y grid.
// Columns have no guaranteed execution order and no data dependency between
// them; when NumWorkers() > 1 the grid is chunked evenly across goroutines.
func (cw *ColumnWorkers) For(size Int2, fn func(x, y int)) {
	total := size.X * size.Y
	if total == 0 {
		return
	}
	if cw.n <= 1 || total < cw.n {
		for x := 0; x < size.X; x++ {
			for y := 0; y < size.Y; y++ {
				fn(x, y)
			}
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (total + cw.n - 1) / cw.n
	for w := 0; w < cw.n; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > total {
			hi = total
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for idx := lo; idx < hi; idx++ {
				x := idx / size.Y
				y := idx % size.Y
				fn(x, y)
			}
		}(lo, hi)
	}
	wg.Wait()
}
