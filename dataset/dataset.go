// Copyright 2025 furze Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dataset defines weighted samples and the streaming sources that
// feed them to detectors. A source can be replayed, since fitting scans the
// data more than once.
package dataset

import (
	"context"

	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/furze-io/furze/base"
	"github.com/furze-io/furze/common/floats"
)

// Row is a single weighted sample. A row is dense when Indices is nil and
// Values holds one float per feature. Otherwise the row is sparse: Indices
// and Values pair feature indices (unique, typically ascending) with their
// values, and elided features are zero.
//
// Target is an optional evaluation label (positive marks a known anomaly).
// Fitting never reads it.
type Row struct {
	Indices []int32
	Values  []float32
	Weight  float32
	Target  float32
}

// NewDenseRow creates a unit-weight dense row.
func NewDenseRow(values ...float32) Row {
	return Row{Values: values, Weight: 1}
}

// NewSparseRow creates a unit-weight sparse row.
func NewSparseRow(indices []int32, values []float32) Row {
	return Row{Indices: indices, Values: values, Weight: 1}
}

// Valid reports whether the row can enter an accumulation: features present
// and matching the dimension, indices in range, weight and values finite,
// weight non-negative. Invalid rows are skipped and counted, never fatal.
func (r Row) Valid(dimension int) bool {
	if math32.IsNaN(r.Weight) || math32.IsInf(r.Weight, 0) || r.Weight < 0 {
		return false
	}
	if r.Indices == nil {
		if len(r.Values) != dimension {
			return false
		}
	} else {
		if len(r.Indices) != len(r.Values) {
			return false
		}
		for _, i := range r.Indices {
			if i < 0 || int(i) >= dimension {
				return false
			}
		}
	}
	for _, v := range r.Values {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Dot computes the inner product between the row and a dense vector.
func (r Row) Dot(dense []float32) float32 {
	if r.Indices == nil {
		return floats.Dot(r.Values, dense)
	}
	var sum float32
	for p, i := range r.Indices {
		sum += r.Values[p] * dense[i]
	}
	return sum
}

// MulConstAddTo adds the scaled row to a dense vector: dst += row * c.
func (r Row) MulConstAddTo(c float32, dst []float32) {
	if r.Indices == nil {
		floats.MulConstAdd(r.Values, c, dst)
		return
	}
	for p, i := range r.Indices {
		dst[i] += r.Values[p] * c
	}
}

// SquaredNorm computes the squared Euclidean norm of the row.
func (r Row) SquaredNorm() float32 {
	var sum float32
	for _, v := range r.Values {
		sum += v * v
	}
	return sum
}

// Source is the input contract for fitting and evaluation. RowStream sends
// batches of rows followed by exactly one value on the error channel (nil on
// success). Fitting replays the source, so a Source must support at least two
// sequential streams.
type Source interface {
	Dimension() int
	RowStream(ctx context.Context, batchSize int) (chan []Row, chan error)
}

// Dataset is an in-memory Source.
type Dataset struct {
	dimension int
	rows      []Row
}

// NewDataset creates an empty dataset with capacity hints.
func NewDataset(dimension, capacity int) *Dataset {
	return &Dataset{
		dimension: dimension,
		rows:      make([]Row, 0, capacity),
	}
}

func (d *Dataset) Dimension() int {
	return d.dimension
}

func (d *Dataset) Count() int {
	return len(d.rows)
}

func (d *Dataset) Row(i int) Row {
	return d.rows[i]
}

func (d *Dataset) Add(row Row) {
	d.rows = append(d.rows, row)
}

// Positives counts rows labeled as anomalies.
func (d *Dataset) Positives() int {
	count := 0
	for _, row := range d.rows {
		if row.Target > 0 {
			count++
		}
	}
	return count
}

func (d *Dataset) RowStream(ctx context.Context, batchSize int) (chan []Row, chan error) {
	batches := make(chan []Row, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(batches)
		defer close(errs)
		for begin := 0; begin < len(d.rows); begin += batchSize {
			end := min(begin+batchSize, len(d.rows))
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case batches <- d.rows[begin:end]:
			}
		}
		errs <- nil
	}()
	return batches, errs
}

// Split splits the dataset into a training set and a test set by random
// sampling. The same seed reproduces the same split.
func (d *Dataset) Split(ratio float32, seed int64) (*Dataset, *Dataset) {
	testSize := int(float32(d.Count()) * ratio)
	rng := base.NewRandomGenerator(seed)
	sampledIndex := mapset.NewSet(rng.Sample(0, d.Count(), testSize)...)
	trainSet := NewDataset(d.dimension, d.Count()-testSize)
	testSet := NewDataset(d.dimension, testSize)
	for i, row := range d.rows {
		if sampledIndex.Contains(i) {
			testSet.Add(row)
		} else {
			trainSet.Add(row)
		}
	}
	return trainSet, testSet
}
