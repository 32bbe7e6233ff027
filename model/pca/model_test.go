// Copyright 2024 furze Project Authors
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
package pca

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"runtime"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/furze-io/furze/base"
	"github.com/furze-io/furze/base/encoding"
	"github.com/furze-io/furze/common/floats"
	"github.com/furze-io/furze/dataset"
	"github.com/furze-io/furze/model"
)

const epsilon = 1e-4

func newFitConfig() *FitConfig {
	return NewFitConfig().SetVerbose(1).SetJobs(runtime.NumCPU())
}

// newPlaneDataset draws rows from a unit Gaussian on the plane spanned by
// the first two of four coordinates.
func newPlaneDataset(count int, seed int64) *dataset.Dataset {
	rng := base.NewRandomGenerator(seed)
	data := dataset.NewDataset(4, count)
	for i := 0; i < count; i++ {
		v := rng.NormalVector(2, 0, 1)
		data.Add(dataset.NewDenseRow(v[0], v[1], 0, 0))
	}
	return data
}

// newLabeledDataset mixes rows on the plane with rows pushed off the plane.
// Off-plane rows carry a positive target.
func newLabeledDataset(count int, seed int64) *dataset.Dataset {
	rng := base.NewRandomGenerator(seed)
	data := dataset.NewDataset(4, count)
	for i := 0; i < count; i++ {
		v := rng.NormalVector(4, 0, 1)
		if i%2 == 0 {
			data.Add(dataset.NewDenseRow(v[0], v[1], 0, 0))
		} else {
			row := dataset.NewDenseRow(v[0], v[1], 3+math32.Abs(v[2]), v[3])
			row.Target = 1
			data.Add(row)
		}
	}
	return data
}

func TestRSVD_Plane(t *testing.T) {
	trainSet := newPlaneDataset(2000, 0)
	testSet := newLabeledDataset(500, 1)
	m := NewRSVD(model.Params{
		model.Rank:         2,
		model.Oversampling: 2,
		model.Center:       true,
	})
	score, err := m.Fit(context.Background(), trainSet, testSet, newFitConfig())
	assert.NoError(t, err)
	assert.Equal(t, 500, score.RowCount)
	assert.Greater(t, score.AUC, float32(0.99))
	assert.Equal(t, 4, m.Dimension())
	assert.Equal(t, 2, m.Rank())
	assert.NotNil(t, m.Mean)

	// test predict
	for i := 0; i < 100; i++ {
		assert.Less(t, m.PredictRow(trainSet.Row(i)), float32(0.35))
	}
	assert.Greater(t, m.Predict([]float32{0, 0, 3, 0}), float32(0.95))
	assert.InDelta(t, 1/math.Sqrt2, m.Predict([]float32{3, 0, 3, 0}), 0.1)
	assert.Zero(t, m.Predict(m.Mean))

	// test predict sparse
	dense := []float32{0.5, -1.5, 0, 2}
	sparse := dataset.NewSparseRow([]int32{0, 1, 3}, []float32{0.5, -1.5, 2})
	assert.Equal(t, m.Predict(dense), m.PredictRow(sparse))
	assert.Equal(t, m.PredictRow(dataset.NewDenseRow(dense...)), m.PredictRow(sparse))

	// test encode/decode model
	buf := bytes.NewBuffer(nil)
	err = MarshalModel(buf, m)
	assert.NoError(t, err)
	tmp, err := UnmarshalModel(buf)
	assert.NoError(t, err)
	assert.Equal(t, "rsvd", GetModelName(tmp))
	assert.Equal(t, m.Dim, tmp.(*RSVD).Dim)
	assert.Equal(t, m.Eigenvectors, tmp.(*RSVD).Eigenvectors)
	assert.Equal(t, m.Mean, tmp.(*RSVD).Mean)
	assert.Equal(t, m.Predict([]float32{1, 2, 3, 4}), tmp.Predict([]float32{1, 2, 3, 4}))

	// test clear
	m.Clear()
	assert.True(t, m.Invalid())
}

func TestRSVD_WithoutCentering(t *testing.T) {
	trainSet := newPlaneDataset(2000, 0)
	m := NewRSVD(model.Params{
		model.Rank:         2,
		model.Oversampling: 2,
		model.Center:       false,
	})
	_, err := m.Fit(context.Background(), trainSet, nil, newFitConfig())
	assert.NoError(t, err)
	assert.Nil(t, m.Mean)
	for i := 0; i < 100; i++ {
		assert.Less(t, m.PredictRow(trainSet.Row(i)), float32(0.35))
	}
	assert.Greater(t, m.Predict([]float32{0, 0, 3, 0}), float32(0.95))

	// the mean stays absent through a round trip
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, MarshalModel(buf, m))
	tmp, err := UnmarshalModel(buf)
	assert.NoError(t, err)
	assert.Nil(t, tmp.(*RSVD).Mean)
	assert.Equal(t, m.Predict([]float32{1, 2, 3, 4}), tmp.Predict([]float32{1, 2, 3, 4}))
}

func TestRSVD_FullRank(t *testing.T) {
	// With rank equal to the dimension every direction is retained, so the
	// training data reconstructs almost exactly.
	rng := base.NewRandomGenerator(0)
	trainSet := dataset.NewDataset(4, 2000)
	for i := 0; i < 2000; i++ {
		v := rng.NormalVector(4, 0, 1)
		trainSet.Add(dataset.NewDenseRow(v...))
	}
	m := NewRSVD(model.Params{
		model.Rank:         4,
		model.Oversampling: 0,
		model.Center:       true,
	})
	score, err := m.Fit(context.Background(), trainSet, trainSet, newFitConfig())
	assert.NoError(t, err)
	assert.Equal(t, 4, m.Rank())
	assert.Len(t, m.Eigenvectors, 4)
	assert.Equal(t, 2000, score.RowCount)
	assert.Zero(t, score.AUC)
	assert.Less(t, score.Anomaly, float32(0.3))
}

func TestRSVD_Deterministic(t *testing.T) {
	trainSet := newPlaneDataset(500, 0)
	params := model.Params{
		model.Rank:         2,
		model.Oversampling: 2,
		model.RandomState:  int64(42),
	}
	a := NewRSVD(params)
	_, err := a.Fit(context.Background(), trainSet, nil, NewFitConfig().SetJobs(1))
	assert.NoError(t, err)
	b := NewRSVD(params)
	_, err = b.Fit(context.Background(), trainSet, nil, NewFitConfig().SetJobs(4))
	assert.NoError(t, err)
	// parallelism must not perturb the fitted subspace
	assert.Equal(t, a.Eigenvectors, b.Eigenvectors)
	assert.Equal(t, a.Mean, b.Mean)

	c := NewRSVD(model.Params{
		model.Rank:         2,
		model.Oversampling: 2,
		model.RandomState:  int64(43),
	})
	_, err = c.Fit(context.Background(), trainSet, nil, NewFitConfig().SetJobs(1))
	assert.NoError(t, err)
	assert.NotEqual(t, a.Eigenvectors, c.Eigenvectors)
}

func TestRSVD_InvalidParams(t *testing.T) {
	trainSet := newPlaneDataset(10, 0)
	m := NewRSVD(model.Params{model.Rank: 0})
	_, err := m.Fit(context.Background(), trainSet, nil, newFitConfig())
	assert.True(t, errors.IsNotValid(err))

	m = NewRSVD(model.Params{model.Rank: 2, model.Oversampling: -1})
	_, err = m.Fit(context.Background(), trainSet, nil, newFitConfig())
	assert.True(t, errors.IsNotValid(err))

	m = NewRSVD(model.Params{model.Rank: 5})
	_, err = m.Fit(context.Background(), trainSet, nil, newFitConfig())
	assert.True(t, errors.IsNotValid(err))
}

func TestRSVD_EmptyData(t *testing.T) {
	m := NewRSVD(model.Params{model.Rank: 2})
	_, err := m.Fit(context.Background(), dataset.NewDataset(4, 0), nil, newFitConfig())
	assert.ErrorIs(t, errors.Cause(err), ErrEmptyData)

	// rows that never validate leave no sample weight either
	invalid := dataset.NewDataset(4, 2)
	invalid.Add(dataset.NewDenseRow(1, 2))
	invalid.Add(dataset.NewDenseRow(math32.NaN(), 0, 0, 0))
	_, err = m.Fit(context.Background(), invalid, nil, newFitConfig())
	assert.ErrorIs(t, errors.Cause(err), ErrEmptyData)
}

func TestRSVD_SkipInvalidRows(t *testing.T) {
	trainSet := newPlaneDataset(1000, 0)
	trainSet.Add(dataset.NewDenseRow(1, 2, 3))
	trainSet.Add(dataset.NewDenseRow(math32.Inf(1), 0, 0, 0))
	badWeight := dataset.NewDenseRow(1, 0, 0, 0)
	badWeight.Weight = -1
	trainSet.Add(badWeight)
	m := NewRSVD(model.Params{model.Rank: 2, model.Oversampling: 2})
	_, err := m.Fit(context.Background(), trainSet, nil, newFitConfig())
	assert.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.Less(t, m.PredictRow(trainSet.Row(i)), float32(0.35))
	}
}

func TestRSVD_OversamplingClamped(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	trainSet := dataset.NewDataset(3, 500)
	for i := 0; i < 500; i++ {
		trainSet.Add(dataset.NewDenseRow(rng.NormalVector(3, 0, 1)...))
	}
	m := NewRSVD(model.Params{model.Rank: 3, model.Oversampling: 8})
	_, err := m.Fit(context.Background(), trainSet, nil, newFitConfig())
	assert.NoError(t, err)
	assert.Equal(t, 3, m.Rank())
	for i := 0; i < 100; i++ {
		assert.Less(t, m.PredictRow(trainSet.Row(i)), float32(0.35))
	}
}

func TestRSVD_NotFitted(t *testing.T) {
	m := NewRSVD(nil)
	assert.True(t, m.Invalid())
	assert.Panics(t, func() { m.Predict([]float32{1, 2, 3, 4}) })
}

func TestUnmarshal_Corrupted(t *testing.T) {
	// rank above dimension in the header
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, int32(2)))
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, int32(3)))
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, false))
	var m RSVD
	assert.ErrorIs(t, errors.Cause(m.Unmarshal(buf)), ErrCorrupted)

	// non-finite eigenvector value
	buf.Reset()
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, int32(2)))
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, int32(1)))
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, false))
	assert.NoError(t, encoding.WriteMatrix(buf, [][]float32{{1, math32.NaN()}}))
	assert.ErrorIs(t, errors.Cause(m.Unmarshal(buf)), ErrCorrupted)

	// truncated payload
	buf.Reset()
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, int32(4)))
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, int32(2)))
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, true))
	assert.Error(t, m.Unmarshal(buf))
}

func TestUnmarshalModel_Unknown(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, encoding.WriteString(buf, "kmeans"))
	_, err := UnmarshalModel(buf)
	assert.True(t, errors.IsNotValid(err))
}

func TestNewModel(t *testing.T) {
	m, err := NewModel("rsvd", model.Params{model.Rank: 4})
	assert.NoError(t, err)
	assert.Equal(t, "rsvd", GetModelName(m))
	assert.Equal(t, 4, m.(*RSVD).rank)
	_, err = NewModel("kmeans", nil)
	assert.True(t, errors.IsNotValid(err))
}

func TestClone(t *testing.T) {
	trainSet := newPlaneDataset(500, 0)
	m := NewRSVD(model.Params{model.Rank: 2, model.Oversampling: 2})
	_, err := m.Fit(context.Background(), trainSet, nil, newFitConfig())
	assert.NoError(t, err)
	copied := Clone(m)
	assert.Equal(t, m.GetParams(), copied.GetParams())
	assert.Equal(t, m.Predict([]float32{1, 2, 3, 4}), copied.Predict([]float32{1, 2, 3, 4}))
	// the clone owns its vectors
	m.Eigenvectors[0][0] += 1
	assert.NotEqual(t, m.Eigenvectors[0][0], copied.(*RSVD).Eigenvectors[0][0])
}

func TestOrthonormalize(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	m := rng.NormalMatrix(4, 10, 0, 1)
	orthonormalize(m)
	for i := range m {
		for j := range m {
			if i == j {
				assert.InDelta(t, 1, floats.Dot(m[i], m[j]), epsilon)
			} else {
				assert.InDelta(t, 0, floats.Dot(m[i], m[j]), epsilon)
			}
		}
	}

	// a dependent row collapses to zero
	m = [][]float32{{1, 0, 0}, {2, 0, 0}, {0, 0, 3}}
	orthonormalize(m)
	assert.Equal(t, []float32{1, 0, 0}, m[0])
	assert.Equal(t, []float32{0, 0, 0}, m[1])
	assert.Equal(t, []float32{0, 0, 1}, m[2])
}

func TestDescribe(t *testing.T) {
	m := &RSVD{
		Dim:          int32(4),
		Eigenvectors: [][]float32{{0.5, 0, 0, 0}, {0, 0, -0.25, 0}},
		Mean:         []float32{0, 1.5, 0, 0},
	}
	m.refresh()
	builder := &strings.Builder{}
	assert.NoError(t, m.Describe(builder))
	lines := strings.Split(strings.TrimSuffix(builder.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"dimension: 4",
		"rank: 2",
		"center: true",
		"mean: 1:1.5000",
		"eigenvector 0: 0:0.5000",
		"eigenvector 1: 2:-0.2500",
	}, lines)
}
