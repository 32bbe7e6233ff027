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

// Package pca implements anomaly detection over randomized low-rank
// approximations of the sample covariance. Training streams the data and
// never materializes it, so sources of arbitrary size can be fitted in
// constant memory.
package pca

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base"
	"github.com/furze-io/furze/base/copier"
	"github.com/furze-io/furze/base/encoding"
	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/base/progress"
	"github.com/furze-io/furze/common/floats"
	"github.com/furze-io/furze/common/parallel"
	"github.com/furze-io/furze/dataset"
	"github.com/furze-io/furze/model"
)

var (
	// ErrEmptyData is returned when a full pass over the training source
	// leaves zero sample weight.
	ErrEmptyData = errors.New("dataset has zero sample weight")
	// ErrCorrupted is returned when decoded model bytes are malformed or
	// contain non-finite values.
	ErrCorrupted = errors.New("corrupted model")
)

// eigenEpsilon regularizes the eigenvalue pseudo-inverse so that directions
// with vanishing variance stay finite.
const eigenEpsilon = 1e-6

// describeEpsilon is the magnitude below which Describe elides entries.
const describeEpsilon = 1e-6

type Score struct {
	RowCount int
	Anomaly  float32 // mean anomaly score over the evaluated rows
	AUC      float32 // area under the ROC curve, 0 without labeled rows
}

// BetterThan checks if the score is better than another. Labeled scores
// compare by AUC; unlabeled scores prefer a lower mean anomaly, since
// training data is presumed normal.
func (score Score) BetterThan(s Score) bool {
	if score.RowCount == 0 {
		return false
	} else if s.RowCount == 0 {
		return true
	}
	if score.AUC != s.AUC {
		return score.AUC > s.AUC
	}
	return score.Anomaly < s.Anomaly
}

func (score Score) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Int("row_count", score.RowCount),
		zap.Float32("mean_anomaly", score.Anomaly),
		zap.Float32("AUC", score.AUC),
	}
}

type FitConfig struct {
	Jobs      int
	Verbose   int
	BatchSize int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:      1,
		Verbose:   10,
		BatchSize: 128,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetBatchSize(batchSize int) *FitConfig {
	config.BatchSize = batchSize
	return config
}

func (config *FitConfig) LoadDefaultIfNil() *FitConfig {
	if config == nil {
		return NewFitConfig()
	}
	return config
}

// Detector scores how far vectors fall from the subspace learned on a
// training stream.
type Detector interface {
	model.Model
	// Fit a detector with a train set and parameters.
	Fit(ctx context.Context, trainSet, testSet dataset.Source, config *FitConfig) (Score, error)
	// Predict the anomaly score of a dense vector in [0, 1].
	Predict(x []float32) float32
	// PredictRow predicts the anomaly score of a row.
	PredictRow(row dataset.Row) float32
	// Dimension returns the number of features.
	Dimension() int
	// Rank returns the dimension of the retained subspace.
	Rank() int
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
	// Describe writes a human-readable summary of the model.
	Describe(w io.Writer) error
	// refresh rebuilds the derived scoring terms.
	refresh()
}

// RSVD detects anomalies with a randomized eigendecomposition of the sample
// covariance. Fitting scans the training stream twice: the first pass
// projects the covariance onto random directions, the second refines the
// orthonormalized projection, and a small dense eigenproblem recovers the
// dominant subspace. The anomaly score of a vector is the fraction of its
// energy outside the learned subspace.
//
// Hyper-parameters:
//
//	Rank         - The dimension of the retained subspace. Default is 8.
//	Oversampling - The number of extra random directions, clamped so that
//	               rank+oversampling never exceeds the dimension. Default is 4.
//	Center       - Subtract the weighted mean before projecting. Default is true.
type RSVD struct {
	model.BaseModel
	// Model parameters
	Dim          int32
	Eigenvectors [][]float32 // eigenvalue-scaled basis, dominant first
	Mean         []float32   // nil when centering is disabled
	// Hyper parameters
	rank         int
	oversampling int
	center       bool
	// Derived scoring terms
	meanProjected []float32
	meanNorm2     float32
	// solver may be replaced before fitting; nil selects the default.
	solver EigenSolver
}

// NewRSVD creates an RSVD detector.
func NewRSVD(params model.Params) *RSVD {
	rsvd := new(RSVD)
	rsvd.SetParams(params)
	return rsvd
}

// SetParams sets hyper-parameters of the RSVD detector.
func (rsvd *RSVD) SetParams(params model.Params) {
	rsvd.BaseModel.SetParams(params)
	// Setup hyper-parameters
	rsvd.rank = rsvd.Params.GetInt(model.Rank, 8)
	rsvd.oversampling = rsvd.Params.GetInt(model.Oversampling, 4)
	rsvd.center = rsvd.Params.GetBool(model.Center, true)
}

func (rsvd *RSVD) GetParamsGrid(withSize bool) model.ParamsGrid {
	return model.ParamsGrid{
		model.Rank:         lo.If(withSize, []interface{}{2, 4, 8, 16, 32}).Else([]interface{}{8}),
		model.Oversampling: []interface{}{2, 4, 8},
		model.Center:       []interface{}{true, false},
	}
}

func (rsvd *RSVD) Clear() {
	rsvd.Dim = 0
	rsvd.Eigenvectors = nil
	rsvd.Mean = nil
	rsvd.meanProjected = nil
	rsvd.meanNorm2 = 0
}

func (rsvd *RSVD) Invalid() bool {
	return rsvd == nil || rsvd.Eigenvectors == nil
}

func (rsvd *RSVD) Dimension() int {
	return int(rsvd.Dim)
}

func (rsvd *RSVD) Rank() int {
	return len(rsvd.Eigenvectors)
}

// Fit the RSVD detector. Its task complexity is two passes over the training
// source.
func (rsvd *RSVD) Fit(ctx context.Context, trainSet, testSet dataset.Source, config *FitConfig) (Score, error) {
	config = config.LoadDefaultIfNil()
	dimension := trainSet.Dimension()
	if dimension <= 0 {
		return Score{}, errors.NotValidf("dimension %v", dimension)
	}
	if rsvd.rank <= 0 {
		return Score{}, errors.NotValidf("rank %v", rsvd.rank)
	}
	if rsvd.oversampling < 0 {
		return Score{}, errors.NotValidf("oversampling %v", rsvd.oversampling)
	}
	if rsvd.rank > dimension {
		return Score{}, errors.NotValidf("rank %v exceeds dimension %v", rsvd.rank, dimension)
	}
	log.Logger().Info("fit rsvd",
		zap.Int("dimension", dimension),
		zap.Int("rank", rsvd.rank),
		zap.Int("oversampling", rsvd.oversampling),
		zap.Bool("center", rsvd.center),
		zap.Any("params", rsvd.GetParams()),
		zap.Any("config", config))
	fitStart := time.Now()
	oversampledRank := min(rsvd.rank+rsvd.oversampling, dimension)
	basis := rsvd.GetRandomGenerator().NormalMatrix(oversampledRank, dimension, 0, 1)
	var mean []float32
	if rsvd.center {
		mean = make([]float32, dimension)
	}
	newCtx, span := progress.Start(ctx, "RSVD.Fit", 2)
	// The first pass projects the covariance onto the random directions and
	// accumulates the weighted mean.
	projected := base.NewMatrix32(oversampledRank, dimension)
	skipped, err := project(newCtx, trainSet, basis, projected, mean, true, config)
	if err != nil {
		span.Fail(err)
		return Score{}, errors.Trace(err)
	}
	span.Add(1)
	orthonormalize(projected)
	// The second pass projects the covariance onto the orthonormalized
	// directions. The random matrix is recycled as the output buffer.
	floats.MatZero(basis)
	projected, basis = basis, projected
	if _, err := project(newCtx, trainSet, basis, projected, mean, false, config); err != nil {
		span.Fail(err)
		return Score{}, errors.Trace(err)
	}
	span.Add(1)
	// Recover the dominant subspace from the small eigenproblem.
	gram := base.NewMatrix32(oversampledRank, oversampledRank)
	for i := 0; i < oversampledRank; i++ {
		for j := i; j < oversampledRank; j++ {
			v := floats.Dot(projected[i], projected[j])
			gram[i][j], gram[j][i] = v, v
		}
	}
	solver := rsvd.solver
	if solver == nil {
		solver = NewEigenSolver()
	}
	eigenValues, eigenVectors, err := solver.Decompose(gram)
	if err != nil {
		span.Fail(err)
		return Score{}, errors.Trace(err)
	}
	postProcess(projected, eigenValues, eigenVectors)
	rsvd.Dim = int32(dimension)
	rsvd.Eigenvectors = projected[:rsvd.rank]
	rsvd.Mean = mean
	rsvd.refresh()
	span.End()
	// Evaluate on the test set.
	var score Score
	if testSet != nil {
		score, err = Evaluate(ctx, rsvd, testSet, config)
		if err != nil {
			return Score{}, errors.Trace(err)
		}
	}
	log.Logger().Info("complete fit rsvd",
		append([]zap.Field{
			zap.String("fit_time", time.Since(fitStart).String()),
			zap.Int("skipped_rows", skipped),
		}, score.ZapFields()...)...)
	return score, nil
}

// project streams the source once and accumulates, for every basis row b,
// the covariance projection C*b into the paired output row. On the first
// pass the weighted mean is accumulated as well; afterwards the mean holds
// the final value and later passes only apply its rank-one correction.
// Invalid rows are skipped and counted, never fatal.
func project(ctx context.Context, data dataset.Source, basis, out [][]float32, mean []float32, firstPass bool, config *FitConfig) (int, error) {
	var (
		dimension   = data.Dimension()
		skipped     = 0
		rowCount    = 0
		batchCount  = 0
		totalWeight float64
		valid       = make([]dataset.Row, 0, config.BatchSize)
	)
	batches, errs := data.RowStream(ctx, config.BatchSize)
	for batch := range batches {
		valid = valid[:0]
		for _, row := range batch {
			if !row.Valid(dimension) {
				skipped++
				continue
			}
			totalWeight += float64(row.Weight)
			if firstPass && mean != nil {
				row.MulConstAddTo(row.Weight, mean)
			}
			valid = append(valid, row)
		}
		// Each output row is owned by a single worker, so the accumulation
		// order within a row is the stream order regardless of parallelism.
		parallel.For(len(basis), config.Jobs, func(i int) {
			for _, row := range valid {
				row.MulConstAddTo(row.Weight*row.Dot(basis[i]), out[i])
			}
		})
		rowCount += len(batch)
		batchCount++
		if config.Verbose > 0 && batchCount%config.Verbose == 0 {
			log.Logger().Debug("project covariance", zap.Int("rows", rowCount))
		}
	}
	if err := <-errs; err != nil {
		return skipped, errors.Trace(err)
	}
	if totalWeight <= 0 {
		return skipped, errors.Trace(ErrEmptyData)
	}
	scale := float32(1 / totalWeight)
	for i := range out {
		floats.MulConst(out[i], scale)
	}
	if mean != nil {
		if firstPass {
			floats.MulConst(mean, scale)
		}
		for i := range out {
			floats.MulConstAdd(mean, -floats.Dot(basis[i], mean), out[i])
		}
	}
	if skipped > 0 {
		log.Logger().Warn("skipped invalid rows",
			zap.Int("skipped_rows", skipped),
			zap.Int("row_count", rowCount))
	}
	return skipped, nil
}

// orthonormalize runs stabilized Gram-Schmidt on the rows in place: each row
// is normalized, then removed from every later row. A row with zero norm is
// left zero and contributes nothing downstream.
func orthonormalize(m [][]float32) {
	for i := range m {
		norm := math32.Sqrt(floats.Dot(m[i], m[i]))
		if norm == 0 {
			log.Logger().Debug("degenerate direction in orthonormalization", zap.Int("row", i))
			continue
		}
		floats.MulConst(m[i], 1/norm)
		for j := i + 1; j < len(m); j++ {
			floats.MulConstAdd(m[i], -floats.Dot(m[i], m[j]), m[j])
		}
	}
}

// postProcess rotates the projected rows by the eigenvector matrix and
// scales each by the regularized inverse of its eigenvalue, overwriting the
// projection in place. The first rows become the dominant eigenvalue-scaled
// eigenvectors of the covariance.
func postProcess(projected [][]float32, eigenValues []float32, eigenVectors [][]float32) {
	k := len(projected)
	if k == 0 {
		return
	}
	pinv := make([]float32, k)
	for j := range pinv {
		// The Gram matrix is positive semi-definite, so negative eigenvalues
		// are rounding noise and clamp to zero.
		pinv[j] = 1 / (eigenEpsilon + max(eigenValues[j], 0))
	}
	dimension := len(projected[0])
	rotated := make([]float32, k)
	for c := 0; c < dimension; c++ {
		for j := 0; j < k; j++ {
			var sum float32
			for l := 0; l < k; l++ {
				sum += projected[l][c] * eigenVectors[j][l]
			}
			rotated[j] = sum * pinv[j]
		}
		for j := 0; j < k; j++ {
			projected[j][c] = rotated[j]
		}
	}
}

// Predict the anomaly score of a dense vector. The score is the square root
// of the energy fraction outside the learned subspace, clamped into [0, 1].
func (rsvd *RSVD) Predict(x []float32) float32 {
	if rsvd.Invalid() {
		log.Logger().Panic("detector is not fitted")
	}
	norm2X := floats.Dot(x, x)
	if rsvd.Mean != nil {
		norm2X += rsvd.meanNorm2 - 2*floats.Dot(x, rsvd.Mean)
	}
	var norm2U float32
	for i, eigenVector := range rsvd.Eigenvectors {
		component := floats.Dot(eigenVector, x) - rsvd.meanProjected[i]
		norm2U += component * component
	}
	return anomalyScore(norm2X, norm2U)
}

// PredictRow predicts the anomaly score of a row. Sparse rows are scored
// without densifying.
func (rsvd *RSVD) PredictRow(row dataset.Row) float32 {
	if rsvd.Invalid() {
		log.Logger().Panic("detector is not fitted")
	}
	norm2X := row.SquaredNorm()
	if rsvd.Mean != nil {
		norm2X += rsvd.meanNorm2 - 2*row.Dot(rsvd.Mean)
	}
	var norm2U float32
	for i, eigenVector := range rsvd.Eigenvectors {
		component := row.Dot(eigenVector) - rsvd.meanProjected[i]
		norm2U += component * component
	}
	return anomalyScore(norm2X, norm2U)
}

// anomalyScore folds the residual energy into a score. Rounding can push
// norm2X below zero or norm2U above norm2X; both cases clamp to zero so that
// no NaN ever escapes. A vector with zero distance reconstructs itself.
func anomalyScore(norm2X, norm2U float32) float32 {
	if norm2X <= 0 || norm2U >= norm2X {
		return 0
	}
	return math32.Sqrt((norm2X - norm2U) / norm2X)
}

// refresh rebuilds the projected mean and its squared norm after the
// eigenvectors or the mean change.
func (rsvd *RSVD) refresh() {
	rsvd.meanProjected = make([]float32, len(rsvd.Eigenvectors))
	rsvd.meanNorm2 = 0
	if rsvd.Mean == nil {
		return
	}
	rsvd.meanNorm2 = floats.Dot(rsvd.Mean, rsvd.Mean)
	for i, eigenVector := range rsvd.Eigenvectors {
		rsvd.meanProjected[i] = floats.Dot(eigenVector, rsvd.Mean)
	}
}

// Marshal model into byte stream. The layout is fixed: dimension and rank as
// little-endian int32, the centering flag as one byte, the mean iff
// centered, then the eigenvector rows.
func (rsvd *RSVD) Marshal(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, rsvd.Dim); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(rsvd.Eigenvectors))); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, rsvd.Mean != nil); err != nil {
		return errors.Trace(err)
	}
	if rsvd.Mean != nil {
		if err := encoding.WriteVector(w, rsvd.Mean); err != nil {
			return errors.Trace(err)
		}
	}
	return encoding.WriteMatrix(w, rsvd.Eigenvectors)
}

// Unmarshal model from byte stream. Malformed layouts and non-finite values
// are fatal.
func (rsvd *RSVD) Unmarshal(r io.Reader) error {
	var dim, rank int32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return errors.Trace(err)
	}
	var center bool
	if err := binary.Read(r, binary.LittleEndian, &center); err != nil {
		return errors.Trace(err)
	}
	if dim <= 0 || rank <= 0 || rank > dim {
		return errors.Annotatef(ErrCorrupted, "dimension %v with rank %v", dim, rank)
	}
	var mean []float32
	if center {
		mean = make([]float32, dim)
		if err := encoding.ReadVector(r, mean); err != nil {
			return errors.Trace(err)
		}
	}
	eigenVectors := base.NewMatrix32(int(rank), int(dim))
	if err := encoding.ReadMatrix(r, eigenVectors); err != nil {
		return errors.Trace(err)
	}
	for _, v := range mean {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return errors.Annotatef(ErrCorrupted, "non-finite value in mean")
		}
	}
	for _, eigenVector := range eigenVectors {
		for _, v := range eigenVector {
			if math32.IsNaN(v) || math32.IsInf(v, 0) {
				return errors.Annotatef(ErrCorrupted, "non-finite value in eigenvector")
			}
		}
	}
	rsvd.Dim = dim
	rsvd.rank = int(rank)
	rsvd.center = center
	rsvd.Mean = mean
	rsvd.Eigenvectors = eigenVectors
	rsvd.refresh()
	return nil
}

// Describe writes a human-readable summary of the model. Vectors print in
// sparse index:value form with near-zero entries elided.
func (rsvd *RSVD) Describe(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "dimension: %v\n", rsvd.Dim); err != nil {
		return errors.Trace(err)
	}
	if _, err := fmt.Fprintf(w, "rank: %v\n", len(rsvd.Eigenvectors)); err != nil {
		return errors.Trace(err)
	}
	if _, err := fmt.Fprintf(w, "center: %v\n", rsvd.Mean != nil); err != nil {
		return errors.Trace(err)
	}
	if rsvd.Mean != nil {
		if _, err := fmt.Fprintf(w, "mean:%s\n", formatSparse(rsvd.Mean)); err != nil {
			return errors.Trace(err)
		}
	}
	for i, eigenVector := range rsvd.Eigenvectors {
		if _, err := fmt.Fprintf(w, "eigenvector %v:%s\n", i, formatSparse(eigenVector)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func formatSparse(v []float32) string {
	s := ""
	for i, value := range v {
		if math32.Abs(value) > describeEpsilon {
			s += fmt.Sprintf(" %v:%.4f", i, value)
		}
	}
	return s
}

// Clone a detector with deep copy.
func Clone(m Detector) Detector {
	var copied Detector
	if err := copier.Copy(&copied, m); err != nil {
		panic(err)
	} else {
		copied.SetParams(copied.GetParams())
		if !copied.Invalid() {
			copied.refresh()
		}
		return copied
	}
}

func GetModelName(m Detector) string {
	switch m.(type) {
	case *RSVD:
		return "rsvd"
	default:
		return reflect.TypeOf(m).String()
	}
}

// NewModel creates a detector by name.
func NewModel(name string, params model.Params) (Detector, error) {
	switch name {
	case "rsvd":
		return NewRSVD(params), nil
	}
	return nil, errors.NotValidf("detector %v", name)
}

func MarshalModel(w io.Writer, m Detector) error {
	if err := encoding.WriteString(w, GetModelName(m)); err != nil {
		return errors.Trace(err)
	}
	if err := m.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func UnmarshalModel(r io.Reader) (Detector, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch name {
	case "rsvd":
		var rsvd RSVD
		if err := rsvd.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &rsvd, nil
	}
	return nil, errors.NotValidf("detector %v", name)
}
