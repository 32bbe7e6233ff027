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
	"context"
	"sort"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"modernc.org/sortutil"

	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/common/parallel"
	"github.com/furze-io/furze/dataset"
)

// Evaluate scores every valid row of the source. The mean anomaly score is
// always reported; AUC is reported when the source carries both anomalous
// and normal labels.
func Evaluate(ctx context.Context, detector Detector, data dataset.Source, config *FitConfig) (Score, error) {
	config = config.LoadDefaultIfNil()
	dimension := data.Dimension()
	var (
		skipped   int
		sum       float64
		positives []float32
		negatives []float32
	)
	batches, errs := data.RowStream(ctx, config.BatchSize)
	valid := make([]dataset.Row, 0, config.BatchSize)
	score := Score{}
	for batch := range batches {
		valid = valid[:0]
		for _, row := range batch {
			if !row.Valid(dimension) {
				skipped++
				continue
			}
			valid = append(valid, row)
		}
		batchScores := make([]float32, len(valid))
		if err := parallel.Parallel(ctx, len(valid), config.Jobs, func(_, i int) error {
			batchScores[i] = detector.PredictRow(valid[i])
			return nil
		}); err != nil {
			return Score{}, errors.Trace(err)
		}
		for i, row := range valid {
			sum += float64(batchScores[i])
			if row.Target > 0 {
				positives = append(positives, batchScores[i])
			} else {
				negatives = append(negatives, batchScores[i])
			}
		}
		score.RowCount += len(valid)
	}
	if err := <-errs; err != nil {
		return Score{}, errors.Trace(err)
	}
	if skipped > 0 {
		log.Logger().Debug("skipped invalid rows in evaluation", zap.Int("skipped_rows", skipped))
	}
	if score.RowCount > 0 {
		score.Anomaly = float32(sum / float64(score.RowCount))
	}
	if len(positives) > 0 && len(negatives) > 0 {
		score.AUC = AUC(positives, negatives)
	}
	return score, nil
}

// AUC computes the area under the ROC curve from the scores of anomalous
// rows and normal rows.
func AUC(positives, negatives []float32) float32 {
	sort.Sort(sortutil.Float32Slice(positives))
	sort.Sort(sortutil.Float32Slice(negatives))
	var sum float32
	var nPos int
	for pPos := range positives {
		// find the normal row with the greatest score less than the current anomalous row
		for nPos < len(negatives) && negatives[nPos] < positives[pPos] {
			nPos++
		}
		// add the number of normal rows scored below the current anomalous row
		sum += float32(nPos)
	}
	if len(positives)*len(negatives) == 0 {
		return 0
	}
	return sum / float32(len(positives)*len(negatives))
}
