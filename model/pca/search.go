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
	"fmt"

	"go.uber.org/zap"

	"github.com/furze-io/furze/base"
	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/base/progress"
	"github.com/furze-io/furze/dataset"
	"github.com/furze-io/furze/model"
)

// ParamsSearchResult contains the return of grid search.
type ParamsSearchResult struct {
	BestModel  Detector
	BestScore  Score
	BestParams model.Params
	BestIndex  int
	Scores     []Score
	Params     []model.Params
}

func (r *ParamsSearchResult) AddScore(params model.Params, score Score) {
	r.Scores = append(r.Scores, score)
	r.Params = append(r.Params, params.Copy())
	if len(r.Scores) == 1 || score.BetterThan(r.BestScore) {
		r.BestScore = score
		r.BestParams = params.Copy()
		r.BestIndex = len(r.Params) - 1
	}
}

// GridSearchCV finds the best parameters for a detector. Combinations the
// detector rejects, such as a rank above the dimension, are skipped with a
// warning.
func GridSearchCV(ctx context.Context, estimator Detector, trainSet, testSet dataset.Source, paramGrid model.ParamsGrid,
	_ int64, fitConfig *FitConfig) ParamsSearchResult {
	// Retrieve parameter names and length
	paramNames := make([]model.ParamName, 0, len(paramGrid))
	total := 1
	for paramName, values := range paramGrid {
		paramNames = append(paramNames, paramName)
		total *= len(values)
	}
	// Construct DFS procedure
	results := ParamsSearchResult{
		Scores: make([]Score, 0, total),
		Params: make([]model.Params, 0, total),
	}
	var dfs func(deep int, params model.Params)
	newCtx, span := progress.Start(ctx, "GridSearchCV", total)
	dfs = func(deep int, params model.Params) {
		if deep == len(paramNames) {
			log.Logger().Info(fmt.Sprintf("grid search (%v/%v)", span.Count(), total),
				zap.Any("params", params))
			// Cross validate
			estimator.Clear()
			estimator.SetParams(estimator.GetParams().Overwrite(params))
			score, err := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
			if err != nil {
				log.Logger().Warn("skip invalid combination",
					zap.Error(err), zap.Any("params", params))
				span.Add(1)
				return
			}
			// Create GridSearch result
			results.Scores = append(results.Scores, score)
			results.Params = append(results.Params, params.Copy())
			if results.BestModel == nil || score.BetterThan(results.BestScore) {
				results.BestModel = Clone(estimator)
				results.BestScore = score
				results.BestParams = params.Copy()
				results.BestIndex = len(results.Params) - 1
			}
			span.Add(1)
		} else {
			paramName := paramNames[deep]
			values := paramGrid[paramName]
			for _, val := range values {
				params[paramName] = val
				dfs(deep+1, params)
			}
		}
	}
	params := make(map[model.ParamName]interface{})
	dfs(0, params)
	span.End()
	return results
}

// RandomSearchCV searches hyper-parameters by random.
func RandomSearchCV(ctx context.Context, estimator Detector, trainSet, testSet dataset.Source, paramGrid model.ParamsGrid,
	numTrials int, seed int64, fitConfig *FitConfig) ParamsSearchResult {
	// if the number of combination is less than number of trials, use grid search
	if paramGrid.NumCombinations() < numTrials {
		return GridSearchCV(ctx, estimator, trainSet, testSet, paramGrid, seed, fitConfig)
	}
	rng := base.NewRandomGenerator(seed)
	results := ParamsSearchResult{
		Scores: make([]Score, 0, numTrials),
		Params: make([]model.Params, 0, numTrials),
	}
	newCtx, span := progress.Start(ctx, "RandomSearchCV", numTrials)
	for i := 1; i <= numTrials; i++ {
		// Make parameters
		params := model.Params{}
		for paramName, values := range paramGrid {
			value := values[rng.Intn(len(values))]
			params[paramName] = value
		}
		// Cross validate
		log.Logger().Info(fmt.Sprintf("random search (%v/%v)", i, numTrials),
			zap.Any("params", params))
		estimator.Clear()
		estimator.SetParams(estimator.GetParams().Overwrite(params))
		score, err := estimator.Fit(newCtx, trainSet, testSet, fitConfig)
		if err != nil {
			log.Logger().Warn("skip invalid combination",
				zap.Error(err), zap.Any("params", params))
			span.Add(1)
			continue
		}
		results.Scores = append(results.Scores, score)
		results.Params = append(results.Params, params.Copy())
		if results.BestModel == nil || score.BetterThan(results.BestScore) {
			results.BestModel = Clone(estimator)
			results.BestScore = score
			results.BestParams = params.Copy()
			results.BestIndex = len(results.Params) - 1
		}
		span.Add(1)
	}
	span.End()
	return results
}
