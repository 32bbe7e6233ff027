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

package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base/encoding"
	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/dataset"
	"github.com/furze-io/furze/model"
	"github.com/furze-io/furze/model/pca"
)

/* Flags for hyper-parameters */

const (
	intFlag  = 0
	boolFlag = 1
)

type paramFlag struct {
	Type int
	Key  model.ParamName
	Name string
	Help string
}

var detectorParamFlags = []paramFlag{
	{intFlag, model.Rank, "rank", "Candidate subspace ranks"},
	{intFlag, model.Oversampling, "oversampling", "Candidate oversampling counts"},
	{boolFlag, model.Center, "center", "Candidate centering choices"},
}

func init() {
	rootCommand.AddCommand(tuneCommand)
	tuneCommand.PersistentFlags().StringP("output", "o", "", "path to save the best model")
	tuneCommand.PersistentFlags().String("load-test", "", "load a labeled libSVM file for evaluation")
	tuneCommand.PersistentFlags().Int("dimension", 0, "number of features per row (0 infers from the data)")
	tuneCommand.PersistentFlags().Float32("test-ratio", 0.2, "hold out a fraction of rows for evaluation")
	tuneCommand.PersistentFlags().String("model", "rsvd", "detector name")
	tuneCommand.PersistentFlags().Int("n-trials", 10, "number of random search trials")
	tuneCommand.PersistentFlags().Int64("random-state", 0, "random seed")
	tuneCommand.PersistentFlags().Bool("search-size", false, "search a wider rank range")
	tuneCommand.PersistentFlags().Int("verbose", 10, "verbose period in batches")
	tuneCommand.PersistentFlags().IntP("jobs", "j", runtime.NumCPU(), "number of jobs for model fitting")
	tuneCommand.PersistentFlags().Int("batch-size", 128, "rows per streamed batch")
	for _, paramFlag := range detectorParamFlags {
		tuneCommand.PersistentFlags().String(paramFlag.Name, "", paramFlag.Help)
	}
}

var tuneCommand = &cobra.Command{
	Use:   "tune DATA_FILE",
	Short: "Tune detector hyper-parameters by random search",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.PersistentFlags()
		modelName, _ := flags.GetString("model")
		m, err := pca.NewModel(modelName, nil)
		if err != nil {
			log.Logger().Fatal("failed to create detector",
				zap.String("model", modelName), zap.Error(err))
		}
		// Load data
		dimension, _ := flags.GetInt("dimension")
		data, err := loadDataFile(args[0], dimension)
		if err != nil {
			log.Logger().Fatal("failed to load data",
				zap.String("path", args[0]), zap.Error(err))
		}
		seed, _ := flags.GetInt64("random-state")
		var trainSet, testSet dataset.Source
		if testPath, _ := flags.GetString("load-test"); testPath != "" {
			testData, err := loadDataFile(testPath, data.Dimension())
			if err != nil {
				log.Logger().Fatal("failed to load test data",
					zap.String("path", testPath), zap.Error(err))
			}
			trainSet, testSet = data, testData
		} else {
			testRatio, _ := flags.GetFloat32("test-ratio")
			if testRatio <= 0 {
				log.Logger().Fatal("tuning requires a test set")
			}
			trainSet, testSet = data.Split(testRatio, seed)
		}
		// Load hyper-parameters grid
		grid := parseParamFlags(cmd)
		searchSize, _ := flags.GetBool("search-size")
		grid.Fill(m.GetParamsGrid(searchSize))
		log.Logger().Info("load hyper-parameters grid", zap.Any("grid", grid))
		// Load runtime options
		fitConfig := pca.NewFitConfig()
		fitConfig.Verbose, _ = flags.GetInt("verbose")
		fitConfig.Jobs, _ = flags.GetInt("jobs")
		fitConfig.BatchSize, _ = flags.GetInt("batch-size")
		numTrials, _ := flags.GetInt("n-trials")
		// Cross validation
		start := time.Now()
		result := pca.RandomSearchCV(cmd.Context(), m, trainSet, testSet, grid, numTrials, seed, fitConfig)
		elapsed := time.Since(start)
		if result.BestModel == nil {
			log.Logger().Fatal("no valid hyper-parameter combination")
		}
		// Render table
		table := tablewriter.NewTable(os.Stdout)
		table.Header([]string{"#", "rows", "mean anomaly", "AUC", "params"})
		for i := range result.Params {
			score := result.Scores[i]
			_ = table.Append([]string{
				fmt.Sprintf("%v", i),
				fmt.Sprintf("%v", score.RowCount),
				encoding.FormatFloat32(score.Anomaly),
				encoding.FormatFloat32(score.AUC),
				result.Params[i].ToString(),
			})
		}
		_ = table.Render()
		log.Logger().Info("complete tuning",
			zap.String("tune_time", elapsed.String()),
			zap.Any("best_params", result.BestParams),
			zap.Int("best_index", result.BestIndex))
		// Save the best model
		if outputPath, _ := flags.GetString("output"); outputPath != "" {
			if err := saveModelFile(outputPath, result.BestModel); err != nil {
				log.Logger().Fatal("failed to save model",
					zap.String("path", outputPath), zap.Error(err))
			}
			log.Logger().Info("save best model", zap.String("path", outputPath))
		}
	},
}

func parseParamFlags(cmd *cobra.Command) model.ParamsGrid {
	grid := make(model.ParamsGrid)
	for _, paramFlag := range detectorParamFlags {
		if cmd.PersistentFlags().Changed(paramFlag.Name) {
			text, err := cmd.PersistentFlags().GetString(paramFlag.Name)
			if err != nil {
				log.Logger().Fatal("failed to get arguments", zap.Error(err))
			}
			grid[paramFlag.Key] = parseParamList(text, paramFlag.Type)
		}
	}
	return grid
}

func parseParamList(text string, tp int) []interface{} {
	if text == "" {
		log.Logger().Fatal("empty string for param list")
	}
	if text[0] == '[' && text[len(text)-1] == ']' {
		text = text[1 : len(text)-1]
	}
	paramTexts := strings.Split(text, ",")
	params := make([]interface{}, len(paramTexts))
	for i, paramText := range paramTexts {
		params[i] = parseParam(paramText, tp)
	}
	return params
}

func parseParam(text string, tp int) interface{} {
	switch tp {
	case intFlag:
		i, err := strconv.Atoi(text)
		if err != nil {
			log.Logger().Fatal("failed to parse param", zap.Error(err))
		}
		return i
	case boolFlag:
		b, err := strconv.ParseBool(text)
		if err != nil {
			log.Logger().Fatal("failed to parse param", zap.Error(err))
		}
		return b
	default:
		log.Logger().Fatal("unknown parameter type", zap.Int("type", tp))
		return nil
	}
}
