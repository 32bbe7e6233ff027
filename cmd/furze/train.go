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
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/config"
	"github.com/furze-io/furze/dataset"
	"github.com/furze-io/furze/model"
	"github.com/furze-io/furze/model/pca"
)

func init() {
	rootCommand.AddCommand(trainCommand)
	trainCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	trainCommand.PersistentFlags().StringP("output", "o", "furze.model", "path of the output model file")
	trainCommand.PersistentFlags().String("load-test", "", "load a labeled libSVM file for evaluation")
	trainCommand.PersistentFlags().Int("dimension", 0, "number of features per row (0 infers from the data)")
	trainCommand.PersistentFlags().Float32("test-ratio", 0, "hold out a fraction of rows for evaluation")
	trainCommand.PersistentFlags().Bool("stream", false, "stream rows from disk instead of loading into memory")
	trainCommand.PersistentFlags().String("model", "rsvd", "detector name")
	trainCommand.PersistentFlags().Int("rank", 8, "dimension of the retained subspace")
	trainCommand.PersistentFlags().Int("oversampling", 4, "number of extra random directions")
	trainCommand.PersistentFlags().Bool("center", true, "subtract the weighted mean before projecting")
	trainCommand.PersistentFlags().Int64("random-state", 0, "random seed")
	trainCommand.PersistentFlags().Int("verbose", 10, "verbose period in batches")
	trainCommand.PersistentFlags().IntP("jobs", "j", 1, "number of jobs for model fitting")
	trainCommand.PersistentFlags().Int("batch-size", 128, "rows per streamed batch")
}

var trainCommand = &cobra.Command{
	Use:   "train DATA_FILE",
	Short: "Train an anomaly detector on a libSVM file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.PersistentFlags()
		// load config
		conf := (*config.Config)(nil).LoadDefaultIfNil()
		params := model.Params{}
		if flags.Changed("config") {
			configPath, _ := flags.GetString("config")
			log.Logger().Info("load config", zap.String("config", configPath))
			loaded, metaData, err := config.LoadConfig(configPath)
			if err != nil {
				log.Logger().Fatal("failed to load config", zap.Error(err))
			}
			conf = loaded
			params = model.NewParamsFromConfig(loaded, metaData)
		}
		// overwrite hyper-parameters from flags
		if flags.Changed("rank") {
			params[model.Rank], _ = flags.GetInt("rank")
		}
		if flags.Changed("oversampling") {
			params[model.Oversampling], _ = flags.GetInt("oversampling")
		}
		if flags.Changed("center") {
			params[model.Center], _ = flags.GetBool("center")
		}
		if flags.Changed("random-state") {
			params[model.RandomState], _ = flags.GetInt64("random-state")
		}
		modelName := conf.Detector.Model
		if flags.Changed("model") {
			modelName, _ = flags.GetString("model")
		}
		m, err := pca.NewModel(modelName, params)
		if err != nil {
			log.Logger().Fatal("failed to create detector",
				zap.String("model", modelName), zap.Error(err))
		}
		// assemble data sources
		dimension := conf.Data.Dimension
		if flags.Changed("dimension") {
			dimension, _ = flags.GetInt("dimension")
		}
		testRatio := conf.Data.TestRatio
		if flags.Changed("test-ratio") {
			testRatio, _ = flags.GetFloat32("test-ratio")
		}
		seed := conf.Detector.RandomState
		if flags.Changed("random-state") {
			seed, _ = flags.GetInt64("random-state")
		}
		testPath, _ := flags.GetString("load-test")
		var trainSet, testSet dataset.Source
		if stream, _ := flags.GetBool("stream"); stream {
			if dimension <= 0 {
				log.Logger().Fatal("streaming requires an explicit dimension")
			}
			trainSet = dataset.NewFile(args[0], dimension)
			if testPath != "" {
				testSet = dataset.NewFile(testPath, dimension)
			}
		} else {
			data, err := loadDataFile(args[0], dimension)
			if err != nil {
				log.Logger().Fatal("failed to load data",
					zap.String("path", args[0]), zap.Error(err))
			}
			log.Logger().Info("load data",
				zap.String("path", args[0]),
				zap.Int("n_rows", data.Count()),
				zap.Int("dimension", data.Dimension()))
			switch {
			case testPath != "":
				testData, err := loadDataFile(testPath, data.Dimension())
				if err != nil {
					log.Logger().Fatal("failed to load test data",
						zap.String("path", testPath), zap.Error(err))
				}
				trainSet, testSet = data, testData
			case testRatio > 0:
				trainSet, testSet = data.Split(testRatio, seed)
			default:
				trainSet = data
			}
		}
		// fit
		fitConfig := pca.NewFitConfig().
			SetJobs(conf.Fit.Jobs).
			SetVerbose(conf.Fit.Verbose).
			SetBatchSize(conf.Fit.BatchSize)
		if flags.Changed("jobs") {
			fitConfig.Jobs, _ = flags.GetInt("jobs")
		}
		if flags.Changed("verbose") {
			fitConfig.Verbose, _ = flags.GetInt("verbose")
		}
		if flags.Changed("batch-size") {
			fitConfig.BatchSize, _ = flags.GetInt("batch-size")
		}
		if _, err := m.Fit(cmd.Context(), trainSet, testSet, fitConfig); err != nil {
			log.Logger().Fatal("failed to fit detector", zap.Error(err))
		}
		// save
		outputPath, _ := flags.GetString("output")
		if err := saveModelFile(outputPath, m); err != nil {
			log.Logger().Fatal("failed to save model",
				zap.String("path", outputPath), zap.Error(err))
		}
		log.Logger().Info("save model", zap.String("path", outputPath))
	},
}
