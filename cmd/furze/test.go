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
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/model/pca"
)

func init() {
	rootCommand.AddCommand(testCommand)
	testCommand.PersistentFlags().IntP("jobs", "j", runtime.NumCPU(), "number of jobs for evaluation")
	testCommand.PersistentFlags().Int("batch-size", 128, "rows per streamed batch")
}

var testCommand = &cobra.Command{
	Use:   "test MODEL_FILE DATA_FILE",
	Short: "Evaluate a detector on a labeled libSVM file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := loadModelFile(args[0])
		if err != nil {
			log.Logger().Fatal("failed to load model",
				zap.String("path", args[0]), zap.Error(err))
		}
		data, err := loadDataFile(args[1], m.Dimension())
		if err != nil {
			log.Logger().Fatal("failed to load data",
				zap.String("path", args[1]), zap.Error(err))
		}
		fitConfig := pca.NewFitConfig()
		fitConfig.Jobs, _ = cmd.PersistentFlags().GetInt("jobs")
		fitConfig.BatchSize, _ = cmd.PersistentFlags().GetInt("batch-size")
		score, err := pca.Evaluate(cmd.Context(), m, data, fitConfig)
		if err != nil {
			log.Logger().Fatal("failed to evaluate detector", zap.Error(err))
		}
		log.Logger().Info("complete evaluation", score.ZapFields()...)
		fmt.Printf("rows: %v\n", score.RowCount)
		fmt.Printf("mean anomaly: %v\n", score.Anomaly)
		fmt.Printf("AUC: %v\n", score.AUC)
	},
}
