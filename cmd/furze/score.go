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
	"bufio"
	"os"
	"runtime"

	"github.com/chewxy/math32"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base/encoding"
	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/common/parallel"
)

func init() {
	rootCommand.AddCommand(scoreCommand)
	scoreCommand.PersistentFlags().IntP("jobs", "j", runtime.NumCPU(), "number of jobs for scoring")
}

var scoreCommand = &cobra.Command{
	Use:   "score MODEL_FILE DATA_FILE",
	Short: "Write one anomaly score per row to stdout",
	Long: "Write one anomaly score per row to stdout, in the order of the " +
		"input file. Rows that cannot be scored print NaN.",
	Args: cobra.ExactArgs(2),
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
		// Scores are collected per row and printed afterwards, so the output
		// order matches the input regardless of the worker count. A valid row
		// never scores NaN, so NaN can mark the unscorable ones.
		jobs, _ := cmd.PersistentFlags().GetInt("jobs")
		scores := make([]float32, data.Count())
		if err := parallel.Parallel(cmd.Context(), data.Count(), jobs, func(_, i int) error {
			if row := data.Row(i); row.Valid(m.Dimension()) {
				scores[i] = m.PredictRow(row)
			} else {
				scores[i] = math32.NaN()
			}
			return nil
		}); err != nil {
			log.Logger().Fatal("failed to score rows", zap.Error(err))
		}
		writer := bufio.NewWriter(os.Stdout)
		invalid := 0
		for _, score := range scores {
			if math32.IsNaN(score) {
				invalid++
			}
			_, _ = writer.WriteString(encoding.FormatFloat32(score))
			_ = writer.WriteByte('\n')
		}
		if err := writer.Flush(); err != nil {
			log.Logger().Fatal("failed to write scores", zap.Error(err))
		}
		if invalid > 0 {
			log.Logger().Warn("unscorable rows", zap.Int("count", invalid))
		}
	},
}
