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
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base/log"
)

func init() {
	rootCommand.AddCommand(describeCommand)
}

var describeCommand = &cobra.Command{
	Use:   "describe MODEL_FILE",
	Short: "Print a human-readable summary of a model file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := loadModelFile(args[0])
		if err != nil {
			log.Logger().Fatal("failed to load model",
				zap.String("path", args[0]), zap.Error(err))
		}
		if err := m.Describe(os.Stdout); err != nil {
			log.Logger().Fatal("failed to describe model", zap.Error(err))
		}
	},
}
