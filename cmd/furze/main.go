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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/cmd/version"
)

var rootCommand = &cobra.Command{
	Use:   "furze",
	Short: "Anomaly detection over randomized covariance subspaces.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// setup logger
		debug, _ := rootCommand.PersistentFlags().GetBool("debug")
		log.SetLogger(rootCommand.PersistentFlags(), debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Check the version of furze",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().BoolP("version", "v", false, "furze version")
	rootCommand.AddCommand(versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
