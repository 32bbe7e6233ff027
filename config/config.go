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

package config

import (
	"github.com/BurntSushi/toml"
)

// Config is the configuration for the engine.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Detector DetectorConfig `toml:"detector"`
	Fit      FitConfig      `toml:"fit"`
}

func (config *Config) LoadDefaultIfNil() *Config {
	if config == nil {
		return &Config{
			Data:     *(*DataConfig)(nil).LoadDefaultIfNil(),
			Detector: *(*DetectorConfig)(nil).LoadDefaultIfNil(),
			Fit:      *(*FitConfig)(nil).LoadDefaultIfNil(),
		}
	}
	return config
}

// DataConfig describes where training data comes from.
type DataConfig struct {
	Path      string  `toml:"path"`       // path of the libSVM file
	Dimension int     `toml:"dimension"`  // number of features per row, 0 to infer
	TestRatio float32 `toml:"test_ratio"` // fraction of rows held out for evaluation
}

func (config *DataConfig) LoadDefaultIfNil() *DataConfig {
	if config == nil {
		return &DataConfig{
			Dimension: 0,
			TestRatio: 0,
		}
	}
	return config
}

// DetectorConfig holds the detector and its hyper-parameters.
type DetectorConfig struct {
	Model        string `toml:"model"`        // detector name
	Rank         int    `toml:"rank"`         // dimension of the retained subspace
	Oversampling int    `toml:"oversampling"` // extra random directions beyond the rank
	Center       bool   `toml:"center"`       // subtract the weighted mean before projecting
	RandomState  int64  `toml:"random_state"` // random seed
}

func (config *DetectorConfig) LoadDefaultIfNil() *DetectorConfig {
	if config == nil {
		return &DetectorConfig{
			Model:        "rsvd",
			Rank:         8,
			Oversampling: 4,
			Center:       true,
			RandomState:  0,
		}
	}
	return config
}

// FitConfig controls the fitting procedure.
type FitConfig struct {
	Jobs      int `toml:"jobs"`       // number of concurrent workers
	Verbose   int `toml:"verbose"`    // batches between progress logs
	BatchSize int `toml:"batch_size"` // rows per streamed batch
}

func (config *FitConfig) LoadDefaultIfNil() *FitConfig {
	if config == nil {
		return &FitConfig{
			Jobs:      1,
			Verbose:   10,
			BatchSize: 128,
		}
	}
	return config
}

// FillDefault fills default values for missing configurations.
func (config *Config) FillDefault(meta toml.MetaData) {
	// Default data config
	defaultDataConfig := *(*DataConfig)(nil).LoadDefaultIfNil()
	if !meta.IsDefined("data", "dimension") {
		config.Data.Dimension = defaultDataConfig.Dimension
	}
	if !meta.IsDefined("data", "test_ratio") {
		config.Data.TestRatio = defaultDataConfig.TestRatio
	}
	// Default detector config
	defaultDetectorConfig := *(*DetectorConfig)(nil).LoadDefaultIfNil()
	if !meta.IsDefined("detector", "model") {
		config.Detector.Model = defaultDetectorConfig.Model
	}
	if !meta.IsDefined("detector", "rank") {
		config.Detector.Rank = defaultDetectorConfig.Rank
	}
	if !meta.IsDefined("detector", "oversampling") {
		config.Detector.Oversampling = defaultDetectorConfig.Oversampling
	}
	if !meta.IsDefined("detector", "center") {
		config.Detector.Center = defaultDetectorConfig.Center
	}
	if !meta.IsDefined("detector", "random_state") {
		config.Detector.RandomState = defaultDetectorConfig.RandomState
	}
	// Default fit config
	defaultFitConfig := *(*FitConfig)(nil).LoadDefaultIfNil()
	if !meta.IsDefined("fit", "jobs") {
		config.Fit.Jobs = defaultFitConfig.Jobs
	}
	if !meta.IsDefined("fit", "verbose") {
		config.Fit.Verbose = defaultFitConfig.Verbose
	}
	if !meta.IsDefined("fit", "batch_size") {
		config.Fit.BatchSize = defaultFitConfig.BatchSize
	}
}

// LoadConfig loads the configuration from a TOML file.
func LoadConfig(path string) (*Config, *toml.MetaData, error) {
	var conf Config
	metaData, err := toml.DecodeFile(path, &conf)
	if err != nil {
		return nil, nil, err
	}
	conf.FillDefault(metaData)
	return &conf, &metaData, nil
}
