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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaultIfNil(t *testing.T) {
	conf := (*Config)(nil).LoadDefaultIfNil()
	assert.Equal(t, "rsvd", conf.Detector.Model)
	assert.Equal(t, 8, conf.Detector.Rank)
	assert.Equal(t, 4, conf.Detector.Oversampling)
	assert.True(t, conf.Detector.Center)
	assert.Equal(t, int64(0), conf.Detector.RandomState)
	assert.Equal(t, 1, conf.Fit.Jobs)
	assert.Equal(t, 10, conf.Fit.Verbose)
	assert.Equal(t, 128, conf.Fit.BatchSize)
	assert.Zero(t, conf.Data.Dimension)
	assert.Zero(t, conf.Data.TestRatio)
	// non-nil config is returned unchanged
	assert.Equal(t, conf, conf.LoadDefaultIfNil())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	text := `
[data]
path = "train.libsvm"
dimension = 64
test_ratio = 0.2

[detector]
model = "rsvd"
rank = 16
oversampling = 8
center = false
random_state = 42

[fit]
jobs = 4
verbose = 5
batch_size = 256
`
	assert.NoError(t, os.WriteFile(path, []byte(text), 0644))
	conf, meta, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.NotNil(t, meta)
	assert.Equal(t, "train.libsvm", conf.Data.Path)
	assert.Equal(t, 64, conf.Data.Dimension)
	assert.Equal(t, float32(0.2), conf.Data.TestRatio)
	assert.Equal(t, "rsvd", conf.Detector.Model)
	assert.Equal(t, 16, conf.Detector.Rank)
	assert.Equal(t, 8, conf.Detector.Oversampling)
	assert.False(t, conf.Detector.Center)
	assert.Equal(t, int64(42), conf.Detector.RandomState)
	assert.Equal(t, 4, conf.Fit.Jobs)
	assert.Equal(t, 5, conf.Fit.Verbose)
	assert.Equal(t, 256, conf.Fit.BatchSize)
}

func TestFillDefault(t *testing.T) {
	// missing keys fall back to defaults, explicit values survive. A written
	// `center = false` must not be mistaken for a missing key.
	path := filepath.Join(t.TempDir(), "config.toml")
	text := `
[detector]
rank = 2
center = false
`
	assert.NoError(t, os.WriteFile(path, []byte(text), 0644))
	conf, _, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, 2, conf.Detector.Rank)
	assert.False(t, conf.Detector.Center)
	assert.Equal(t, "rsvd", conf.Detector.Model)
	assert.Equal(t, 4, conf.Detector.Oversampling)
	assert.Equal(t, 1, conf.Fit.Jobs)
	assert.Equal(t, 10, conf.Fit.Verbose)
	assert.Equal(t, 128, conf.Fit.BatchSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "no-such.toml"))
	assert.Error(t, err)
}
