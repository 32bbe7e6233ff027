// Copyright 2025 furze Project Authors
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

package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLibSVMLine(t *testing.T) {
	row := parseLibSVMLine("1 0:1.5 3:-2")
	assert.Equal(t, []int32{0, 3}, row.Indices)
	assert.Equal(t, []float32{1.5, -2}, row.Values)
	assert.Equal(t, float32(1), row.Target)
	assert.Equal(t, float32(1), row.Weight)
	assert.True(t, row.Valid(4))
	// a row may have no features
	row = parseLibSVMLine("0")
	assert.Empty(t, row.Indices)
	assert.True(t, row.Valid(4))
	// malformed lines come back invalid instead of failing the load
	for _, line := range []string{"abc", "1 x:1", "1 0:x", "1 0"} {
		row = parseLibSVMLine(line)
		assert.False(t, row.Valid(4), line)
	}
}

func TestReadLibSVM(t *testing.T) {
	text := `# toy dataset
0 0:1 1:2
1 0:3 4:4

0 2:5
`
	dataSet, err := ReadLibSVM(strings.NewReader(text), 0)
	assert.NoError(t, err)
	assert.Equal(t, 3, dataSet.Count())
	// dimension is inferred from the largest index
	assert.Equal(t, 5, dataSet.Dimension())
	assert.Equal(t, 1, dataSet.Positives())
	// an explicit dimension wins over inference
	dataSet, err = ReadLibSVM(strings.NewReader(text), 8)
	assert.NoError(t, err)
	assert.Equal(t, 8, dataSet.Dimension())
}

func TestLoadLibSVMFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.libsvm")
	assert.NoError(t, os.WriteFile(path, []byte("0 0:1\n1 1:2\n"), 0644))
	dataSet, err := LoadLibSVMFile(path, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, dataSet.Count())
	assert.Equal(t, 2, dataSet.Dimension())
	_, err = LoadLibSVMFile(filepath.Join(t.TempDir(), "no-such.libsvm"), 0)
	assert.Error(t, err)
}

func TestFile_RowStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.libsvm")
	var buf strings.Builder
	buf.WriteString("# streamed dataset\n")
	for i := 0; i < 7; i++ {
		buf.WriteString("0 0:1\n")
	}
	assert.NoError(t, os.WriteFile(path, []byte(buf.String()), 0644))

	source := NewFile(path, 1)
	assert.Equal(t, 1, source.Dimension())
	// the file is rescanned per stream, so two passes see the same rows
	for pass := 0; pass < 2; pass++ {
		batches, errs := source.RowStream(context.Background(), 3)
		var sizes []int
		for batch := range batches {
			sizes = append(sizes, len(batch))
		}
		assert.NoError(t, <-errs)
		assert.Equal(t, []int{3, 3, 1}, sizes)
	}
}

func TestFile_RowStreamMissing(t *testing.T) {
	source := NewFile(filepath.Join(t.TempDir(), "no-such.libsvm"), 1)
	batches, errs := source.RowStream(context.Background(), 3)
	for range batches {
	}
	assert.Error(t, <-errs)
}
