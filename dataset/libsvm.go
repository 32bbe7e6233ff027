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
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"modernc.org/mathutil"

	"github.com/furze-io/furze/common/util"
)

// parseLibSVMLine parses one `target index:value ...` line. A line that fails
// to parse comes back as an invalid dense row, so corrupt input degrades into
// skipped rows instead of failing a whole load.
func parseLibSVMLine(line string) Row {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Row{}
	}
	// fetch target
	target, err := util.ParseFloat[float32](fields[0])
	if err != nil {
		return Row{}
	}
	// fetch features
	indices := make([]int32, 0, len(fields)-1)
	values := make([]float32, 0, len(fields)-1)
	for _, field := range fields[1:] {
		kv := strings.Split(field, ":")
		if len(kv) != 2 {
			return Row{}
		}
		index, err := util.ParseInt[int32](kv[0])
		if err != nil {
			return Row{}
		}
		value, err := util.ParseFloat[float32](kv[1])
		if err != nil {
			return Row{}
		}
		indices = append(indices, index)
		values = append(values, value)
	}
	return Row{Indices: indices, Values: values, Weight: 1, Target: target}
}

// ReadLibSVM reads a dataset in libSVM format: one `target index:value ...`
// row per line, `#` comments and blank lines skipped. If dimension is not
// positive, it is inferred as the largest feature index plus one.
func ReadLibSVM(r io.Reader, dimension int) (*Dataset, error) {
	var (
		rows     []Row
		maxIndex = int32(-1)
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		row := parseLibSVMLine(line)
		for _, index := range row.Indices {
			maxIndex = mathutil.MaxInt32Val(maxIndex, index)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	if dimension <= 0 {
		dimension = int(maxIndex) + 1
	}
	dataset := NewDataset(dimension, len(rows))
	for _, row := range rows {
		dataset.Add(row)
	}
	return dataset, nil
}

// LoadLibSVMFile reads a libSVM file into memory.
func LoadLibSVMFile(path string, dimension int) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	dataset, err := ReadLibSVM(file, dimension)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return dataset, nil
}

// File is a disk-backed Source for datasets too large to hold in memory. The
// file is reopened and scanned once per stream, so memory usage stays
// constant in the number of rows.
type File struct {
	path      string
	dimension int
}

// NewFile creates a file-backed source. The dimension must be known up
// front, since inferring it would cost an extra scan.
func NewFile(path string, dimension int) *File {
	return &File{path: path, dimension: dimension}
}

func (f *File) Dimension() int {
	return f.dimension
}

func (f *File) RowStream(ctx context.Context, batchSize int) (chan []Row, chan error) {
	batches := make(chan []Row, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(batches)
		defer close(errs)
		file, err := os.Open(f.path)
		if err != nil {
			errs <- errors.Trace(err)
			return
		}
		defer file.Close()
		batch := make([]Row, 0, batchSize)
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			batch = append(batch, parseLibSVMLine(line))
			if len(batch) == batchSize {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				case batches <- batch:
					batch = make([]Row, 0, batchSize)
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- errors.Trace(err)
			return
		}
		if len(batch) > 0 {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case batches <- batch:
			}
		}
		errs <- nil
	}()
	return batches, errs
}
