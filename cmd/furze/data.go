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
	"path/filepath"

	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/furze-io/furze/dataset"
	"github.com/furze-io/furze/model/pca"
)

// loadDataFile reads a libSVM file into memory behind a progress bar.
func loadDataFile(path string, dimension int) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pbReader := progressbar.NewReader(f, progressbar.DefaultBytes(
		info.Size(),
		"Loading "+filepath.Base(path),
	))
	data, err := dataset.ReadLibSVM(&pbReader, dimension)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

func loadModelFile(path string) (pca.Detector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	m, err := pca.UnmarshalModel(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

func saveModelFile(path string, m pca.Detector) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	w := bufio.NewWriter(f)
	if err := pca.MarshalModel(w, m); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}
