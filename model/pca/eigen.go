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

package pca

import (
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
)

// EigenSolver decomposes a small symmetric matrix. Eigenvalues are returned
// in descending order and vectors[j] is the eigenvector paired with
// values[j].
type EigenSolver interface {
	Decompose(symmetric [][]float32) (values []float32, vectors [][]float32, err error)
}

// NewEigenSolver returns the default dense symmetric solver.
func NewEigenSolver() EigenSolver {
	return &denseEigenSolver{}
}

type denseEigenSolver struct{}

func (*denseEigenSolver) Decompose(symmetric [][]float32) ([]float32, [][]float32, error) {
	n := len(symmetric)
	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a.SetSym(i, j, float64(symmetric[i][j]))
		}
	}
	var eigen mat.EigenSym
	if !eigen.Factorize(a, true) {
		return nil, nil, errors.New("eigendecomposition failed to converge")
	}
	rawValues := eigen.Values(nil)
	var rawVectors mat.Dense
	eigen.VectorsTo(&rawVectors)
	// Flip the ascending factorization order so that the dominant pair
	// comes first.
	values := make([]float32, n)
	vectors := make([][]float32, n)
	for j := 0; j < n; j++ {
		source := n - 1 - j
		values[j] = float32(rawValues[source])
		vectors[j] = make([]float32, n)
		for l := 0; l < n; l++ {
			vectors[j][l] = float32(rawVectors.At(l, source))
		}
	}
	return values, vectors, nil
}
