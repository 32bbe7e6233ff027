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
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"

	"github.com/furze-io/furze/common/floats"
)

func TestEigenSolver(t *testing.T) {
	// eigenpairs: 5 with (0,0,1), 3 with (1,1,0)/sqrt2, 1 with (1,-1,0)/sqrt2
	a := [][]float32{
		{2, 1, 0},
		{1, 2, 0},
		{0, 0, 5},
	}
	values, vectors, err := NewEigenSolver().Decompose(a)
	assert.NoError(t, err)
	assert.InDeltaSlice(t, []float32{5, 3, 1}, values, epsilon)
	sqrt2 := 1 / math32.Sqrt(2)
	expected := [][]float32{
		{0, 0, 1},
		{sqrt2, sqrt2, 0},
		{sqrt2, -sqrt2, 0},
	}
	for j := range expected {
		// eigenvectors are defined up to sign
		assert.InDelta(t, 1, math32.Abs(floats.Dot(vectors[j], expected[j])), epsilon)
	}

	// the eigenvectors form an orthonormal set
	for i := range vectors {
		for j := range vectors {
			if i == j {
				assert.InDelta(t, 1, floats.Dot(vectors[i], vectors[j]), epsilon)
			} else {
				assert.InDelta(t, 0, floats.Dot(vectors[i], vectors[j]), epsilon)
			}
		}
	}

	// the eigenpairs reconstruct the matrix
	for r := range a {
		for c := range a {
			var sum float32
			for j := range values {
				sum += values[j] * vectors[j][r] * vectors[j][c]
			}
			assert.InDelta(t, a[r][c], sum, epsilon)
		}
	}
}
