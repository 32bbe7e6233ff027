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
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseModel_SetParams(t *testing.T) {
	model := new(BaseModel)
	params := Params{Rank: 2, RandomState: int64(42)}
	model.SetParams(params)
	assert.Equal(t, params, model.GetParams())
	// the generator is reseeded on SetParams
	a := model.GetRandomGenerator().NormalVector(16, 0, 1)
	model.SetParams(params)
	b := model.GetRandomGenerator().NormalVector(16, 0, 1)
	assert.Equal(t, a, b)
	// a different seed changes the stream
	model.SetParams(Params{Rank: 2, RandomState: int64(43)})
	c := model.GetRandomGenerator().NormalVector(16, 0, 1)
	assert.NotEqual(t, a, c)
}
