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
	"encoding/json"
	"reflect"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/furze-io/furze/base/log"
	"github.com/furze-io/furze/config"
)

/* ParamName */

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	Rank         ParamName = "Rank"         // dimension of the retained subspace
	Oversampling ParamName = "Oversampling" // extra random directions beyond the rank
	Center       ParamName = "Center"       // subtract the weighted mean before projecting
	RandomState  ParamName = "RandomState"  // random state (seed)
)

// Params stores hyper-parameters for a model. It is a map between strings
// (names) and interface{}s (values). For example, hyper-parameters for a
// randomized subspace detector are given by:
//
//	model.Params{
//		model.Rank:         8,
//		model.Oversampling: 4,
//		model.Center:       true,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets an integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		default:
			log.Logger().Error("type mismatch in hyper-parameters",
				zap.String("name", string(name)),
				zap.String("expect", "int"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetInt64 gets an int64 parameter by name. Returns _default if not exists or
// type doesn't match. The type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch in hyper-parameters",
				zap.String("name", string(name)),
				zap.String("expect", "int64"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			log.Logger().Error("type mismatch in hyper-parameters",
				zap.String("name", string(name)),
				zap.String("expect", "bool"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetFloat32 gets a float32 parameter by name. Returns _default if not exists
// or type doesn't match. Integers and float64 are converted.
func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("type mismatch in hyper-parameters",
				zap.String("name", string(name)),
				zap.String("expect", "float32"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("type mismatch in hyper-parameters",
				zap.String("name", string(name)),
				zap.String("expect", "string"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// Overwrite merges hyper-parameters, with the argument taking precedence.
func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func (parameters Params) ToString() string {
	b, err := json.Marshal(parameters)
	if err != nil {
		log.Logger().Fatal("failed to format hyper-parameters", zap.Error(err))
	}
	return string(b)
}

// NewParamsFromConfig loads hyper-parameters from the detector section of a
// configuration file. Only keys present in the file are set, so defaults stay
// with the model.
func NewParamsFromConfig(conf *config.Config, metaData *toml.MetaData) Params {
	type paramValues struct {
		name  string
		key   ParamName
		value interface{}
	}
	values := []paramValues{
		{"rank", Rank, conf.Detector.Rank},
		{"oversampling", Oversampling, conf.Detector.Oversampling},
		{"center", Center, conf.Detector.Center},
		{"random_state", RandomState, conf.Detector.RandomState},
	}
	params := Params{}
	for _, v := range values {
		if metaData.IsDefined("detector", v.name) {
			params[v.key] = v.value
		}
	}
	return params
}

// ParamsGrid contains candidates for grid search.
type ParamsGrid map[ParamName][]interface{}

func (grid ParamsGrid) Len() int {
	return len(grid)
}

// NumCombinations returns the number of combinations in the grid.
func (grid ParamsGrid) NumCombinations() int {
	count := 1
	for _, values := range grid {
		count *= len(values)
	}
	return count
}

// Fill adds the missing parameters from the default grid.
func (grid ParamsGrid) Fill(_default ParamsGrid) {
	for param, values := range _default {
		if _, exist := grid[param]; !exist {
			grid[param] = values
		}
	}
}
