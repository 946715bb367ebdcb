// Copyright 2026 gorse Project Authors
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

package trainer

// State is the progress of training.
type State struct {
	Epoch               float64   `json:"epoch"`
	GlobalStep          int       `json:"global_step"`
	MaxSteps            int       `json:"max_steps"`
	BestMetric          *float64  `json:"best_metric"`
	BestModelCheckpoint string    `json:"best_model_checkpoint"`
	LogHistory          []Metrics `json:"log_history"`
}

// Callback observes training.
type Callback interface {
	OnStep(state State)
	OnEvaluate(state State, metrics Metrics)
	OnSave(state State, checkpoint string)
}

// CallbackFuncs adapts functions to Callback. Nil functions are skipped.
type CallbackFuncs struct {
	Step     func(state State)
	Evaluate func(state State, metrics Metrics)
	Save     func(state State, checkpoint string)
}

func (c CallbackFuncs) OnStep(state State) {
	if c.Step != nil {
		c.Step(state)
	}
}

func (c CallbackFuncs) OnEvaluate(state State, metrics Metrics) {
	if c.Evaluate != nil {
		c.Evaluate(state, metrics)
	}
}

func (c CallbackFuncs) OnSave(state State, checkpoint string) {
	if c.Save != nil {
		c.Save(state, checkpoint)
	}
}
