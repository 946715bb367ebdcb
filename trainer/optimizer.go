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

import (
	"github.com/chewxy/math32"
	"github.com/gorse-io/de4rec/model"
)

// AdamW is the Adam optimizer with decoupled weight decay. Only rows with gradients are
// updated in a step, while bias correction follows the global step.
type AdamW struct {
	params []Parameter
	beta1  float32
	beta2  float32
	eps    float32
	wd     float32
	ms     []map[int32][]float32
	vs     []map[int32][]float32
	t      float32
}

func NewAdamW(params []Parameter, args Arguments) *AdamW {
	a := &AdamW{
		params: params,
		beta1:  args.Beta1,
		beta2:  args.Beta2,
		eps:    args.Epsilon,
		wd:     args.WeightDecay,
		ms:     make([]map[int32][]float32, len(params)),
		vs:     make([]map[int32][]float32, len(params)),
	}
	for i := range params {
		a.ms[i] = make(map[int32][]float32)
		a.vs[i] = make(map[int32][]float32)
	}
	return a
}

// Step updates parameters by gradients aligned with parameters.
func (a *AdamW) Step(lr float32, grads []*model.SparseGradient) {
	a.t++

	fix1 := 1 - math32.Pow(a.beta1, a.t)
	fix2 := 1 - math32.Pow(a.beta2, a.t)
	alpha := lr * math32.Sqrt(fix2) / fix1

	for i, p := range a.params {
		if grads[i] == nil {
			continue
		}
		for k, id := range grads[i].IDs {
			grad, w := grads[i].Rows[k], p.Weights[id]
			m, ok := a.ms[i][id]
			if !ok {
				m = make([]float32, len(w))
				a.ms[i][id] = m
			}
			v, ok := a.vs[i][id]
			if !ok {
				v = make([]float32, len(w))
				a.vs[i][id] = v
			}
			for j := range w {
				// decoupled weight decay
				w[j] -= lr * a.wd * w[j]
				// m += (1 - beta1) * (grad - m)
				m[j] += (1 - a.beta1) * (grad[j] - m[j])
				// v += (1 - beta2) * (grad * grad - v)
				v[j] += (1 - a.beta2) * (grad[j]*grad[j] - v[j])
				w[j] -= alpha * m[j] / (math32.Sqrt(v[j]) + a.eps)
			}
		}
	}
}

// Scheduler computes the learning rate of a step.
type Scheduler struct {
	baseLR      float32
	kind        string
	warmupSteps int
	totalSteps  int
}

func NewScheduler(args Arguments, totalSteps int) *Scheduler {
	return &Scheduler{
		baseLR:      args.LearningRate,
		kind:        args.LRScheduler,
		warmupSteps: args.WarmupSteps,
		totalSteps:  totalSteps,
	}
}

// LR returns the learning rate of a zero-based step.
func (s *Scheduler) LR(step int) float32 {
	if step < s.warmupSteps {
		return s.baseLR * float32(step) / float32(max(1, s.warmupSteps))
	}
	if s.kind == SchedulerConstant {
		return s.baseLR
	}
	return s.baseLR * max(0, float32(s.totalSteps-step)/float32(max(1, s.totalSteps-s.warmupSteps)))
}
