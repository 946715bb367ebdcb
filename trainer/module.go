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
	"io"

	"github.com/gorse-io/de4rec/model"
)

// Parameter is an embedding table updated by optimizers.
type Parameter struct {
	Name    string
	Weights [][]float32
}

// Module is a model that can be trained by Trainer.
type Module interface {
	// Forward computes logits and the mean loss of a batch.
	Forward(batch Batch) (model.Output, error)
	// Backward computes the mean loss and gradients of parameters. Gradients are aligned
	// with Parameters.
	Backward(batch Batch) (model.Output, []*model.SparseGradient, error)
	Parameters() []Parameter
	// AfterStep is called after parameters are updated by the optimizer.
	AfterStep(grads []*model.SparseGradient)
	Marshal(w io.Writer) error
	Unmarshal(r io.Reader) error
}

// DualEncoderModule adapts a dual encoder to Module.
type DualEncoderModule struct {
	*model.DualEncoder
}

func NewDualEncoderModule(m *model.DualEncoder) *DualEncoderModule {
	return &DualEncoderModule{DualEncoder: m}
}

func (m *DualEncoderModule) Forward(batch Batch) (model.Output, error) {
	return m.DualEncoder.Forward(batch.UserIDs, batch.ItemIDs, batch.Labels)
}

func (m *DualEncoderModule) Backward(batch Batch) (model.Output, []*model.SparseGradient, error) {
	output, grads, err := m.DualEncoder.Backward(batch.UserIDs, batch.ItemIDs, batch.Labels)
	if err != nil {
		return model.Output{}, nil, err
	}
	return output, []*model.SparseGradient{grads.User, grads.Item}, nil
}

func (m *DualEncoderModule) Parameters() []Parameter {
	return []Parameter{
		{Name: "user_embeddings", Weights: m.UserFactors()},
		{Name: "item_embeddings", Weights: m.ItemFactors()},
	}
}

func (m *DualEncoderModule) AfterStep(grads []*model.SparseGradient) {
	m.ApplyNormCap(grads[0].IDs, grads[1].IDs)
	m.MarkTrained(grads[0].IDs, grads[1].IDs)
}
