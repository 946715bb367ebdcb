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
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestAUC(t *testing.T) {
	assert.Equal(t, 1.0, AUC([]float32{0.9, 0.8}, []float32{0.1, 0.2}))
	assert.Equal(t, 0.0, AUC([]float32{0.1, 0.2}, []float32{0.9, 0.8}))
	// ties count as half
	assert.Equal(t, 0.875, AUC([]float32{0.9, 0.8}, []float32{0.1, 0.8}))
	assert.Equal(t, 0.5, AUC([]float32{0.5, 0.5}, []float32{0.5}))
	assert.Zero(t, AUC(nil, []float32{0.5}))
}

func TestROCAUC(t *testing.T) {
	metric := NewROCAUC()
	assert.Equal(t, "roc_auc", metric.Name())
	score, err := metric.Compute([]float32{0.8, 0.6, -0.8, 0.6}, []float32{1, 1, -1, -1})
	assert.NoError(t, err)
	assert.Equal(t, 0.875, score)

	_, err = metric.Compute([]float32{0.8, 0.6}, []float32{1, 1})
	assert.True(t, errors.Is(err, ErrUndefinedMetric))
	_, err = metric.Compute([]float32{0.8}, []float32{1, -1})
	assert.Error(t, err)
}
