// Copyright 2025 gorse Project Authors
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

package floats

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	Add(a, b)
	assert.Equal(t, []float32{6, 8, 10, 12}, a)
	assert.Panics(t, func() { Add([]float32{1}, nil) })
}

func TestMulConst(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	MulConst(a, 2)
	assert.Equal(t, []float32{2, 4, 6, 8}, a)
}

func TestMulConstAdd(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{1, 1, 1, 1}
	MulConstAdd(a, 2, b)
	assert.Equal(t, []float32{3, 5, 7, 9}, b)
	assert.Panics(t, func() { MulConstAdd([]float32{1}, 2, nil) })
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	assert.Equal(t, float32(70), Dot(a, b))
	assert.Panics(t, func() { Dot([]float32{1}, nil) })
}

func TestNorm(t *testing.T) {
	assert.Equal(t, float32(5), Norm([]float32{3, 4}))
	assert.Zero(t, Norm(nil))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1, Cosine([]float32{1, 2}, []float32{2, 4}, 1e-8), 1e-6)
	assert.InDelta(t, -1, Cosine([]float32{1, 2}, []float32{-1, -2}, 1e-8), 1e-6)
	assert.InDelta(t, 0, Cosine([]float32{1, 0}, []float32{0, 3}, 1e-8), 1e-6)
	// zero vector does not produce NaN
	assert.False(t, math32.IsNaN(Cosine([]float32{0, 0}, []float32{1, 1}, 1e-8)))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}, 1e-8))
}

func TestClipNorm(t *testing.T) {
	a := []float32{3, 4}
	assert.True(t, ClipNorm(a, 1))
	assert.InDelta(t, 1, Norm(a), 1e-5)
	assert.InDelta(t, 0.6, a[0], 1e-5)
	b := []float32{0.3, 0.4}
	assert.False(t, ClipNorm(b, 1))
	assert.Equal(t, []float32{0.3, 0.4}, b)
}

func TestMeanRows(t *testing.T) {
	dst := make([]float32, 2)
	MeanRows(dst, []float32{1, 2}, []float32{3, 6})
	assert.Equal(t, []float32{2, 4}, dst)
	MeanRows(dst)
	assert.Equal(t, []float32{0, 0}, dst)
}
