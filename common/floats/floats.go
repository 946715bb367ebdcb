// Copyright 2020 gorse Project Authors
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
	"github.com/chewxy/math32"
)

// Zero fills zeros in a slice of 32-bit floats.
func Zero(a []float32) {
	for i := range a {
		a[i] = 0
	}
}

// Add two vectors: dst = dst + s
func Add(dst, s []float32) {
	if len(dst) != len(s) {
		panic("floats: slice lengths do not match")
	}
	for i := range dst {
		dst[i] += s[i]
	}
}

// MulConst multiplies a vector with a const: dst = dst * c
func MulConst(dst []float32, c float32) {
	for i := range dst {
		dst[i] *= c
	}
}

// MulConstAdd multiplies a vector and a const, then adds to dst: dst = dst + a * c
func MulConstAdd(a []float32, c float32, dst []float32) {
	if len(a) != len(dst) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		dst[i] += a[i] * c
	}
}

// Dot two vectors.
func Dot(a, b []float32) (ret float32) {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		ret += a[i] * b[i]
	}
	return
}

// Norm returns the L2 norm of a vector.
func Norm(a []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * a[i]
	}
	return math32.Sqrt(ret)
}

// Cosine returns the cosine similarity of two vectors. The norm of each vector is
// clamped to eps so that zero vectors score 0 instead of NaN.
func Cosine(a, b []float32, eps float32) float32 {
	return Dot(a, b) / (max(Norm(a), eps) * max(Norm(b), eps))
}

// ClipNorm rescales a vector in place so that its L2 norm does not exceed maxNorm.
// It reports whether the vector was rescaled.
func ClipNorm(a []float32, maxNorm float32) bool {
	norm := Norm(a)
	if norm <= maxNorm {
		return false
	}
	MulConst(a, maxNorm/(norm+1e-7))
	return true
}

// MeanRows averages rows of a matrix element-wise into dst.
func MeanRows(dst []float32, rows ...[]float32) {
	Zero(dst)
	if len(rows) == 0 {
		return
	}
	for _, row := range rows {
		Add(dst, row)
	}
	MulConst(dst, 1/float32(len(rows)))
}
