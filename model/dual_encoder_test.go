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

package model

import (
	"bytes"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/de4rec/common/encoding"
	"github.com/gorse-io/de4rec/common/floats"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) *DualEncoder {
	config := NewConfig(10, 20)
	config.EmbeddingDim = 8
	config.Seed = 1
	m, err := NewDualEncoder(config)
	require.NoError(t, err)
	return m
}

func TestNewDualEncoder(t *testing.T) {
	m := newTestModel(t)
	assert.Len(t, m.UserFactors(), 10)
	assert.Len(t, m.ItemFactors(), 20)
	for _, row := range append(m.UserFactors(), m.ItemFactors()...) {
		assert.Len(t, row, 8)
		assert.LessOrEqual(t, floats.Norm(row), float32(1.0))
	}
	// deterministic
	other := newTestModel(t)
	assert.Equal(t, m.UserFactors(), other.UserFactors())
	assert.False(t, m.IsUserTrained(0))
	assert.False(t, m.IsItemTrained(0))

	for _, config := range []Config{
		{UsersSize: 0, ItemsSize: 1, EmbeddingDim: 1, MaxNorm: 1},
		{UsersSize: 1, ItemsSize: 0, EmbeddingDim: 1, MaxNorm: 1},
		{UsersSize: 1, ItemsSize: 1, EmbeddingDim: 0, MaxNorm: 1},
		{UsersSize: 1, ItemsSize: 1, EmbeddingDim: 1, MaxNorm: 0},
		{UsersSize: 1, ItemsSize: 1, EmbeddingDim: 1, MaxNorm: 1, Margin: 1.5},
	} {
		_, err := NewDualEncoder(config)
		assert.Error(t, err)
	}
}

func TestDualEncoder_Score(t *testing.T) {
	m := newTestModel(t)
	copy(m.userFactor[0], []float32{1, 0, 0, 0, 0, 0, 0, 0})
	copy(m.itemFactor[0], []float32{0.5, 0, 0, 0, 0, 0, 0, 0})
	copy(m.itemFactor[1], []float32{-0.2, 0, 0, 0, 0, 0, 0, 0})
	floats.Zero(m.itemFactor[2])
	scores, err := m.Score([]int32{0, 0, 0, 3}, []int32{0, 1, 2, 4})
	assert.NoError(t, err)
	assert.InDelta(t, 1, scores[0], 1e-6)
	assert.InDelta(t, -1, scores[1], 1e-6)
	assert.Zero(t, scores[2])
	assert.GreaterOrEqual(t, scores[3], float32(-1))
	assert.LessOrEqual(t, scores[3], float32(1))

	_, err = m.Score([]int32{10}, []int32{0})
	assert.ErrorIs(t, err, ErrIDOutOfRange)
	_, err = m.Score([]int32{0}, []int32{-1})
	assert.ErrorIs(t, err, ErrIDOutOfRange)
	_, err = m.Score([]int32{0}, []int32{0, 1})
	assert.Error(t, err)
}

func TestDualEncoder_Loss(t *testing.T) {
	m := newTestModel(t)
	copy(m.userFactor[0], []float32{1, 0, 0, 0, 0, 0, 0, 0})
	copy(m.itemFactor[0], []float32{1, 0, 0, 0, 0, 0, 0, 0})
	copy(m.itemFactor[1], []float32{0.6, 0.8, 0, 0, 0, 0, 0, 0})
	copy(m.itemFactor[2], []float32{0, 1, 0, 0, 0, 0, 0, 0})
	// positive: 1 - 0.6
	loss, err := m.Loss([]int32{0}, []int32{1}, []float32{1})
	assert.NoError(t, err)
	assert.InDelta(t, 0.4, loss, 1e-6)
	// negative above margin: 0.6 - 0.5
	loss, err = m.Loss([]int32{0}, []int32{1}, []float32{-1})
	assert.NoError(t, err)
	assert.InDelta(t, 0.1, loss, 1e-6)
	// negative below margin
	loss, err = m.Loss([]int32{0}, []int32{2}, []float32{-1})
	assert.NoError(t, err)
	assert.Zero(t, loss)
	// mean reduction
	loss, err = m.Loss([]int32{0, 0, 0}, []int32{0, 1, 1}, []float32{1, 1, -1})
	assert.NoError(t, err)
	assert.InDelta(t, (0+0.4+0.1)/3, loss, 1e-6)

	_, err = m.Loss(nil, nil, nil)
	assert.Error(t, err)
	_, err = m.Loss([]int32{0}, []int32{0}, []float32{1, 1})
	assert.Error(t, err)
}

func TestDualEncoder_Backward(t *testing.T) {
	m := newTestModel(t)
	userIds := []int32{0, 1, 0, 2}
	itemIds := []int32{3, 4, 5, 3}
	labels := []float32{1, -1, -1, 1}
	// make negative examples violate the margin
	copy(m.itemFactor[4], m.userFactor[1])
	copy(m.itemFactor[5], m.userFactor[0])
	floats.MulConstAdd(m.itemFactor[0], 0.1, m.itemFactor[5])
	output, grads, err := m.Backward(userIds, itemIds, labels)
	require.NoError(t, err)
	loss, err := m.Loss(userIds, itemIds, labels)
	require.NoError(t, err)
	assert.InDelta(t, loss, output.Loss, 1e-6)
	assert.ElementsMatch(t, []int32{0, 1, 2}, grads.User.IDs)
	assert.ElementsMatch(t, []int32{3, 4, 5}, grads.Item.IDs)
	assert.Nil(t, grads.User.Get(9))

	// finite differences
	const h = 1e-3
	check := func(table [][]float32, id int32, grad []float32) {
		for j := range table[id] {
			origin := table[id][j]
			table[id][j] = origin + h
			lossPlus, _ := m.Loss(userIds, itemIds, labels)
			table[id][j] = origin - h
			lossMinus, _ := m.Loss(userIds, itemIds, labels)
			table[id][j] = origin
			assert.InDelta(t, (lossPlus-lossMinus)/(2*h), grad[j], 2e-2)
		}
	}
	for _, id := range grads.User.IDs {
		check(m.userFactor, id, grads.User.Get(id))
	}
	for _, id := range grads.Item.IDs {
		check(m.itemFactor, id, grads.Item.Get(id))
	}
}

func TestDualEncoder_ApplyNormCap(t *testing.T) {
	m := newTestModel(t)
	floats.MulConst(m.userFactor[1], 10)
	floats.MulConst(m.itemFactor[2], 10)
	m.ApplyNormCap([]int32{1}, []int32{2})
	assert.LessOrEqual(t, floats.Norm(m.userFactor[1]), float32(1.0))
	assert.LessOrEqual(t, floats.Norm(m.itemFactor[2]), float32(1.0))
	m.MarkTrained([]int32{1}, []int32{2})
	assert.True(t, m.IsUserTrained(1))
	assert.True(t, m.IsItemTrained(2))
	assert.False(t, m.IsUserTrained(2))
	assert.False(t, m.IsItemTrained(100))
}

func TestDualEncoder_RecommendTopKByUserIDs(t *testing.T) {
	m := newTestModel(t)
	recommends, err := m.RecommendTopKByUserIDs([]int32{0, 5}, 5)
	require.NoError(t, err)
	require.Len(t, recommends, 2)
	for i, userId := range []int32{0, 5} {
		assert.Len(t, recommends[i], 5)
		assert.Equal(t, 5, mapset.NewSet(recommends[i]...).Cardinality())
		scores, err := m.Score([]int32{userId, userId, userId, userId, userId}, recommends[i])
		assert.NoError(t, err)
		for j := 1; j < len(scores); j++ {
			assert.GreaterOrEqual(t, scores[j-1], scores[j])
		}
		// no other item is better than the last one
		for itemId := int32(0); itemId < 20; itemId++ {
			if !mapset.NewSet(recommends[i]...).Contains(itemId) {
				score, _ := m.Score([]int32{userId}, []int32{itemId})
				assert.LessOrEqual(t, score[0], scores[len(scores)-1])
			}
		}
	}
	// all items
	recommends, err = m.RecommendTopKByUserIDs([]int32{1}, 20)
	assert.NoError(t, err)
	assert.Equal(t, 20, mapset.NewSet(recommends[0]...).Cardinality())
	// more than all items
	_, err = m.RecommendTopKByUserIDs([]int32{1}, 21)
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = m.RecommendTopKByUserIDs([]int32{10}, 3)
	assert.ErrorIs(t, err, ErrIDOutOfRange)
	_, err = m.RecommendTopKByUserIDs([]int32{0}, 0)
	assert.Error(t, err)
}

func TestDualEncoder_RecommendTopKByItemIDs(t *testing.T) {
	m := newTestModel(t)
	recommends, err := m.RecommendTopKByItemIDs([]int32{3, 7}, 3)
	assert.NoError(t, err)
	assert.Len(t, recommends, 3)
	assert.Equal(t, 3, mapset.NewSet(recommends...).Cardinality())
	for _, itemId := range recommends {
		assert.True(t, itemId >= 0 && itemId < 20)
	}

	// a single item is the most similar to itself
	recommends, err = m.RecommendTopKByItemIDs([]int32{7}, 1)
	assert.NoError(t, err)
	assert.Equal(t, []int32{7}, recommends)

	// ties are broken by item id
	for i := range m.itemFactor {
		copy(m.itemFactor[i], m.itemFactor[0])
	}
	recommends, err = m.RecommendTopKByItemIDs([]int32{9}, 3)
	assert.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2}, recommends)

	_, err = m.RecommendTopKByItemIDs(nil, 3)
	assert.Error(t, err)
	_, err = m.RecommendTopKByItemIDs([]int32{3}, 21)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = m.RecommendTopKByItemIDs([]int32{20}, 3)
	assert.ErrorIs(t, err, ErrIDOutOfRange)
}

func TestDualEncoder_Marshal(t *testing.T) {
	m := newTestModel(t)
	m.MarkTrained([]int32{1, 3}, []int32{5})
	buf := bytes.NewBuffer(nil)
	require.NoError(t, m.Marshal(buf))
	restored, err := UnmarshalDualEncoder(buf)
	require.NoError(t, err)
	assert.Equal(t, m.Config(), restored.Config())
	assert.Equal(t, m.UserFactors(), restored.UserFactors())
	assert.Equal(t, m.ItemFactors(), restored.ItemFactors())
	assert.True(t, restored.IsUserTrained(3))
	assert.True(t, restored.IsItemTrained(5))
	assert.False(t, restored.IsItemTrained(1))

	_, err = UnmarshalDualEncoder(bytes.NewReader(nil))
	assert.Error(t, err)
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	_, err = UnmarshalDualEncoder(bytes.NewReader(data[:len(data)-4]))
	assert.Error(t, err)
}

func TestDualEncoder_Clone(t *testing.T) {
	m := newTestModel(t)
	copied := m.Clone()
	assert.Equal(t, m.UserFactors(), copied.UserFactors())
	m.userFactor[0][0] = 100
	m.MarkTrained([]int32{0}, nil)
	assert.NotEqual(t, m.userFactor[0][0], copied.userFactor[0][0])
	assert.False(t, copied.IsUserTrained(0))
	embedding, err := copied.UserEmbedding(0)
	assert.NoError(t, err)
	embedding[0] = 200
	assert.NotEqual(t, float32(200), copied.userFactor[0][0])
	_, err = copied.ItemEmbedding(20)
	assert.ErrorIs(t, err, ErrIDOutOfRange)
}

func TestDualEncoder_Unmarshal(t *testing.T) {
	m := newTestModel(t)
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	other := newTestModel(t)
	other.userFactor[0][0] = 100
	require.NoError(t, other.Unmarshal(bytes.NewReader(data)))
	assert.Equal(t, m.UserFactors(), other.UserFactors())

	// a failed read keeps the model
	before := other.Clone()
	assert.Error(t, other.Unmarshal(bytes.NewReader(data[:len(data)/2])))
	assert.Equal(t, before.UserFactors(), other.UserFactors())

	// unknown model
	var buf bytes.Buffer
	require.NoError(t, encoding.WriteString(&buf, "matrix_factorization"))
	err = other.Unmarshal(&buf)
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Equal(t, before.UserFactors(), other.UserFactors())
}
