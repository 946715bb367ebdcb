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
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/de4rec/common/encoding"
	"github.com/gorse-io/de4rec/common/floats"
	"github.com/gorse-io/de4rec/common/heap"
	"github.com/juju/errors"
)

// eps is the lower bound of vector norms in cosine similarity.
const eps = 1e-8

const modelName = "dual_encoder"

// ErrIDOutOfRange is returned when a user id or an item id has no embedding.
var ErrIDOutOfRange = errors.New("id out of range")

// DualEncoder embeds users and items into the same space. The relevance between a user
// and an item is the cosine similarity of their embeddings:
//
//	s(u, i) = cos(p_u, q_i)
//
// It is trained by the cosine embedding loss
//
//	l(u, i, y) = 1 - s(u, i)                  if y = 1
//	l(u, i, y) = max(0, s(u, i) - margin)     if y = -1
//
// Every embedding has a L2 norm not greater than MaxNorm.
type DualEncoder struct {
	config      Config
	userFactor  [][]float32 // p_u
	itemFactor  [][]float32 // q_i
	userTrained *bitset.BitSet
	itemTrained *bitset.BitSet
}

// NewDualEncoder creates a dual encoder with normal random embeddings.
func NewDualEncoder(config Config) (*DualEncoder, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	rng := NewRandomGenerator(config.Seed)
	m := &DualEncoder{
		config:      config,
		userFactor:  rng.NormalMatrix(config.UsersSize, config.EmbeddingDim, 0, config.InitStdDev),
		itemFactor:  rng.NormalMatrix(config.ItemsSize, config.EmbeddingDim, 0, config.InitStdDev),
		userTrained: bitset.New(uint(config.UsersSize)),
		itemTrained: bitset.New(uint(config.ItemsSize)),
	}
	for _, row := range m.userFactor {
		floats.ClipNorm(row, config.MaxNorm)
	}
	for _, row := range m.itemFactor {
		floats.ClipNorm(row, config.MaxNorm)
	}
	return m, nil
}

// Config returns the configuration of the model.
func (m *DualEncoder) Config() Config {
	return m.config
}

func (m *DualEncoder) checkUser(userId int32) error {
	if userId < 0 || int(userId) >= m.config.UsersSize {
		return errors.Annotatef(ErrIDOutOfRange, "user %d", userId)
	}
	return nil
}

func (m *DualEncoder) checkItem(itemId int32) error {
	if itemId < 0 || int(itemId) >= m.config.ItemsSize {
		return errors.Annotatef(ErrIDOutOfRange, "item %d", itemId)
	}
	return nil
}

func (m *DualEncoder) checkBatch(userIds, itemIds []int32) error {
	if len(userIds) != len(itemIds) {
		return errors.NotValidf("batch of %d users and %d items", len(userIds), len(itemIds))
	}
	for i := range userIds {
		if err := m.checkUser(userIds[i]); err != nil {
			return err
		}
		if err := m.checkItem(itemIds[i]); err != nil {
			return err
		}
	}
	return nil
}

// UserFactors returns the user embedding table. Rows are updated in place by optimizers.
func (m *DualEncoder) UserFactors() [][]float32 {
	return m.userFactor
}

// ItemFactors returns the item embedding table. Rows are updated in place by optimizers.
func (m *DualEncoder) ItemFactors() [][]float32 {
	return m.itemFactor
}

// UserEmbedding returns a copy of the embedding of a user.
func (m *DualEncoder) UserEmbedding(userId int32) ([]float32, error) {
	if err := m.checkUser(userId); err != nil {
		return nil, err
	}
	return append([]float32(nil), m.userFactor[userId]...), nil
}

// ItemEmbedding returns a copy of the embedding of an item.
func (m *DualEncoder) ItemEmbedding(itemId int32) ([]float32, error) {
	if err := m.checkItem(itemId); err != nil {
		return nil, err
	}
	return append([]float32(nil), m.itemFactor[itemId]...), nil
}

// IsUserTrained returns false if the embedding of a user never be updated.
func (m *DualEncoder) IsUserTrained(userId int32) bool {
	if m.checkUser(userId) != nil {
		return false
	}
	return m.userTrained.Test(uint(userId))
}

// IsItemTrained returns false if the embedding of an item never be updated.
func (m *DualEncoder) IsItemTrained(itemId int32) bool {
	if m.checkItem(itemId) != nil {
		return false
	}
	return m.itemTrained.Test(uint(itemId))
}

// MarkTrained marks embeddings as updated.
func (m *DualEncoder) MarkTrained(userIds, itemIds []int32) {
	for _, userId := range userIds {
		m.userTrained.Set(uint(userId))
	}
	for _, itemId := range itemIds {
		m.itemTrained.Set(uint(itemId))
	}
}

// ApplyNormCap rescales embeddings of given users and items to MaxNorm.
func (m *DualEncoder) ApplyNormCap(userIds, itemIds []int32) {
	for _, userId := range userIds {
		floats.ClipNorm(m.userFactor[userId], m.config.MaxNorm)
	}
	for _, itemId := range itemIds {
		floats.ClipNorm(m.itemFactor[itemId], m.config.MaxNorm)
	}
}

// Score returns cosine similarities of (user, item) pairs.
func (m *DualEncoder) Score(userIds, itemIds []int32) ([]float32, error) {
	if err := m.checkBatch(userIds, itemIds); err != nil {
		return nil, err
	}
	scores := make([]float32, len(userIds))
	for i := range userIds {
		scores[i] = floats.Cosine(m.userFactor[userIds[i]], m.itemFactor[itemIds[i]], eps)
	}
	return scores, nil
}

// Loss returns the mean cosine embedding loss of a batch. Labels greater than zero are
// positive.
func (m *DualEncoder) Loss(userIds, itemIds []int32, labels []float32) (float32, error) {
	output, err := m.Forward(userIds, itemIds, labels)
	if err != nil {
		return 0, err
	}
	return output.Loss, nil
}

// Output is the result of a forward pass.
type Output struct {
	Loss   float32
	Logits []float32
}

// Forward computes similarities and the mean loss of a batch.
func (m *DualEncoder) Forward(userIds, itemIds []int32, labels []float32) (Output, error) {
	if len(labels) != len(userIds) {
		return Output{}, errors.NotValidf("batch of %d examples and %d labels", len(userIds), len(labels))
	}
	if len(labels) == 0 {
		return Output{}, errors.NotValidf("empty batch")
	}
	logits, err := m.Score(userIds, itemIds)
	if err != nil {
		return Output{}, err
	}
	var loss float32
	for i, s := range logits {
		loss += m.exampleLoss(s, labels[i])
	}
	return Output{Loss: loss / float32(len(labels)), Logits: logits}, nil
}

func (m *DualEncoder) exampleLoss(s, label float32) float32 {
	if label > 0 {
		return 1 - s
	}
	return max(0, s-m.config.Margin)
}

// SparseGradient holds gradients of touched rows of an embedding table.
type SparseGradient struct {
	IDs   []int32
	Rows  [][]float32
	index map[int32]int
}

func newSparseGradient() *SparseGradient {
	return &SparseGradient{index: make(map[int32]int)}
}

func (g *SparseGradient) row(id int32, dim int) []float32 {
	if i, exist := g.index[id]; exist {
		return g.Rows[i]
	}
	g.index[id] = len(g.IDs)
	g.IDs = append(g.IDs, id)
	g.Rows = append(g.Rows, make([]float32, dim))
	return g.Rows[len(g.Rows)-1]
}

// Get returns the gradient of a row, or nil if the row is untouched.
func (g *SparseGradient) Get(id int32) []float32 {
	if i, exist := g.index[id]; exist {
		return g.Rows[i]
	}
	return nil
}

// Gradients are gradients of the mean loss with respect to embeddings.
type Gradients struct {
	User *SparseGradient
	Item *SparseGradient
}

// Backward computes the mean loss of a batch and its gradients.
func (m *DualEncoder) Backward(userIds, itemIds []int32, labels []float32) (Output, Gradients, error) {
	output, err := m.Forward(userIds, itemIds, labels)
	if err != nil {
		return Output{}, Gradients{}, err
	}
	grads := Gradients{User: newSparseGradient(), Item: newSparseGradient()}
	dim := m.config.EmbeddingDim
	scale := 1 / float32(len(labels))
	for i, s := range output.Logits {
		// d loss / d cos
		var dl float32
		if labels[i] > 0 {
			dl = -1
		} else if s > m.config.Margin {
			dl = 1
		} else {
			continue
		}
		dl *= scale
		u, v := m.userFactor[userIds[i]], m.itemFactor[itemIds[i]]
		cosineGrad(u, v, s, dl, grads.User.row(userIds[i], dim))
		cosineGrad(v, u, s, dl, grads.Item.row(itemIds[i], dim))
	}
	return output, grads, nil
}

// cosineGrad adds dl * d cos(a, b) / d a to dst:
//
//	d cos(a, b) / d a = b / (|a| |b|) - cos(a, b) a / |a|^2
func cosineGrad(a, b []float32, cos, dl float32, dst []float32) {
	na, nb := floats.Norm(a), floats.Norm(b)
	floats.MulConstAdd(b, dl/(max(na, eps)*max(nb, eps)), dst)
	if na > eps {
		floats.MulConstAdd(a, -dl*cos/(na*na), dst)
	}
}

// RecommendTopKByUserIDs returns k items with highest similarities for each user.
func (m *DualEncoder) RecommendTopKByUserIDs(userIds []int32, k int) ([][]int32, error) {
	if err := m.checkK(k); err != nil {
		return nil, err
	}
	for _, userId := range userIds {
		if err := m.checkUser(userId); err != nil {
			return nil, err
		}
	}
	recommends := make([][]int32, len(userIds))
	for i, userId := range userIds {
		recommends[i] = m.topK(m.userFactor[userId], k)
	}
	return recommends, nil
}

// RecommendTopKByItemIDs returns k items with highest similarities for a user without
// embedding. The mean of embeddings of given items is used as the user embedding.
func (m *DualEncoder) RecommendTopKByItemIDs(itemIds []int32, k int) ([]int32, error) {
	if err := m.checkK(k); err != nil {
		return nil, err
	}
	if len(itemIds) == 0 {
		return nil, errors.NotValidf("empty items")
	}
	rows := make([][]float32, len(itemIds))
	for i, itemId := range itemIds {
		if err := m.checkItem(itemId); err != nil {
			return nil, err
		}
		rows[i] = m.itemFactor[itemId]
	}
	query := make([]float32, m.config.EmbeddingDim)
	floats.MeanRows(query, rows...)
	return m.topK(query, k), nil
}

// checkK requires 0 < k <= items size so that exactly k items are returned.
func (m *DualEncoder) checkK(k int) error {
	if k <= 0 || k > m.config.ItemsSize {
		return errors.NotValidf("k = %d with %d items", k, m.config.ItemsSize)
	}
	return nil
}

func (m *DualEncoder) topK(query []float32, k int) []int32 {
	filter := heap.NewTopKFilter[int32, float32](k)
	for itemId, itemFactor := range m.itemFactor {
		filter.Push(int32(itemId), floats.Cosine(query, itemFactor, eps))
	}
	return filter.PopAllValues()
}

// Clone a model with deep copy.
func (m *DualEncoder) Clone() *DualEncoder {
	copied := &DualEncoder{
		config:      m.config,
		userFactor:  make([][]float32, len(m.userFactor)),
		itemFactor:  make([][]float32, len(m.itemFactor)),
		userTrained: m.userTrained.Clone(),
		itemTrained: m.itemTrained.Clone(),
	}
	for i := range m.userFactor {
		copied.userFactor[i] = append([]float32(nil), m.userFactor[i]...)
	}
	for i := range m.itemFactor {
		copied.itemFactor[i] = append([]float32(nil), m.itemFactor[i]...)
	}
	return copied
}

// Marshal model into byte stream.
func (m *DualEncoder) Marshal(w io.Writer) error {
	if err := encoding.WriteString(w, modelName); err != nil {
		return errors.Trace(err)
	}
	// write config
	if err := encoding.WriteGob(w, m.config); err != nil {
		return errors.Trace(err)
	}
	// write trained flags
	for _, trained := range []*bitset.BitSet{m.userTrained, m.itemTrained} {
		data, err := trained.MarshalBinary()
		if err != nil {
			return errors.Trace(err)
		}
		if err = encoding.WriteBytes(w, data); err != nil {
			return errors.Trace(err)
		}
	}
	// write embeddings
	if err := encoding.WriteMatrix(w, m.userFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, m.itemFactor); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// UnmarshalDualEncoder reads a model from byte stream.
func UnmarshalDualEncoder(r io.Reader) (*DualEncoder, error) {
	m := new(DualEncoder)
	if err := m.Unmarshal(r); err != nil {
		return nil, err
	}
	return m, nil
}

// Unmarshal model from byte stream. The receiver is replaced only if the whole model is read.
func (m *DualEncoder) Unmarshal(r io.Reader) error {
	name, err := encoding.ReadString(r)
	if err != nil {
		return errors.Trace(err)
	}
	if name != modelName {
		return errors.NotValidf("model %v", name)
	}
	// read config
	var restored DualEncoder
	if err = encoding.ReadGob(r, &restored.config); err != nil {
		return errors.Trace(err)
	}
	if err = restored.config.Validate(); err != nil {
		return errors.Trace(err)
	}
	// read trained flags
	restored.userTrained, restored.itemTrained = new(bitset.BitSet), new(bitset.BitSet)
	for _, trained := range []*bitset.BitSet{restored.userTrained, restored.itemTrained} {
		data, err := encoding.ReadBytes(r)
		if err != nil {
			return errors.Trace(err)
		}
		if err = trained.UnmarshalBinary(data); err != nil {
			return errors.Trace(err)
		}
	}
	// read embeddings
	restored.userFactor = newMatrix(restored.config.UsersSize, restored.config.EmbeddingDim)
	if err = encoding.ReadMatrix(r, restored.userFactor); err != nil {
		return errors.Trace(err)
	}
	restored.itemFactor = newMatrix(restored.config.ItemsSize, restored.config.EmbeddingDim)
	if err = encoding.ReadMatrix(r, restored.itemFactor); err != nil {
		return errors.Trace(err)
	}
	*m = restored
	return nil
}

// MarshalBinary encodes the model into bytes.
func (m *DualEncoder) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := m.Marshal(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newMatrix(row, col int) [][]float32 {
	ret := make([][]float32, row)
	for i := range ret {
		ret[i] = make([]float32, col)
	}
	return ret
}
