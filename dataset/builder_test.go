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

package dataset

import (
	"bytes"
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/jaswdr/faker"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSyntheticDatasets(t *testing.T, numUsers, numItems, numInteractions int) *Datasets {
	fake := faker.New()
	rng := rand.New(rand.NewPCG(7, 8))
	users := make([]User, numUsers)
	for i := range users {
		users[i] = User{ID: int32(i), Name: fake.Person().Name()}
	}
	items := make([]Item, numItems)
	for i := range items {
		items[i] = Item{ID: int32(i), Name: fake.Lorem().Word()}
	}
	interactions := make([]Interaction, numInteractions)
	for i := range interactions {
		// skewed popularity
		itemId := int32(rng.IntN(numItems) * rng.IntN(numItems) / numItems)
		interactions[i] = Interaction{UserID: rng.Int32N(int32(numUsers)), ItemID: itemId}
	}
	d, err := NewDatasets(interactions, users, items)
	require.NoError(t, err)
	return d
}

func TestNewDatasets(t *testing.T) {
	d, err := NewDatasets([]Interaction{{0, 1}}, []User{{ID: 4}, {ID: 1}}, []Item{{ID: 2}})
	assert.NoError(t, err)
	assert.Equal(t, 5, d.UsersSize())
	assert.Equal(t, 3, d.ItemsSize())

	_, err = NewDatasets(nil, nil, []Item{{ID: 0}})
	assert.Error(t, err)
	_, err = NewDatasets(nil, []User{{ID: 0}}, nil)
	assert.Error(t, err)
	_, err = NewDatasets([]Interaction{{0, 3}}, []User{{ID: 0}}, []Item{{ID: 2}})
	assert.Error(t, err)
	_, err = NewDatasets([]Interaction{{1, 0}}, []User{{ID: 0}}, []Item{{ID: 2}})
	assert.Error(t, err)
}

func TestBuildExamples(t *testing.T) {
	examples := BuildExamples([]PosNeg{
		{UserID: 0, Positives: []int32{1, 2}, Negatives: []int32{3, 0, 5}},
		{UserID: 1, Positives: []int32{2, 4}, Negatives: []int32{0}},
		{UserID: 2, Positives: []int32{1}},
	})
	assert.Equal(t, Examples{
		{0, 1, Positive}, {0, 3, Negative},
		{0, 2, Positive}, {0, 0, Negative},
		{1, 2, Positive}, {1, 0, Negative},
	}, examples)
	assert.Equal(t, 6, examples.Len())
	// {0, 1, 2, 3, -1}
	assert.Equal(t, 5, examples.DistinctSize())
}

func TestSplitDegraded(t *testing.T) {
	d, err := NewDatasets([]Interaction{{0, 1}, {0, 2}, {1, 2}},
		[]User{{ID: 0}, {ID: 1}},
		[]Item{{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3}})
	require.NoError(t, err)
	var mu sync.Mutex
	var degraded []int32
	opts := DefaultSplitOptions()
	opts.FreqMargin = 1.0
	opts.NegPerSample = 2
	opts.TrainRatio = 1
	opts.OnDegraded = func(userId int32, pool, requested int) {
		mu.Lock()
		defer mu.Unlock()
		degraded = append(degraded, userId)
		assert.Equal(t, 2, pool)
		assert.Equal(t, 4, requested)
	}
	split, err := d.Split(context.Background(), opts)
	assert.NoError(t, err)
	assert.Equal(t, []int32{0}, degraded)
	assert.Equal(t, SplitStats{UsersSize: 2, ItemsSize: 4, Users: 2, DegradedUsers: 1, Examples: 6}, split.Stats)
	assert.Empty(t, split.Eval)
	// negatives of user 0 are sentinel 0
	user0 := lo.Filter(split.Train, func(e Example, _ int) bool { return e.UserID == 0 && e.Label == Negative })
	assert.Equal(t, []int32{0, 0}, lo.Map(user0, func(e Example, _ int) int32 { return e.ItemID }))
}

func TestSplit(t *testing.T) {
	d := newSyntheticDatasets(t, 100, 300, 800)
	opts := DefaultSplitOptions()
	opts.Jobs = 4
	split, err := d.Split(context.Background(), opts)
	require.NoError(t, err)
	n := split.Stats.Examples
	assert.Equal(t, n, len(split.Train)+len(split.Eval))
	assert.InDelta(t, 0.95*float64(n), float64(len(split.Train)), 1)

	assert.Less(t, split.Stats.DegradedUsers, split.Stats.Users/2)
	// idempotent and independent of the number of workers
	opts.Jobs = 1
	again, err := d.Split(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, split.Train, again.Train)
	assert.Equal(t, split.Eval, again.Eval)

	// disjoint union equals the collection
	freq, positives := d.PopularityDistribution()
	pairs, _, err := sampleAll(context.Background(), freq, positives, opts)
	require.NoError(t, err)
	all := append(append(Examples{}, split.Train...), split.Eval...)
	assert.ElementsMatch(t, BuildExamples(pairs), all)

	// negatives are never positives of the user
	for _, pair := range pairs {
		if lo.Count(pair.Negatives, 0) == len(pair.Negatives) {
			continue
		}
		assert.Empty(t, lo.Intersect(pair.Positives, pair.Negatives))
	}

	// another seed gives another split
	opts.Seed = 43
	other, err := d.Split(context.Background(), opts)
	require.NoError(t, err)
	assert.NotEqual(t, split.Train, other.Train)
}

func TestSplitInvalidOptions(t *testing.T) {
	d := newSyntheticDatasets(t, 5, 5, 10)
	for _, mutate := range []func(*SplitOptions){
		func(o *SplitOptions) { o.FreqMargin = 0 },
		func(o *SplitOptions) { o.FreqMargin = 1.5 },
		func(o *SplitOptions) { o.NegPerSample = 0 },
		func(o *SplitOptions) { o.TrainRatio = 0 },
	} {
		opts := DefaultSplitOptions()
		mutate(&opts)
		_, err := d.Split(context.Background(), opts)
		assert.Error(t, err)
	}
}

func TestSplitCancel(t *testing.T) {
	d := newSyntheticDatasets(t, 50, 100, 500)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	split, err := d.Split(ctx, DefaultSplitOptions())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, split)
}

func TestSplitMarshal(t *testing.T) {
	d := newSyntheticDatasets(t, 20, 50, 200)
	split, err := d.Split(context.Background(), DefaultSplitOptions())
	require.NoError(t, err)
	buf := bytes.NewBuffer(nil)
	require.NoError(t, split.Marshal(buf))
	restored, err := UnmarshalSplit(buf)
	assert.NoError(t, err)
	assert.Equal(t, split, restored)
}
