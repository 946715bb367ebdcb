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
	"fmt"
	"math"
	"math/rand/v2"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/de4rec/common/heap"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// ErrSamplingInfeasible is returned when fewer candidates than requested negatives remain.
var ErrSamplingInfeasible = errors.New("negative sampling infeasible")

// InfeasibleError reports the candidate pool size and the requested number of negatives.
type InfeasibleError struct {
	Pool      int
	Requested int
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("%v: %d candidates for %d negatives", ErrSamplingInfeasible, e.Pool, e.Requested)
}

func (e *InfeasibleError) Is(target error) bool {
	return target == ErrSamplingInfeasible
}

// PositiveLists maps users to their positive items. Users are kept in first-seen order
// and duplicated items are kept.
type PositiveLists struct {
	UserIDs []int32
	Items   map[int32][]int32
}

// Len returns the number of users.
func (p *PositiveLists) Len() int {
	return len(p.UserIDs)
}

// ComputePopularityDistribution counts items with add-one smoothing and groups positive
// items by user. Item ids must be in [0, itemsSize).
func ComputePopularityDistribution(interactions []Interaction, itemsSize int) ([]float64, *PositiveLists, error) {
	for i, interaction := range interactions {
		if interaction.ItemID < 0 || int(interaction.ItemID) >= itemsSize {
			return nil, nil, errors.NotValidf("interaction %d: item id %d out of [0, %d)", i, interaction.ItemID, itemsSize)
		}
	}
	freq, positives := countPopularity(interactions, itemsSize)
	return freq, positives, nil
}

func countPopularity(interactions []Interaction, itemsSize int) ([]float64, *PositiveLists) {
	freq := make([]float64, itemsSize)
	for i := range freq {
		freq[i] = 1
	}
	positives := &PositiveLists{Items: make(map[int32][]int32)}
	for _, interaction := range interactions {
		freq[interaction.ItemID]++
		if _, exist := positives.Items[interaction.UserID]; !exist {
			positives.UserIDs = append(positives.UserIDs, interaction.UserID)
		}
		positives.Items[interaction.UserID] = append(positives.Items[interaction.UserID], interaction.ItemID)
	}
	return freq, positives
}

// marginSize returns ceil(freqMargin * n). The product is rounded first so that
// 0.15 * 20 keeps 3 items instead of 4.
func marginSize(freqMargin float64, n int) int {
	size := int(math.Ceil(math.Round(freqMargin*float64(n)*1e9) / 1e9))
	return max(0, min(size, n))
}

// SampleNegatives draws negPerSample negatives for every distinct excluded item without
// replacement. Excluded items get zero weight, then only the ceil(freqMargin * len(freq))
// most frequent items are kept as candidates (ties by ascending id) and drawn with
// probability proportional to their frequency. An *InfeasibleError is returned if
// there are not enough candidates with positive weight.
func SampleNegatives(rng rand.Source, freq []float64, excluded []int32, freqMargin float64, negPerSample int) ([]int32, error) {
	excludedSet := mapset.NewThreadUnsafeSet[int32]()
	for _, itemId := range excluded {
		if itemId < 0 || int(itemId) >= len(freq) {
			return nil, errors.NotValidf("item id %d out of [0, %d)", itemId, len(freq))
		}
		excludedSet.Add(itemId)
	}
	numSamples := negPerSample * excludedSet.Cardinality()
	if numSamples == 0 {
		return []int32{}, nil
	}

	// keep the most popular items
	filter := heap.NewTopKFilter[int32, float64](marginSize(freqMargin, len(freq)))
	for i, w := range freq {
		if excludedSet.Contains(int32(i)) {
			w = 0
		}
		filter.Push(int32(i), w)
	}
	elems := filter.PopAll()
	candidates := make([]int32, 0, len(elems))
	weights := make([]float64, 0, len(elems))
	for _, elem := range elems {
		if elem.Weight > 0 {
			candidates = append(candidates, elem.Value)
			weights = append(weights, elem.Weight)
		}
	}
	if len(candidates) < numSamples {
		return nil, &InfeasibleError{Pool: len(candidates), Requested: numSamples}
	}

	// draw without replacement
	sampler := sampleuv.NewWeighted(weights, rng)
	negatives := make([]int32, numSamples)
	for i := range negatives {
		idx, ok := sampler.Take()
		if !ok {
			return nil, &InfeasibleError{Pool: len(candidates), Requested: numSamples}
		}
		negatives[i] = candidates[idx]
	}
	return negatives, nil
}
