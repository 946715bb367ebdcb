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
	"context"
	"io"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/de4rec/common/encoding"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/common/parallel"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	Positive int8 = 1
	Negative int8 = -1
)

// Example is a labeled (user, item) pair.
type Example struct {
	UserID int32
	ItemID int32
	Label  int8
}

type Examples []Example

func (e Examples) Len() int {
	return len(e)
}

// DistinctSize returns the number of distinct values over user ids, item ids and labels.
func (e Examples) DistinctSize() int {
	values := mapset.NewThreadUnsafeSet[int32]()
	for _, example := range e {
		values.Add(example.UserID)
		values.Add(example.ItemID)
		values.Add(int32(example.Label))
	}
	return values.Cardinality()
}

// PosNeg holds sampled negatives of a user.
type PosNeg struct {
	UserID    int32
	Positives []int32
	Negatives []int32
}

// BuildExamples pairs the i-th positive of a user with the i-th negative and emits a
// positive example followed by a negative example. Unpaired items are dropped.
func BuildExamples(pairs []PosNeg) Examples {
	size := 0
	for _, pair := range pairs {
		size += 2 * min(len(pair.Positives), len(pair.Negatives))
	}
	examples := make(Examples, 0, size)
	for _, pair := range pairs {
		for i := 0; i < len(pair.Positives) && i < len(pair.Negatives); i++ {
			examples = append(examples,
				Example{UserID: pair.UserID, ItemID: pair.Positives[i], Label: Positive},
				Example{UserID: pair.UserID, ItemID: pair.Negatives[i], Label: Negative})
		}
	}
	return examples
}

type SplitOptions struct {
	FreqMargin   float64
	NegPerSample int
	Seed         int64
	TrainRatio   float64
	Jobs         int
	// OnDegraded is called when sampling for a user falls back to sentinel negatives.
	// It is called from worker goroutines.
	OnDegraded func(userId int32, pool, requested int)
}

func DefaultSplitOptions() SplitOptions {
	return SplitOptions{
		FreqMargin:   0.15,
		NegPerSample: 3,
		Seed:         42,
		TrainRatio:   0.95,
		Jobs:         runtime.NumCPU(),
	}
}

func (opts SplitOptions) validate() error {
	if opts.FreqMargin <= 0 || opts.FreqMargin > 1 {
		return errors.NotValidf("freq margin %v", opts.FreqMargin)
	}
	if opts.NegPerSample <= 0 {
		return errors.NotValidf("negatives per sample %v", opts.NegPerSample)
	}
	if opts.TrainRatio <= 0 || opts.TrainRatio > 1 {
		return errors.NotValidf("train ratio %v", opts.TrainRatio)
	}
	return nil
}

type SplitStats struct {
	UsersSize     int
	ItemsSize     int
	Users         int
	DegradedUsers int
	Examples      int
}

// Split is a partition of examples into a training set and an evaluation set.
type Split struct {
	Train Examples
	Eval  Examples
	Stats SplitStats
}

// Split samples negatives for every user in parallel, builds labeled examples and
// partitions them randomly. The result only depends on inputs and the seed.
func (d *Datasets) Split(ctx context.Context, opts SplitOptions) (*Split, error) {
	if err := opts.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	start := time.Now()
	freq, positives := d.PopularityDistribution()
	pairs, degraded, err := sampleAll(ctx, freq, positives, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	examples := BuildExamples(pairs)
	split := partition(examples, opts.Seed, opts.TrainRatio)
	split.Stats = SplitStats{
		UsersSize:     d.UsersSize(),
		ItemsSize:     d.ItemsSize(),
		Users:         positives.Len(),
		DegradedUsers: degraded,
		Examples:      len(examples),
	}
	log.Named(log.Dataset).Info("complete splitting dataset",
		zap.Int("n_users", split.Stats.Users),
		zap.Int("n_degraded_users", split.Stats.DegradedUsers),
		zap.Int("n_train", len(split.Train)),
		zap.Int("n_eval", len(split.Eval)),
		zap.Duration("used_time", time.Since(start)))
	return split, nil
}

func sampleAll(ctx context.Context, freq []float64, positives *PositiveLists, opts SplitOptions) ([]PosNeg, int, error) {
	pairs := make([]PosNeg, positives.Len())
	degraded := atomic.NewInt64(0)
	err := parallel.Parallel(ctx, positives.Len(), opts.Jobs, func(_, jobId int) error {
		userId := positives.UserIDs[jobId]
		items := positives.Items[userId]
		rng := rand.NewPCG(uint64(opts.Seed), uint64(userId))
		negatives, err := SampleNegatives(rng, freq, items, opts.FreqMargin, opts.NegPerSample)
		var infeasible *InfeasibleError
		if errors.As(err, &infeasible) {
			degraded.Inc()
			log.Named(log.Dataset).Warn("fallback to sentinel negatives",
				log.UserID(userId),
				zap.Int("pool", infeasible.Pool),
				zap.Int("requested", infeasible.Requested))
			if opts.OnDegraded != nil {
				opts.OnDegraded(userId, infeasible.Pool, infeasible.Requested)
			}
			negatives = make([]int32, infeasible.Requested)
		} else if err != nil {
			return errors.Trace(err)
		}
		pairs[jobId] = PosNeg{UserID: userId, Positives: items, Negatives: negatives}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return pairs, int(degraded.Load()), nil
}

func partition(examples Examples, seed int64, trainRatio float64) *Split {
	rng := rand.New(rand.NewPCG(uint64(seed), math.MaxUint64))
	perm := rng.Perm(len(examples))
	numTrain := int(math.Round(trainRatio * float64(len(examples))))
	split := &Split{
		Train: make(Examples, numTrain),
		Eval:  make(Examples, len(examples)-numTrain),
	}
	for i, idx := range perm {
		if i < numTrain {
			split.Train[i] = examples[idx]
		} else {
			split.Eval[i-numTrain] = examples[idx]
		}
	}
	return split
}

// Marshal writes the split to a byte stream.
func (s *Split) Marshal(w io.Writer) error {
	return encoding.WriteGob(w, s)
}

// UnmarshalSplit reads a split from a byte stream.
func UnmarshalSplit(r io.Reader) (*Split, error) {
	var s Split
	if err := encoding.ReadGob(r, &s); err != nil {
		return nil, errors.Trace(err)
	}
	return &s, nil
}
