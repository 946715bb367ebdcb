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
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/c-bata/goptuna"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/dataset"
	"github.com/gorse-io/de4rec/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// SearchSpace is the range of hyper-parameters to search.
type SearchSpace struct {
	MinLearningRate float32
	MaxLearningRate float32
	MinMargin       float32
	MaxMargin       float32
	EmbeddingDims   []int
}

func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		MinLearningRate: 1e-4,
		MaxLearningRate: 1e-1,
		MinMargin:       0,
		MaxMargin:       0.9,
		EmbeddingDims:   []int{16, 32, 64, 128},
	}
}

// SearchResult is the best trial found so far.
type SearchResult struct {
	Config       model.Config
	LearningRate float32
	Metrics      Metrics
	Score        float64
}

// ModelSearch trains a dual encoder for each trial and reports the evaluation loss.
type ModelSearch struct {
	config model.Config
	args   Arguments
	space  SearchSpace
	split  *dataset.Split
	ctx    context.Context

	mu     sync.Mutex
	result *SearchResult
}

func NewModelSearch(ctx context.Context, config model.Config, args Arguments, space SearchSpace, split *dataset.Split) *ModelSearch {
	return &ModelSearch{
		ctx:    ctx,
		config: config,
		args:   args,
		space:  space,
		split:  split,
	}
}

func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	if len(ms.space.EmbeddingDims) == 0 {
		return 0, errors.NotValidf("empty embedding dims")
	}
	lr, err := trial.SuggestLogFloat("learning_rate", float64(ms.space.MinLearningRate), float64(ms.space.MaxLearningRate))
	if err != nil {
		return 0, errors.Trace(err)
	}
	margin, err := trial.SuggestFloat("margin", float64(ms.space.MinMargin), float64(ms.space.MaxMargin))
	if err != nil {
		return 0, errors.Trace(err)
	}
	dims := make([]string, len(ms.space.EmbeddingDims))
	for i, dim := range ms.space.EmbeddingDims {
		dims[i] = strconv.Itoa(dim)
	}
	dim, err := trial.SuggestCategorical("embedding_dim", dims)
	if err != nil {
		return 0, errors.Trace(err)
	}

	config := ms.config
	config.Margin = float32(margin)
	config.EmbeddingDim, _ = strconv.Atoi(dim)
	m, err := model.NewDualEncoder(config)
	if err != nil {
		return 0, errors.Trace(err)
	}
	args := ms.args
	args.LearningRate = float32(lr)
	args.OutputDir = filepath.Join(ms.args.OutputDir, fmt.Sprintf("trial-%d", trial.ID))
	args.MetricForBestModel = "eval_loss"
	args.GreaterIsBetter = false
	t, err := NewTrainer(args, NewDualEncoderModule(m), ms.split, NewROCAUC())
	if err != nil {
		return 0, errors.Trace(err)
	}
	result, err := t.Train(ms.ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	score, exist := result.Metrics["eval_loss"]
	if !exist {
		return 0, errors.NotFoundf("eval_loss")
	}
	log.Named(log.Trainer).Info("complete trial",
		zap.Int("trial", trial.ID),
		zap.Float64("learning_rate", lr),
		zap.Float64("margin", margin),
		zap.Int("embedding_dim", config.EmbeddingDim),
		zap.Float64("eval_loss", score))

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.result == nil || score < ms.result.Score {
		ms.result = &SearchResult{
			Config:       config,
			LearningRate: args.LearningRate,
			Metrics:      result.Metrics,
			Score:        score,
		}
	}
	return score, nil
}

// Result returns the best trial or nil if no trial is completed.
func (ms *ModelSearch) Result() *SearchResult {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.result
}
