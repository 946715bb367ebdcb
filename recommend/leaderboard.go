// Copyright 2024 gorse Project Authors
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

package recommend

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/de4rec/common/heap"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Item is the environment of leaderboard expressions.
type Item struct {
	ID         int32
	Name       string
	Popularity float64
}

type LeaderBoardConfig struct {
	Score  string `mapstructure:"score" validate:"required"`
	Filter string `mapstructure:"filter"`
	Size   int    `mapstructure:"size" validate:"gt=0"`
}

func DefaultLeaderBoardConfig() LeaderBoardConfig {
	return LeaderBoardConfig{
		Score: "item.Popularity",
		Size:  100,
	}
}

// LeaderBoard ranks items by a score expression. Items are recommended from the
// leaderboard to users without trained embeddings.
type LeaderBoard struct {
	scoreFunc  *vm.Program
	filterFunc *vm.Program
	heap       *heap.TopKFilter[int32, float64]
}

func NewLeaderBoard(cfg LeaderBoardConfig) (*LeaderBoard, error) {
	// Compile score expression
	scoreFunc, err := expr.Compile(cfg.Score, expr.Env(map[string]any{"item": Item{}}), expr.AsFloat64())
	if err != nil {
		return nil, errors.Annotatef(err, "compile score expression %q", cfg.Score)
	}
	// Compile filter expression
	var filterFunc *vm.Program
	if cfg.Filter != "" {
		filterFunc, err = expr.Compile(cfg.Filter, expr.Env(map[string]any{"item": Item{}}), expr.AsBool())
		if err != nil {
			return nil, errors.Annotatef(err, "compile filter expression %q", cfg.Filter)
		}
	}
	return &LeaderBoard{
		scoreFunc:  scoreFunc,
		filterFunc: filterFunc,
		heap:       heap.NewTopKFilter[int32, float64](cfg.Size),
	}, nil
}

func (l *LeaderBoard) Push(item Item) {
	env := map[string]any{"item": item}
	// Evaluate filter function
	if l.filterFunc != nil {
		result, err := expr.Run(l.filterFunc, env)
		if err != nil {
			log.Named(log.Recommend).Error("evaluate filter function", zap.Int32("item_id", item.ID), zap.Error(err))
			return
		}
		if !result.(bool) {
			return
		}
	}
	// Evaluate score function
	result, err := expr.Run(l.scoreFunc, env)
	if err != nil {
		log.Named(log.Recommend).Error("evaluate score function", zap.Int32("item_id", item.ID), zap.Error(err))
		return
	}
	l.heap.Push(item.ID, result.(float64))
}

// PopAll returns ids of items in decreasing order of scores and resets the leaderboard.
func (l *LeaderBoard) PopAll() []int32 {
	return l.heap.PopAllValues()
}
