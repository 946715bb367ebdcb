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
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
)

const (
	EvalStrategySteps = "steps"
	EvalStrategyEpoch = "epoch"
	EvalStrategyNo    = "no"

	SchedulerLinear   = "linear"
	SchedulerConstant = "constant"
)

// Arguments are options of training.
type Arguments struct {
	OutputDir          string  `json:"output_dir" mapstructure:"output_dir" validate:"required"`
	EvalStrategy       string  `json:"eval_strategy" mapstructure:"eval_strategy" validate:"oneof=steps epoch no"`
	EvalSteps          int     `json:"eval_steps" mapstructure:"eval_steps" validate:"gte=0"`
	LoggingSteps       int     `json:"logging_steps" mapstructure:"logging_steps" validate:"gt=0"`
	LearningRate       float32 `json:"learning_rate" mapstructure:"learning_rate" validate:"gt=0"`
	TrainBatchSize     int     `json:"per_device_train_batch_size" mapstructure:"train_batch_size" validate:"gt=0"`
	EvalBatchSize      int     `json:"per_device_eval_batch_size" mapstructure:"eval_batch_size" validate:"gt=0"`
	NumTrainEpochs     int     `json:"num_train_epochs" mapstructure:"num_train_epochs" validate:"gt=0"`
	WeightDecay        float32 `json:"weight_decay" mapstructure:"weight_decay" validate:"gte=0"`
	Beta1              float32 `json:"adam_beta1" mapstructure:"adam_beta1" validate:"gte=0,lt=1"`
	Beta2              float32 `json:"adam_beta2" mapstructure:"adam_beta2" validate:"gte=0,lt=1"`
	Epsilon            float32 `json:"adam_epsilon" mapstructure:"adam_epsilon" validate:"gt=0"`
	LRScheduler        string  `json:"lr_scheduler_type" mapstructure:"lr_scheduler" validate:"oneof=linear constant"`
	WarmupSteps        int     `json:"warmup_steps" mapstructure:"warmup_steps" validate:"gte=0"`
	Seed               int64   `json:"seed" mapstructure:"seed"`
	DataSeed           int64   `json:"data_seed" mapstructure:"data_seed"`
	MetricForBestModel string  `json:"metric_for_best_model" mapstructure:"metric_for_best_model" validate:"required"`
	GreaterIsBetter    bool    `json:"greater_is_better" mapstructure:"greater_is_better"`
	SaveTotalLimit     int     `json:"save_total_limit" mapstructure:"save_total_limit" validate:"gte=0"`
	LoadBestModelAtEnd bool    `json:"load_best_model_at_end" mapstructure:"load_best_model_at_end"`
	Jobs               int     `json:"jobs" mapstructure:"jobs" validate:"gt=0"`
}

// DefaultArguments returns default training arguments.
func DefaultArguments() Arguments {
	return Arguments{
		OutputDir:          "./results",
		EvalStrategy:       EvalStrategySteps,
		LoggingSteps:       10000,
		LearningRate:       2e-3,
		TrainBatchSize:     1024,
		EvalBatchSize:      1024,
		NumTrainEpochs:     3,
		WeightDecay:        0.01,
		Beta1:              0.9,
		Beta2:              0.999,
		Epsilon:            1e-8,
		LRScheduler:        SchedulerLinear,
		Seed:               42,
		DataSeed:           42,
		MetricForBestModel: "eval_loss",
		SaveTotalLimit:     11,
		LoadBestModelAtEnd: true,
		Jobs:               1,
	}
}

func (args Arguments) Validate() error {
	if err := validator.New().Struct(args); err != nil {
		return errors.NotValidf("training arguments: %v", err)
	}
	return nil
}

// evalSteps returns the interval of evaluations. It falls back to logging steps.
func (args Arguments) evalSteps() int {
	if args.EvalSteps > 0 {
		return args.EvalSteps
	}
	return args.LoggingSteps
}

// metricName returns the name of the metric for the best model with "eval_" prefix.
func (args Arguments) metricName() string {
	if strings.HasPrefix(args.MetricForBestModel, "eval_") {
		return args.MetricForBestModel
	}
	return "eval_" + args.MetricForBestModel
}
