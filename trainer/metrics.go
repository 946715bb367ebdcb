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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "de4rec",
		Subsystem: "trainer",
		Name:      "train_loss",
	})
	EvalLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "de4rec",
		Subsystem: "trainer",
		Name:      "eval_loss",
	})
	EvalROCAUC = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "de4rec",
		Subsystem: "trainer",
		Name:      "eval_roc_auc",
	})
	LearningRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "de4rec",
		Subsystem: "trainer",
		Name:      "learning_rate",
	})
	GlobalStepTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "de4rec",
		Subsystem: "trainer",
		Name:      "global_step_total",
	})
	EpochSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "de4rec",
		Subsystem: "trainer",
		Name:      "epoch_seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
)
