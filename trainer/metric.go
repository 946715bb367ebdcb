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
	"sort"

	"github.com/juju/errors"
	"modernc.org/sortutil"
)

// ErrUndefinedMetric is returned when a metric cannot be computed from given labels.
var ErrUndefinedMetric = errors.New("undefined metric")

// Metrics are named scores.
type Metrics map[string]float64

// Metric evaluates predictions.
type Metric interface {
	Name() string
	Compute(scores, labels []float32) (float64, error)
}

// ROCAUC is the area under the ROC curve. Scores in [-1, 1] are rescaled to [0, 1] and
// labels greater than zero are positive.
type ROCAUC struct{}

func NewROCAUC() *ROCAUC {
	return &ROCAUC{}
}

func (ROCAUC) Name() string {
	return "roc_auc"
}

func (ROCAUC) Compute(scores, labels []float32) (float64, error) {
	if len(scores) != len(labels) {
		return 0, errors.NotValidf("%d scores and %d labels", len(scores), len(labels))
	}
	var posPrediction, negPrediction []float32
	for i, score := range scores {
		if labels[i] > 0 {
			posPrediction = append(posPrediction, (score+1)/2)
		} else {
			negPrediction = append(negPrediction, (score+1)/2)
		}
	}
	if len(posPrediction) == 0 || len(negPrediction) == 0 {
		return 0, errors.Annotate(ErrUndefinedMetric, "only one class present")
	}
	return AUC(posPrediction, negPrediction), nil
}

// AUC computes the probability that a positive sample is ranked above a negative sample.
// Ties count one half.
func AUC(posPrediction, negPrediction []float32) float64 {
	sort.Sort(sortutil.Float32Slice(posPrediction))
	sort.Sort(sortutil.Float32Slice(negPrediction))
	var sum float64
	var nLess, nLessEqual int
	for _, p := range posPrediction {
		// count negative samples with less (or equal) prediction than current positive sample
		for nLess < len(negPrediction) && negPrediction[nLess] < p {
			nLess++
		}
		for nLessEqual < len(negPrediction) && negPrediction[nLessEqual] <= p {
			nLessEqual++
		}
		sum += float64(nLess) + float64(nLessEqual-nLess)/2
	}
	if len(posPrediction)*len(negPrediction) == 0 {
		return 0
	}
	return sum / float64(len(posPrediction)*len(negPrediction))
}
