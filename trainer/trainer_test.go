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
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/dataset"
	"github.com/gorse-io/de4rec/model"
	"github.com/gorse-io/de4rec/storage/blob"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	numUsers = 40
	numItems = 40
)

// newClusteredSplit returns examples where a user likes items of the same parity.
func newClusteredSplit() *dataset.Split {
	var examples dataset.Examples
	for userId := int32(0); userId < numUsers; userId++ {
		for itemId := int32(0); itemId < numItems; itemId++ {
			label := dataset.Negative
			if userId%2 == itemId%2 {
				label = dataset.Positive
			}
			examples = append(examples, dataset.Example{UserID: userId, ItemID: itemId, Label: label})
		}
	}
	rng := rand.New(rand.NewPCG(1, 2))
	rng.Shuffle(len(examples), func(i, j int) {
		examples[i], examples[j] = examples[j], examples[i]
	})
	n := len(examples) * 4 / 5
	return &dataset.Split{Train: examples[:n], Eval: examples[n:]}
}

type TrainerTestSuite struct {
	suite.Suite
	split  *dataset.Split
	args   Arguments
	module *DualEncoderModule
}

func (suite *TrainerTestSuite) SetupSuite() {
	log.CloseLogger()
}

func (suite *TrainerTestSuite) SetupTest() {
	suite.split = newClusteredSplit()
	suite.args = DefaultArguments()
	suite.args.OutputDir = suite.T().TempDir()
	suite.args.LearningRate = 0.05
	suite.args.TrainBatchSize = 64
	suite.args.EvalBatchSize = 50
	suite.args.NumTrainEpochs = 5
	suite.args.EvalSteps = 25
	suite.args.LoggingSteps = 10
	suite.args.SaveTotalLimit = 2
	suite.args.Jobs = 4
	config := model.NewConfig(numUsers, numItems)
	config.EmbeddingDim = 8
	config.Margin = 0
	config.Seed = 3
	m, err := model.NewDualEncoder(config)
	suite.Require().NoError(err)
	suite.module = NewDualEncoderModule(m)
}

func (suite *TrainerTestSuite) newTrainer(opts ...Option) *Trainer {
	t, err := NewTrainer(suite.args, suite.module, suite.split, NewROCAUC(), opts...)
	suite.Require().NoError(err)
	return t
}

func (suite *TrainerTestSuite) TestTrain() {
	ctx := context.Background()
	var steps, evaluations int
	var saved []string
	t := suite.newTrainer(WithCallbacks(CallbackFuncs{
		Step: func(state State) {
			steps++
			suite.Equal(steps, state.GlobalStep)
		},
		Evaluate: func(state State, metrics Metrics) {
			evaluations++
			suite.Contains(metrics, "eval_loss")
			suite.Contains(metrics, "eval_roc_auc")
		},
		Save: func(state State, checkpoint string) {
			saved = append(saved, checkpoint)
		},
	}))
	before, err := t.Evaluate(ctx, suite.split.Eval)
	suite.Require().NoError(err)
	stepCount := testutil.ToFloat64(GlobalStepTotal)

	result, err := t.Train(ctx)
	suite.Require().NoError(err)
	// 1280 training examples in batches of 64 for 5 epochs
	suite.Equal(100, result.GlobalStep)
	suite.Equal(100, steps)
	suite.Equal(4, evaluations)
	suite.Equal(100.0, testutil.ToFloat64(GlobalStepTotal)-stepCount)
	suite.Less(result.Metrics["eval_loss"], before["eval_loss"])
	suite.Greater(result.Metrics["eval_roc_auc"], 0.8)
	suite.Equal(result.Metrics["eval_loss"], testutil.ToFloat64(EvalLoss))

	state := t.State()
	suite.Equal(100, state.MaxSteps)
	suite.InDelta(5.0, state.Epoch, 1e-9)
	suite.NotEmpty(saved)
	suite.NotNil(state.BestMetric)
	suite.Equal(saved[len(saved)-1], state.BestModelCheckpoint)
	// logging every 10 steps and 4 evaluations
	suite.Len(state.LogHistory, 14)

	// at most two checkpoints are kept
	checkpoints, err := listCheckpoints(ctx, blob.NewPOSIX(suite.args.OutputDir))
	suite.Require().NoError(err)
	suite.LessOrEqual(len(checkpoints), 2)
	suite.Contains(checkpoints, state.BestModelCheckpoint)

	// the best model is loaded
	data, err := os.ReadFile(filepath.Join(suite.args.OutputDir, state.BestModelCheckpoint, modelFile))
	suite.Require().NoError(err)
	best, err := model.UnmarshalDualEncoder(bytes.NewReader(data))
	suite.Require().NoError(err)
	suite.Equal(best.UserFactors(), suite.module.UserFactors())
	suite.Equal(best.ItemFactors(), suite.module.ItemFactors())
	for userId := int32(0); userId < numUsers; userId++ {
		suite.True(suite.module.IsUserTrained(userId))
	}
}

func (suite *TrainerTestSuite) TestTrainEpochStrategy() {
	suite.args.EvalStrategy = EvalStrategyEpoch
	suite.args.SaveTotalLimit = 0
	suite.args.MetricForBestModel = "roc_auc"
	suite.args.GreaterIsBetter = true
	var evaluations int
	t := suite.newTrainer(WithCallbacks(CallbackFuncs{
		Evaluate: func(State, Metrics) { evaluations++ },
	}))
	_, err := t.Train(context.Background())
	suite.Require().NoError(err)
	suite.Equal(5, evaluations)
	checkpoints, err := listCheckpoints(context.Background(), blob.NewPOSIX(suite.args.OutputDir))
	suite.Require().NoError(err)
	suite.NotEmpty(checkpoints)
	suite.LessOrEqual(len(checkpoints), 5)
}

func (suite *TrainerTestSuite) TestTrainFinalEvaluation() {
	suite.args.EvalSteps = 30
	var steps []int
	t := suite.newTrainer(WithCallbacks(CallbackFuncs{
		Evaluate: func(state State, _ Metrics) { steps = append(steps, state.GlobalStep) },
	}))
	_, err := t.Train(context.Background())
	suite.Require().NoError(err)
	suite.Equal([]int{30, 60, 90, 100}, steps)
}

func (suite *TrainerTestSuite) TestTrainTracing() {
	suite.args.EvalSteps = 30
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t := suite.newTrainer(WithTracerProvider(tp))
	_, err := t.Train(context.Background())
	suite.Require().NoError(err)
	_, err = t.Predict(context.Background(), suite.split.Eval)
	suite.Require().NoError(err)
	suite.Require().NoError(tp.Shutdown(context.Background()))

	spans := lo.GroupBy(recorder.Ended(), func(span sdktrace.ReadOnlySpan) string { return span.Name() })
	suite.Require().Len(spans["Train"], 1)
	suite.Len(spans["Predict"], 1)
	// 4 evaluations during training and 1 for the result
	suite.Require().Len(spans["Evaluate"], 5)
	train := spans["Train"][0]
	suite.Contains(train.Attributes(), attribute.Int("max_steps", 100))
	for _, span := range spans["Evaluate"] {
		suite.Equal(train.SpanContext().SpanID(), span.Parent().SpanID())
	}
	suite.False(spans["Predict"][0].Parent().IsValid())
}

func (suite *TrainerTestSuite) TestTrainNoEvaluation() {
	suite.args.EvalStrategy = EvalStrategyNo
	t := suite.newTrainer()
	result, err := t.Train(context.Background())
	suite.Require().NoError(err)
	suite.Nil(result.Metrics)
	suite.Greater(result.TrainingLoss, 0.0)
	checkpoints, err := listCheckpoints(context.Background(), blob.NewPOSIX(suite.args.OutputDir))
	suite.Require().NoError(err)
	suite.Empty(checkpoints)
}

func (suite *TrainerTestSuite) TestTrainCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := suite.newTrainer().Train(ctx)
	suite.ErrorIs(err, context.Canceled)
}

func (suite *TrainerTestSuite) TestTrainEmpty() {
	suite.split.Train = nil
	_, err := suite.newTrainer().Train(context.Background())
	suite.True(errors.Is(err, errors.NotValid))
}

func (suite *TrainerTestSuite) TestPredict() {
	t := suite.newTrainer()
	prediction, err := t.Predict(context.Background(), suite.split.Eval)
	suite.Require().NoError(err)
	suite.Len(prediction.Logits, len(suite.split.Eval))
	suite.Equal(Collate(suite.split.Eval).Labels, prediction.Labels)
	suite.Contains(prediction.Metrics, "test_loss")
	suite.Contains(prediction.Metrics, "test_roc_auc")
	suite.Contains(prediction.Metrics, "test_runtime")
	for i, logit := range prediction.Logits {
		score, err := suite.module.Score([]int32{suite.split.Eval[i].UserID}, []int32{suite.split.Eval[i].ItemID})
		suite.Require().NoError(err)
		suite.Equal(score[0], logit)
	}

	// roc auc is skipped for a single class
	positives := dataset.Examples{{UserID: 0, ItemID: 0, Label: dataset.Positive}}
	prediction, err = t.Predict(context.Background(), positives)
	suite.Require().NoError(err)
	suite.NotContains(prediction.Metrics, "test_roc_auc")

	_, err = t.Predict(context.Background(), nil)
	suite.Error(err)
}

func (suite *TrainerTestSuite) TestSaveMetrics() {
	t := suite.newTrainer()
	metrics, err := t.SaveAllMetrics(context.Background(), suite.split.Eval)
	suite.Require().NoError(err)
	data, err := os.ReadFile(filepath.Join(suite.args.OutputDir, "all_results.json"))
	suite.Require().NoError(err)
	var saved Metrics
	suite.Require().NoError(json.Unmarshal(data, &saved))
	suite.Equal(metrics, saved)
}

func (suite *TrainerTestSuite) TestSaveModel() {
	t := suite.newTrainer()
	dir := filepath.Join(suite.args.OutputDir, "final")
	suite.Require().NoError(t.SaveModel(dir))
	file, err := os.Open(filepath.Join(dir, modelFile))
	suite.Require().NoError(err)
	defer file.Close()
	m, err := model.UnmarshalDualEncoder(file)
	suite.Require().NoError(err)
	suite.Equal(suite.module.UserFactors(), m.UserFactors())
}

func TestTrainer(t *testing.T) {
	suite.Run(t, new(TrainerTestSuite))
}

func TestNewTrainer(t *testing.T) {
	args := DefaultArguments()
	args.OutputDir = ""
	_, err := NewTrainer(args, nil, &dataset.Split{}, nil)
	assert.Error(t, err)
	_, err = NewTrainer(DefaultArguments(), nil, nil, nil)
	assert.Error(t, err)
	trainer, err := NewTrainer(DefaultArguments(), nil, &dataset.Split{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &blob.POSIX{}, trainer.store)
}
