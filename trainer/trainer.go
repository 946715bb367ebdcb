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
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/common/parallel"
	"github.com/gorse-io/de4rec/dataset"
	"github.com/gorse-io/de4rec/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/gorse-io/de4rec/trainer"

// Trainer trains a module on a training set and selects the best checkpoint on an
// evaluation set.
type Trainer struct {
	args      Arguments
	module    Module
	trainSet  dataset.Examples
	evalSet   dataset.Examples
	metric    Metric
	store     blob.Store
	callbacks []Callback
	tracer    trace.Tracer
	optimizer *AdamW
	state     State
}

type Option func(*Trainer)

// WithStore sets the store of checkpoints. Checkpoints are saved to the output
// directory by default.
func WithStore(store blob.Store) Option {
	return func(t *Trainer) {
		t.store = store
	}
}

// WithTracerProvider sets the provider of spans. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Trainer) {
		t.tracer = tp.Tracer(tracerName)
	}
}

func WithCallbacks(callbacks ...Callback) Option {
	return func(t *Trainer) {
		t.callbacks = append(t.callbacks, callbacks...)
	}
}

// NewTrainer creates a trainer. The metric is optional.
func NewTrainer(args Arguments, module Module, split *dataset.Split, metric Metric, opts ...Option) (*Trainer, error) {
	if err := args.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if split == nil {
		return nil, errors.NotValidf("nil split")
	}
	t := &Trainer{
		args:     args,
		module:   module,
		trainSet: split.Train,
		evalSet:  split.Eval,
		metric:   metric,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		t.store = blob.NewPOSIX(args.OutputDir)
	}
	return t, nil
}

// State returns the progress of training.
func (t *Trainer) State() State {
	return t.state
}

// TrainResult is the summary of training.
type TrainResult struct {
	GlobalStep   int
	TrainingLoss float64
	Metrics      Metrics
}

// Train the module. Training examples are shuffled by DataSeed in every epoch.
func (t *Trainer) Train(ctx context.Context) (TrainResult, error) {
	if len(t.trainSet) == 0 {
		return TrainResult{}, errors.NotValidf("empty training set")
	}
	stepsPerEpoch := (len(t.trainSet) + t.args.TrainBatchSize - 1) / t.args.TrainBatchSize
	maxSteps := stepsPerEpoch * t.args.NumTrainEpochs
	ctx, span := t.tracer.Start(ctx, "Train", trace.WithAttributes(
		attribute.Int("max_steps", maxSteps),
		attribute.Int("train_size", len(t.trainSet)),
		attribute.Int("eval_size", len(t.evalSet))))
	defer span.End()

	log.Named(log.Trainer).Info("start training",
		zap.Int("n_train", len(t.trainSet)),
		zap.Int("n_eval", len(t.evalSet)),
		zap.Int("n_epochs", t.args.NumTrainEpochs),
		zap.Int("batch_size", t.args.TrainBatchSize),
		zap.Int("max_steps", maxSteps),
		zap.Any("args", t.args))
	t.state = State{MaxSteps: maxSteps}
	t.optimizer = NewAdamW(t.module.Parameters(), t.args)
	scheduler := NewScheduler(t.args, maxSteps)
	rng := rand.New(rand.NewPCG(uint64(t.args.DataSeed), uint64(t.args.DataSeed)))

	var (
		totalLoss   float64
		loggingLoss float64
		loggingFrom int
		lastEval    = -1
	)
	for epoch := 0; epoch < t.args.NumTrainEpochs; epoch++ {
		epochStart := time.Now()
		perm := rng.Perm(len(t.trainSet))
		for begin := 0; begin < len(perm); begin += t.args.TrainBatchSize {
			if err := ctx.Err(); err != nil {
				return TrainResult{}, errors.Trace(err)
			}
			end := min(begin+t.args.TrainBatchSize, len(perm))
			batch := Collate(lo.Map(perm[begin:end], func(i, _ int) dataset.Example { return t.trainSet[i] }))
			output, grads, err := t.module.Backward(batch)
			if err != nil {
				return TrainResult{}, errors.Trace(err)
			}
			lr := scheduler.LR(t.state.GlobalStep)
			t.optimizer.Step(lr, grads)
			t.module.AfterStep(grads)

			t.state.GlobalStep++
			t.state.Epoch = float64(epoch) + float64(end)/float64(len(perm))
			totalLoss += float64(output.Loss)
			loggingLoss += float64(output.Loss)
			TrainLoss.Set(float64(output.Loss))
			LearningRate.Set(float64(lr))
			GlobalStepTotal.Inc()
			for _, callback := range t.callbacks {
				callback.OnStep(t.state)
			}

			// log training loss
			if t.state.GlobalStep%t.args.LoggingSteps == 0 {
				logs := Metrics{
					"loss":          loggingLoss / float64(t.state.GlobalStep-loggingFrom),
					"learning_rate": float64(lr),
					"epoch":         t.state.Epoch,
				}
				t.state.LogHistory = append(t.state.LogHistory, logs)
				log.Named(log.Trainer).Info(fmt.Sprintf("train %v/%v", t.state.GlobalStep, maxSteps),
					zap.Float64("loss", logs["loss"]),
					zap.Float64("learning_rate", logs["learning_rate"]),
					zap.Float64("epoch", logs["epoch"]))
				loggingLoss, loggingFrom = 0, t.state.GlobalStep
			}

			// evaluate on steps
			if t.args.EvalStrategy == EvalStrategySteps && t.state.GlobalStep%t.args.evalSteps() == 0 {
				if err = t.evaluateAndSave(ctx); err != nil {
					return TrainResult{}, errors.Trace(err)
				}
				lastEval = t.state.GlobalStep
			}
		}
		EpochSeconds.Observe(time.Since(epochStart).Seconds())

		// evaluate on epochs
		if t.args.EvalStrategy == EvalStrategyEpoch {
			if err := t.evaluateAndSave(ctx); err != nil {
				return TrainResult{}, errors.Trace(err)
			}
			lastEval = t.state.GlobalStep
		}
	}

	// evaluate the final model if it has not been evaluated
	if t.args.EvalStrategy != EvalStrategyNo && lastEval != t.state.GlobalStep {
		if err := t.evaluateAndSave(ctx); err != nil {
			return TrainResult{}, errors.Trace(err)
		}
	}

	// load the best model
	if t.args.LoadBestModelAtEnd && t.state.BestModelCheckpoint != "" {
		if _, err := loadCheckpoint(ctx, t.store, t.module, t.state.BestModelCheckpoint); err != nil {
			return TrainResult{}, errors.Trace(err)
		}
		log.Named(log.Trainer).Info("load best model",
			log.Checkpoint(t.state.BestModelCheckpoint),
			zap.Float64(t.args.metricName(), *t.state.BestMetric))
	}

	result := TrainResult{
		GlobalStep:   t.state.GlobalStep,
		TrainingLoss: totalLoss / float64(t.state.GlobalStep),
	}
	if len(t.evalSet) > 0 && t.args.EvalStrategy != EvalStrategyNo {
		metrics, err := t.Evaluate(ctx, t.evalSet)
		if err != nil {
			return TrainResult{}, errors.Trace(err)
		}
		result.Metrics = metrics
	}
	log.Named(log.Trainer).Info("complete training",
		log.Step(result.GlobalStep),
		zap.Float64("train_loss", result.TrainingLoss),
		log.Metrics(result.Metrics))
	return result, nil
}

// evaluateAndSave evaluates the module and saves a checkpoint if it is the best so far.
func (t *Trainer) evaluateAndSave(ctx context.Context) error {
	if len(t.evalSet) == 0 {
		return nil
	}
	metrics, err := t.Evaluate(ctx, t.evalSet)
	if err != nil {
		return errors.Trace(err)
	}
	metrics["epoch"] = t.state.Epoch
	t.state.LogHistory = append(t.state.LogHistory, metrics)
	log.Named(log.Trainer).Info(fmt.Sprintf("evaluate %v/%v", t.state.GlobalStep, t.state.MaxSteps), log.Metrics(metrics))
	for _, callback := range t.callbacks {
		callback.OnEvaluate(t.state, metrics)
	}

	value, exist := metrics[t.args.metricName()]
	if !exist {
		log.Named(log.Trainer).Warn("metric for best model not found", zap.String("metric", t.args.metricName()))
		return nil
	}
	if t.state.BestMetric != nil && !t.isBetter(value, *t.state.BestMetric) {
		return nil
	}
	t.state.BestMetric = &value
	t.state.BestModelCheckpoint = checkpointName(t.state.GlobalStep)
	checkpoint, err := saveCheckpoint(ctx, t.store, t.module, t.state)
	if err != nil {
		return errors.Trace(err)
	}
	log.Named(log.Trainer).Info("save checkpoint", log.Checkpoint(checkpoint), zap.Float64(t.args.metricName(), value))
	for _, callback := range t.callbacks {
		callback.OnSave(t.state, checkpoint)
	}
	return rotateCheckpoints(ctx, t.store, t.args.SaveTotalLimit, checkpoint)
}

func (t *Trainer) isBetter(value, best float64) bool {
	if t.args.GreaterIsBetter {
		return value > best
	}
	return value < best
}

// Evaluate the module on examples. Metrics are prefixed by "eval_".
func (t *Trainer) Evaluate(ctx context.Context, examples dataset.Examples) (Metrics, error) {
	ctx, span := t.tracer.Start(ctx, "Evaluate", trace.WithAttributes(attribute.Int("size", len(examples))))
	defer span.End()
	prediction, err := t.predict(ctx, examples, "eval")
	if err != nil {
		return nil, err
	}
	if loss, exist := prediction.Metrics["eval_loss"]; exist {
		EvalLoss.Set(loss)
	}
	if auc, exist := prediction.Metrics["eval_roc_auc"]; exist {
		EvalROCAUC.Set(auc)
	}
	return prediction.Metrics, nil
}

// Prediction holds per-example logits and labels together with metrics.
type Prediction struct {
	Logits  []float32
	Labels  []float32
	Metrics Metrics
}

// Predict the module on examples. Metrics are prefixed by "test_".
func (t *Trainer) Predict(ctx context.Context, examples dataset.Examples) (Prediction, error) {
	ctx, span := t.tracer.Start(ctx, "Predict", trace.WithAttributes(attribute.Int("size", len(examples))))
	defer span.End()
	return t.predict(ctx, examples, "test")
}

func (t *Trainer) predict(ctx context.Context, examples dataset.Examples, prefix string) (Prediction, error) {
	if len(examples) == 0 {
		return Prediction{}, errors.NotValidf("empty examples")
	}
	start := time.Now()
	numBatches := (len(examples) + t.args.EvalBatchSize - 1) / t.args.EvalBatchSize
	prediction := Prediction{
		Logits: make([]float32, len(examples)),
		Labels: make([]float32, len(examples)),
	}
	losses := make([]float64, numBatches)
	err := parallel.Parallel(ctx, numBatches, t.args.Jobs, func(_, jobId int) error {
		begin := jobId * t.args.EvalBatchSize
		end := min(begin+t.args.EvalBatchSize, len(examples))
		batch := Collate(examples[begin:end])
		output, err := t.module.Forward(batch)
		if err != nil {
			return errors.Trace(err)
		}
		copy(prediction.Logits[begin:end], output.Logits)
		copy(prediction.Labels[begin:end], batch.Labels)
		losses[jobId] = float64(output.Loss) * float64(end-begin)
		return nil
	})
	if err != nil {
		return Prediction{}, errors.Trace(err)
	}
	prediction.Metrics = Metrics{
		prefix + "_loss":    lo.Sum(losses) / float64(len(examples)),
		prefix + "_runtime": time.Since(start).Seconds(),
	}
	if t.metric != nil {
		score, err := t.metric.Compute(prediction.Logits, prediction.Labels)
		if errors.Is(err, ErrUndefinedMetric) {
			log.Named(log.Trainer).Warn("skip metric", zap.String("metric", t.metric.Name()), zap.Error(err))
		} else if err != nil {
			return Prediction{}, errors.Trace(err)
		} else {
			prediction.Metrics[prefix+"_"+t.metric.Name()] = score
		}
	}
	return prediction, nil
}

// SaveMetrics writes metrics to <split>_results.json in the output directory.
func (t *Trainer) SaveMetrics(split string, metrics Metrics) error {
	if err := os.MkdirAll(t.args.OutputDir, os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(filepath.Join(t.args.OutputDir, split+"_results.json"), data, 0644))
}

// SaveAllMetrics predicts on examples and saves metrics to all_results.json.
func (t *Trainer) SaveAllMetrics(ctx context.Context, examples dataset.Examples) (Metrics, error) {
	prediction, err := t.Predict(ctx, examples)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return prediction.Metrics, t.SaveMetrics("all", prediction.Metrics)
}

// SaveModel writes the module to model.bin in a directory.
func (t *Trainer) SaveModel(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	file, err := os.Create(filepath.Join(dir, modelFile))
	if err != nil {
		return errors.Trace(err)
	}
	if err = t.module.Marshal(file); err != nil {
		_ = file.Close()
		return errors.Trace(err)
	}
	return errors.Trace(file.Close())
}
