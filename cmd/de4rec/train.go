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

package main

import (
	"path"

	"github.com/google/uuid"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/model"
	"github.com/gorse-io/de4rec/storage/blob"
	"github.com/gorse-io/de4rec/trainer"
	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train a dual encoder",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		conf, err := loadConfig(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		store, err := conf.OpenStore()
		if err != nil {
			return errors.Trace(err)
		}
		rebuild, _ := cmd.Flags().GetBool("rebuild-split")
		split, err := loadSplit(ctx, conf, store, rebuild)
		if err != nil {
			return errors.Trace(err)
		}

		// train model
		m, err := model.NewDualEncoder(conf.ModelConfig(split.Stats.UsersSize, split.Stats.ItemsSize))
		if err != nil {
			return errors.Trace(err)
		}
		var opts []trainer.Option
		if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
			var bar *progressbar.ProgressBar
			opts = append(opts, trainer.WithCallbacks(trainer.CallbackFuncs{
				Step: func(state trainer.State) {
					if bar == nil {
						bar = progressbar.Default(int64(state.MaxSteps), "training")
					}
					_ = bar.Set(state.GlobalStep)
				},
			}))
		}
		t, err := trainer.NewTrainer(conf.Training, trainer.NewDualEncoderModule(m), split, trainer.NewROCAUC(), opts...)
		if err != nil {
			return errors.Trace(err)
		}
		result, err := t.Train(ctx)
		if err != nil {
			return errors.Trace(err)
		}

		// save results
		metrics := trainer.Metrics{
			"train_loss":  result.TrainingLoss,
			"global_step": float64(result.GlobalStep),
		}
		if err = t.SaveMetrics("train", metrics); err != nil {
			return errors.Trace(err)
		}
		for name, value := range result.Metrics {
			metrics[name] = value
		}
		if len(result.Metrics) > 0 {
			if err = t.SaveMetrics("eval", result.Metrics); err != nil {
				return errors.Trace(err)
			}
		}
		if err = t.SaveModel(conf.Training.OutputDir); err != nil {
			return errors.Trace(err)
		}

		// upload model and outputs
		if err = blob.UploadObject(ctx, store, conf.Model.Key, m.Marshal); err != nil {
			return errors.Trace(err)
		}
		runKey := path.Join(conf.OutputKey(), uuid.NewString())
		n, err := blob.UploadDir(ctx, store, conf.Training.OutputDir, runKey)
		if err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("upload outputs",
			zap.String("model", conf.Model.Key),
			zap.String("outputs", runKey),
			zap.Int("n_files", n))
		return printMetrics(cmd.OutOrStdout(), metrics)
	},
}

func init() {
	rootCommand.AddCommand(trainCommand)
	trainCommand.Flags().Bool("rebuild-split", false, "build the split even if it exists in the store")
	trainCommand.Flags().Bool("progress", true, "show progress bar")
}
