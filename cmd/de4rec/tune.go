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
	"path/filepath"
	"strconv"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/google/uuid"
	"github.com/gorse-io/de4rec/common/encoding"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/trainer"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Search hyper-parameters of the dual encoder by TPE",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		trials, _ := cmd.Flags().GetInt("trials")
		conf, err := loadConfig(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		store, err := conf.OpenStore()
		if err != nil {
			return errors.Trace(err)
		}
		split, err := loadSplit(ctx, conf, store, false)
		if err != nil {
			return errors.Trace(err)
		}

		studyName := "de4rec-" + uuid.NewString()
		trainArgs := conf.Training
		trainArgs.OutputDir = filepath.Join(conf.Training.OutputDir, studyName)
		search := trainer.NewModelSearch(ctx,
			conf.ModelConfig(split.Stats.UsersSize, split.Stats.ItemsSize),
			trainArgs, trainer.DefaultSearchSpace(), split)
		study, err := goptuna.CreateStudy(studyName,
			goptuna.StudyOptionDirection(goptuna.StudyDirectionMinimize),
			goptuna.StudyOptionSampler(tpe.NewSampler()))
		if err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("start searching", zap.String("study", studyName), zap.Int("n_trials", trials))
		if err = study.Optimize(search.Objective, trials); err != nil {
			return errors.Trace(err)
		}
		result := search.Result()
		if result == nil {
			return errors.NotFoundf("completed trial")
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Parameter", "Value")
		rows := [][]string{
			{"learning_rate", encoding.FormatFloat32(result.LearningRate)},
			{"margin", encoding.FormatFloat32(result.Config.Margin)},
			{"embedding_dim", strconv.Itoa(result.Config.EmbeddingDim)},
			{"eval_loss", encoding.FormatFloat32(float32(result.Score))},
		}
		if auc, exist := result.Metrics["eval_roc_auc"]; exist {
			rows = append(rows, []string{"eval_roc_auc", encoding.FormatFloat32(float32(auc))})
		}
		for _, row := range rows {
			if err = table.Append(row); err != nil {
				return errors.Trace(err)
			}
		}
		return table.Render()
	},
}

func init() {
	rootCommand.AddCommand(tuneCommand)
	tuneCommand.Flags().Int("trials", 10, "number of trials")
}
