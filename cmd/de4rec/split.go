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
	"context"
	"io"
	"io/fs"
	"strconv"

	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/config"
	"github.com/gorse-io/de4rec/dataset"
	"github.com/gorse-io/de4rec/storage/blob"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var splitCommand = &cobra.Command{
	Use:   "split",
	Short: "Sample negatives and split examples into training and evaluation sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		store, err := conf.OpenStore()
		if err != nil {
			return errors.Trace(err)
		}
		split, err := buildSplit(cmd.Context(), conf, store)
		if err != nil {
			return errors.Trace(err)
		}
		return printSplitStats(cmd.OutOrStdout(), split)
	},
}

func init() {
	rootCommand.AddCommand(splitCommand)
}

// buildSplit loads raw files, builds a split and uploads it to the store.
func buildSplit(ctx context.Context, conf *config.Config, store blob.Store) (*dataset.Split, error) {
	interactionOpts, labelOpts := conf.LoadOptions()
	datasets, err := dataset.LoadDatasets(conf.Paths(), interactionOpts, labelOpts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load dataset",
		zap.Int("n_users", datasets.UsersSize()),
		zap.Int("n_items", datasets.ItemsSize()),
		zap.Int("n_interactions", len(datasets.Interactions())))
	split, err := datasets.Split(ctx, conf.SplitOptions())
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = blob.UploadObject(ctx, store, conf.Data.SplitKey, split.Marshal); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("upload split", log.Key(conf.Data.SplitKey))
	return split, nil
}

// loadSplit downloads the split from the store. The split is built if it does not
// exist or rebuild is set.
func loadSplit(ctx context.Context, conf *config.Config, store blob.Store, rebuild bool) (*dataset.Split, error) {
	if !rebuild {
		var split *dataset.Split
		err := blob.DownloadObject(ctx, store, conf.Data.SplitKey, func(r io.Reader) (err error) {
			split, err = dataset.UnmarshalSplit(r)
			return
		})
		if err == nil {
			log.Logger().Info("download split",
				log.Key(conf.Data.SplitKey),
				zap.Int("n_train", len(split.Train)),
				zap.Int("n_eval", len(split.Eval)))
			return split, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Trace(err)
		}
		log.Logger().Info("split not found", log.Key(conf.Data.SplitKey))
	}
	return buildSplit(ctx, conf, store)
}

func printSplitStats(w io.Writer, split *dataset.Split) error {
	table := tablewriter.NewWriter(w)
	table.Header("Users", "Items", "Sampled Users", "Degraded Users", "Examples", "Train", "Eval")
	if err := table.Append([]string{
		strconv.Itoa(split.Stats.UsersSize),
		strconv.Itoa(split.Stats.ItemsSize),
		strconv.Itoa(split.Stats.Users),
		strconv.Itoa(split.Stats.DegradedUsers),
		strconv.Itoa(split.Stats.Examples),
		strconv.Itoa(len(split.Train)),
		strconv.Itoa(len(split.Eval)),
	}); err != nil {
		return err
	}
	return table.Render()
}
