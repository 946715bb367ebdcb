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
	"io"
	"strconv"

	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/config"
	"github.com/gorse-io/de4rec/dataset"
	"github.com/gorse-io/de4rec/model"
	"github.com/gorse-io/de4rec/recommend"
	"github.com/gorse-io/de4rec/storage/blob"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend items for users or items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		userIds, _ := cmd.Flags().GetInt32Slice("users")
		itemIds, _ := cmd.Flags().GetInt32Slice("items")
		if len(userIds) == 0 && len(itemIds) == 0 {
			return errors.NotValidf("either --users or --items is required")
		}
		k, _ := cmd.Flags().GetInt("k")
		conf, err := loadConfig(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		store, err := conf.OpenStore()
		if err != nil {
			return errors.Trace(err)
		}

		// load model
		key, _ := cmd.Flags().GetString("model")
		if key == "" {
			key = conf.Model.Key
		}
		var m *model.DualEncoder
		if err = blob.DownloadObject(ctx, store, key, func(r io.Reader) (err error) {
			m, err = model.UnmarshalDualEncoder(r)
			return
		}); err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("load model", log.Key(key), zap.Any("config", m.Config()))

		// load item names
		_, labelOpts := conf.LoadOptions()
		items, err := dataset.LoadItems(conf.Data.Items, labelOpts...)
		if err != nil {
			return errors.Trace(err)
		}
		names := lo.SliceToMap(items, func(item dataset.Item) (int32, string) {
			return item.ID, item.Name
		})

		opts := []recommend.Option{recommend.WithCache(conf.Recommend.CacheTTL, conf.Recommend.CacheCapacity)}
		if coldStart, _ := cmd.Flags().GetBool("cold-start"); coldStart {
			popular, err := popularItems(conf, m.Config().ItemsSize, names)
			if err != nil {
				return errors.Trace(err)
			}
			opts = append(opts, recommend.WithPopularItems(popular))
		}
		r := recommend.NewRecommender(m, opts...)
		defer r.Close()

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		if len(userIds) > 0 {
			results, err := r.RecommendByUsers(userIds, k)
			if err != nil {
				return errors.Trace(err)
			}
			table.Header("User", "Rank", "Item", "Name")
			for i, userId := range userIds {
				for rank, itemId := range results[i] {
					if err = table.Append([]string{
						strconv.Itoa(int(userId)),
						strconv.Itoa(rank + 1),
						strconv.Itoa(int(itemId)),
						names[itemId],
					}); err != nil {
						return errors.Trace(err)
					}
				}
			}
		} else {
			results, err := r.RecommendByItems(itemIds, k)
			if err != nil {
				return errors.Trace(err)
			}
			table.Header("Rank", "Item", "Name")
			for rank, itemId := range results {
				if err = table.Append([]string{
					strconv.Itoa(rank + 1),
					strconv.Itoa(int(itemId)),
					names[itemId],
				}); err != nil {
					return errors.Trace(err)
				}
			}
		}
		return table.Render()
	},
}

func init() {
	rootCommand.AddCommand(recommendCommand)
	recommendCommand.Flags().String("model", "", "model key in the store (default to model.key)")
	recommendCommand.Flags().Int32Slice("users", nil, "ids of users")
	recommendCommand.Flags().Int32Slice("items", nil, "ids of items")
	recommendCommand.Flags().IntP("k", "k", 10, "number of recommended items")
	recommendCommand.Flags().Bool("cold-start", false, "recommend popular items to users without trained embeddings")
}

// popularItems ranks items by the leaderboard.
func popularItems(conf *config.Config, itemsSize int, names map[int32]string) ([]int32, error) {
	interactionOpts, _ := conf.LoadOptions()
	interactions, err := dataset.LoadInteractions(conf.Data.Interactions, interactionOpts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	interactions = lo.Filter(interactions, func(interaction dataset.Interaction, _ int) bool {
		return interaction.ItemID < int32(itemsSize)
	})
	freq, _, err := dataset.ComputePopularityDistribution(interactions, itemsSize)
	if err != nil {
		return nil, errors.Trace(err)
	}
	leaderboard, err := recommend.NewLeaderBoard(conf.Recommend.LeaderBoard)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for itemId, popularity := range freq {
		leaderboard.Push(recommend.Item{
			ID:         int32(itemId),
			Name:       names[int32(itemId)],
			Popularity: popularity,
		})
	}
	return leaderboard.PopAll(), nil
}
