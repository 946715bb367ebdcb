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

package dataset

import (
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// User is a user with a dense id and a display string.
type User struct {
	ID   int32
	Name string
}

// Item is an item with a dense id and a display string.
type Item struct {
	ID   int32
	Name string
}

// Interaction is an implicit feedback record. Repeated pairs are kept.
type Interaction struct {
	UserID int32
	ItemID int32
}

// Datasets holds raw interactions together with user and item labels.
type Datasets struct {
	interactions []Interaction
	users        []User
	items        []Item
	usersSize    int
	itemsSize    int
}

// NewDatasets creates datasets. The number of users (items) is the maximum user (item)
// id plus one.
func NewDatasets(interactions []Interaction, users []User, items []Item) (*Datasets, error) {
	if len(users) == 0 {
		return nil, errors.NotValidf("empty users")
	}
	if len(items) == 0 {
		return nil, errors.NotValidf("empty items")
	}
	d := &Datasets{
		interactions: interactions,
		users:        users,
		items:        items,
		usersSize:    int(lo.MaxBy(users, func(a, b User) bool { return a.ID > b.ID }).ID) + 1,
		itemsSize:    int(lo.MaxBy(items, func(a, b Item) bool { return a.ID > b.ID }).ID) + 1,
	}
	if d.usersSize <= 0 || d.itemsSize <= 0 {
		return nil, errors.NotValidf("negative ids")
	}
	for i, interaction := range interactions {
		if interaction.UserID < 0 || int(interaction.UserID) >= d.usersSize {
			return nil, errors.NotValidf("interaction %d: user id %d out of [0, %d)", i, interaction.UserID, d.usersSize)
		}
		if interaction.ItemID < 0 || int(interaction.ItemID) >= d.itemsSize {
			return nil, errors.NotValidf("interaction %d: item id %d out of [0, %d)", i, interaction.ItemID, d.itemsSize)
		}
	}
	return d, nil
}

// UsersSize returns the number of user embedding rows.
func (d *Datasets) UsersSize() int {
	return d.usersSize
}

// ItemsSize returns the number of item embedding rows.
func (d *Datasets) ItemsSize() int {
	return d.itemsSize
}

func (d *Datasets) Interactions() []Interaction {
	return d.interactions
}

func (d *Datasets) Users() []User {
	return d.users
}

func (d *Datasets) Items() []Item {
	return d.items
}

// PopularityDistribution returns the smoothed item frequency and positive lists of users.
func (d *Datasets) PopularityDistribution() ([]float64, *PositiveLists) {
	return countPopularity(d.interactions, d.itemsSize)
}

// Paths locates the files of a dataset.
type Paths struct {
	Interactions string
	Users        string
	Items        string
}

// LoadDatasets loads interactions, users and items from files. Interactions are decoded
// by interactionOpts, labels by labelOpts.
func LoadDatasets(paths Paths, interactionOpts []LoadOption, labelOpts []LoadOption) (*Datasets, error) {
	interactions, err := LoadInteractions(paths.Interactions, interactionOpts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	users, err := LoadUsers(paths.Users, labelOpts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	items, err := LoadItems(paths.Items, labelOpts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewDatasets(interactions, users, items)
}
