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
	"github.com/gorse-io/de4rec/dataset"
)

// Batch is a column-oriented batch of examples.
type Batch struct {
	UserIDs []int32
	ItemIDs []int32
	Labels  []float32
}

func (b Batch) Len() int {
	return len(b.Labels)
}

// Collate stacks examples into a batch.
func Collate(examples []dataset.Example) Batch {
	batch := Batch{
		UserIDs: make([]int32, len(examples)),
		ItemIDs: make([]int32, len(examples)),
		Labels:  make([]float32, len(examples)),
	}
	for i, example := range examples {
		batch.UserIDs[i] = example.UserID
		batch.ItemIDs[i] = example.ItemID
		batch.Labels[i] = float32(example.Label)
	}
	return batch
}
