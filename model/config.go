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

package model

import (
	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
)

const (
	DefaultEmbeddingDim = 64
	DefaultMargin       = 0.5
	DefaultMaxNorm      = 1.0
	DefaultInitStdDev   = 1.0
)

// Config is the configuration of a dual encoder.
type Config struct {
	UsersSize    int     `json:"users_size" validate:"gt=0"`
	ItemsSize    int     `json:"items_size" validate:"gt=0"`
	EmbeddingDim int     `json:"embedding_dim" validate:"gt=0"`
	Margin       float32 `json:"margin" validate:"gte=-1,lte=1"`
	MaxNorm      float32 `json:"max_norm" validate:"gt=0"`
	InitStdDev   float32 `json:"init_std_dev" validate:"gte=0"`
	Seed         int64   `json:"seed"`
}

// NewConfig creates a config with default hyper-parameters.
func NewConfig(usersSize, itemsSize int) Config {
	return Config{
		UsersSize:    usersSize,
		ItemsSize:    itemsSize,
		EmbeddingDim: DefaultEmbeddingDim,
		Margin:       DefaultMargin,
		MaxNorm:      DefaultMaxNorm,
		InitStdDev:   DefaultInitStdDev,
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.NotValidf("model config: %v", err)
	}
	return nil
}
