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

package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/de4rec/dataset"
	"github.com/gorse-io/de4rec/model"
	"github.com/gorse-io/de4rec/recommend"
	"github.com/gorse-io/de4rec/storage/blob"
	"github.com/gorse-io/de4rec/trainer"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "DE4REC"

// Config is the configuration of de4rec.
type Config struct {
	Data      DataConfig        `mapstructure:"data"`
	Sampling  SamplingConfig    `mapstructure:"sampling"`
	Model     ModelConfig       `mapstructure:"model"`
	Training  trainer.Arguments `mapstructure:"training"`
	Storage   blob.Config       `mapstructure:"storage"`
	Recommend RecommendConfig   `mapstructure:"recommend"`
	Tracing   TracingConfig     `mapstructure:"tracing"`
}

// DataConfig locates raw files and the serialized split.
type DataConfig struct {
	Interactions  string `mapstructure:"interactions" validate:"required"`
	Users         string `mapstructure:"users" validate:"required"`
	Items         string `mapstructure:"items" validate:"required"`
	Separator     string `mapstructure:"separator" validate:"required"`
	Encoding      string `mapstructure:"encoding" validate:"required"`
	LabelEncoding string `mapstructure:"label_encoding" validate:"required"`
	SplitKey      string `mapstructure:"split_key" validate:"required"`
}

type SamplingConfig struct {
	FreqMargin   float64 `mapstructure:"freq_margin" validate:"gt=0,lte=1"`
	NegPerSample int     `mapstructure:"neg_per_sample" validate:"gt=0"`
	Seed         int64   `mapstructure:"seed"`
	TrainRatio   float64 `mapstructure:"train_ratio" validate:"gt=0,lte=1"`
	Jobs         int     `mapstructure:"jobs" validate:"gt=0"`
}

type ModelConfig struct {
	EmbeddingDim int     `mapstructure:"embedding_dim" validate:"gt=0"`
	Margin       float32 `mapstructure:"margin" validate:"gte=-1,lte=1"`
	MaxNorm      float32 `mapstructure:"max_norm" validate:"gt=0"`
	InitStdDev   float32 `mapstructure:"init_std_dev" validate:"gte=0"`
	Key          string  `mapstructure:"key" validate:"required"`
}

type RecommendConfig struct {
	CacheTTL      time.Duration               `mapstructure:"cache_ttl" validate:"gt=0"`
	CacheCapacity uint64                      `mapstructure:"cache_capacity"`
	LeaderBoard   recommend.LeaderBoardConfig `mapstructure:"leaderboard"`
}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() *Config {
	splitOptions := dataset.DefaultSplitOptions()
	return &Config{
		Data: DataConfig{
			Separator:     dataset.DefaultSeparator,
			Encoding:      dataset.DefaultEncoding,
			LabelEncoding: dataset.LabelEncoding,
			SplitKey:      "split.bin",
		},
		Sampling: SamplingConfig{
			FreqMargin:   splitOptions.FreqMargin,
			NegPerSample: splitOptions.NegPerSample,
			Seed:         splitOptions.Seed,
			TrainRatio:   splitOptions.TrainRatio,
			Jobs:         runtime.NumCPU(),
		},
		Model: ModelConfig{
			EmbeddingDim: model.DefaultEmbeddingDim,
			Margin:       model.DefaultMargin,
			MaxNorm:      model.DefaultMaxNorm,
			InitStdDev:   model.DefaultInitStdDev,
			Key:          "model.bin",
		},
		Training: trainer.DefaultArguments(),
		Storage: blob.Config{
			Type: blob.TypePOSIX,
			Dir:  "./storage",
			S3:   blob.S3Config{UseSSL: true},
		},
		Recommend: RecommendConfig{
			CacheTTL:      recommend.DefaultCacheTTL,
			CacheCapacity: recommend.DefaultCacheCapacity,
			LeaderBoard:   recommend.DefaultLeaderBoardConfig(),
		},
		Tracing: TracingConfig{
			Exporter:          ExporterOTLP,
			CollectorEndpoint: "localhost:4317",
			Sampler:           SamplerAlways,
			Ratio:             1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [data]
	v.SetDefault("data.interactions", defaultConfig.Data.Interactions)
	v.SetDefault("data.users", defaultConfig.Data.Users)
	v.SetDefault("data.items", defaultConfig.Data.Items)
	v.SetDefault("data.separator", defaultConfig.Data.Separator)
	v.SetDefault("data.encoding", defaultConfig.Data.Encoding)
	v.SetDefault("data.label_encoding", defaultConfig.Data.LabelEncoding)
	v.SetDefault("data.split_key", defaultConfig.Data.SplitKey)
	// [sampling]
	v.SetDefault("sampling.freq_margin", defaultConfig.Sampling.FreqMargin)
	v.SetDefault("sampling.neg_per_sample", defaultConfig.Sampling.NegPerSample)
	v.SetDefault("sampling.seed", defaultConfig.Sampling.Seed)
	v.SetDefault("sampling.train_ratio", defaultConfig.Sampling.TrainRatio)
	v.SetDefault("sampling.jobs", defaultConfig.Sampling.Jobs)
	// [model]
	v.SetDefault("model.embedding_dim", defaultConfig.Model.EmbeddingDim)
	v.SetDefault("model.margin", defaultConfig.Model.Margin)
	v.SetDefault("model.max_norm", defaultConfig.Model.MaxNorm)
	v.SetDefault("model.init_std_dev", defaultConfig.Model.InitStdDev)
	v.SetDefault("model.key", defaultConfig.Model.Key)
	// [training]
	v.SetDefault("training.output_dir", defaultConfig.Training.OutputDir)
	v.SetDefault("training.eval_strategy", defaultConfig.Training.EvalStrategy)
	v.SetDefault("training.eval_steps", defaultConfig.Training.EvalSteps)
	v.SetDefault("training.logging_steps", defaultConfig.Training.LoggingSteps)
	v.SetDefault("training.learning_rate", defaultConfig.Training.LearningRate)
	v.SetDefault("training.train_batch_size", defaultConfig.Training.TrainBatchSize)
	v.SetDefault("training.eval_batch_size", defaultConfig.Training.EvalBatchSize)
	v.SetDefault("training.num_train_epochs", defaultConfig.Training.NumTrainEpochs)
	v.SetDefault("training.weight_decay", defaultConfig.Training.WeightDecay)
	v.SetDefault("training.adam_beta1", defaultConfig.Training.Beta1)
	v.SetDefault("training.adam_beta2", defaultConfig.Training.Beta2)
	v.SetDefault("training.adam_epsilon", defaultConfig.Training.Epsilon)
	v.SetDefault("training.lr_scheduler", defaultConfig.Training.LRScheduler)
	v.SetDefault("training.warmup_steps", defaultConfig.Training.WarmupSteps)
	v.SetDefault("training.seed", defaultConfig.Training.Seed)
	v.SetDefault("training.data_seed", defaultConfig.Training.DataSeed)
	v.SetDefault("training.metric_for_best_model", defaultConfig.Training.MetricForBestModel)
	v.SetDefault("training.greater_is_better", defaultConfig.Training.GreaterIsBetter)
	v.SetDefault("training.save_total_limit", defaultConfig.Training.SaveTotalLimit)
	v.SetDefault("training.load_best_model_at_end", defaultConfig.Training.LoadBestModelAtEnd)
	v.SetDefault("training.jobs", defaultConfig.Training.Jobs)
	// [storage]
	v.SetDefault("storage.type", defaultConfig.Storage.Type)
	v.SetDefault("storage.dir", defaultConfig.Storage.Dir)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.use_ssl", defaultConfig.Storage.S3.UseSSL)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.gcs.credentials_file", "")
	v.SetDefault("storage.azure.account_name", "")
	v.SetDefault("storage.azure.account_key", "")
	v.SetDefault("storage.azure.connection_string", "")
	v.SetDefault("storage.azure.endpoint", "")
	v.SetDefault("storage.azure.container", "")
	v.SetDefault("storage.azure.prefix", "")
	// [recommend]
	v.SetDefault("recommend.cache_ttl", defaultConfig.Recommend.CacheTTL)
	v.SetDefault("recommend.cache_capacity", defaultConfig.Recommend.CacheCapacity)
	v.SetDefault("recommend.leaderboard.score", defaultConfig.Recommend.LeaderBoard.Score)
	v.SetDefault("recommend.leaderboard.filter", defaultConfig.Recommend.LeaderBoard.Filter)
	v.SetDefault("recommend.leaderboard.size", defaultConfig.Recommend.LeaderBoard.Size)
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

// LoadConfig loads configuration from a TOML file. Every key can be overridden by an
// environment variable, e.g. DE4REC_TRAINING_LEARNING_RATE overrides
// training.learning_rate. The file is optional if path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// load config file
	if path != "" {
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// unmarshal config file
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}

	// validate config file
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

func (config *Config) Validate() error {
	if err := validator.New().Struct(config); err != nil {
		return errors.NotValidf("config: %v", err)
	}
	return nil
}

// Paths returns paths of raw files.
func (config *Config) Paths() dataset.Paths {
	return dataset.Paths{
		Interactions: config.Data.Interactions,
		Users:        config.Data.Users,
		Items:        config.Data.Items,
	}
}

// LoadOptions returns options of loading interactions and labels.
func (config *Config) LoadOptions() (interactions, labels []dataset.LoadOption) {
	interactions = []dataset.LoadOption{
		dataset.WithSeparator(config.Data.Separator),
		dataset.WithEncoding(config.Data.Encoding),
	}
	labels = []dataset.LoadOption{
		dataset.WithSeparator(config.Data.Separator),
		dataset.WithEncoding(config.Data.LabelEncoding),
	}
	return
}

func (config *Config) SplitOptions() dataset.SplitOptions {
	return dataset.SplitOptions{
		FreqMargin:   config.Sampling.FreqMargin,
		NegPerSample: config.Sampling.NegPerSample,
		Seed:         config.Sampling.Seed,
		TrainRatio:   config.Sampling.TrainRatio,
		Jobs:         config.Sampling.Jobs,
	}
}

// ModelConfig returns the configuration of a dual encoder over given numbers of users
// and items. Embeddings are initialized by the training seed.
func (config *Config) ModelConfig(usersSize, itemsSize int) model.Config {
	return model.Config{
		UsersSize:    usersSize,
		ItemsSize:    itemsSize,
		EmbeddingDim: config.Model.EmbeddingDim,
		Margin:       config.Model.Margin,
		MaxNorm:      config.Model.MaxNorm,
		InitStdDev:   config.Model.InitStdDev,
		Seed:         config.Training.Seed,
	}
}

// OpenStore creates the store for splits, models and checkpoints.
func (config *Config) OpenStore() (blob.Store, error) {
	return blob.NewStore(config.Storage)
}

// OutputKey returns the name of the uploaded output directory in the store.
func (config *Config) OutputKey() string {
	return filepath.Base(filepath.Clean(config.Training.OutputDir))
}
