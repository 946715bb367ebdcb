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

package log

import (
	"os"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Components of de4rec. Each logs through a child logger of the same name.
const (
	Dataset   = "dataset"
	Trainer   = "trainer"
	Recommend = "recommend"
	Storage   = "storage"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

const timeLayout = "2006-01-02 15:04:05.999999"

var logger = newLogger(FormatConsole, zap.NewAtomicLevelAt(zap.DebugLevel), zapcore.Lock(os.Stdout))

func newLogger(format string, level zapcore.LevelEnabler, w zapcore.WriteSyncer) *zap.Logger {
	var encoder zapcore.Encoder
	if format == FormatConsole {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
		encoder = zapcore.NewJSONEncoder(cfg)
	}
	return zap.New(zapcore.NewCore(encoder, w, level)).Named("de4rec")
}

// Logger returns the root logger.
func Logger() *zap.Logger {
	return logger
}

// Named returns the logger of a component, e.g. Named(Trainer).
func Named(component string) *zap.Logger {
	return logger.Named(component)
}

// CloseLogger silences everything below fatal. Tests call it to keep output quiet.
func CloseLogger() {
	logger = newLogger(FormatJSON, zap.FatalLevel, zapcore.AddSync(os.Stderr))
}

func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String("log-format", FormatJSON, "format of logs: json or console (console in debug mode)")
	flagSet.String("log-path", "", "path of log file")
	flagSet.Int("log-max-size", 100, "maximum size in megabytes of the log file")
	flagSet.Int("log-max-age", 0, "maximum number of days to retain old log files")
	flagSet.Int("log-max-backups", 0, "maximum number of old log files to retain")
}

// SetLogger writes logs to stdout and the optional rotated log file. Debug mode logs
// debug messages in the console format unless --log-format is set.
func SetLogger(flagSet *pflag.FlagSet, debug bool) {
	format, _ := flagSet.GetString("log-format")
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
		if !flagSet.Changed("log-format") {
			format = FormatConsole
		}
	}
	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if path, _ := flagSet.GetString("log-path"); path != "" {
		maxSize, _ := flagSet.GetInt("log-max-size")
		maxAge, _ := flagSet.GetInt("log-max-age")
		maxBackups, _ := flagSet.GetInt("log-max-backups")
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		}))
	}
	logger = newLogger(format, level, zap.CombineWriteSyncers(writers...))
}

// Fields shared by components.

func UserID(userId int32) zap.Field {
	return zap.Int32("user_id", userId)
}

func Step(step int) zap.Field {
	return zap.Int("global_step", step)
}

func Checkpoint(name string) zap.Field {
	return zap.String("checkpoint", name)
}

func Metrics(metrics map[string]float64) zap.Field {
	return zap.Any("metrics", metrics)
}

// Key is the name of an object in the store.
func Key(key string) zap.Field {
	return zap.String("key", key)
}

func GetErrorHandler() otel.ErrorHandler {
	return &errorHandler{}
}

type errorHandler struct{}

func (h *errorHandler) Handle(err error) {
	Logger().Error("opentelemetry failure", zap.Error(err))
}
