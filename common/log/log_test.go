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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	require.NoError(t, flagSet.Parse(args))
	return flagSet
}

func TestSetLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "de4rec.log")
	SetLogger(newFlagSet(t, "--log-path", path), false)
	Named(Trainer).Info("save checkpoint", Checkpoint("checkpoint-10"), Step(10), Metrics(map[string]float64{"eval_loss": 0.5}))
	Named(Dataset).Warn("fallback to sentinel negatives", UserID(3))
	_ = Logger().Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"logger":"de4rec.trainer"`)
	assert.Contains(t, text, `"msg":"save checkpoint"`)
	assert.Contains(t, text, `"checkpoint":"checkpoint-10"`)
	assert.Contains(t, text, `"global_step":10`)
	assert.Contains(t, text, `"metrics":{"eval_loss":0.5}`)
	assert.Contains(t, text, `"logger":"de4rec.dataset"`)
	assert.Contains(t, text, `"user_id":3`)

	// debug logs are dropped without debug mode
	Logger().Debug("invisible")
	_ = Logger().Sync()
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "invisible")
}

func TestSetLoggerDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "de4rec.log")
	SetLogger(newFlagSet(t, "--log-path", path), true)
	assert.True(t, Logger().Core().Enabled(zap.DebugLevel))
	Named(Storage).Debug("upload", Key("model.bin"))
	_ = Logger().Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// console format
	assert.Contains(t, string(data), "de4rec.storage\tupload")
	assert.NotContains(t, string(data), `"msg"`)

	// an explicit format wins over debug mode
	SetLogger(newFlagSet(t, "--log-path", path, "--log-format", FormatJSON), true)
	Named(Storage).Debug("download", Key("split.bin"))
	_ = Logger().Sync()
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"key":"split.bin"`)
}

func TestCloseLogger(t *testing.T) {
	CloseLogger()
	assert.False(t, Logger().Core().Enabled(zap.ErrorLevel))
	assert.True(t, Logger().Core().Enabled(zap.FatalLevel))
	assert.False(t, Named(Recommend).Core().Enabled(zap.ErrorLevel))
}
