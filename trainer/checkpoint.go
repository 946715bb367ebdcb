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
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/storage/blob"
	"github.com/juju/errors"
)

const (
	checkpointPrefix = "checkpoint-"
	modelFile        = "model.bin"
	stateFile        = "trainer_state.json"
)

func checkpointName(step int) string {
	return fmt.Sprintf("%s%d", checkpointPrefix, step)
}

// checkpointStep parses the step of a checkpoint name.
func checkpointStep(name string) (int, bool) {
	if !strings.HasPrefix(name, checkpointPrefix) {
		return 0, false
	}
	step, err := strconv.Atoi(strings.TrimPrefix(name, checkpointPrefix))
	return step, err == nil
}

// saveCheckpoint writes the module and the state into checkpoint-<step>.
func saveCheckpoint(ctx context.Context, store blob.Store, module Module, state State) (string, error) {
	name := checkpointName(state.GlobalStep)
	if err := blob.UploadObject(ctx, store, path.Join(name, modelFile), module.Marshal); err != nil {
		return "", errors.Trace(err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", errors.Trace(err)
	}
	if err = blob.UploadObject(ctx, store, path.Join(name, stateFile), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return "", errors.Trace(err)
	}
	return name, nil
}

// loadCheckpoint restores the module from a checkpoint and returns the saved state.
func loadCheckpoint(ctx context.Context, store blob.Store, module Module, name string) (State, error) {
	if err := blob.DownloadObject(ctx, store, path.Join(name, modelFile), module.Unmarshal); err != nil {
		return State{}, errors.Trace(err)
	}
	var state State
	err := blob.DownloadObject(ctx, store, path.Join(name, stateFile), func(r io.Reader) error {
		buf := bytes.NewBuffer(nil)
		if _, err := io.Copy(buf, r); err != nil {
			return err
		}
		return json.Unmarshal(buf.Bytes(), &state)
	})
	return state, errors.Trace(err)
}

// listCheckpoints returns checkpoints in the store sorted by step.
func listCheckpoints(ctx context.Context, store blob.Store) ([]string, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var checkpoints []string
	for _, name := range names {
		dir, file := path.Split(name)
		dir = strings.TrimSuffix(dir, "/")
		if _, ok := checkpointStep(dir); ok && file == modelFile {
			checkpoints = append(checkpoints, dir)
		}
	}
	slices.SortFunc(checkpoints, func(a, b string) int {
		stepA, _ := checkpointStep(a)
		stepB, _ := checkpointStep(b)
		return stepA - stepB
	})
	return checkpoints, nil
}

// rotateCheckpoints deletes the oldest checkpoints beyond limit. The best checkpoint is
// always kept. A limit of zero keeps all checkpoints.
func rotateCheckpoints(ctx context.Context, store blob.Store, limit int, best string) error {
	if limit <= 0 {
		return nil
	}
	checkpoints, err := listCheckpoints(ctx, store)
	if err != nil {
		return errors.Trace(err)
	}
	excess := len(checkpoints) - limit
	for _, checkpoint := range checkpoints {
		if excess <= 0 {
			break
		}
		if checkpoint == best {
			continue
		}
		for _, file := range []string{modelFile, stateFile} {
			if err = store.Remove(ctx, path.Join(checkpoint, file)); err != nil {
				return errors.Trace(err)
			}
		}
		log.Named(log.Trainer).Info("delete older checkpoint", log.Checkpoint(checkpoint))
		excess--
	}
	return nil
}
