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

package blob

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxTransferJobs = 8
	maxTries        = 5
)

func retry(ctx context.Context, name string, operation func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := operation()
		if err != nil && (errors.Is(err, fs.ErrNotExist) || errors.Is(err, context.Canceled)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Named(log.Storage).Warn("retry blob transfer", log.Key(name), zap.Duration("after", d), zap.Error(err))
		}))
	return err
}

// UploadObject writes an object with retries.
func UploadObject(ctx context.Context, store Store, name string, marshal func(w io.Writer) error) error {
	return retry(ctx, name, func() error {
		w, err := store.Create(ctx, name)
		if err != nil {
			return errors.Trace(err)
		}
		if err = marshal(w); err != nil {
			_ = w.Close()
			return errors.Trace(err)
		}
		return errors.Trace(w.Close())
	})
}

// DownloadObject reads an object with retries.
func DownloadObject(ctx context.Context, store Store, name string, unmarshal func(r io.Reader) error) error {
	return retry(ctx, name, func() error {
		r, err := store.Open(ctx, name)
		if err != nil {
			return errors.Trace(err)
		}
		defer r.Close()
		return errors.Trace(unmarshal(r))
	})
}

// UploadDir uploads all files under a local directory to prefix in parallel. It returns
// the number of uploaded files.
func UploadDir(ctx context.Context, store Store, localDir, prefix string) (int, error) {
	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Trace(err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTransferJobs)
	for _, file := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(localDir, file)
			if err != nil {
				return errors.Trace(err)
			}
			name := path.Join(prefix, filepath.ToSlash(rel))
			return UploadObject(ctx, store, name, func(w io.Writer) error {
				f, err := os.Open(file)
				if err != nil {
					return errors.Trace(err)
				}
				defer f.Close()
				_, err = io.Copy(w, f)
				return errors.Trace(err)
			})
		})
	}
	if err = g.Wait(); err != nil {
		return 0, err
	}
	log.Named(log.Storage).Info("upload directory", zap.String("dir", localDir), zap.String("prefix", prefix), zap.Int("n_files", len(files)))
	return len(files), nil
}

// DownloadDir downloads all objects under prefix into a local directory in parallel. It
// returns the number of downloaded files.
func DownloadDir(ctx context.Context, store Store, prefix, localDir string) (int, error) {
	names, err := store.List(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	prefix = strings.Trim(prefix, "/")
	var matched []string
	for _, name := range names {
		if prefix == "" || strings.HasPrefix(name, prefix+"/") {
			matched = append(matched, name)
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTransferJobs)
	for _, name := range matched {
		g.Go(func() error {
			rel := strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/")
			dst := filepath.Join(localDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
				return errors.Trace(err)
			}
			return DownloadObject(ctx, store, name, func(r io.Reader) error {
				f, err := os.Create(dst)
				if err != nil {
					return errors.Trace(err)
				}
				if _, err = io.Copy(f, r); err != nil {
					_ = f.Close()
					return errors.Trace(err)
				}
				return errors.Trace(f.Close())
			})
		})
	}
	if err = g.Wait(); err != nil {
		return 0, err
	}
	return len(matched), nil
}
