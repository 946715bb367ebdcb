// Copyright 2020 gorse Project Authors
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
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// MovieLens1M is the archive of the MovieLens 1M dataset.
const MovieLens1M = "https://files.grouplens.org/datasets/movielens/ml-1m.zip"

// MovieLensPaths returns paths of files in an extracted MovieLens dataset.
func MovieLensPaths(dir string) Paths {
	return Paths{
		Interactions: filepath.Join(dir, "ratings.dat"),
		Users:        filepath.Join(dir, "users.dat"),
		Items:        filepath.Join(dir, "movies.dat"),
	}
}

type downloadOptions struct {
	progress func(r io.Reader, size int64) io.Reader
}

type DownloadOption func(*downloadOptions)

// WithProgress wraps the response body to report progress.
func WithProgress(wrap func(r io.Reader, size int64) io.Reader) DownloadOption {
	return func(o *downloadOptions) {
		o.progress = wrap
	}
}

// DownloadAndUnzip downloads a zip archive and extracts it to dir. The archive is
// expected to contain a directory named after it, whose path is returned. Nothing is
// downloaded if the directory exists.
func DownloadAndUnzip(ctx context.Context, url, dir string, opts ...DownloadOption) (string, error) {
	var o downloadOptions
	for _, opt := range opts {
		opt(&o)
	}
	name := strings.TrimSuffix(path.Base(url), ".zip")
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		log.Named(log.Dataset).Info("dataset exists", zap.String("path", target))
		return target, nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", errors.Trace(err)
	}
	zipFileName := filepath.Join(dir, name+".zip")
	if err := downloadFromUrl(ctx, url, zipFileName, o); err != nil {
		return "", errors.Trace(err)
	}
	defer os.Remove(zipFileName)
	if _, err := unzip(zipFileName, dir); err != nil {
		return "", errors.Trace(err)
	}
	return target, nil
}

// downloadFromUrl downloads file from URL.
func downloadFromUrl(ctx context.Context, src, dst string, o downloadOptions) error {
	log.Named(log.Dataset).Info("download dataset", zap.String("source", src), zap.String("destination", dst))
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		response, err := http.DefaultClient.Do(request)
		if err != nil {
			return struct{}{}, err
		}
		defer response.Body.Close()
		if response.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("download %s: %s", src, response.Status)
		} else if response.StatusCode != http.StatusOK {
			return struct{}{}, backoff.Permanent(fmt.Errorf("download %s: %s", src, response.Status))
		}
		var body io.Reader = response.Body
		if o.progress != nil {
			body = o.progress(body, response.ContentLength)
		}
		output, err := os.Create(dst)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		defer output.Close()
		_, err = io.Copy(output, body)
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
		backoff.WithMaxElapsedTime(10*time.Minute),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Named(log.Dataset).Warn("retry downloading dataset", zap.String("source", src), zap.Duration("after", d), zap.Error(err))
		}))
	return err
}

// unzip zip file.
func unzip(src, dst string) ([]string, error) {
	var fileNames []string
	// Open zip file
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	// Extract files
	for _, f := range r.File {
		filePath := filepath.Join(dst, f.Name)
		// Check for ZipSlip
		if !strings.HasPrefix(filePath, filepath.Clean(dst)+string(os.PathSeparator)) {
			return nil, errors.NotValidf("file path %s", f.Name)
		}
		fileNames = append(fileNames, filePath)
		if f.FileInfo().IsDir() {
			if err = os.MkdirAll(filePath, os.ModePerm); err != nil {
				return nil, errors.Trace(err)
			}
			continue
		}
		if err = extract(f, filePath); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return fileNames, nil
}

func extract(f *zip.File, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	outFile, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	if _, err = io.Copy(outFile, rc); err != nil {
		_ = outFile.Close()
		return err
	}
	return outFile.Close()
}
