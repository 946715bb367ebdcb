// Copyright 2025 gorse Project Authors
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

	"github.com/juju/errors"
)

const (
	TypePOSIX = "posix"
	TypeS3    = "s3"
	TypeGCS   = "gcs"
	TypeAzure = "azure"
)

// Store is an object storage. Names are slash separated paths relative to the root of
// the store.
type Store interface {
	// Open an object for reading. The error matches fs.ErrNotExist if the object does
	// not exist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create an object for writing. The object is committed when the writer is closed, and
	// Close returns the error of the upload.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// List names of all objects.
	List(ctx context.Context) ([]string, error)
	// Remove an object.
	Remove(ctx context.Context, name string) error
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

// Config selects and configures a store.
type Config struct {
	Type  string      `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Dir   string      `mapstructure:"dir"`
	S3    S3Config    `mapstructure:"s3"`
	GCS   GCSConfig   `mapstructure:"gcs"`
	Azure AzureConfig `mapstructure:"azure"`
}

// NewStore creates a store from config.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Type {
	case TypePOSIX, "":
		return NewPOSIX(cfg.Dir), nil
	case TypeS3:
		return NewS3(cfg.S3)
	case TypeGCS:
		return NewGCS(cfg.GCS)
	case TypeAzure:
		return NewAzureBlob(cfg.Azure)
	}
	return nil, errors.NotSupportedf("blob store %q", cfg.Type)
}

// pipeWriter streams written data to an upload running in another goroutine.
type pipeWriter struct {
	*io.PipeWriter
	done chan struct{}
	err  error
}

func newPipeWriter(upload func(r io.Reader) error) *pipeWriter {
	pr, pw := io.Pipe()
	w := &pipeWriter{PipeWriter: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = upload(pr)
		// unblock writers if the upload stops early
		_ = pr.CloseWithError(w.err)
	}()
	return w
}

// Close finishes writing and waits for the upload.
func (w *pipeWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	<-w.done
	return errors.Trace(w.err)
}
