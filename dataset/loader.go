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
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

const (
	DefaultSeparator = "::"
	DefaultEncoding  = "utf-8"
	// LabelEncoding is the conventional encoding of user and item label files.
	LabelEncoding = "latin1"
)

// ErrMalformedRecord is returned when a line has too few fields or a non-integer id.
var ErrMalformedRecord = errors.New("malformed record")

// ParseError locates a malformed record.
type ParseError struct {
	Path string
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v: %q", e.Path, e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type loadOptions struct {
	separator string
	encoding  string
}

type LoadOption func(*loadOptions)

// WithSeparator sets the field separator.
func WithSeparator(sep string) LoadOption {
	return func(o *loadOptions) {
		o.separator = sep
	}
}

// WithEncoding sets the text encoding by its IANA name (e.g. "utf-8", "latin1").
func WithEncoding(name string) LoadOption {
	return func(o *loadOptions) {
		o.encoding = name
	}
}

func newLoadOptions(opts []LoadOption) loadOptions {
	o := loadOptions{separator: DefaultSeparator, encoding: DefaultEncoding}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LoadInteractions loads (user id, item id) records from a file. Extra fields are ignored.
func LoadInteractions(path string, opts ...LoadOption) ([]Interaction, error) {
	o := newLoadOptions(opts)
	r, closer, err := openDecoded(path, o.encoding)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer closer.Close()
	records, err := readIntInt(r, o.separator, path)
	if err != nil {
		return nil, err
	}
	interactions := make([]Interaction, len(records))
	for i, record := range records {
		interactions[i] = Interaction{UserID: record[0], ItemID: record[1]}
	}
	return interactions, nil
}

// LoadUsers loads (user id, name) records from a file.
func LoadUsers(path string, opts ...LoadOption) ([]User, error) {
	records, err := loadIntStr(path, opts)
	if err != nil {
		return nil, err
	}
	users := make([]User, len(records))
	for i, record := range records {
		users[i] = User{ID: record.ID, Name: record.Text}
	}
	return users, nil
}

// LoadItems loads (item id, name) records from a file.
func LoadItems(path string, opts ...LoadOption) ([]Item, error) {
	records, err := loadIntStr(path, opts)
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(records))
	for i, record := range records {
		items[i] = Item{ID: record.ID, Name: record.Text}
	}
	return items, nil
}

func loadIntStr(path string, opts []LoadOption) ([]IntStrRecord, error) {
	o := newLoadOptions(opts)
	r, closer, err := openDecoded(path, o.encoding)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer closer.Close()
	return readIntStr(r, o.separator, path)
}

func openDecoded(path, encoding string) (io.Reader, io.Closer, error) {
	enc, err := ianaindex.IANA.Encoding(encoding)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "unknown encoding %q", encoding)
	}
	if enc == nil {
		return nil, nil, errors.NotSupportedf("encoding %q", encoding)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return transform.NewReader(file, enc.NewDecoder()), file, nil
}

// ReadIntIntRecords reads records whose first two fields are integers.
func ReadIntIntRecords(r io.Reader, sep string) ([][2]int32, error) {
	return readIntInt(r, sep, "")
}

// IntStrRecord is an integer id followed by a string.
type IntStrRecord struct {
	ID   int32
	Text string
}

// ReadIntStrRecords reads records whose first field is an integer. The remaining fields
// are joined by a single space.
func ReadIntStrRecords(r io.Reader, sep string) ([]IntStrRecord, error) {
	return readIntStr(r, sep, "")
}

func readIntInt(r io.Reader, sep, path string) ([][2]int32, error) {
	var records [][2]int32
	err := scanLines(r, sep, path, func(fields []string) error {
		if len(fields) < 2 {
			return ErrMalformedRecord
		}
		userId, err := parseID(fields[0])
		if err != nil {
			return err
		}
		itemId, err := parseID(fields[1])
		if err != nil {
			return err
		}
		records = append(records, [2]int32{userId, itemId})
		return nil
	})
	return records, err
}

func readIntStr(r io.Reader, sep, path string) ([]IntStrRecord, error) {
	var records []IntStrRecord
	err := scanLines(r, sep, path, func(fields []string) error {
		id, err := parseID(fields[0])
		if err != nil {
			return err
		}
		records = append(records, IntStrRecord{ID: id, Text: strings.Join(fields[1:], " ")})
		return nil
	})
	return records, err
}

func parseID(s string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return int32(v), nil
}

func scanLines(r io.Reader, sep, path string, parse func([]string) error) error {
	if sep == "" {
		return errors.NotValidf("empty separator")
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := parse(strings.Split(line, sep)); err != nil {
			return &ParseError{Path: path, Line: lineNumber, Text: line, Err: err}
		}
	}
	return errors.Trace(scanner.Err())
}
