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

package main

import (
	"io"

	"github.com/gorse-io/de4rec/dataset"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var downloadCommand = &cobra.Command{
	Use:   "download",
	Short: "Download the MovieLens dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		dir, _ := cmd.Flags().GetString("dir")
		var opts []dataset.DownloadOption
		if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
			opts = append(opts, dataset.WithProgress(func(r io.Reader, size int64) io.Reader {
				pbReader := progressbar.NewReader(r, progressbar.DefaultBytes(size, "downloading dataset"))
				return &pbReader
			}))
		}
		path, err := dataset.DownloadAndUnzip(cmd.Context(), url, dir, opts...)
		if err != nil {
			return errors.Trace(err)
		}
		paths := dataset.MovieLensPaths(path)
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Key", "Path")
		for _, row := range [][]string{
			{"data.interactions", paths.Interactions},
			{"data.users", paths.Users},
			{"data.items", paths.Items},
		} {
			if err = table.Append(row); err != nil {
				return errors.Trace(err)
			}
		}
		return table.Render()
	},
}

func init() {
	rootCommand.AddCommand(downloadCommand)
	downloadCommand.Flags().String("url", dataset.MovieLens1M, "URL of the zip archive")
	downloadCommand.Flags().String("dir", "data", "directory to extract the dataset")
	downloadCommand.Flags().Bool("progress", true, "show progress bar")
}
