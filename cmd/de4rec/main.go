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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/gorse-io/de4rec/cmd/version"
	"github.com/gorse-io/de4rec/common/encoding"
	"github.com/gorse-io/de4rec/common/log"
	"github.com/gorse-io/de4rec/config"
	"github.com/gorse-io/de4rec/trainer"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:           "de4rec",
	Short:         "Train two-tower recommendation models.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// setup logger
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
		otel.SetErrorHandler(log.GetErrorHandler())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownTracing()
	},
}

// tracerProvider is installed by the first loaded config with tracing enabled.
var tracerProvider *sdktrace.TracerProvider

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show the version of de4rec",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), version.BuildInfo())
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(versionCommand)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := rootCommand.ExecuteContext(ctx)
	// spans of failed commands are flushed too
	shutdownTracing()
	if err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = setupTracing(cmd.Context(), conf); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

func setupTracing(ctx context.Context, conf *config.Config) error {
	if !conf.Tracing.EnableTracing || tracerProvider != nil {
		return nil
	}
	tp, err := conf.Tracing.NewTracerProvider(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	otel.SetTracerProvider(tp)
	tracerProvider = tp
	log.Logger().Info("enable tracing",
		zap.String("exporter", conf.Tracing.Exporter),
		zap.String("collector_endpoint", conf.Tracing.CollectorEndpoint),
		zap.String("sampler", conf.Tracing.Sampler))
	return nil
}

func shutdownTracing() {
	if tracerProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Logger().Warn("failed to flush spans", zap.Error(err))
	}
	tracerProvider = nil
}

func printMetrics(w io.Writer, metrics trainer.Metrics) error {
	names := lo.Keys(metrics)
	slices.Sort(names)
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	for _, name := range names {
		if err := table.Append([]string{name, encoding.FormatFloat32(float32(metrics[name]))}); err != nil {
			return err
		}
	}
	return table.Render()
}
