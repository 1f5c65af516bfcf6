// Copyright The ElectricSQL Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package otelexport accumulates telemetry produced by a running
// application and exports it to an OTLP collector over HTTP, under
// bounded memory, bounded outbound concurrency and bounded latency.
//
// The library lives inside the application process.  Log events are
// buffered and flushed on a debounce timer or size threshold; metric
// measurements are merged into per-series aggregation state and
// exported on a fixed period.  Delivery is at-most-once: failed
// exports are logged and the batch is dropped.
package otelexport

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/electric-sql/otel-exporter-go/accumulator"
	"github.com/electric-sql/otel-exporter-go/aggregator"
	"github.com/electric-sql/otel-exporter-go/telemetry"
	"github.com/electric-sql/otel-exporter-go/transport"
)

// Exporter is the producer-facing entry point.  All methods are safe
// for concurrent use and, with the exception of Shutdown, never
// return errors to the producer: telemetry export is fire-and-forget.
type Exporter struct {
	cfg    Config
	logger *zap.Logger
	norm   *telemetry.Normalizer

	logs    *accumulator.Accumulator
	metrics *aggregator.Aggregator
}

// New validates the configuration (environment first, then options)
// and starts the accumulation and aggregation engines.  Configuration
// failure here is the only fatal error in the library's lifecycle.
func New(ctx context.Context, opts ...Option) (*Exporter, error) {
	cfg, err := newConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := transport.NewClient(cfg.transportConfig())

	e := &Exporter{
		cfg:    cfg,
		logger: logger,
		norm:   telemetry.NewNormalizer(cfg.MetadataKeys, cfg.MetadataKeyMap),
	}
	e.logs = accumulator.New(accumulator.Config{
		MaxBufferSize:    cfg.MaxBufferSize,
		DebounceInterval: cfg.DebounceInterval,
		ConcurrencyLimit: cfg.ConcurrencyLimit,
	}, client, logger)
	e.metrics = aggregator.New(aggregator.Config{
		ExportPeriod:  cfg.ExportPeriod,
		DefaultBounds: cfg.HistogramBounds,
		Declarations:  cfg.Metrics,
	}, client, logger)
	return e, nil
}

// Enqueue buffers one normalized log event for export.
func (e *Exporter) Enqueue(ev telemetry.LogEvent) {
	e.logs.Enqueue(ev)
}

// EmitLog normalizes a raw application log event (level name,
// message, metadata) and buffers it for export.
func (e *Exporter) EmitLog(at time.Time, level, body string, metadata map[string]any) {
	e.logs.Enqueue(e.norm.Event(at, level, body, metadata))
}

// ReportCrash buffers a log record describing an abnormal
// termination, with forced error severity and exception.* attributes.
func (e *Exporter) ReportCrash(message, exceptionType, stacktrace string) {
	e.logs.Enqueue(telemetry.CrashEvent(time.Now(), message, exceptionType, stacktrace))
}

// RecordMeasurement merges one measurement into the aggregation state
// for (name, tags), with optional explicit histogram bounds.
func (e *Exporter) RecordMeasurement(name string, value float64, tags map[string]string, bounds ...float64) {
	e.metrics.RecordMeasurement(name, value, tags, bounds...)
}

// ApplyConfig atomically replaces the transport configuration for
// subsequent flushes and exports.  In-flight sends keep the
// configuration captured at dispatch time.  The accumulation settings
// (buffer sizes, periods) of the running engines are not changed.
func (e *Exporter) ApplyConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	client := transport.NewClient(cfg.transportConfig())
	e.logs.SetUploader(client)
	e.metrics.SetUploader(client)
	return nil
}

// Shutdown forces one final flush of buffered logs and one final
// metric export, bounded by ctx.  In-flight sends are not cancelled;
// they race with teardown and their outcomes may be discarded.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return multierr.Append(
		e.logs.Shutdown(ctx),
		e.metrics.Shutdown(ctx),
	)
}
