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

// Package aggregator maintains per-metric, per-tag-set aggregation
// state and exports the full state on a fixed period.
//
// The aggregator is a single-owner mailbox actor: one goroutine owns
// all state and processes a strictly ordered stream of commands, so no
// locking is needed.  Exports are dispatched asynchronously and never
// block the next cycle; state is cleared unconditionally at every
// export regardless of the send outcome.
package aggregator // import "github.com/electric-sql/otel-exporter-go/aggregator"

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/electric-sql/otel-exporter-go/telemetry"
)

// Uploader sends one aggregation snapshot to the collector.
type Uploader interface {
	UploadMetrics(ctx context.Context, snap telemetry.Snapshot) error
}

// Config carries the aggregator's slice of the validated top-level
// configuration.  It is not revalidated here.
type Config struct {
	// ExportPeriod is the fixed delay between export ticks.
	ExportPeriod time.Duration
	// DefaultBounds are the histogram bucket bounds used when a
	// metric declares none.
	DefaultBounds []float64
	// Declarations statically fix metric kinds and bounds, taking
	// precedence over the name-suffix convention.
	Declarations []telemetry.Declaration
}

type cmdKind int

const (
	cmdRecord cmdKind = iota
	cmdTick
	cmdSwap
	cmdShutdown
)

type command struct {
	kind cmdKind

	// cmdRecord
	name   string
	value  float64
	attrs  attribute.Set
	bounds []float64

	// cmdSwap
	uploader Uploader

	// cmdShutdown
	done chan struct{}
	ctx  context.Context
}

// series is the running aggregation value for one tag-set.
type series struct {
	attrs   attribute.Set
	value   float64   // counter, sum, gauge
	samples []float64 // histogram
}

// instrument is the aggregation state for one metric name.  The kind
// is classified on first sight and never changes.
type instrument struct {
	name    string
	kind    telemetry.MetricKind
	bounds  []float64
	byAttrs map[attribute.Distinct]*series
	ordered []*series
}

// Aggregator accumulates measurements and periodically exports them.
type Aggregator struct {
	cfg      Config
	logger   *zap.Logger
	declared map[string]telemetry.Declaration

	cmds    chan command
	stopped chan struct{}
}

// New starts an Aggregator exporting through uploader.  The export
// timer is armed immediately and reschedules itself after every tick.
func New(cfg Config, uploader Uploader, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		cfg:      cfg,
		logger:   logger,
		declared: make(map[string]telemetry.Declaration, len(cfg.Declarations)),
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
	}
	for _, d := range cfg.Declarations {
		a.declared[d.Name] = d
	}
	go a.run(uploader)
	return a
}

// RecordMeasurement merges one measurement into the aggregation state
// for (name, tags).  The metric kind is classified on first sight:
// by declaration if one exists, else by name suffix.  Optional
// explicit bounds apply only when the metric turns out to be a
// histogram and only on first sight.
//
// RecordMeasurement never returns an error; telemetry is
// fire-and-forget from the producer's perspective.
func (a *Aggregator) RecordMeasurement(name string, value float64, tags map[string]string, bounds ...float64) {
	kvs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		kvs = append(kvs, attribute.String(k, v))
	}
	cmd := command{
		kind:   cmdRecord,
		name:   name,
		value:  value,
		attrs:  attribute.NewSet(kvs...),
		bounds: bounds,
	}
	select {
	case a.cmds <- cmd:
	case <-a.stopped:
	}
}

// SetUploader swaps the transport for subsequent exports.  Exports
// already dispatched keep the uploader captured at dispatch time.
func (a *Aggregator) SetUploader(uploader Uploader) {
	select {
	case a.cmds <- command{kind: cmdSwap, uploader: uploader}:
	case <-a.stopped:
	}
}

// Shutdown stops the export timer and performs one final export of any
// pending state, bounded by ctx.
func (a *Aggregator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case a.cmds <- command{kind: cmdShutdown, ctx: ctx, done: done}:
	case <-a.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) run(uploader Uploader) {
	defer close(a.stopped)

	start := time.Now()
	instruments := make(map[string]*instrument)

	tick := time.AfterFunc(a.cfg.ExportPeriod, a.postTick)
	defer tick.Stop()

	for cmd := range a.cmds {
		switch cmd.kind {
		case cmdRecord:
			a.merge(instruments, cmd)

		case cmdTick:
			a.export(uploader, instruments, start, nil)
			instruments = make(map[string]*instrument)
			// Fixed delay, not fixed rate: the next tick is
			// scheduled only after this one is processed.
			tick.Reset(a.cfg.ExportPeriod)

		case cmdSwap:
			uploader = cmd.uploader

		case cmdShutdown:
			a.export(uploader, instruments, start, cmd.ctx)
			close(cmd.done)
			return
		}
	}
}

func (a *Aggregator) postTick() {
	select {
	case a.cmds <- command{kind: cmdTick}:
	case <-a.stopped:
	}
}

func (a *Aggregator) merge(instruments map[string]*instrument, cmd command) {
	inst, ok := instruments[cmd.name]
	if !ok {
		inst = a.newInstrument(cmd.name, cmd.bounds)
		instruments[cmd.name] = inst
	}
	s, ok := inst.byAttrs[cmd.attrs.Equivalent()]
	if !ok {
		s = &series{attrs: cmd.attrs}
		inst.byAttrs[cmd.attrs.Equivalent()] = s
		inst.ordered = append(inst.ordered, s)
	}
	switch inst.kind {
	case telemetry.KindCounter, telemetry.KindSum:
		s.value += cmd.value
	case telemetry.KindGauge:
		s.value = cmd.value
	case telemetry.KindHistogram:
		s.samples = append(s.samples, cmd.value)
	}
}

func (a *Aggregator) newInstrument(name string, explicitBounds []float64) *instrument {
	inst := &instrument{
		name:    name,
		byAttrs: make(map[attribute.Distinct]*series),
	}
	if d, ok := a.declared[name]; ok {
		inst.kind = d.Kind
		inst.bounds = d.Bounds
	} else {
		inst.kind = classify(name)
		inst.bounds = explicitBounds
	}
	if inst.kind == telemetry.KindHistogram && len(inst.bounds) == 0 {
		inst.bounds = a.cfg.DefaultBounds
	}
	return inst
}

// classify infers the metric kind from the name-suffix convention.
// Unrecognized suffixes default to counter.
func classify(name string) telemetry.MetricKind {
	switch {
	case strings.HasSuffix(name, ".sum"):
		return telemetry.KindSum
	case strings.HasSuffix(name, ".last_value"):
		return telemetry.KindGauge
	case strings.HasSuffix(name, ".distribution"):
		return telemetry.KindHistogram
	default:
		return telemetry.KindCounter
	}
}

// export converts the full aggregation state to a snapshot and
// dispatches the send.  When ctx is nil the send runs asynchronously
// and never blocks the actor; a non-nil ctx (shutdown) makes the send
// synchronous and bounded.  The caller clears the state regardless of
// the send's outcome.
func (a *Aggregator) export(uploader Uploader, instruments map[string]*instrument, start time.Time, ctx context.Context) {
	if len(instruments) == 0 {
		return
	}
	snap := snapshot(instruments, start)

	if ctx != nil {
		if err := uploader.UploadMetrics(ctx, snap); err != nil {
			a.logger.Warn("final metric export failed", zap.Error(err))
		}
		return
	}
	go func() {
		if err := uploader.UploadMetrics(context.Background(), snap); err != nil {
			a.logger.Warn("metric export failed", zap.Error(err))
		}
	}()
}

func snapshot(instruments map[string]*instrument, start time.Time) telemetry.Snapshot {
	snap := telemetry.Snapshot{
		Start:   start,
		Now:     time.Now(),
		Metrics: make([]telemetry.Metric, 0, len(instruments)),
	}
	for _, inst := range instruments {
		m := telemetry.Metric{
			Name:   inst.name,
			Kind:   inst.kind,
			Bounds: inst.bounds,
			Points: make([]telemetry.Point, 0, len(inst.ordered)),
		}
		for _, s := range inst.ordered {
			pt := telemetry.Point{Attributes: s.attrs}
			if inst.kind == telemetry.KindHistogram {
				pt.Count = uint64(len(s.samples))
				pt.BucketCounts = bucketCounts(inst.bounds, s.samples)
				for _, v := range s.samples {
					pt.Sum += v
				}
			} else {
				pt.Value = s.value
			}
			m.Points = append(m.Points, pt)
		}
		snap.Metrics = append(snap.Metrics, m)
	}
	sort.Slice(snap.Metrics, func(i, j int) bool {
		return snap.Metrics[i].Name < snap.Metrics[j].Name
	})
	return snap
}

// bucketCounts places each sample in the first bucket i such that
// v <= bounds[i], or in the overflow bucket when no bound qualifies.
func bucketCounts(bounds []float64, samples []float64) []uint64 {
	counts := make([]uint64, len(bounds)+1)
	for _, v := range samples {
		counts[sort.SearchFloat64s(bounds, v)]++
	}
	return counts
}
