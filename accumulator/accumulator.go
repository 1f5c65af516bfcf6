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

// Package accumulator buffers normalized log events and dispatches
// them as concurrency-bounded asynchronous batch sends.
//
// The accumulator is a single-owner mailbox actor: one goroutine owns
// the buffer, the debounce timer and the in-flight set, and processes
// a strictly ordered stream of commands.  When the number of in-flight
// sends reaches the configured limit the actor suspends its own
// command processing until it observes a completion; with an
// unbuffered command channel this is genuine blocking backpressure on
// the producer path, not dropping.
package accumulator // import "github.com/electric-sql/otel-exporter-go/accumulator"

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/electric-sql/otel-exporter-go/telemetry"
)

// Uploader sends one batch of log events to the collector.
type Uploader interface {
	UploadLogs(ctx context.Context, events []telemetry.LogEvent) error
}

// Config carries the accumulator's slice of the validated top-level
// configuration.  It is not revalidated here.
type Config struct {
	// MaxBufferSize triggers an immediate flush when the buffer
	// reaches this many events.
	MaxBufferSize int
	// DebounceInterval bounds the flush latency from the first
	// buffered event.  The timer is single-shot and is not re-armed
	// by later enqueues.
	DebounceInterval time.Duration
	// ConcurrencyLimit bounds the number of simultaneously
	// in-flight sends.
	ConcurrencyLimit int
}

type cmdKind int

const (
	cmdEnqueue cmdKind = iota
	cmdTimerFire
	cmdSwap
	cmdShutdown
)

type command struct {
	kind cmdKind

	event telemetry.LogEvent // cmdEnqueue
	gen   uint64             // cmdTimerFire

	uploader Uploader // cmdSwap

	ctx  context.Context // cmdShutdown
	done chan struct{}
}

type sendResult struct {
	id  uint64
	err error
}

// Accumulator buffers log events and flushes them on a size threshold
// or debounce timer.
type Accumulator struct {
	cfg    Config
	logger *zap.Logger

	cmds     chan command
	sendDone chan sendResult
	stopped  chan struct{}
}

// New starts an Accumulator sending through uploader.
func New(cfg Config, uploader Uploader, logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Accumulator{
		cfg:      cfg,
		logger:   logger,
		cmds:     make(chan command),
		sendDone: make(chan sendResult, cfg.ConcurrencyLimit+1),
		stopped:  make(chan struct{}),
	}
	go a.run(uploader)
	return a
}

// Enqueue appends one event to the buffer.  It never returns an
// error: telemetry is fire-and-forget from the producer's
// perspective.  When send capacity is exhausted Enqueue blocks until
// a slot frees; after Shutdown it is a no-op.
func (a *Accumulator) Enqueue(ev telemetry.LogEvent) {
	select {
	case a.cmds <- command{kind: cmdEnqueue, event: ev}:
	case <-a.stopped:
	}
}

// SetUploader swaps the transport for subsequent flushes.  In-flight
// sends keep the uploader captured at dispatch time.
func (a *Accumulator) SetUploader(uploader Uploader) {
	select {
	case a.cmds <- command{kind: cmdSwap, uploader: uploader}:
	case <-a.stopped:
	}
}

// Shutdown forces one final flush of any buffered events, bypassing
// the concurrency-limit wait, and waits for the final send until ctx
// expires.  In-flight sends are not cancelled; their outcomes may be
// discarded.
func (a *Accumulator) Shutdown(ctx context.Context) error {
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

// actorState is the BufferState owned exclusively by the run goroutine.
type actorState struct {
	uploader Uploader

	buf        []telemetry.LogEvent
	timer      *time.Timer
	timerGen   uint64
	timerArmed bool

	inflight map[uint64]struct{}
	nextID   uint64
}

func (a *Accumulator) run(uploader Uploader) {
	defer close(a.stopped)

	st := &actorState{
		uploader: uploader,
		inflight: make(map[uint64]struct{}),
	}
	defer func() {
		if st.timerArmed {
			st.timer.Stop()
		}
	}()

	for {
		select {
		case cmd := <-a.cmds:
			switch cmd.kind {
			case cmdEnqueue:
				st.buf = append(st.buf, cmd.event)
				a.evaluate(st, false)

			case cmdTimerFire:
				if !st.timerArmed || cmd.gen != st.timerGen {
					// A threshold flush already consumed this
					// accumulation cycle.
					continue
				}
				st.timerArmed = false
				a.evaluate(st, true)

			case cmdSwap:
				st.uploader = cmd.uploader

			case cmdShutdown:
				a.drain(st, cmd.ctx)
				close(cmd.done)
				return
			}

		case res := <-a.sendDone:
			a.complete(st, res)
		}
	}
}

// evaluate applies the flush policy after an enqueue or timer fire:
// wait for send capacity first, then flush on threshold (or timer
// expiry), else make sure a debounce timer is armed.
func (a *Accumulator) evaluate(st *actorState, timerExpired bool) {
	// True backpressure: suspend command processing, observing only
	// completions, until an in-flight slot frees.
	for len(st.inflight) >= a.cfg.ConcurrencyLimit {
		a.complete(st, <-a.sendDone)
	}

	switch {
	case timerExpired, len(st.buf) >= a.cfg.MaxBufferSize:
		a.flush(st)
	case !st.timerArmed:
		st.timerGen++
		gen := st.timerGen
		st.timerArmed = true
		st.timer = time.AfterFunc(a.cfg.DebounceInterval, func() {
			select {
			case a.cmds <- command{kind: cmdTimerFire, gen: gen}:
			case <-a.stopped:
			}
		})
	}
}

// flush moves the entire buffer into a new send task under a fresh
// in-flight identifier and clears the buffer and timer handle.
func (a *Accumulator) flush(st *actorState) uint64 {
	events := st.buf
	st.buf = nil
	if st.timerArmed {
		st.timer.Stop()
		st.timerArmed = false
	}
	st.timerGen++

	st.nextID++
	id := st.nextID
	st.inflight[id] = struct{}{}

	uploader := st.uploader
	go func() {
		res := sendResult{id: id, err: uploader.UploadLogs(context.Background(), events)}
		select {
		case a.sendDone <- res:
		case <-a.stopped:
		}
	}()
	return id
}

// complete frees the send's slot.  Failures are logged and the batch
// is discarded; there is no retry and no re-buffering.
func (a *Accumulator) complete(st *actorState, res sendResult) {
	delete(st.inflight, res.id)
	if res.err != nil {
		a.logger.Warn("log export failed", zap.Error(res.err))
	}
}

// drain dispatches one final flush without waiting for a free slot,
// then waits for it to finish until ctx expires.
func (a *Accumulator) drain(st *actorState, ctx context.Context) {
	if len(st.buf) == 0 {
		return
	}
	last := a.flush(st)
	for {
		select {
		case res := <-a.sendDone:
			a.complete(st, res)
			if res.id == last {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
