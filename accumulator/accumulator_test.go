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

package accumulator // import "github.com/electric-sql/otel-exporter-go/accumulator"

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/electric-sql/otel-exporter-go/telemetry"
)

type captureUploader struct {
	batches chan []telemetry.LogEvent
	err     error

	// gate, when non-nil, blocks every send until it is closed or
	// receives a token.
	gate chan struct{}

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func newCaptureUploader() *captureUploader {
	return &captureUploader{batches: make(chan []telemetry.LogEvent, 16)}
}

func (u *captureUploader) UploadLogs(_ context.Context, events []telemetry.LogEvent) error {
	cur := u.inflight.Add(1)
	defer u.inflight.Add(-1)
	for {
		max := u.maxInflight.Load()
		if cur <= max || u.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
	if u.gate != nil {
		<-u.gate
	}
	u.batches <- events
	return u.err
}

func waitBatch(t *testing.T, u *captureUploader) []telemetry.LogEvent {
	t.Helper()
	select {
	case batch := <-u.batches:
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("no batch flushed")
		return nil
	}
}

func event(body string) telemetry.LogEvent {
	return telemetry.LogEvent{
		Time:     time.Now(),
		Severity: telemetry.SeverityInfo,
		Body:     body,
	}
}

func events(n int) []telemetry.LogEvent {
	out := make([]telemetry.LogEvent, n)
	for i := range out {
		out[i] = event(fmt.Sprintf("event-%d", i))
	}
	return out
}

func TestThresholdFlush(t *testing.T) {
	up := newCaptureUploader()
	a := New(Config{MaxBufferSize: 3, DebounceInterval: time.Hour, ConcurrencyLimit: 4}, up, nil)
	defer a.Shutdown(context.Background())

	for _, ev := range events(3) {
		a.Enqueue(ev)
	}
	batch := waitBatch(t, up)
	require.Len(t, batch, 3)
	require.Equal(t, "event-0", batch[0].Body)
}

func TestDebounceSingleEvent(t *testing.T) {
	up := newCaptureUploader()
	a := New(Config{MaxBufferSize: 100, DebounceInterval: 300 * time.Millisecond, ConcurrencyLimit: 4}, up, nil)
	defer a.Shutdown(context.Background())

	start := time.Now()
	a.Enqueue(event("only"))

	select {
	case <-up.batches:
		t.Fatal("flush before the debounce interval elapsed")
	case <-time.After(200 * time.Millisecond):
	}

	batch := waitBatch(t, up)
	require.Len(t, batch, 1)
	require.Equal(t, "only", batch[0].Body)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestDebounceNotResetByLaterEnqueues(t *testing.T) {
	up := newCaptureUploader()
	a := New(Config{MaxBufferSize: 100, DebounceInterval: 250 * time.Millisecond, ConcurrencyLimit: 4}, up, nil)
	defer a.Shutdown(context.Background())

	start := time.Now()
	a.Enqueue(event("first"))
	// Keep enqueuing past the debounce deadline; the timer armed by
	// the first event must still fire on time.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(50 * time.Millisecond):
				a.Enqueue(event("later"))
			}
		}
	}()

	batch := waitBatch(t, up)
	close(stop)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	require.Less(t, elapsed, time.Second)
	require.Equal(t, "first", batch[0].Body)
}

func TestThresholdThenDebounceRemainder(t *testing.T) {
	up := newCaptureUploader()
	a := New(Config{MaxBufferSize: 3, DebounceInterval: 400 * time.Millisecond, ConcurrencyLimit: 4}, up, nil)
	defer a.Shutdown(context.Background())

	start := time.Now()
	for _, ev := range events(4) {
		a.Enqueue(ev)
	}

	first := waitBatch(t, up)
	require.Len(t, first, 3)
	require.Less(t, time.Since(start), 300*time.Millisecond)

	second := waitBatch(t, up)
	require.Len(t, second, 1)
	require.Equal(t, "event-3", second[0].Body)
	require.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestConcurrencyBound(t *testing.T) {
	up := newCaptureUploader()
	up.gate = make(chan struct{})
	a := New(Config{MaxBufferSize: 1, DebounceInterval: time.Hour, ConcurrencyLimit: 2}, up, nil)
	defer a.Shutdown(context.Background())

	// Two flushes occupy both slots; the third blocks the actor until
	// a completion frees one.
	a.Enqueue(event("a"))
	a.Enqueue(event("b"))

	enqueued := make(chan struct{})
	go func() {
		a.Enqueue(event("c"))
		close(enqueued)
	}()

	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 2, up.inflight.Load())

	close(up.gate)
	<-enqueued
	for i := 0; i < 3; i++ {
		waitBatch(t, up)
	}
	require.EqualValues(t, 2, up.maxInflight.Load())
}

func TestFailureLoggedAndDiscarded(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	up := newCaptureUploader()
	up.err = errors.New("collector unavailable")
	a := New(Config{MaxBufferSize: 2, DebounceInterval: time.Hour, ConcurrencyLimit: 2}, up, zap.New(core))
	defer a.Shutdown(context.Background())

	a.Enqueue(event("a"))
	a.Enqueue(event("b"))
	waitBatch(t, up)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("log export failed").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The failed batch is gone; the next cycle is unaffected.
	a.Enqueue(event("c"))
	a.Enqueue(event("d"))
	next := waitBatch(t, up)
	require.Len(t, next, 2)
	require.Equal(t, "c", next[0].Body)
}

func TestShutdownFlushesRemainder(t *testing.T) {
	up := newCaptureUploader()
	a := New(Config{MaxBufferSize: 100, DebounceInterval: time.Hour, ConcurrencyLimit: 2}, up, nil)

	a.Enqueue(event("a"))
	a.Enqueue(event("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	batch := waitBatch(t, up)
	require.Len(t, batch, 2)

	// Producer calls after shutdown are dropped, not blocked.
	done := make(chan struct{})
	go func() {
		a.Enqueue(event("late"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue after shutdown blocked")
	}
}

func TestShutdownWithEmptyBuffer(t *testing.T) {
	up := newCaptureUploader()
	a := New(Config{MaxBufferSize: 1, DebounceInterval: time.Hour, ConcurrencyLimit: 1}, up, nil)

	a.Enqueue(event("a"))
	waitBatch(t, up)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
}
