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

package otelexport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/proto"
)

// collector is an in-process OTLP/HTTP endpoint capturing requests.
type collector struct {
	mu       sync.Mutex
	logs     []*collogspb.ExportLogsServiceRequest
	metrics  []*colmetricspb.ExportMetricsServiceRequest
	respCode int
}

func (c *collector) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		c.mu.Lock()
		defer c.mu.Unlock()
		switch r.URL.Path {
		case "/v1/logs":
			var req collogspb.ExportLogsServiceRequest
			require.NoError(t, proto.Unmarshal(body, &req))
			c.logs = append(c.logs, &req)
		case "/v1/metrics":
			var req colmetricspb.ExportMetricsServiceRequest
			require.NoError(t, proto.Unmarshal(body, &req))
			c.metrics = append(c.metrics, &req)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		code := c.respCode
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
	})
}

func (c *collector) logRecords() []*logspb.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*logspb.LogRecord
	for _, req := range c.logs {
		for _, rl := range req.ResourceLogs {
			for _, sl := range rl.ScopeLogs {
				out = append(out, sl.LogRecords...)
			}
		}
	}
	return out
}

func (c *collector) metricCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, req := range c.metrics {
		for _, rm := range req.ResourceMetrics {
			for _, sm := range rm.ScopeMetrics {
				n += len(sm.Metrics)
			}
		}
	}
	return n
}

func TestExporterEndToEnd(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler(t))
	defer srv.Close()

	exp, err := New(context.Background(),
		WithEndpoint(srv.URL),
		WithServiceName("checkout"),
		WithCompression("none"),
		WithDebounceInterval(50*time.Millisecond),
		WithExportPeriod(50*time.Millisecond),
		WithMaxBufferSize(10),
		WithMetadataKeyMap(map[string]string{"request_id": "http.request.id"}),
	)
	require.NoError(t, err)

	exp.EmitLog(time.Now(), "error", "payment failed", map[string]any{
		"request_id": "r-42",
	})
	exp.ReportCrash("worker exited", "exit", "stack")
	exp.RecordMeasurement("payments.counter", 1, map[string]string{"status": "failed"})

	require.Eventually(t, func() bool {
		return len(col.logRecords()) == 2 && col.metricCount() >= 1
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, exp.Shutdown(ctx))

	records := col.logRecords()
	require.Equal(t, "payment failed", records[0].Body.GetStringValue())
	require.Equal(t, logspb.SeverityNumber_SEVERITY_NUMBER_ERROR, records[0].SeverityNumber)
	require.Equal(t, "http.request.id", records[0].Attributes[0].Key)

	crash := records[1]
	require.Equal(t, logspb.SeverityNumber_SEVERITY_NUMBER_ERROR, crash.SeverityNumber)
	keys := make([]string, 0, len(crash.Attributes))
	for _, kv := range crash.Attributes {
		keys = append(keys, kv.Key)
	}
	require.Contains(t, keys, "exception.message")
	require.Contains(t, keys, "exception.type")
	require.Contains(t, keys, "exception.stacktrace")

	c := col
	c.mu.Lock()
	rl := c.logs[0].ResourceLogs[0]
	c.mu.Unlock()
	var serviceName string
	for _, kv := range rl.Resource.Attributes {
		if kv.Key == "service.name" {
			serviceName = kv.Value.GetStringValue()
		}
	}
	require.Equal(t, "checkout", serviceName)
}

func TestExporterSurvivesCollectorFailures(t *testing.T) {
	col := &collector{respCode: http.StatusServiceUnavailable}
	srv := httptest.NewServer(col.handler(t))
	defer srv.Close()

	exp, err := New(context.Background(),
		WithEndpoint(srv.URL),
		WithCompression("none"),
		WithDebounceInterval(30*time.Millisecond),
		WithExportPeriod(30*time.Millisecond),
	)
	require.NoError(t, err)

	exp.EmitLog(time.Now(), "info", "first", nil)
	exp.RecordMeasurement("requests.counter", 1, nil)

	require.Eventually(t, func() bool {
		return len(col.logRecords()) >= 1 && col.metricCount() >= 1
	}, 5*time.Second, 20*time.Millisecond)

	// Failed cycles are dropped; later telemetry still flows.
	col.mu.Lock()
	col.respCode = http.StatusOK
	col.logs = nil
	col.mu.Unlock()

	exp.EmitLog(time.Now(), "info", "second", nil)
	require.Eventually(t, func() bool {
		records := col.logRecords()
		return len(records) == 1 && records[0].Body.GetStringValue() == "second"
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, exp.Shutdown(ctx))
}

func TestApplyConfigSwapsEndpoint(t *testing.T) {
	first := &collector{}
	firstSrv := httptest.NewServer(first.handler(t))
	defer firstSrv.Close()
	second := &collector{}
	secondSrv := httptest.NewServer(second.handler(t))
	defer secondSrv.Close()

	exp, err := New(context.Background(),
		WithEndpoint(firstSrv.URL),
		WithCompression("none"),
		WithDebounceInterval(30*time.Millisecond),
		WithExportPeriod(time.Hour),
	)
	require.NoError(t, err)

	exp.EmitLog(time.Now(), "info", "to-first", nil)
	require.Eventually(t, func() bool {
		return len(first.logRecords()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cfg, err := newConfig(context.Background(),
		WithEndpoint(secondSrv.URL),
		WithCompression("none"),
	)
	require.NoError(t, err)
	require.NoError(t, exp.ApplyConfig(cfg))

	exp.EmitLog(time.Now(), "info", "to-second", nil)
	require.Eventually(t, func() bool {
		return len(second.logRecords()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Len(t, first.logRecords(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, exp.Shutdown(ctx))
}

func TestApplyConfigRejectsInvalid(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col.handler(t))
	defer srv.Close()

	exp, err := New(context.Background(), WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer exp.Shutdown(context.Background())

	bad := exp.cfg
	bad.Compression = "zstd"
	require.ErrorIs(t, exp.ApplyConfig(bad), ErrInvalidConfig)
}
