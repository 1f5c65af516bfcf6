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

// Package transport implements the OTLP/HTTP export path: it wraps a
// batch of normalized records in a single-resource, single-scope
// envelope, serializes it as protobuf, optionally gzip-compresses it
// and posts it to the collector's logs or metrics path.
package transport // import "github.com/electric-sql/otel-exporter-go/transport"

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/protobuf/proto"

	"github.com/electric-sql/otel-exporter-go/internal/transform"
	"github.com/electric-sql/otel-exporter-go/telemetry"
)

const (
	logsPath    = "/v1/logs"
	metricsPath = "/v1/metrics"

	protobufContentType = "application/x-protobuf"
)

// Config is the transport-facing configuration generation.  It is
// immutable: configuration changes build a whole new Client rather
// than mutating an existing one.
type Config struct {
	// Endpoint is the collector base URL, e.g. http://localhost:4318.
	Endpoint string
	// Headers are static headers added to every request.
	Headers map[string]string
	// Compression is "gzip" or "none".
	Compression string
	// Resource carries the flattened resource attributes stamped on
	// every envelope.
	Resource []attribute.KeyValue
	// Timeout bounds a single export request.
	Timeout time.Duration
}

// Client posts encoded batches to the collector.  A Client is safe for
// concurrent use; the config generation it was built from never
// changes underneath it.
type Client struct {
	cfg Config
	hc  *http.Client
}

// NewClient builds a Client from a validated configuration generation.
func NewClient(cfg Config) *Client {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
	}
}

// UploadLogs sends one batch of log events to the logs path.
func (c *Client) UploadLogs(ctx context.Context, events []telemetry.LogEvent) error {
	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{transform.Logs(c.cfg.Resource, events)},
	}
	return c.post(ctx, logsPath, req)
}

// UploadMetrics sends one aggregation snapshot to the metrics path.
func (c *Client) UploadMetrics(ctx context.Context, snap telemetry.Snapshot) error {
	rm, err := transform.Metrics(c.cfg.Resource, snap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	req := &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{rm},
	}
	return c.post(ctx, metricsPath, req)
}

func (c *Client) post(ctx context.Context, path string, msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	gzipped := c.cfg.Compression == "gzip"
	if gzipped {
		payload, err = compress(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncoding, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	req.Header.Set("Content-Type", protobufContentType)
	req.Header.Set("Accept", protobufContentType)
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   string(snippet),
		}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
