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
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/electric-sql/otel-exporter-go/telemetry"
	"github.com/electric-sql/otel-exporter-go/transport"
)

// ErrInvalidConfig wraps every configuration validation failure.
// Configuration problems are fatal at initialization only; nothing
// revalidates the configuration after New returns.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultHistogramBounds are the explicit bucket bounds used by
// histogram metrics that declare none.
var DefaultHistogramBounds = []float64{0, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500, 5000, 7500, 10000}

// Config is the full configuration surface.  Fields are populated
// from the environment first and then overridden by Options.  The
// struct is immutable per configuration generation: ApplyConfig
// replaces the transport-facing subset wholesale.
type Config struct {
	// Endpoint is the collector base URL; the logs and metrics
	// paths are appended to it.
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT,default=http://localhost:4318"`
	// Headers are static headers added to every export request.
	Headers map[string]string `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	// Compression is "gzip" or "none".
	Compression string `env:"OTEL_EXPORTER_OTLP_COMPRESSION,default=gzip"`
	// Timeout bounds a single export request.
	Timeout time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT,default=10s"`

	ServiceName        string            `env:"OTEL_SERVICE_NAME"`
	ServiceVersion     string            `env:"OTEL_SERVICE_VERSION"`
	ResourceAttributes map[string]string `env:"OTEL_RESOURCE_ATTRIBUTES"`

	// ConcurrencyLimit bounds the number of simultaneously
	// in-flight log sends.
	ConcurrencyLimit int `env:"OTEL_EXPORTER_CONCURRENCY_LIMIT,default=10"`
	// DebounceInterval is the delay between the first buffered log
	// event and a forced flush.
	DebounceInterval time.Duration `env:"OTEL_EXPORTER_DEBOUNCE_INTERVAL,default=200ms"`
	// MaxBufferSize triggers an immediate flush when the log buffer
	// reaches this many events.
	MaxBufferSize int `env:"OTEL_EXPORTER_MAX_BUFFER_SIZE,default=512"`
	// ExportPeriod is the fixed delay between metric export ticks.
	ExportPeriod time.Duration `env:"OTEL_EXPORTER_METRIC_PERIOD,default=30s"`

	// HistogramBounds are the default histogram bucket bounds;
	// DefaultHistogramBounds when unset.
	HistogramBounds []float64
	// MetadataKeys selects which metadata keys become log record
	// attributes; empty keeps all of them.
	MetadataKeys []string
	// MetadataKeyMap renames metadata keys on the way out, e.g.
	// request_id to http.request.id.
	MetadataKeyMap map[string]string
	// Metrics statically declares metric kinds and bounds,
	// overriding the name-suffix convention.
	Metrics []telemetry.Declaration

	logger *zap.Logger
}

// Option overrides one Config field.
type Option func(*Config)

// WithEndpoint configures the collector base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) { c.Endpoint = endpoint }
}

// WithHeaders adds static headers to every export request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithCompression configures payload compression, "gzip" or "none".
func WithCompression(compression string) Option {
	return func(c *Config) { c.Compression = compression }
}

// WithTimeout bounds a single export request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithServiceName configures the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(c *Config) { c.ServiceName = name }
}

// WithServiceVersion configures the service.version resource attribute.
func WithServiceVersion(version string) Option {
	return func(c *Config) { c.ServiceVersion = version }
}

// WithResourceAttributes configures additional resource attributes.
func WithResourceAttributes(attributes map[string]string) Option {
	return func(c *Config) { c.ResourceAttributes = attributes }
}

// WithConcurrencyLimit bounds simultaneously in-flight log sends.
func WithConcurrencyLimit(limit int) Option {
	return func(c *Config) { c.ConcurrencyLimit = limit }
}

// WithDebounceInterval configures the log flush debounce.
func WithDebounceInterval(d time.Duration) Option {
	return func(c *Config) { c.DebounceInterval = d }
}

// WithMaxBufferSize configures the log buffer flush threshold.
func WithMaxBufferSize(n int) Option {
	return func(c *Config) { c.MaxBufferSize = n }
}

// WithExportPeriod configures the metric export period.
func WithExportPeriod(d time.Duration) Option {
	return func(c *Config) { c.ExportPeriod = d }
}

// WithHistogramBounds configures the default histogram bucket bounds.
func WithHistogramBounds(bounds ...float64) Option {
	return func(c *Config) { c.HistogramBounds = bounds }
}

// WithMetadataKeys selects the metadata keys kept as log attributes.
func WithMetadataKeys(keys ...string) Option {
	return func(c *Config) { c.MetadataKeys = keys }
}

// WithMetadataKeyMap renames metadata keys on the way out.
func WithMetadataKeyMap(renames map[string]string) Option {
	return func(c *Config) { c.MetadataKeyMap = renames }
}

// WithMetric statically declares a metric's kind and, for histograms,
// its bucket bounds.
func WithMetric(name string, kind telemetry.MetricKind, bounds ...float64) Option {
	return func(c *Config) {
		c.Metrics = append(c.Metrics, telemetry.Declaration{
			Name:   name,
			Kind:   kind,
			Bounds: bounds,
		})
	}
}

// WithLogger configures the diagnostic logger used to report export
// failures.  The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

func newConfig(ctx context.Context, opts ...Option) (Config, error) {
	var c Config
	if err := envconfig.Process(ctx, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.HistogramBounds == nil {
		c.HistogramBounds = DefaultHistogramBounds
	}
	return c, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var err error
	if c.Endpoint == "" {
		err = multierr.Append(err, errors.New("endpoint missing"))
	} else if u, perr := url.Parse(c.Endpoint); perr != nil {
		err = multierr.Append(err, fmt.Errorf("endpoint: %v", perr))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		err = multierr.Append(err, fmt.Errorf("endpoint: unsupported scheme %q", u.Scheme))
	}
	if c.Compression != "gzip" && c.Compression != "none" {
		err = multierr.Append(err, fmt.Errorf("compression: unknown value %q", c.Compression))
	}
	if c.Timeout <= 0 {
		err = multierr.Append(err, errors.New("timeout must be positive"))
	}
	if c.ConcurrencyLimit < 1 {
		err = multierr.Append(err, errors.New("concurrency limit must be at least 1"))
	}
	if c.DebounceInterval <= 0 {
		err = multierr.Append(err, errors.New("debounce interval must be positive"))
	}
	if c.MaxBufferSize < 1 {
		err = multierr.Append(err, errors.New("max buffer size must be at least 1"))
	}
	if c.ExportPeriod <= 0 {
		err = multierr.Append(err, errors.New("export period must be positive"))
	}
	if berr := checkBounds(c.HistogramBounds); berr != nil {
		err = multierr.Append(err, fmt.Errorf("histogram bounds: %v", berr))
	}
	for _, d := range c.Metrics {
		if d.Name == "" {
			err = multierr.Append(err, errors.New("metric declaration with empty name"))
		}
		if berr := checkBounds(d.Bounds); berr != nil {
			err = multierr.Append(err, fmt.Errorf("metric %q bounds: %v", d.Name, berr))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func checkBounds(bounds []float64) error {
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return fmt.Errorf("not strictly increasing at %v", bounds[i])
		}
	}
	return nil
}

func (c Config) transportConfig() transport.Config {
	return transport.Config{
		Endpoint:    c.Endpoint,
		Headers:     c.Headers,
		Compression: c.Compression,
		Resource:    c.resourceAttributes(),
		Timeout:     c.Timeout,
	}
}

// resourceAttributes flattens the configured resource.  The library
// identity and a host.name fallback are always present.
func (c Config) resourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.TelemetrySDKNameKey.String("otel-exporter-go"),
		semconv.TelemetrySDKLanguageGo,
		semconv.TelemetrySDKVersionKey.String(Version),
	}
	if c.ServiceName != "" {
		attrs = append(attrs, semconv.ServiceName(c.ServiceName))
	}
	if c.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.ServiceVersion))
	}

	hostnameSet := false
	keys := make([]string, 0, len(c.ResourceAttributes))
	for k := range c.ResourceAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := c.ResourceAttributes[k]
		if v == "" {
			continue
		}
		if k == string(semconv.HostNameKey) {
			hostnameSet = true
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	if !hostnameSet {
		if hostname, err := os.Hostname(); err == nil {
			attrs = append(attrs, semconv.HostName(hostname))
		}
	}
	return attrs
}
