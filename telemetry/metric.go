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

package telemetry // import "github.com/electric-sql/otel-exporter-go/telemetry"

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// MetricKind enumerates the supported aggregations.
type MetricKind int

const (
	// KindCounter is a monotonic cumulative sum.
	KindCounter MetricKind = iota
	// KindSum is a non-monotonic cumulative sum.
	KindSum
	// KindGauge reports the last recorded value.
	KindGauge
	// KindHistogram retains samples and reports explicit-bounds
	// bucket counts.
	KindHistogram
)

func (k MetricKind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindSum:
		return "sum"
	case KindGauge:
		return "last_value"
	case KindHistogram:
		return "distribution"
	default:
		return "unknown"
	}
}

// Declaration statically declares a metric's kind, overriding the
// name-suffix convention, and optionally its histogram bounds.
type Declaration struct {
	Name   string
	Kind   MetricKind
	Bounds []float64
}

// Snapshot is one converted aggregation state, produced by the
// aggregator at export time and consumed by the transport.
type Snapshot struct {
	// Start is when the aggregator was created; reported as the
	// cumulative start timestamp of every point.
	Start time.Time
	// Now is when the snapshot was taken.
	Now time.Time

	Metrics []Metric
}

// Metric is the exported form of one metric name.
type Metric struct {
	Name   string
	Kind   MetricKind
	Bounds []float64 // KindHistogram only
	Points []Point
}

// Point is the exported form of one aggregation series.  Value is set
// for counter, sum and gauge kinds; Count, Sum and BucketCounts for
// histograms.
type Point struct {
	Attributes attribute.Set

	Value float64

	Count        uint64
	Sum          float64
	BucketCounts []uint64
}
