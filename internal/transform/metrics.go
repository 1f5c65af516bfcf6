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

package transform // import "github.com/electric-sql/otel-exporter-go/internal/transform"

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/electric-sql/otel-exporter-go/telemetry"
)

// Metrics transforms an aggregation snapshot into a single-resource,
// single-scope OTLP ResourceMetrics envelope.
func Metrics(resource []attribute.KeyValue, snap telemetry.Snapshot) (*metricspb.ResourceMetrics, error) {
	sc := &metricspb.ScopeMetrics{
		Scope:   Scope(),
		Metrics: make([]*metricspb.Metric, 0, len(snap.Metrics)),
	}
	for _, m := range snap.Metrics {
		mm := &metricspb.Metric{Name: m.Name}
		switch m.Kind {
		case telemetry.KindCounter, telemetry.KindSum:
			mm.Data = &metricspb.Metric_Sum{
				Sum: &metricspb.Sum{
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					IsMonotonic:            m.Kind == telemetry.KindCounter,
					DataPoints:             numberPoints(snap, m.Points),
				},
			}
		case telemetry.KindGauge:
			mm.Data = &metricspb.Metric_Gauge{
				Gauge: &metricspb.Gauge{
					DataPoints: numberPoints(snap, m.Points),
				},
			}
		case telemetry.KindHistogram:
			mm.Data = &metricspb.Metric_Histogram{
				Histogram: &metricspb.Histogram{
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					DataPoints:             histogramPoints(snap, m.Bounds, m.Points),
				},
			}
		default:
			return nil, fmt.Errorf("unknown metric kind %d for %q", m.Kind, m.Name)
		}
		sc.Metrics = append(sc.Metrics, mm)
	}
	return &metricspb.ResourceMetrics{
		Resource:     Resource(resource),
		ScopeMetrics: []*metricspb.ScopeMetrics{sc},
	}, nil
}

func numberPoints(snap telemetry.Snapshot, points []telemetry.Point) []*metricspb.NumberDataPoint {
	out := make([]*metricspb.NumberDataPoint, len(points))
	for i, pt := range points {
		out[i] = &metricspb.NumberDataPoint{
			Attributes:        KeyValues(pt.Attributes.ToSlice()),
			StartTimeUnixNano: toNanos(snap.Start),
			TimeUnixNano:      toNanos(snap.Now),
			Value: &metricspb.NumberDataPoint_AsDouble{
				AsDouble: pt.Value,
			},
		}
	}
	return out
}

func histogramPoints(snap telemetry.Snapshot, bounds []float64, points []telemetry.Point) []*metricspb.HistogramDataPoint {
	out := make([]*metricspb.HistogramDataPoint, len(points))
	for i, pt := range points {
		sum := pt.Sum
		out[i] = &metricspb.HistogramDataPoint{
			Attributes:        KeyValues(pt.Attributes.ToSlice()),
			StartTimeUnixNano: toNanos(snap.Start),
			TimeUnixNano:      toNanos(snap.Now),
			Count:             pt.Count,
			Sum:               &sum,
			BucketCounts:      pt.BucketCounts,
			ExplicitBounds:    bounds,
		}
	}
	return out
}
