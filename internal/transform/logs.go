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
	"go.opentelemetry.io/otel/attribute"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/electric-sql/otel-exporter-go/telemetry"
)

// Logs transforms one batch of log events into a single-resource,
// single-scope OTLP ResourceLogs envelope.
func Logs(resource []attribute.KeyValue, events []telemetry.LogEvent) *logspb.ResourceLogs {
	return &logspb.ResourceLogs{
		Resource: Resource(resource),
		ScopeLogs: []*logspb.ScopeLogs{{
			Scope:      Scope(),
			LogRecords: LogRecords(events),
		}},
	}
}

// LogRecords transforms log events into OTLP log records.
func LogRecords(events []telemetry.LogEvent) []*logspb.LogRecord {
	out := make([]*logspb.LogRecord, len(events))
	for i, ev := range events {
		out[i] = &logspb.LogRecord{
			TimeUnixNano:   toNanos(ev.Time),
			SeverityNumber: logspb.SeverityNumber(ev.Severity),
			SeverityText:   ev.Severity.String(),
			Body: &commonpb.AnyValue{
				Value: &commonpb.AnyValue_StringValue{StringValue: ev.Body},
			},
			Attributes: KeyValues(ev.Attributes),
		}
	}
	return out
}
