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

// Package telemetry holds the in-memory model shared by the
// accumulation and export layers: normalized log events, metric kinds
// and the aggregation snapshot handed to the transport.
package telemetry // import "github.com/electric-sql/otel-exporter-go/telemetry"

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// LogEvent is one normalized log record.  Events are immutable once
// enqueued; attribute order is preserved and keys are unique.
type LogEvent struct {
	Time       time.Time
	Severity   Severity
	Body       string
	Attributes []attribute.KeyValue
}

// CrashEvent builds the log record used to surface an abnormal process
// termination.  Severity is forced to error and the exception is
// carried in the standard exception.* attributes.
func CrashEvent(at time.Time, message, exceptionType, stacktrace string) LogEvent {
	return LogEvent{
		Time:     at,
		Severity: SeverityError,
		Body:     message,
		Attributes: []attribute.KeyValue{
			semconv.ExceptionMessage(message),
			semconv.ExceptionType(exceptionType),
			semconv.ExceptionStacktrace(stacktrace),
		},
	}
}
