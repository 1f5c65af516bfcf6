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

import "strings"

// Severity is an ordered log severity.  The numeric values are the
// OTLP severity numbers, so they translate to the wire without a
// second mapping table.
type Severity int32

const (
	SeverityTrace Severity = 1
	SeverityDebug Severity = 5
	SeverityInfo  Severity = 9
	SeverityWarn  Severity = 13
	SeverityError Severity = 17
	SeverityFatal Severity = 21
)

// String returns the OTLP severity text for this severity.
func (s Severity) String() string {
	switch {
	case s >= SeverityFatal:
		return "FATAL"
	case s >= SeverityError:
		return "ERROR"
	case s >= SeverityWarn:
		return "WARN"
	case s >= SeverityInfo:
		return "INFO"
	case s >= SeverityDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

// SeverityFromLevel maps an application log level name to a Severity.
// Unrecognized levels map to SeverityInfo.
func SeverityFromLevel(level string) Severity {
	switch strings.ToLower(level) {
	case "trace":
		return SeverityTrace
	case "debug":
		return SeverityDebug
	case "info", "notice":
		return SeverityInfo
	case "warn", "warning":
		return SeverityWarn
	case "error":
		return SeverityError
	case "fatal", "panic", "emergency":
		return SeverityFatal
	default:
		return SeverityInfo
	}
}
