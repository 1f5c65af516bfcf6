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

// Package transform provides translations from the in-memory telemetry
// model to OTLP protobuf structures.
package transform // import "github.com/electric-sql/otel-exporter-go/internal/transform"

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// Instrumentation scope identity stamped on every envelope.
const (
	ScopeName    = "github.com/electric-sql/otel-exporter-go"
	ScopeVersion = "0.4.0"
)

// Resource transforms flattened resource attributes into an OTLP Resource.
func Resource(attrs []attribute.KeyValue) *resourcepb.Resource {
	if len(attrs) == 0 {
		return &resourcepb.Resource{}
	}
	return &resourcepb.Resource{Attributes: KeyValues(attrs)}
}

// Scope returns the OTLP InstrumentationScope identifying this library.
func Scope() *commonpb.InstrumentationScope {
	return &commonpb.InstrumentationScope{
		Name:    ScopeName,
		Version: ScopeVersion,
	}
}

// KeyValues transforms attributes into OTLP key-values, preserving order.
func KeyValues(attrs []attribute.KeyValue) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		out = append(out, &commonpb.KeyValue{
			Key:   string(kv.Key),
			Value: AnyValue(kv.Value),
		})
	}
	return out
}

// AnyValue transforms an attribute value into an OTLP AnyValue.
func AnyValue(v attribute.Value) *commonpb.AnyValue {
	av := new(commonpb.AnyValue)
	switch v.Type() {
	case attribute.BOOL:
		av.Value = &commonpb.AnyValue_BoolValue{BoolValue: v.AsBool()}
	case attribute.INT64:
		av.Value = &commonpb.AnyValue_IntValue{IntValue: v.AsInt64()}
	case attribute.FLOAT64:
		av.Value = &commonpb.AnyValue_DoubleValue{DoubleValue: v.AsFloat64()}
	case attribute.STRING:
		av.Value = &commonpb.AnyValue_StringValue{StringValue: v.AsString()}
	case attribute.BOOLSLICE:
		vals := v.AsBoolSlice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, b := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: b}}
		}
		av.Value = arrayValue(arr)
	case attribute.INT64SLICE:
		vals := v.AsInt64Slice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, n := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: n}}
		}
		av.Value = arrayValue(arr)
	case attribute.FLOAT64SLICE:
		vals := v.AsFloat64Slice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, f := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: f}}
		}
		av.Value = arrayValue(arr)
	case attribute.STRINGSLICE:
		vals := v.AsStringSlice()
		arr := make([]*commonpb.AnyValue, len(vals))
		for i, s := range vals {
			arr[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
		}
		av.Value = arrayValue(arr)
	default:
		av.Value = &commonpb.AnyValue_StringValue{StringValue: v.Emit()}
	}
	return av
}

func arrayValue(values []*commonpb.AnyValue) *commonpb.AnyValue_ArrayValue {
	return &commonpb.AnyValue_ArrayValue{
		ArrayValue: &commonpb.ArrayValue{Values: values},
	}
}

// toNanos returns the number of nanoseconds since the UNIX epoch.
func toNanos(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}
