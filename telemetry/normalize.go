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
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Normalizer converts raw application log events into LogEvents:
// level-name to severity mapping, metadata key selection and renaming.
type Normalizer struct {
	include map[string]struct{}
	rename  map[string]string
}

// NewNormalizer returns a Normalizer that keeps the metadata keys
// listed in includeKeys (all keys when the list is empty) and renames
// keys per the substitution table, e.g. request_id to http.request.id.
func NewNormalizer(includeKeys []string, renameKeys map[string]string) *Normalizer {
	n := &Normalizer{}
	if len(includeKeys) > 0 {
		n.include = make(map[string]struct{}, len(includeKeys))
		for _, k := range includeKeys {
			n.include[k] = struct{}{}
		}
	}
	if len(renameKeys) > 0 {
		n.rename = make(map[string]string, len(renameKeys))
		for k, v := range renameKeys {
			n.rename[k] = v
		}
	}
	return n
}

// Event builds a LogEvent from a raw level name, message body and
// metadata map.  Metadata keys are emitted in sorted order so the
// resulting attribute list is deterministic.
func (n *Normalizer) Event(at time.Time, level, body string, metadata map[string]any) LogEvent {
	ev := LogEvent{
		Time:     at,
		Severity: SeverityFromLevel(level),
		Body:     body,
	}
	if len(metadata) == 0 {
		return ev
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if n.include != nil {
			if _, ok := n.include[k]; !ok {
				continue
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ev.Attributes = make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		name := k
		if mapped, ok := n.rename[k]; ok {
			name = mapped
		}
		ev.Attributes = append(ev.Attributes, anyAttribute(name, metadata[k]))
	}
	return ev
}

func anyAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case time.Duration:
		return attribute.String(key, v.String())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
