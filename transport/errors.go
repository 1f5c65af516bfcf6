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

package transport // import "github.com/electric-sql/otel-exporter-go/transport"

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedStatus indicates the collector answered with a
	// non-2xx status.  Terminal for the batch.
	ErrUnexpectedStatus = errors.New("unexpected collector status")

	// ErrTransportFailure indicates a connection or timeout failure
	// before any response was received.  Terminal for the batch.
	ErrTransportFailure = errors.New("transport failure")

	// ErrEncoding indicates the batch could not be serialized.  This
	// is a programming defect, not a runtime condition to recover.
	ErrEncoding = errors.New("payload encoding failed")
)

// StatusError carries the collector's non-2xx response.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: %s", ErrUnexpectedStatus, e.Status)
	}
	return fmt.Sprintf("%v: %s: %s", ErrUnexpectedStatus, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
