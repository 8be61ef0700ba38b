// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel error kinds surfaced by the client. Callers classify failures
// with errors.Is/errors.As to pick a retry policy.
var (
	// ErrNotFound means the model does not exist on the server or registry.
	ErrNotFound = errors.New("model not found")
	// ErrLogprobsUnavailable means the server answered without per-token
	// log-probabilities. This is permanent until the server is upgraded.
	ErrLogprobsUnavailable = errors.New("server returned no log-probabilities; upgrade the inference server to a version with logprobs support")
	// ErrRateLimited means the server or registry returned HTTP 429.
	ErrRateLimited = errors.New("rate limited")
)

// StatusError is a non-2xx HTTP response from the server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Is maps well-known status codes onto the sentinel kinds.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == 404 || strings.Contains(strings.ToLower(e.Body), "not found")
	case ErrRateLimited:
		return e.StatusCode == 429
	}
	return false
}

// IsTimeout reports whether err was caused by a per-request deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsCancelled reports whether err was caused by user cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsRetryable reports whether a failed call may succeed on retry. Not-found,
// missing log-probabilities, and user cancellation are permanent.
func IsRetryable(err error) bool {
	if err == nil || IsCancelled(err) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLogprobsUnavailable) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || IsTimeout(err) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	// Anything else is treated as a network-level failure.
	return true
}
