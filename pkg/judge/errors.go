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

package judge

import (
	"errors"
	"fmt"

	"github.com/teradata-labs/qc/pkg/ollama"
)

// CloudStatusError is a non-2xx response from a cloud judge provider.
type CloudStatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *CloudStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a provider rate limit.
func IsRateLimited(err error) bool {
	var cloudErr *CloudStatusError
	if errors.As(err, &cloudErr) {
		return cloudErr.StatusCode == 429
	}
	return errors.Is(err, ollama.ErrRateLimited)
}

// IsRetryable classifies judge-call failures. Auth and not-found errors are
// permanent; rate limits, timeouts, and server errors are worth retrying.
func IsRetryable(err error) bool {
	var cloudErr *CloudStatusError
	if errors.As(err, &cloudErr) {
		switch {
		case cloudErr.StatusCode == 429:
			return true
		case cloudErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Local judges surface the inference-server error kinds.
	return ollama.IsRetryable(err)
}
