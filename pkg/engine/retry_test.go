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

package engine

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/qc/pkg/judge"
	"github.com/teradata-labs/qc/pkg/ollama"
)

func testKernel(interactive bool, input string) *kernel {
	h := newInterrupter(strings.NewReader(input), io.Discard, interactive)
	return newKernel(2*time.Second, interactive, strings.NewReader(input), io.Discard, h)
}

func TestBackoffCapsAtTenSeconds(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoff(1))
	assert.Equal(t, 2*time.Second, backoff(2))
	assert.Equal(t, 4*time.Second, backoff(3))
	assert.Equal(t, 8*time.Second, backoff(4))
	assert.Equal(t, 10*time.Second, backoff(5))
	assert.Equal(t, 10*time.Second, backoff(6))
}

func TestJudgeDelayRampsLinearly(t *testing.T) {
	assert.Equal(t, judgeDelayMin, judgeDelay(1))
	assert.Equal(t, judgeDelayMax, judgeDelay(judgeAttempts))

	prev := time.Duration(0)
	for attempt := 1; attempt <= judgeAttempts; attempt++ {
		d := judgeDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	k := testKernel(false, "")

	calls := 0
	err := k.do(context.Background(), "show", func(context.Context) error {
		calls++
		return ollama.ErrNotFound
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ollama.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesServerErrors(t *testing.T) {
	k := testKernel(false, "")

	calls := 0
	err := k.do(context.Background(), "list", func(context.Context) error {
		calls++
		if calls == 1 {
			return &ollama.StatusError{StatusCode: 503, Body: "busy"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoubleTimeout(t *testing.T) {
	k := testKernel(false, "")
	require.Equal(t, 2*time.Second, k.timeout())

	assert.Equal(t, 4*time.Second, k.doubleTimeout())
	assert.Equal(t, 8*time.Second, k.doubleTimeout())
	assert.Equal(t, 8*time.Second, k.timeout())
}

func TestExtendTimeoutNonInteractiveAutoExtends(t *testing.T) {
	k := testKernel(false, "")
	require.True(t, k.extendTimeout(context.Background(), "generate"))
	assert.Equal(t, 4*time.Second, k.timeout())
}

func TestExtendTimeoutPromptDecline(t *testing.T) {
	k := testKernel(true, "n\n")
	require.True(t, k.extendTimeout(context.Background(), "generate"))
	assert.Equal(t, 4*time.Second, k.timeout())
}

func TestExtendTimeoutPromptConfirmCancel(t *testing.T) {
	k := testKernel(true, "y\n")
	require.False(t, k.extendTimeout(context.Background(), "generate"))
	assert.Equal(t, 2*time.Second, k.timeout())
}

func TestDoJudgeStopsOnPermanentCloudError(t *testing.T) {
	k := testKernel(false, "")

	calls := 0
	err := k.doJudge(context.Background(), "judge q1", func(context.Context) error {
		calls++
		return &judge.CloudStatusError{Provider: "openai", StatusCode: 400, Body: "bad request"}
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoJudgeUsesRateLimitHint(t *testing.T) {
	k := testKernel(false, "")

	calls := 0
	start := time.Now()
	err := k.doJudge(context.Background(), "judge q1", func(context.Context) error {
		calls++
		if calls < 3 {
			return &judge.CloudStatusError{Provider: "openai", StatusCode: 429, Body: "slow down"}
		}
		return nil
	}, func(context.Context) time.Duration { return time.Millisecond })
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// The hint replaced the 5 s minimum delay.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	k := testKernel(false, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := k.do(ctx, "list", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
