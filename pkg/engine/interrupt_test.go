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
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointPassesWhenIdle(t *testing.T) {
	h := newInterrupter(strings.NewReader(""), io.Discard, true)
	ctx, stop := h.Install(context.Background())
	defer stop()

	require.NoError(t, h.Checkpoint(ctx))
	assert.False(t, h.Cancelled())
}

func TestSigtermCancelsImmediately(t *testing.T) {
	h := newInterrupter(strings.NewReader(""), io.Discard, true)
	ctx, stop := h.Install(context.Background())
	defer stop()

	h.handle(syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after SIGTERM")
	}
	assert.True(t, h.Cancelled())
	assert.False(t, h.Forced())
}

func TestInterruptNonInteractiveCancels(t *testing.T) {
	h := newInterrupter(strings.NewReader(""), io.Discard, false)
	ctx, stop := h.Install(context.Background())
	defer stop()

	h.handle(os.Interrupt)
	<-ctx.Done()
	assert.True(t, h.Cancelled())
}

func TestInterruptPromptDeclineResumes(t *testing.T) {
	h := newInterrupter(strings.NewReader("n\n"), io.Discard, true)
	ctx, stop := h.Install(context.Background())
	defer stop()

	h.handle(os.Interrupt)

	// Checkpoint blocks while the prompt is open and returns once the user
	// declined.
	require.Eventually(t, func() bool {
		return h.Checkpoint(ctx) == nil && !h.Cancelled()
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, ctx.Err())
}

func TestInterruptPromptConfirmCancels(t *testing.T) {
	h := newInterrupter(strings.NewReader("y\n"), io.Discard, true)
	ctx, stop := h.Install(context.Background())
	defer stop()

	h.handle(os.Interrupt)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after confirmation")
	}
	assert.True(t, h.Cancelled())
}

func TestSecondInterruptForces(t *testing.T) {
	h := newInterrupter(strings.NewReader(""), io.Discard, false)
	_, stop := h.Install(context.Background())
	defer stop()

	var forcedRuns atomic.Int32
	h.OnForce(func() { forcedRuns.Add(1) })

	h.handle(os.Interrupt)
	assert.False(t, h.Forced())
	assert.Equal(t, int32(0), forcedRuns.Load())

	// The force handler fires even though the run context is already
	// cancelled and nothing is reading checkpoints.
	h.handle(os.Interrupt)
	assert.True(t, h.Forced())
	assert.Equal(t, int32(1), forcedRuns.Load())
}
