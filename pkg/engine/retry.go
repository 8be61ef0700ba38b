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
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/judge"
	"github.com/teradata-labs/qc/pkg/ollama"
	"go.uber.org/zap"
)

const (
	// Normal policy: inference, pull, show, list.
	normalAttempts   = 5
	normalBackoffCap = 10 * time.Second

	// Judge-extended policy: per-attempt delay ramps linearly.
	judgeAttempts = 25
	judgeDelayMin = 5 * time.Second
	judgeDelayMax = 30 * time.Second
)

// kernel wraps every remote call with a per-request deadline derived from
// the run context and one of two retry policies. The per-request budget can
// be doubled mid-run, which is why the HTTP clients carry no timeout of
// their own.
type kernel struct {
	timeoutNs   atomic.Int64
	interactive bool
	in          io.Reader
	out         io.Writer
	interrupts  *interrupter
}

func newKernel(timeout time.Duration, interactive bool, in io.Reader, out io.Writer, interrupts *interrupter) *kernel {
	k := &kernel{interactive: interactive, in: in, out: out, interrupts: interrupts}
	k.timeoutNs.Store(int64(timeout))
	return k
}

func (k *kernel) timeout() time.Duration {
	return time.Duration(k.timeoutNs.Load())
}

func (k *kernel) doubleTimeout() time.Duration {
	for {
		old := k.timeoutNs.Load()
		if k.timeoutNs.CompareAndSwap(old, old*2) {
			return time.Duration(old * 2)
		}
	}
}

// do runs fn under the normal policy: up to five attempts with capped
// exponential backoff. When the budget is exhausted by timeouts, the user
// chooses between cancelling and doubling the per-request budget with a
// fresh retry budget; without a terminal the budget extends automatically.
func (k *kernel) do(ctx context.Context, op string, fn func(context.Context) error) error {
	for {
		var lastErr error
		sawTimeout := false

		for attempt := 1; attempt <= normalAttempts; attempt++ {
			if err := k.interrupts.Checkpoint(ctx); err != nil {
				return err
			}

			reqCtx, cancel := context.WithTimeout(ctx, k.timeout())
			err := fn(reqCtx)
			cancel()
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				// Cancelled concurrently; the failure is not retried.
				return ctx.Err()
			}
			if !ollama.IsRetryable(err) {
				return fmt.Errorf("%s: %w", op, err)
			}

			lastErr = err
			if ollama.IsTimeout(err) {
				sawTimeout = true
			}
			log.Warn("operation failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", normalAttempts),
				zap.Error(err))

			if attempt < normalAttempts {
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return err
				}
			}
		}

		if sawTimeout {
			if k.extendTimeout(ctx, op) {
				continue
			}
			return fmt.Errorf("%s timed out repeatedly: %w", op, ErrCancelled)
		}
		return fmt.Errorf("%s failed after %d attempts: %w", op, normalAttempts, lastErr)
	}
}

// doJudge runs fn under the judge-extended policy: up to 25 attempts with a
// delay ramping linearly from 5 s to 30 s. Rate-limited attempts use the
// registry reset hint instead when one is available. Exhaustion returns the
// last error; the orchestrator skips that judgment with a warning rather
// than aborting the run.
func (k *kernel) doJudge(ctx context.Context, op string, fn func(context.Context) error, rateLimitHint func(context.Context) time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= judgeAttempts; attempt++ {
		if err := k.interrupts.Checkpoint(ctx); err != nil {
			return err
		}

		reqCtx, cancel := context.WithTimeout(ctx, k.timeout())
		err := fn(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !judge.IsRetryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}

		lastErr = err
		delay := judgeDelay(attempt)
		if judge.IsRateLimited(err) && rateLimitHint != nil {
			if hinted := rateLimitHint(ctx); hinted > 0 {
				delay = hinted
			}
		}
		log.Warn("judge call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", judgeAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if attempt < judgeAttempts {
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, judgeAttempts, lastErr)
}

// extendTimeout reports whether the per-request budget should double and the
// retry budget restart.
func (k *kernel) extendTimeout(ctx context.Context, op string) bool {
	if !k.interactive {
		doubled := k.doubleTimeout()
		log.Warn("timeouts persist, extending per-request budget",
			zap.String("op", op),
			zap.Duration("timeout", doubled))
		return true
	}

	if err := k.interrupts.Checkpoint(ctx); err != nil {
		return false
	}
	fmt.Fprintf(k.out, "\n%s keeps timing out after %s. Cancel the run? [y/N] ", op, k.timeout())
	line, err := bufio.NewReader(k.in).ReadString('\n')
	if err == nil && !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y") {
		doubled := k.doubleTimeout()
		fmt.Fprintf(k.out, "Per-request timeout is now %s.\n", doubled)
		return true
	}
	return false
}

func backoff(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > normalBackoffCap {
		return normalBackoffCap
	}
	return d
}

func judgeDelay(attempt int) time.Duration {
	if attempt >= judgeAttempts {
		return judgeDelayMax
	}
	step := (judgeDelayMax - judgeDelayMin) / time.Duration(judgeAttempts-1)
	return judgeDelayMin + step*time.Duration(attempt-1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
