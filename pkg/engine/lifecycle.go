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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/ollama"
	"github.com/teradata-labs/qc/pkg/registry"
	"go.uber.org/zap"
)

const (
	// unloadWait bounds polling for the server to reflect an unload.
	unloadWait     = 30 * time.Second
	unloadSettle   = 500 * time.Millisecond
	keepAlivePulse = 10 * time.Minute

	// Two-phase pull retry. The quick phase benefits from IP-based
	// rate-limit rotation; the slow phase waits out real limits.
	pullQuickAttempts = 50
	pullQuickDelay    = 2 * time.Second
	pullSlowAttempts  = 50
	pullSlowDelay     = 30 * time.Second
)

// lifecycle manages model state on the inference server: loading for
// log-probability capture, on-demand pulls, deletion, unloading.
type lifecycle struct {
	server  *ollama.Client
	hf      *registry.HuggingFace
	kernel  *kernel
	surface *surface
}

// Prepare makes model the only loaded model and primes the engine. A chat
// round trip forces a full load; generate-only initialization has been seen
// to come up without log-probability support.
func (l *lifecycle) Prepare(ctx context.Context, model string) error {
	loaded, err := l.psLoaded(ctx)
	if err != nil {
		return err
	}

	if len(loaded) == 1 && strings.EqualFold(loaded[0], model) {
		log.Debug("model already loaded, refreshing keep-alive", zap.String("model", model))
		return l.kernel.do(ctx, "keep-alive "+model, func(ctx context.Context) error {
			return l.server.PreloadKeepAlive(ctx, model, keepAlivePulse)
		})
	}

	var mismatched []string
	for _, name := range loaded {
		if !strings.EqualFold(name, model) {
			mismatched = append(mismatched, name)
		}
	}
	if len(mismatched) > 0 {
		if err := l.unload(ctx, mismatched); err != nil {
			return err
		}
	}

	return l.kernel.do(ctx, "load "+model, func(ctx context.Context) error {
		return l.server.Chat(ctx, model, "hi")
	})
}

// Pull downloads a model with streaming progress and the two-phase retry
// policy. Attempts that completed at least one new layer reset the retry
// counter: progress means the connection works and only patience is needed.
func (l *lifecycle) Pull(ctx context.Context, model string) error {
	tracker := newPullTracker(l.surface, model)
	defer l.surface.Finish()

	attempt := func(ctx context.Context) error {
		return l.server.Pull(ctx, model, func(p ollama.PullProgress) error {
			tracker.Observe(p)
			return nil
		})
	}

	phases := []struct {
		name     string
		attempts int
		delay    func(ctx context.Context) time.Duration
	}{
		{"quick", pullQuickAttempts, func(context.Context) time.Duration { return pullQuickDelay }},
		{"slow", pullSlowAttempts, l.slowPullDelay(model)},
	}

	var lastErr error
	for _, phase := range phases {
		for attemptNo := 1; attemptNo <= phase.attempts; {
			if err := l.kernel.interrupts.Checkpoint(ctx); err != nil {
				return err
			}

			before := tracker.LayersCompleted()
			err := attempt(ctx)
			if err == nil {
				return nil
			}
			if errors.Is(err, ollama.ErrNotFound) || ollama.IsCancelled(err) || ctx.Err() != nil {
				return err
			}

			lastErr = err
			if tracker.LayersCompleted() > before {
				// Progress within the failed attempt: start the budget over.
				attemptNo = 1
			} else {
				attemptNo++
			}
			log.Warn("pull attempt failed",
				zap.String("model", model),
				zap.String("phase", phase.name),
				zap.Int("attempt", attemptNo),
				zap.Error(err))

			if err := sleepCtx(ctx, phase.delay(ctx)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("pull %s did not complete: %w", model, lastErr)
}

// slowPullDelay consults the registry's rate-limit reset for hf.co models
// when a token is configured; anonymous pulls see fixed delays because the
// hint does not apply to them.
func (l *lifecycle) slowPullDelay(model string) func(ctx context.Context) time.Duration {
	return func(ctx context.Context) time.Duration {
		if !registry.IsRegistryPath(model) || l.hf == nil || !l.hf.HasToken() {
			return pullSlowDelay
		}
		if d := l.hf.RateLimitDelay(ctx, model); d > 0 {
			return d
		}
		return pullSlowDelay
	}
}

// ResolveActualName re-queries the listing after a pull: the server may
// store the model under different casing than the user typed.
func (l *lifecycle) ResolveActualName(ctx context.Context, model string) (string, error) {
	var models []ollama.ModelInfo
	err := l.kernel.do(ctx, "list models", func(ctx context.Context) error {
		var err error
		models, err = l.server.List(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, model) {
			return m.Name, nil
		}
	}
	return model, nil
}

// Exists reports whether the server knows the model.
func (l *lifecycle) Exists(ctx context.Context, model string) (bool, error) {
	var models []ollama.ModelInfo
	err := l.kernel.do(ctx, "list models", func(ctx context.Context) error {
		var err error
		models, err = l.server.List(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if strings.EqualFold(m.Name, model) {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes a model; not-found counts as success.
func (l *lifecycle) Delete(ctx context.Context, model string) error {
	return l.kernel.do(ctx, "delete "+model, func(ctx context.Context) error {
		return l.server.Delete(ctx, model)
	})
}

// UnloadAll evicts every loaded model and waits for the server to settle.
func (l *lifecycle) UnloadAll(ctx context.Context) error {
	loaded, err := l.psLoaded(ctx)
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		return nil
	}
	return l.unload(ctx, loaded)
}

func (l *lifecycle) unload(ctx context.Context, models []string) error {
	for _, name := range models {
		if err := l.kernel.do(ctx, "unload "+name, func(ctx context.Context) error {
			return l.server.Unload(ctx, name)
		}); err != nil {
			return err
		}
	}
	return l.waitForUnload(ctx, models)
}

// waitForUnload polls process status until none of the given models remain
// loaded, up to unloadWait.
func (l *lifecycle) waitForUnload(ctx context.Context, models []string) error {
	deadline := time.Now().Add(unloadWait)
	for {
		if err := sleepCtx(ctx, unloadSettle); err != nil {
			return err
		}

		loaded, err := l.psLoaded(ctx)
		if err != nil {
			return err
		}
		still := false
		for _, want := range models {
			for _, have := range loaded {
				if strings.EqualFold(want, have) {
					still = true
				}
			}
		}
		if !still {
			return nil
		}
		if time.Now().After(deadline) {
			log.Warn("server still reports models loaded after unload wait",
				zap.Strings("models", loaded))
			return nil
		}
	}
}

func (l *lifecycle) psLoaded(ctx context.Context) ([]string, error) {
	var loaded []string
	err := l.kernel.do(ctx, "query loaded models", func(ctx context.Context) error {
		var err error
		loaded, err = l.server.PSLoaded(ctx)
		return err
	})
	return loaded, err
}
