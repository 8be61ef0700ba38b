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
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/teradata-labs/qc/internal/log"
)

// interrupter turns Ctrl-C into two-stage cancellation: the first interrupt
// pauses the run at its next checkpoint and asks for confirmation; answering
// n resumes, y cancels the run context after partial results are saved. A
// second interrupt after confirmation forces an immediate save-and-exit.
type interrupter struct {
	in          io.Reader
	out         io.Writer
	interactive bool

	mu     sync.Mutex
	paused chan struct{} // non-nil while the confirmation prompt is open

	confirmed atomic.Bool
	forced    atomic.Bool
	forceFn   atomic.Value // func()

	cancel context.CancelFunc
}

// OnForce registers the handler run on a second interrupt after a confirmed
// cancel. It runs on the signal goroutine while the main flow may still be
// blocked, so it must not wait on the run.
func (h *interrupter) OnForce(fn func()) {
	h.forceFn.Store(fn)
}

func newInterrupter(in io.Reader, out io.Writer, interactive bool) *interrupter {
	return &interrupter{in: in, out: out, interactive: interactive}
}

// Install derives the run context and starts listening for SIGINT/SIGTERM.
// The returned stop function releases the signal handler.
func (h *interrupter) Install(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	h.cancel = cancel

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigCh {
			h.handle(sig)
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(sigCh)
		cancel()
	}
}

func (h *interrupter) handle(sig os.Signal) {
	if h.confirmed.Load() {
		// Second interrupt after a confirmed cancel: force.
		h.forced.Store(true)
		h.cancel()
		if fn, ok := h.forceFn.Load().(func()); ok && fn != nil {
			fn()
		}
		return
	}
	if sig == syscall.SIGTERM || !h.interactive {
		h.confirmed.Store(true)
		h.cancel()
		return
	}

	h.mu.Lock()
	if h.paused != nil {
		// Interrupt while the prompt is already open counts as confirmed.
		h.mu.Unlock()
		h.confirmed.Store(true)
		h.cancel()
		return
	}
	h.paused = make(chan struct{})
	h.mu.Unlock()

	go h.prompt()
}

func (h *interrupter) prompt() {
	defer func() {
		h.mu.Lock()
		close(h.paused)
		h.paused = nil
		h.mu.Unlock()
	}()

	fmt.Fprint(h.out, "\nInterrupted. Cancel the run and save partial results? [y/N] ")
	reader := bufio.NewReader(h.in)
	line, err := reader.ReadString('\n')
	if err != nil {
		h.confirmed.Store(true)
		h.cancel()
		return
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y") {
		h.confirmed.Store(true)
		h.cancel()
		return
	}
	fmt.Fprintln(h.out, "Resuming.")
	log.Debug("cancellation declined, resuming run")
}

// Checkpoint blocks while a confirmation prompt is open. Call sites are the
// run's suspension points: between questions, between retry attempts,
// between variants.
func (h *interrupter) Checkpoint(ctx context.Context) error {
	h.mu.Lock()
	paused := h.paused
	h.mu.Unlock()

	if paused != nil {
		select {
		case <-paused:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// Cancelled reports whether the user confirmed cancellation.
func (h *interrupter) Cancelled() bool { return h.confirmed.Load() }

// Forced reports whether a second interrupt demanded an immediate exit.
func (h *interrupter) Forced() bool { return h.forced.Load() }
