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

// Package engine drives a full quantization comparison run: model
// lifecycle, per-question testing, judging, and crash-safe persistence.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/qc/pkg/results"
)

// JudgeMode selects when judgments run relative to testing.
type JudgeMode string

const (
	// JudgeSerial runs all judgments for a variant after its testing ends.
	JudgeSerial JudgeMode = "serial"
	// JudgeParallel dispatches a background judgment as each question
	// completes.
	JudgeParallel JudgeMode = "parallel"
)

// DefaultTimeout is the initial per-request budget. It can be doubled
// dynamically during a run, so the HTTP clients themselves carry none.
const DefaultTimeout = 300 * time.Second

// Config is everything one run needs.
type Config struct {
	// Endpoint of the inference server under test.
	Endpoint string
	// Model is the target model family or registry path.
	Model string
	// Quants are the variant specifiers: tags, full names, or wildcards.
	Quants []string
	// BaseTag marks the variant all others are judged against.
	BaseTag string

	// JudgeSpec and JudgeBestSpec select the similarity and best-answer
	// judges (empty disables the pass).
	JudgeSpec     string
	JudgeBestSpec string
	JudgeMode     JudgeMode
	// JudgeCtx overrides the local judge context window; 0 auto-sizes.
	JudgeCtx int

	// SuitePath loads an external test suite instead of the embedded one.
	SuitePath string
	// OutputPath overrides the derived results file location.
	OutputPath string
	// Repository is recorded in the results document.
	Repository string

	Options results.RunOptions
	Timeout time.Duration

	Force       bool
	Rejudge     bool
	OnDemand    bool
	NoUnloadAll bool
	Verbose     bool
}

// Validate surfaces configuration errors before any work happens.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("target model is required")
	}
	if len(c.Quants) == 0 {
		return fmt.Errorf("at least one variant specifier is required")
	}
	switch c.JudgeMode {
	case "", JudgeSerial, JudgeParallel:
	default:
		return fmt.Errorf("judge mode must be %q or %q, got %q", JudgeSerial, JudgeParallel, c.JudgeMode)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// applyDefaults fills the zero values.
func (c *Config) applyDefaults() {
	if c.JudgeMode == "" {
		c.JudgeMode = JudgeSerial
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.OutputPath == "" {
		c.OutputPath = results.DerivePath(c.Model)
	}
}

// ErrCancelled marks a run that was confirmed-cancelled by the user.
// Partial results were persisted before it is returned.
var ErrCancelled = errors.New("run cancelled")
