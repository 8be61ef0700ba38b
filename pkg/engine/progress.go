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
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"charm.land/bubbles/v2/progress"
	"charm.land/lipgloss/v2"
	"github.com/teradata-labs/qc/pkg/ollama"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	statStyle  = lipgloss.NewStyle().Faint(true)
)

// surface renders one updatable progress line. With rendering disabled
// (verbose mode, no terminal) updates are silently dropped; callers log
// instead.
type surface struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	bar     progress.Model
	width   int
}

func newSurface(out io.Writer, enabled bool) *surface {
	return &surface{
		out:     out,
		enabled: enabled,
		bar:     progress.New(progress.WithDefaultBlend(), progress.WithWidth(30), progress.WithoutPercentage()),
	}
}

// Update redraws the line in place.
func (s *surface) Update(label string, done, total int, extra string) {
	if !s.enabled || total <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pct := float64(done) / float64(total)
	line := fmt.Sprintf("%s %s %d/%d %s",
		labelStyle.Render(label), s.bar.ViewAs(pct), done, total, statStyle.Render(extra))
	if pad := s.width - lipgloss.Width(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	s.width = lipgloss.Width(line)
	fmt.Fprintf(s.out, "\r%s", line)
}

// Finish terminates the line.
func (s *surface) Finish() {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.width > 0 {
		fmt.Fprintln(s.out)
		s.width = 0
	}
}

// pullTracker folds a pull's streamed progress records into a surface with
// moving-average throughput and ETA, and remembers which layers finished.
// Completed layers let the lifecycle manager reset its retry budget: an
// attempt that made progress is not counted against the caller.
type pullTracker struct {
	surface *surface
	model   string

	mu        sync.Mutex
	samples   []pullSample
	completed map[string]bool
}

type pullSample struct {
	at        time.Time
	completed int64
}

// movingAverageWindow bounds throughput samples.
const movingAverageWindow = 20

func newPullTracker(s *surface, model string) *pullTracker {
	return &pullTracker{surface: s, model: model, completed: map[string]bool{}}
}

// Observe consumes one streamed progress record.
func (p *pullTracker) Observe(rec ollama.PullProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec.Digest == "" || rec.Total == 0 {
		return
	}

	if rec.Completed >= rec.Total {
		if !p.completed[rec.Digest] {
			p.completed[rec.Digest] = true
			// New layer next: restart the throughput window.
			p.samples = p.samples[:0]
		}
		return
	}

	now := time.Now()
	p.samples = append(p.samples, pullSample{at: now, completed: rec.Completed})
	if len(p.samples) > movingAverageWindow {
		p.samples = p.samples[1:]
	}

	rate := p.rateLocked()
	extra := formatBytes(rec.Completed) + "/" + formatBytes(rec.Total)
	if rate > 0 {
		eta := time.Duration(float64(rec.Total-rec.Completed)/rate) * time.Second
		extra += fmt.Sprintf(" %s/s eta %s", formatBytes(int64(rate)), eta.Round(time.Second))
	}
	p.surface.Update("pull "+p.model, int(rec.Completed>>20), int(rec.Total>>20), extra)
}

// LayersCompleted reports how many layers have fully downloaded.
func (p *pullTracker) LayersCompleted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.completed)
}

// rateLocked is the moving-average download rate in bytes per second.
func (p *pullTracker) rateLocked() float64 {
	if len(p.samples) < 2 {
		return 0
	}
	first, last := p.samples[0], p.samples[len(p.samples)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(last.completed-first.completed) / dt
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
