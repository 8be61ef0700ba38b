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
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/judge"
	"github.com/teradata-labs/qc/pkg/ollama"
	"github.com/teradata-labs/qc/pkg/registry"
	"github.com/teradata-labs/qc/pkg/results"
	"github.com/teradata-labs/qc/pkg/suite"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
	"golang.org/x/term"
)

// BuildVersion is stamped by the release build and recorded in every
// results document.
var BuildVersion = "dev"

// minLogprobsServer is the first server release that returns per-token
// log probabilities. Older servers fail the first question instead of
// producing documents without them.
const minLogprobsServer = "v0.12.0"

// Engine runs one complete comparison: resolve variants, test each one,
// judge against the base, persist continuously.
type Engine struct {
	cfg *Config
	in  io.Reader
	out io.Writer

	halfPrecision []string
}

// New builds an engine reading prompts from stdin and reporting on stdout.
func New(cfg *Config) *Engine {
	return &Engine{
		cfg:           cfg,
		in:            os.Stdin,
		out:           os.Stdout,
		halfPrecision: []string{"fp16", "f16", "bf16", "fp32", "f32"},
	}
}

// Run executes the full state machine. It returns nil on success,
// ErrCancelled when the user confirmed cancellation (partial results are
// saved first), and the underlying error otherwise.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	e.cfg.applyDefaults()

	ts, err := e.loadSuite()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log.Info("starting run",
		zap.String("run_id", runID),
		zap.String("model", e.cfg.Model),
		zap.Strings("quants", e.cfg.Quants),
		zap.String("suite", ts.Name))

	interactive := e.isInteractive()
	interrupts := newInterrupter(e.in, e.out, interactive)
	runCtx, stop := interrupts.Install(ctx)
	defer stop()
	k := newKernel(e.cfg.Timeout, interactive, e.in, e.out, interrupts)

	server := ollama.NewClient(ollama.Config{Endpoint: e.cfg.Endpoint})
	hf := registry.NewHuggingFace(registry.Config{})

	store := results.NewStore(e.cfg.OutputPath)
	doc, err := store.OpenOrCreate(e.cfg.Model, ts.Name, e.cfg.Options)
	if err != nil {
		return err
	}
	if e.cfg.Repository != "" {
		doc.Repository = e.cfg.Repository
	}
	doc.EngineVersion = BuildVersion

	// A second confirmed interrupt must escape even a stuck drain: save
	// whatever the document holds and leave. The save is best effort, the
	// main flow may still be mutating the document.
	interrupts.OnForce(func() {
		if serr := store.Save(doc); serr != nil {
			log.Error("failed to save on forced exit", zap.Error(serr))
		}
		fmt.Fprintln(e.out, "\nForced exit. Partial results saved.")
		os.Exit(2)
	})

	// Fail before any model work if the server is unreachable.
	if err := k.do(runCtx, "probe inference server", func(ctx context.Context) error {
		version, err := server.Version(ctx)
		if err != nil {
			return err
		}
		doc.ServerVersion = version
		return nil
	}); err != nil {
		return e.settle(store, doc, interrupts, nil, fmt.Errorf("inference server at %s: %w", server.Endpoint(), err))
	}
	e.checkServerVersion(doc.ServerVersion)

	sim, best, err := e.resolveJudges(runCtx, server)
	if err != nil {
		return err
	}

	genLock := &sync.Mutex{}
	surface := newSurface(e.out, interactive && !e.cfg.Verbose)
	lc := &lifecycle{server: server, hf: hf, kernel: k, surface: surface}
	orch := &orchestrator{
		cfg: e.cfg, sim: sim, best: best,
		kernel: k, hf: hf, surface: surface,
		genLock: genLock, sameAsGen: true,
	}
	run := &runner{
		cfg: e.cfg, server: server, kernel: k,
		suite: ts, surface: surface, orch: orch, genLock: genLock,
	}

	resolver := &tagResolver{server: server, hf: hf, kernel: k}
	refs, err := resolver.Resolve(runCtx, e.cfg.Model, e.cfg.Quants)
	if err != nil {
		return e.settle(store, doc, interrupts, orch, err)
	}

	// A configured base outside the quant list is still tested: every
	// comparison needs its reference answers.
	baseTag := e.baseTag(refs)
	refs = ensureBaseRef(refs, e.cfg.Model, baseTag)

	missing, err := e.verifyModels(runCtx, lc, refs)
	if err != nil {
		return e.settle(store, doc, interrupts, orch, err)
	}

	refs = orderBaseFirst(refs, baseTag)
	baseVariant := doc.EnsureBase(baseTag, e.cfg.BaseTag != "")
	if baseVariant != nil {
		// A stored base outside the current work list stays the reference.
		baseTag = baseVariant.Tag
	}

	total := ts.TotalQuestions()
	judgedThisRun := map[string]bool{}

	for _, ref := range refs {
		if err := interrupts.Checkpoint(runCtx); err != nil {
			return e.settle(store, doc, interrupts, orch, err)
		}

		isBase := strings.EqualFold(ref.Tag, baseTag)

		pulled := false
		if missing[ref.Tag] {
			log.Info("pulling model on demand", zap.String("model", ref.Name))
			if err := lc.Pull(runCtx, ref.Name); err != nil {
				return e.settle(store, doc, interrupts, orch, err)
			}
			if name, err := lc.ResolveActualName(runCtx, ref.Name); err == nil {
				ref.Name = name
			}
			pulled = true
		}

		if existing := doc.Variant(ref.Tag); existing != nil && existing.Complete(total) && !e.cfg.Force {
			log.Info("variant already complete, skipping testing", zap.String("tag", ref.Tag))
			if isBase {
				baseVariant = existing
			}
			continue
		}

		if err := lc.Prepare(runCtx, ref.Name); err != nil {
			return e.settle(store, doc, interrupts, orch, err)
		}

		v, err := run.TestVariant(runCtx, doc, store, ref, isBase, pulled, baseVariant)
		if err != nil {
			return e.settle(store, doc, interrupts, orch, err)
		}
		if isBase {
			baseVariant = v
			continue
		}

		switch e.cfg.JudgeMode {
		case JudgeParallel:
			orch.EnqueueBestForVariant(runCtx, v, baseVariant)
		default:
			if err := orch.JudgeVariant(runCtx, v, baseVariant); err != nil {
				return e.settle(store, doc, interrupts, orch, err)
			}
		}
		judgedThisRun[strings.ToLower(v.Tag)] = true
		orch.Merge(doc)
		if err := store.Save(doc); err != nil {
			return e.settle(store, doc, interrupts, orch, err)
		}
	}

	// Catch up on variants completed by earlier runs that the configured
	// judges have not seen yet.
	if orch.Enabled() && baseVariant != nil {
		for _, v := range doc.Variants {
			if judgedThisRun[strings.ToLower(v.Tag)] || !v.Complete(total) {
				continue
			}
			if !orch.NeedsJudgment(v) && !orch.NeedsJudgeBest(v) {
				continue
			}
			if err := orch.JudgeVariant(runCtx, v, baseVariant); err != nil {
				return e.settle(store, doc, interrupts, orch, err)
			}
			if err := store.Save(doc); err != nil {
				return e.settle(store, doc, interrupts, orch, err)
			}
		}
	}

	orch.Join()
	if n := orch.Merge(doc); n > 0 {
		log.Info("merged background judgments", zap.Int("count", n))
	}

	results.BackfillDigests(runCtx, doc, server, hf)
	if err := store.Save(doc); err != nil {
		return e.settle(store, doc, interrupts, orch, err)
	}

	if interrupts.Cancelled() || runCtx.Err() != nil {
		return ErrCancelled
	}

	e.cleanup(runCtx, lc, store, doc, total)
	printSummary(e.out, doc, total)
	log.Info("run complete",
		zap.String("results", store.Path()),
		zap.Int("variants", len(doc.Variants)))
	return nil
}

// settle is the single exit path for mid-run failures: background judges
// are joined, their verdicts merged, and the document saved so no work is
// lost. Confirmed cancellation maps onto ErrCancelled. A forced interrupt
// skips the join; its handler already saved and exited.
func (e *Engine) settle(store *results.Store, doc *results.Document, interrupts *interrupter, orch *orchestrator, err error) error {
	if orch != nil && !interrupts.Forced() {
		orch.Join()
		if n := orch.Merge(doc); n > 0 {
			log.Info("merged background judgments", zap.Int("count", n))
		}
	}

	if serr := store.Save(doc); serr != nil {
		log.Error("failed to save partial results", zap.Error(serr))
	} else {
		log.Info("partial results saved", zap.String("results", store.Path()))
	}

	if interrupts.Cancelled() || errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return ErrCancelled
	}
	return err
}

func (e *Engine) loadSuite() (*suite.Suite, error) {
	if e.cfg.SuitePath == "" {
		return suite.Default(), nil
	}
	return suite.Load(e.cfg.SuitePath)
}

func (e *Engine) isInteractive() bool {
	f, ok := e.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// resolveJudges builds the similarity and best-answer judge clients. The
// same specifier twice shares nothing; each client owns its transport.
func (e *Engine) resolveJudges(ctx context.Context, server *ollama.Client) (sim, best *judge.Client, err error) {
	if e.cfg.JudgeSpec != "" {
		sim, err = judge.Resolve(ctx, e.cfg.JudgeSpec, server, e.cfg.JudgeCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("judge: %w", err)
		}
	}
	if e.cfg.JudgeBestSpec != "" {
		best, err = judge.Resolve(ctx, e.cfg.JudgeBestSpec, server, e.cfg.JudgeCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("judgebest: %w", err)
		}
	}
	return sim, best, nil
}

// verifyModels checks every resolved variant exists on the server. Missing
// models abort the run unless on-demand pulling is enabled, in which case
// they are returned for the variant loop to pull.
func (e *Engine) verifyModels(ctx context.Context, lc *lifecycle, refs []variantRef) (map[string]bool, error) {
	missing := map[string]bool{}
	var absent []string
	for _, ref := range refs {
		ok, err := lc.Exists(ctx, ref.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing[ref.Tag] = true
			absent = append(absent, ref.Name)
		}
	}
	if len(absent) > 0 && !e.cfg.OnDemand {
		return nil, fmt.Errorf("models not present on the server: %s (use --ondemand to pull them)",
			strings.Join(absent, ", "))
	}
	return missing, nil
}

// baseTag picks the variant others are compared against: the configured
// tag, else the first half-precision tag in the run, else the first
// variant.
func (e *Engine) baseTag(refs []variantRef) string {
	if e.cfg.BaseTag != "" {
		return tagOf(e.cfg.BaseTag)
	}
	for _, half := range e.halfPrecision {
		for _, ref := range refs {
			if strings.EqualFold(ref.Tag, half) {
				return ref.Tag
			}
		}
	}
	if len(refs) > 0 {
		return refs[0].Tag
	}
	return ""
}

// cleanup removes on-demand models whose results are complete and unloads
// everything. Incomplete on-demand models survive so the next run resumes
// without re-downloading. Successful deletions clear the document flag so
// it tracks what is actually present on the server.
func (e *Engine) cleanup(ctx context.Context, lc *lifecycle, store *results.Store, doc *results.Document, total int) {
	deleted := false
	for _, v := range doc.Variants {
		if !v.PulledOnDemand || !v.Complete(total) {
			continue
		}
		if err := lc.Delete(ctx, v.Model); err != nil {
			log.Warn("failed to delete on-demand model",
				zap.String("model", v.Model), zap.Error(err))
			continue
		}
		v.PulledOnDemand = false
		deleted = true
	}
	if deleted {
		if err := store.Save(doc); err != nil {
			log.Warn("failed to record on-demand deletions", zap.Error(err))
		}
	}
	if e.cfg.NoUnloadAll {
		return
	}
	if err := lc.UnloadAll(ctx); err != nil {
		log.Warn("failed to unload models", zap.Error(err))
	}
}

func (e *Engine) checkServerVersion(version string) {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return
	}
	if semver.Compare(v, minLogprobsServer) < 0 {
		log.Warn("server predates log-probability support, runs will fail on the first question",
			zap.String("server_version", version),
			zap.String("required", strings.TrimPrefix(minLogprobsServer, "v")))
	}
}

// ensureBaseRef inserts the base tag at the front of the work list when it
// was not among the resolved quants: the base must be tested before any
// variant can be judged against it.
func ensureBaseRef(refs []variantRef, model, baseTag string) []variantRef {
	if baseTag == "" {
		return refs
	}
	for _, ref := range refs {
		if strings.EqualFold(ref.Tag, baseTag) {
			return refs
		}
	}
	return append([]variantRef{{Name: qualify(model, baseTag), Tag: baseTag}}, refs...)
}

// orderBaseFirst moves the base variant to the front so every comparison
// has its reference answers available.
func orderBaseFirst(refs []variantRef, baseTag string) []variantRef {
	for i, ref := range refs {
		if strings.EqualFold(ref.Tag, baseTag) {
			if i == 0 {
				return refs
			}
			out := make([]variantRef, 0, len(refs))
			out = append(out, refs[i])
			out = append(out, refs[:i]...)
			out = append(out, refs[i+1:]...)
			return out
		}
	}
	return refs
}
