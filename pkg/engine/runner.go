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
	"sync"
	"time"

	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/ollama"
	"github.com/teradata-labs/qc/pkg/results"
	"github.com/teradata-labs/qc/pkg/suite"
	"go.uber.org/zap"
)

// runner drives the per-variant question loop. Generation is a serialized
// resource: genLock guarantees a single inflight generate call, and judges
// sharing the endpoint take the same lock.
type runner struct {
	cfg     *Config
	server  *ollama.Client
	kernel  *kernel
	suite   *suite.Suite
	surface *surface
	orch    *orchestrator
	genLock *sync.Mutex
}

// TestVariant answers every unanswered question for one variant and
// persists after each answer, so a kill at any point resumes cleanly. The
// returned variant has been merged into doc.
func (r *runner) TestVariant(ctx context.Context, doc *results.Document, store *results.Store, ref variantRef, isBase, pulledOnDemand bool, base *results.VariantResult) (*results.VariantResult, error) {
	v := doc.Variant(ref.Tag)
	if v != nil && r.cfg.Force {
		v.Results = nil
	}
	if v == nil {
		v = &results.VariantResult{Tag: ref.Tag, Model: ref.Name}
		doc.Variants = append(doc.Variants, v)
	}
	v.IsBase = isBase
	if pulledOnDemand {
		v.PulledOnDemand = true
	}
	if v.StartedAt.IsZero() {
		v.StartedAt = time.Now().UTC()
	}

	if err := r.captureMetadata(ctx, v, ref.Name); err != nil {
		return nil, err
	}

	answered := make(map[string]bool, len(v.Results))
	for _, qr := range v.Results {
		answered[qr.QuestionID] = true
	}

	// Resumed answers may predate the configured judge. Parallel mode has
	// no later serial pass over this variant, so enqueue them here; fresh
	// answers are enqueued as they arrive below.
	if r.cfg.JudgeMode == JudgeParallel && base != nil && !isBase {
		for _, qr := range v.Results {
			if r.orch.needsSimilarity(qr) {
				r.orch.EnqueueSimilarity(ctx, ref.Tag, qr, base.Result(qr.QuestionID))
			}
		}
	}

	total := r.suite.TotalQuestions()
	done := len(v.Results)
	r.surface.Update("test "+ref.Tag, done, total, "")

	prevCtx := 0
	for ci := range r.suite.Categories {
		cat := &r.suite.Categories[ci]
		for qi := range cat.Questions {
			q := &cat.Questions[qi]
			if answered[q.ID] {
				continue
			}
			if err := r.kernel.interrupts.Checkpoint(ctx); err != nil {
				return nil, err
			}

			ctxSize := r.suite.ResolveCtx(cat, q)
			if ctxSize != prevCtx && prevCtx != 0 {
				log.Info("context length changed",
					zap.String("question", q.ID),
					zap.Int("from", prevCtx),
					zap.Int("to", ctxSize))
			}
			prevCtx = ctxSize

			qr, err := r.askQuestion(ctx, ref.Name, cat.Name, q, ctxSize)
			if err != nil {
				return nil, err
			}
			v.Results = append(v.Results, qr)

			if err := store.Save(doc); err != nil {
				return nil, err
			}

			done++
			r.surface.Update("test "+ref.Tag, done, total,
				fmt.Sprintf("%.1f tok/s", qr.EvalTokensPerSec))

			if r.cfg.JudgeMode == JudgeParallel && base != nil && !isBase {
				r.orch.EnqueueSimilarity(ctx, ref.Tag, qr, base.Result(q.ID))
			}
		}
	}
	r.surface.Finish()

	v.CompletedAt = time.Now().UTC()
	if err := store.Save(doc); err != nil {
		return nil, err
	}
	return v, nil
}

// askQuestion runs one generate call under the normal retry policy and
// converts the raw counters. Missing log-probabilities fail the variant
// permanently.
func (r *runner) askQuestion(ctx context.Context, model, category string, q *suite.Question, ctxSize int) (*results.QuestionResult, error) {
	opts := ollama.GenerateOptions{
		Temperature:      r.cfg.Options.Temperature,
		Seed:             r.cfg.Options.Seed,
		TopP:             r.cfg.Options.TopP,
		TopK:             r.cfg.Options.TopK,
		RepeatPenalty:    r.cfg.Options.RepeatPenalty,
		FrequencyPenalty: r.cfg.Options.FrequencyPenalty,
		NumCtx:           ctxSize,
		NumPredict:       r.suite.MaxPredict,
		Think:            r.cfg.Options.Think,
		ThinkLevel:       r.cfg.Options.ThinkLevel,
	}

	var res *ollama.GenerateResult
	err := r.kernel.do(ctx, "generate "+q.ID, func(ctx context.Context) error {
		r.genLock.Lock()
		defer r.genLock.Unlock()
		var err error
		res, err = r.server.Generate(ctx, model, q.Prompt, opts)
		if errors.Is(err, ollama.ErrLogprobsUnavailable) {
			return err
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ollama.ErrLogprobsUnavailable) {
			return nil, fmt.Errorf("question %s: %w", q.ID, ollama.ErrLogprobsUnavailable)
		}
		return nil, err
	}

	return &results.QuestionResult{
		QuestionID:         q.ID,
		Category:           category,
		Prompt:             q.Prompt,
		Answer:             res.Response,
		Logprobs:           res.Logprobs,
		EvalTokensPerSec:   tokensPerSecond(res.EvalCount, res.EvalDuration),
		PromptTokensPerSec: tokensPerSecond(res.PromptEvalCount, res.PromptEvalDuration),
		TotalTokens:        res.EvalCount + res.PromptEvalCount,
		CtxSize:            ctxSize,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// captureMetadata fills the variant's model details from show and the tag
// listing. Missing metadata is not fatal; digests can be backfilled later.
func (r *runner) captureMetadata(ctx context.Context, v *results.VariantResult, model string) error {
	var show *ollama.ShowResult
	err := r.kernel.do(ctx, "show "+model, func(ctx context.Context) error {
		var err error
		show, err = r.server.Show(ctx, model, true)
		return err
	})
	if err != nil {
		if errors.Is(err, ollama.ErrNotFound) {
			return err
		}
		log.Warn("failed to fetch model metadata", zap.String("model", model), zap.Error(err))
		return nil
	}

	v.Family = show.Family
	v.Parameters = show.ParameterSize
	v.Quantization = show.QuantizationLevel
	if label := enhancedQuantLabel(show.Tensors); label != "" {
		v.QuantizationEnhanced = label
	}

	var models []ollama.ModelInfo
	if err := r.kernel.do(ctx, "list models", func(ctx context.Context) error {
		var err error
		models, err = r.server.List(ctx)
		return err
	}); err == nil {
		for _, m := range models {
			if strings.EqualFold(m.Name, model) {
				v.Size = m.Size
				v.Digest = m.Digest
			}
		}
	}
	return nil
}

func tokensPerSecond(count int, durationNs int64) float64 {
	if durationNs <= 0 {
		return 0
	}
	return float64(count) / (float64(durationNs) / 1e9)
}
