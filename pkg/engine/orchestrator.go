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
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/judge"
	"github.com/teradata-labs/qc/pkg/registry"
	"github.com/teradata-labs/qc/pkg/results"
	"go.uber.org/zap"
)

// judgeMaxTokens is the prediction budget for judge calls. Generous: a
// truncated verdict costs a retry round.
const judgeMaxTokens = 2048

// orchestrator decides what gets judged, by whom, and when. Verdicts from
// background tasks are parked in a pending list and merged into the
// document only from the main control flow.
type orchestrator struct {
	cfg  *Config
	sim  *judge.Client // nil when judging is disabled
	best *judge.Client // nil when no best-answer pass is configured

	kernel  *kernel
	hf      *registry.HuggingFace
	surface *surface

	// judgeLock serializes calls through one judge model. genLock is shared
	// with the test runner and additionally held when the judge lives on
	// the same endpoint as generation.
	judgeLock sync.Mutex
	genLock   *sync.Mutex
	sameAsGen bool

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending []pendingVerdict
	simWork map[string]*sync.WaitGroup

	judged     int
	judgeTotal int
}

// pendingVerdict is one finished background judgment awaiting merge.
type pendingVerdict struct {
	tag        string
	questionID string
	verdict    *judge.Verdict
	bestPass   bool
	err        error
}

// Enabled reports whether any judging is configured.
func (o *orchestrator) Enabled() bool { return o.sim != nil || o.best != nil }

// NeedsJudgment reports whether the similarity pass has work in v: a
// missing judgment, or one written by a different judge identity.
func (o *orchestrator) NeedsJudgment(v *results.VariantResult) bool {
	if o.sim == nil || v.IsBase {
		return false
	}
	if o.cfg.Rejudge || o.cfg.Force {
		return true
	}
	for _, qr := range v.Results {
		if qr.Judgment == nil || qr.Judgment.JudgeModel != o.sim.Identity() {
			return true
		}
	}
	return false
}

// needsSimilarity is the per-question form of NeedsJudgment.
func (o *orchestrator) needsSimilarity(qr *results.QuestionResult) bool {
	if o.sim == nil {
		return false
	}
	if o.cfg.Rejudge || o.cfg.Force {
		return true
	}
	return qr.Judgment == nil || qr.Judgment.JudgeModel != o.sim.Identity()
}

// NeedsJudgeBest is the best-answer analogue of NeedsJudgment.
func (o *orchestrator) NeedsJudgeBest(v *results.VariantResult) bool {
	if o.best == nil || v.IsBase {
		return false
	}
	if o.cfg.Rejudge || o.cfg.Force {
		return true
	}
	for _, qr := range v.Results {
		if qr.Judgment == nil || qr.Judgment.JudgeModelBestAnswer != o.best.Identity() {
			return true
		}
	}
	return false
}

// JudgeVariant runs the serial path: every similarity judgment for the
// variant to completion, then every best-answer judgment. Judgments already
// produced by the current identity are skipped unless force or rejudge.
func (o *orchestrator) JudgeVariant(ctx context.Context, v, base *results.VariantResult) error {
	if base == nil || v.IsBase {
		return nil
	}

	if o.sim != nil {
		for _, qr := range v.Results {
			if !o.needsSimilarity(qr) {
				continue
			}
			baseQR := base.Result(qr.QuestionID)
			if baseQR == nil {
				continue
			}
			verdict, err := o.judgeOne(ctx, baseQR, qr, false)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("skipping similarity judgment",
					zap.String("variant", v.Tag),
					zap.String("question", qr.QuestionID),
					zap.Error(err))
				continue
			}
			o.applySimilarity(qr, verdict)
			o.report(v.Tag, qr, baseQR, verdict, false)
		}
	}

	if o.best != nil {
		for _, qr := range v.Results {
			if !o.cfg.Force && !o.cfg.Rejudge &&
				qr.Judgment != nil && qr.Judgment.JudgeModelBestAnswer == o.best.Identity() {
				continue
			}
			baseQR := base.Result(qr.QuestionID)
			if baseQR == nil {
				continue
			}
			verdict, err := o.judgeOne(ctx, baseQR, qr, true)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("skipping best-answer judgment",
					zap.String("variant", v.Tag),
					zap.String("question", qr.QuestionID),
					zap.Error(err))
				continue
			}
			o.applyBest(qr, verdict)
			o.report(v.Tag, qr, baseQR, verdict, true)
		}
	}
	return nil
}

// EnqueueSimilarity dispatches one background similarity task (parallel
// mode). The verdict lands in the pending list; Merge folds it in later.
func (o *orchestrator) EnqueueSimilarity(ctx context.Context, tag string, qr, baseQR *results.QuestionResult) {
	if o.sim == nil || baseQR == nil {
		return
	}
	o.addTotal(1)
	vwg := o.simGroup(tag)
	vwg.Add(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer vwg.Done()
		verdict, err := o.judgeOne(ctx, baseQR, qr, false)
		o.park(pendingVerdict{tag: tag, questionID: qr.QuestionID, verdict: verdict, err: err})
	}()
}

// simGroup tracks inflight similarity tasks per variant so the best-answer
// pass can wait for them to drain.
func (o *orchestrator) simGroup(tag string) *sync.WaitGroup {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.simWork == nil {
		o.simWork = map[string]*sync.WaitGroup{}
	}
	wg := o.simWork[tag]
	if wg == nil {
		wg = &sync.WaitGroup{}
		o.simWork[tag] = wg
	}
	return wg
}

// EnqueueBestForVariant dispatches the variant's best-answer tasks as one
// background unit that first waits for its similarity tasks to drain
// (parallel mode).
func (o *orchestrator) EnqueueBestForVariant(ctx context.Context, v, base *results.VariantResult) {
	if o.best == nil || base == nil || v.IsBase {
		return
	}

	type pair struct{ qr, baseQR *results.QuestionResult }
	var work []pair
	for _, qr := range v.Results {
		if !o.cfg.Force && !o.cfg.Rejudge &&
			qr.Judgment != nil && qr.Judgment.JudgeModelBestAnswer == o.best.Identity() {
			continue
		}
		baseQR := base.Result(qr.QuestionID)
		if baseQR == nil {
			continue
		}
		work = append(work, pair{qr, baseQR})
	}
	if len(work) == 0 {
		return
	}

	o.addTotal(len(work))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.simGroup(v.Tag).Wait()
		for _, p := range work {
			if ctx.Err() != nil {
				o.park(pendingVerdict{tag: v.Tag, questionID: p.qr.QuestionID, bestPass: true, err: ctx.Err()})
				continue
			}
			verdict, err := o.judgeOne(ctx, p.baseQR, p.qr, true)
			o.park(pendingVerdict{tag: v.Tag, questionID: p.qr.QuestionID, verdict: verdict, bestPass: true, err: err})
		}
	}()
}

func (o *orchestrator) park(p pendingVerdict) {
	o.mu.Lock()
	o.pending = append(o.pending, p)
	o.mu.Unlock()
}

// Join blocks until every background task has finished.
func (o *orchestrator) Join() {
	o.wg.Wait()
}

// Merge drains the pending verdicts into the document. Called only from
// the main control flow, at variant end and after Join.
func (o *orchestrator) Merge(doc *results.Document) int {
	o.mu.Lock()
	drained := o.pending
	o.pending = nil
	o.mu.Unlock()

	merged := 0
	for _, p := range drained {
		if p.err != nil {
			log.Warn("background judgment failed, skipped",
				zap.String("variant", p.tag),
				zap.String("question", p.questionID),
				zap.Error(p.err))
			continue
		}
		v := doc.Variant(p.tag)
		if v == nil {
			continue
		}
		qr := v.Result(p.questionID)
		if qr == nil {
			continue
		}
		if p.bestPass {
			o.applyBest(qr, p.verdict)
		} else {
			o.applySimilarity(qr, p.verdict)
		}
		merged++
	}
	return merged
}

// judgeOne runs a single judgment under the judge-extended retry policy.
func (o *orchestrator) judgeOne(ctx context.Context, baseQR, qr *results.QuestionResult, bestPass bool) (*judge.Verdict, error) {
	client := o.sim
	system, user := judge.SimilarityPrompts(qr.Prompt, baseQR.Answer, qr.Answer)
	if bestPass {
		client = o.best
		system, user = judge.BestAnswerPrompts(qr.Prompt, baseQR.Answer, qr.Answer)
	}

	req := judge.Request{
		System:         system,
		User:           user,
		MaxTokens:      judgeMaxTokens,
		TestCtx:        qr.CtxSize,
		BestAnswerOnly: bestPass,
	}

	var verdict *judge.Verdict
	op := fmt.Sprintf("judge %s", qr.QuestionID)
	err := o.kernel.doJudge(ctx, op, func(ctx context.Context) error {
		o.judgeLock.Lock()
		defer o.judgeLock.Unlock()
		if o.sameAsGen && client.SameEndpoint(o.cfg.Endpoint) {
			o.genLock.Lock()
			defer o.genLock.Unlock()
		}
		var err error
		verdict, err = client.Judge(ctx, req)
		return err
	}, o.rateLimitHint)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.judged++
	done, total := o.judged, o.judgeTotal
	o.mu.Unlock()
	if total > 0 {
		o.surface.Update("judge", done, total, "")
	}
	return verdict, nil
}

func (o *orchestrator) applySimilarity(qr *results.QuestionResult, v *judge.Verdict) {
	j := qr.Judgment
	if j == nil {
		j = &results.Judgment{}
		qr.Judgment = j
	}
	j.Score = v.Score
	j.Reason = v.Reason
	j.BestAnswer = v.BestAnswer
	j.RawResponse = v.RawResponse
	j.JudgeModel = o.sim.Identity()
	j.JudgeProvider = o.sim.ProviderName()
	j.JudgeAPIVersion = o.sim.APIVersion()
	j.JudgedAt = time.Now().UTC()
}

func (o *orchestrator) applyBest(qr *results.QuestionResult, v *judge.Verdict) {
	j := qr.Judgment
	if j == nil {
		// Best-answer pass configured without a similarity pass: the score
		// floor keeps the document schema-valid.
		j = &results.Judgment{Score: 1, JudgeModel: o.best.Identity()}
		qr.Judgment = j
	}
	j.BestAnswer = v.BestAnswer
	j.BestAnswerReason = v.Reason
	j.JudgeModelBestAnswer = o.best.Identity()
	j.BestJudgedAt = time.Now().UTC()
}

// report prints the per-judgment diagnostic line verbose mode uses in
// place of a progress bar.
func (o *orchestrator) report(tag string, qr, baseQR *results.QuestionResult, v *judge.Verdict, bestPass bool) {
	if !o.cfg.Verbose {
		return
	}
	if bestPass {
		fmt.Fprintf(o.kernel.out, "judge-best %s/%s: best=%s (%s)\n",
			tag, qr.QuestionID, orNull(v.BestAnswer), answerDiffStats(baseQR.Answer, qr.Answer))
		return
	}
	fmt.Fprintf(o.kernel.out, "judge %s/%s: score=%d best=%s (%s)\n",
		tag, qr.QuestionID, v.Score, orNull(v.BestAnswer), answerDiffStats(baseQR.Answer, qr.Answer))
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

func (o *orchestrator) addTotal(n int) {
	o.mu.Lock()
	o.judgeTotal += n
	o.mu.Unlock()
}

// rateLimitHint consults the registry reset header for runs whose model
// lives on a third-party registry with a configured token.
func (o *orchestrator) rateLimitHint(ctx context.Context) time.Duration {
	if o.hf == nil || !o.hf.HasToken() || !registry.IsRegistryPath(o.cfg.Model) {
		return 0
	}
	return o.hf.RateLimitDelay(ctx, o.cfg.Model)
}
