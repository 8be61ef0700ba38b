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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/qc/pkg/judge"
	"github.com/teradata-labs/qc/pkg/ollama"
	"github.com/teradata-labs/qc/pkg/results"
	"github.com/teradata-labs/qc/pkg/suite"
)

// fakeInference is a minimal in-process stand-in for the inference server:
// enough of the HTTP surface for the runner to complete a variant.
type fakeInference struct {
	srv          *httptest.Server
	generateHits atomic.Int32
	withLogprobs bool
}

func newFakeInference(t *testing.T) *fakeInference {
	t.Helper()
	f := &fakeInference{withLogprobs: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"models": []map[string]any{
			{"name": "llama3:q4_0", "size": int64(4 << 30), "digest": "sha256:abcdef1234567890"},
			{"name": "llama3:fp16", "size": int64(16 << 30), "digest": "sha256:fedcba0987654321"},
		}})
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"details": map[string]any{
				"family":             "llama",
				"parameter_size":     "8.0B",
				"quantization_level": "Q4_0",
			},
			"tensors": []map[string]any{
				{"name": "blk.0.attn_q.weight", "type": "Q4_0", "shape": []int64{4096, 4096}},
				{"name": "blk.0.attn_norm.weight", "type": "F32", "shape": []int64{4096}},
			},
		})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		f.generateHits.Add(1)
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]any{
			"response":             "answer to: " + req.Prompt,
			"done":                 true,
			"eval_count":           100,
			"eval_duration":        int64(2e9),
			"prompt_eval_count":    10,
			"prompt_eval_duration": int64(1e9),
		}
		if f.withLogprobs {
			resp["logprobs"] = []map[string]any{{"token": "answer", "logprob": -0.1}}
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"version": "0.12.6"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func testSuite() *suite.Suite {
	return &suite.Suite{
		Name:       "unit",
		MaxPredict: 256,
		DefaultCtx: 4096,
		Categories: []suite.Category{
			{Name: "general", Questions: []suite.Question{
				{ID: "q1", Prompt: "what is water?"},
				{ID: "q2", Prompt: "what is fire?"},
			}},
			{Name: "long", CtxSize: 8192, Questions: []suite.Question{
				{ID: "q3", Prompt: "summarize this"},
			}},
		},
	}
}

func newTestRunner(t *testing.T, f *fakeInference, cfg *Config) (*runner, *results.Store) {
	t.Helper()
	cfg.Endpoint = f.srv.URL
	cfg.applyDefaults()

	k := testKernel(false, "")
	genLock := &sync.Mutex{}
	r := &runner{
		cfg:     cfg,
		server:  ollama.NewClient(ollama.Config{Endpoint: f.srv.URL}),
		kernel:  k,
		suite:   testSuite(),
		surface: newSurface(io.Discard, false),
		orch:    &orchestrator{cfg: cfg, kernel: k, genLock: genLock},
		genLock: genLock,
	}
	store := results.NewStore(filepath.Join(t.TempDir(), "llama3.qc.json"))
	return r, store
}

func TestRunnerCompletesVariant(t *testing.T) {
	f := newFakeInference(t)
	cfg := &Config{Model: "llama3", Quants: []string{"q4_0"}}
	r, store := newTestRunner(t, f, cfg)

	doc := &results.Document{SuiteName: "unit", Model: "llama3"}
	v, err := r.TestVariant(context.Background(), doc, store,
		variantRef{Name: "llama3:q4_0", Tag: "q4_0"}, false, false, nil)
	require.NoError(t, err)

	require.Len(t, v.Results, 3)
	assert.Equal(t, int32(3), f.generateHits.Load())
	assert.False(t, v.CompletedAt.IsZero())

	assert.Equal(t, "llama", v.Family)
	assert.Equal(t, "8.0B", v.Parameters)
	assert.Equal(t, "Q4_0", v.Quantization)
	assert.Equal(t, "Q4_0", v.QuantizationEnhanced)
	assert.Equal(t, int64(4<<30), v.Size)

	q1 := v.Result("q1")
	require.NotNil(t, q1)
	assert.Equal(t, "answer to: what is water?", q1.Answer)
	assert.Equal(t, "general", q1.Category)
	assert.InDelta(t, 50.0, q1.EvalTokensPerSec, 0.001)
	assert.InDelta(t, 10.0, q1.PromptTokensPerSec, 0.001)
	assert.Equal(t, 110, q1.TotalTokens)
	assert.Equal(t, 4096, q1.CtxSize)
	require.Len(t, q1.Logprobs, 1)

	// Category-level context override.
	q3 := v.Result("q3")
	require.NotNil(t, q3)
	assert.Equal(t, 8192, q3.CtxSize)

	// The document on disk is the one in memory.
	saved, err := results.NewStore(store.Path()).OpenOrCreate("llama3", "unit", results.RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, saved.Variant("q4_0"))
	assert.Len(t, saved.Variant("q4_0").Results, 3)
}

func TestRunnerResumeSkipsAnsweredQuestions(t *testing.T) {
	f := newFakeInference(t)
	cfg := &Config{Model: "llama3", Quants: []string{"q4_0"}}
	r, store := newTestRunner(t, f, cfg)

	doc := &results.Document{SuiteName: "unit", Model: "llama3"}
	doc.Variants = []*results.VariantResult{{
		Tag:       "q4_0",
		Model:     "llama3:q4_0",
		StartedAt: time.Now().UTC(),
		Results: []*results.QuestionResult{
			{QuestionID: "q1", Category: "general", Answer: "previous answer", CreatedAt: time.Now().UTC()},
		},
	}}

	v, err := r.TestVariant(context.Background(), doc, store,
		variantRef{Name: "llama3:q4_0", Tag: "q4_0"}, false, false, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.generateHits.Load())
	require.Len(t, v.Results, 3)
	assert.Equal(t, "previous answer", v.Result("q1").Answer)
}

func TestRunnerForceDiscardsPreviousResults(t *testing.T) {
	f := newFakeInference(t)
	cfg := &Config{Model: "llama3", Quants: []string{"q4_0"}, Force: true}
	r, store := newTestRunner(t, f, cfg)

	doc := &results.Document{SuiteName: "unit", Model: "llama3"}
	doc.Variants = []*results.VariantResult{{
		Tag:   "q4_0",
		Model: "llama3:q4_0",
		Results: []*results.QuestionResult{
			{QuestionID: "q1", Answer: "stale"},
		},
	}}

	v, err := r.TestVariant(context.Background(), doc, store,
		variantRef{Name: "llama3:q4_0", Tag: "q4_0"}, false, false, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(3), f.generateHits.Load())
	assert.NotEqual(t, "stale", v.Result("q1").Answer)
}

func TestRunnerFailsFastWithoutLogprobs(t *testing.T) {
	f := newFakeInference(t)
	f.withLogprobs = false
	cfg := &Config{Model: "llama3", Quants: []string{"q4_0"}}
	r, store := newTestRunner(t, f, cfg)

	doc := &results.Document{SuiteName: "unit", Model: "llama3"}
	_, err := r.TestVariant(context.Background(), doc, store,
		variantRef{Name: "llama3:q4_0", Tag: "q4_0"}, false, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ollama.ErrLogprobsUnavailable)
	assert.Equal(t, int32(1), f.generateHits.Load())
}

func TestRunnerParallelJudgesResumedAnswers(t *testing.T) {
	f := newFakeInference(t)
	cfg := &Config{Model: "llama3", Quants: []string{"q4_0"}, JudgeMode: JudgeParallel}
	r, store := newTestRunner(t, f, cfg)

	judgeSrv, judgeHits := fakeJudgeServer(t, `{"score": 91, "reason": "near identical"}`)
	r.orch.sim = judge.NewLocal(ollama.NewClient(ollama.Config{Endpoint: judgeSrv.URL}), "judge-model", 0)
	r.orch.surface = newSurface(io.Discard, false)

	base := &results.VariantResult{Tag: "fp16", IsBase: true, Results: []*results.QuestionResult{
		{QuestionID: "q1", Answer: "base a1"},
		{QuestionID: "q2", Answer: "base a2"},
		{QuestionID: "q3", Answer: "base a3"},
	}}
	doc := &results.Document{SuiteName: "unit", Model: "llama3", Variants: []*results.VariantResult{
		base,
		{
			Tag:   "q4_0",
			Model: "llama3:q4_0",
			Results: []*results.QuestionResult{
				{QuestionID: "q1", Category: "general", Answer: "resumed, never judged"},
				{QuestionID: "q2", Category: "general", Answer: "resumed, already judged",
					Judgment: &results.Judgment{Score: 55, JudgeModel: "judge-model"}},
			},
		},
	}}

	v, err := r.TestVariant(context.Background(), doc, store,
		variantRef{Name: "llama3:q4_0", Tag: "q4_0"}, false, false, base)
	require.NoError(t, err)
	r.orch.Join()

	// q1 resumed without a judgment, q3 freshly answered; q2 already carries
	// the current judge's verdict.
	assert.Equal(t, int32(1), f.generateHits.Load())
	assert.Equal(t, int32(2), judgeHits.Load())
	require.Equal(t, 2, r.orch.Merge(doc))

	require.NotNil(t, v.Result("q1").Judgment)
	assert.Equal(t, 91, v.Result("q1").Judgment.Score)
	assert.Equal(t, 55, v.Result("q2").Judgment.Score)
	require.NotNil(t, v.Result("q3").Judgment)
	assert.Equal(t, 91, v.Result("q3").Judgment.Score)
}

func TestSettleJoinsAndMergesBackgroundVerdicts(t *testing.T) {
	qr := &results.QuestionResult{QuestionID: "q1"}
	doc := &results.Document{SuiteName: "unit", Model: "llama3",
		Variants: []*results.VariantResult{{Tag: "q4_0", Results: []*results.QuestionResult{qr}}}}
	store := results.NewStore(filepath.Join(t.TempDir(), "llama3.qc.json"))

	o, _ := newTestOrchestrator(t, &Config{Model: "llama3", Quants: []string{"q4_0"}}, `{}`)
	o.park(pendingVerdict{tag: "q4_0", questionID: "q1",
		verdict: &judge.Verdict{Score: 77, Reason: "kept across failure"}})

	failure := errors.New("variant exploded")
	e := New(&Config{Model: "llama3", Quants: []string{"q4_0"}})
	err := e.settle(store, doc, testKernel(false, "").interrupts, o, failure)
	assert.Equal(t, failure, err)

	require.NotNil(t, qr.Judgment)
	assert.Equal(t, 77, qr.Judgment.Score)

	saved, err := results.NewStore(store.Path()).OpenOrCreate("llama3", "unit", results.RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, saved.Variant("q4_0").Result("q1").Judgment)
	assert.Equal(t, 77, saved.Variant("q4_0").Result("q1").Judgment.Score)
}

func TestCleanupClearsOnDemandFlag(t *testing.T) {
	var deleted atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/delete", func(w http.ResponseWriter, r *http.Request) {
		deleted.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := &Config{Model: "llama3", Quants: []string{"q4_0"}, NoUnloadAll: true}
	cfg.applyDefaults()
	e := New(cfg)
	lc := &lifecycle{
		server:  ollama.NewClient(ollama.Config{Endpoint: srv.URL}),
		kernel:  testKernel(false, ""),
		surface: newSurface(io.Discard, false),
	}
	store := results.NewStore(filepath.Join(t.TempDir(), "llama3.qc.json"))
	doc := &results.Document{SuiteName: "unit", Model: "llama3", Variants: []*results.VariantResult{
		{Tag: "q4_0", Model: "llama3:q4_0", PulledOnDemand: true,
			Results: []*results.QuestionResult{{QuestionID: "q1"}}},
		{Tag: "q8_0", Model: "llama3:q8_0", PulledOnDemand: true},
	}}

	e.cleanup(context.Background(), lc, store, doc, 1)

	assert.Equal(t, int32(1), deleted.Load())
	assert.False(t, doc.Variant("q4_0").PulledOnDemand)
	// Incomplete on-demand models survive for the next run.
	assert.True(t, doc.Variant("q8_0").PulledOnDemand)

	saved, err := results.NewStore(store.Path()).OpenOrCreate("llama3", "unit", results.RunOptions{})
	require.NoError(t, err)
	assert.False(t, saved.Variant("q4_0").PulledOnDemand)
	assert.True(t, saved.Variant("q8_0").PulledOnDemand)
}

func TestEnsureBaseRef(t *testing.T) {
	refs := []variantRef{
		{Name: "m:q4_0", Tag: "q4_0"},
		{Name: "m:q8_0", Tag: "q8_0"},
	}

	out := ensureBaseRef(refs, "m", "fp16")
	require.Len(t, out, 3)
	assert.Equal(t, variantRef{Name: "m:fp16", Tag: "fp16"}, out[0])
	assert.Equal(t, "q4_0", out[1].Tag)

	// Base already resolved, any case: untouched.
	assert.Equal(t, refs, ensureBaseRef(refs, "m", "Q8_0"))
	assert.Equal(t, refs, ensureBaseRef(refs, "m", ""))
}

func TestOrderBaseFirst(t *testing.T) {
	refs := []variantRef{
		{Name: "m:q4_0", Tag: "q4_0"},
		{Name: "m:q8_0", Tag: "q8_0"},
		{Name: "m:fp16", Tag: "fp16"},
	}

	ordered := orderBaseFirst(refs, "FP16")
	require.Len(t, ordered, 3)
	assert.Equal(t, "fp16", ordered[0].Tag)
	assert.Equal(t, "q4_0", ordered[1].Tag)
	assert.Equal(t, "q8_0", ordered[2].Tag)

	// Base already first: untouched.
	assert.Equal(t, ordered, orderBaseFirst(ordered, "fp16"))

	// Unknown base tag: order preserved.
	assert.Equal(t, refs, orderBaseFirst(refs, "bf16"))
}

func TestBaseTagSelection(t *testing.T) {
	refs := []variantRef{
		{Tag: "q4_0"},
		{Tag: "bf16"},
		{Tag: "q8_0"},
	}

	e := New(&Config{BaseTag: "q8_0"})
	assert.Equal(t, "q8_0", e.baseTag(refs))

	e = New(&Config{})
	assert.Equal(t, "bf16", e.baseTag(refs))

	e = New(&Config{})
	assert.Equal(t, "q4_0", e.baseTag([]variantRef{{Tag: "q4_0"}, {Tag: "q8_0"}}))
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Model: "llama3", Quants: []string{"q4_0"}}
	require.NoError(t, cfg.Validate())

	assert.Error(t, (&Config{Quants: []string{"q4_0"}}).Validate())
	assert.Error(t, (&Config{Model: "llama3"}).Validate())
	assert.Error(t, (&Config{Model: "llama3", Quants: []string{"x"}, JudgeMode: "batch"}).Validate())
	assert.Error(t, (&Config{Model: "llama3", Quants: []string{"x"}, Timeout: -time.Second}).Validate())
}

func TestPrintSummary(t *testing.T) {
	doc := &results.Document{
		Model: "llama3",
		Variants: []*results.VariantResult{
			{Tag: "fp16", Quantization: "F16", IsBase: true, Results: []*results.QuestionResult{
				{QuestionID: "q1", EvalTokensPerSec: 40},
				{QuestionID: "q2", EvalTokensPerSec: 60},
			}},
			{Tag: "q4_0", Quantization: "Q4_0", Results: []*results.QuestionResult{
				{QuestionID: "q1", EvalTokensPerSec: 80, Judgment: &results.Judgment{Score: 90}},
				{QuestionID: "q2", EvalTokensPerSec: 80, Judgment: &results.Judgment{Score: 70}},
			}},
			{Tag: "q2_K", Quantization: "Q2_K", Results: []*results.QuestionResult{
				{QuestionID: "q1", EvalTokensPerSec: 100},
			}},
		},
	}

	var buf bytes.Buffer
	printSummary(&buf, doc, 2)
	out := buf.String()

	assert.Contains(t, out, "llama3")
	assert.Contains(t, out, "base")
	assert.Contains(t, out, "score  80.0 (2 judged)")
	assert.Contains(t, out, "incomplete 1/2")
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{Model: "hf.co/user/repo", Quants: []string{"*"}}
	cfg.applyDefaults()

	assert.Equal(t, JudgeSerial, cfg.JudgeMode)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "hf.co-user-repo.qc.json", cfg.OutputPath)
}
