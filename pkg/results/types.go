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

// Package results persists benchmark outcomes as a single crash-safe JSON
// document per target model.
package results

import (
	"strings"
	"time"

	"github.com/teradata-labs/qc/pkg/ollama"
)

// RunOptions are the sampling settings a document was produced under. They
// are fixed for the document's lifetime so every variant answers under
// identical conditions.
type RunOptions struct {
	Temperature      float64 `json:"temperature"`
	Seed             int     `json:"seed"`
	TopP             float64 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	RepeatPenalty    float64 `json:"repeatPenalty,omitempty"`
	FrequencyPenalty float64 `json:"frequencyPenalty,omitempty"`
	Think            bool    `json:"think,omitempty"`
	ThinkLevel       string  `json:"thinkLevel,omitempty"`
}

// Judgment is one judge verdict attached to a question result.
type Judgment struct {
	Score      int    `json:"score"`
	Reason     string `json:"reason"`
	BestAnswer string `json:"bestAnswer,omitempty"`
	// BestAnswerReason is written by the quality-only pass, which overwrites
	// only the best-answer marker and this field.
	BestAnswerReason string `json:"bestAnswerReason,omitempty"`

	// Judge identities. A judgment written under a different identity is
	// treated as missing when deciding what to re-judge.
	JudgeModel           string `json:"judgeModel"`
	JudgeProvider        string `json:"judgeProvider,omitempty"`
	JudgeAPIVersion      string `json:"judgeApiVersion,omitempty"`
	JudgeModelBestAnswer string `json:"judgeModelBestAnswer,omitempty"`

	JudgedAt     time.Time `json:"judgedAt"`
	BestJudgedAt time.Time `json:"bestJudgedAt,omitzero"`

	// RawResponse is kept only when no reason could be extracted.
	RawResponse string `json:"rawResponse,omitempty"`
}

// QuestionResult is one answered question within a variant. Question results
// are append-only: an existing answer is never overwritten in place.
type QuestionResult struct {
	QuestionID string `json:"questionId"`
	Category   string `json:"category"`
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer"`

	Logprobs []ollama.TokenLogprob `json:"logprobs"`

	EvalTokensPerSec   float64 `json:"evalTokensPerSec"`
	PromptTokensPerSec float64 `json:"promptTokensPerSec"`
	TotalTokens        int     `json:"totalTokens"`
	CtxSize            int     `json:"ctxSize"`

	CreatedAt time.Time `json:"createdAt"`

	Judgment *Judgment `json:"judgment,omitempty"`
}

// VariantResult holds everything recorded for one quantized variant.
type VariantResult struct {
	Tag    string `json:"tag"`
	Model  string `json:"model"`
	Size   int64  `json:"size,omitempty"`
	Digest string `json:"digest,omitempty"`

	Family               string `json:"family,omitempty"`
	Parameters           string `json:"parameters,omitempty"`
	Quantization         string `json:"quantization,omitempty"`
	QuantizationEnhanced string `json:"quantizationEnhanced,omitempty"`

	// IsBase marks the variant all others are judged against. Exactly one
	// variant is base at steady state.
	IsBase bool `json:"isBase"`
	// PulledOnDemand stays true from a successful pull until the model is
	// deleted again or the flag is cleared on save.
	PulledOnDemand bool `json:"pulledOnDemand,omitempty"`

	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`

	Results []*QuestionResult `json:"results"`
}

// Document is the whole results file for one target model.
type Document struct {
	SuiteName     string     `json:"testSuite"`
	Model         string     `json:"model"`
	Repository    string     `json:"repository,omitempty"`
	ServerVersion string     `json:"serverVersion,omitempty"`
	EngineVersion string     `json:"engineVersion,omitempty"`
	Options       RunOptions `json:"options"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	Variants []*VariantResult `json:"variants"`
}

// Variant finds a variant by tag, tolerating the case normalization servers
// apply when storing pulled models.
func (d *Document) Variant(tag string) *VariantResult {
	for _, v := range d.Variants {
		if strings.EqualFold(v.Tag, tag) {
			return v
		}
	}
	return nil
}

// Base returns the base variant, or nil when none is marked.
func (d *Document) Base() *VariantResult {
	for _, v := range d.Variants {
		if v.IsBase {
			return v
		}
	}
	return nil
}

// halfPrecisionTags are the patterns a base is elected from when no variant
// carries the flag after load.
var halfPrecisionTags = []string{"fp16", "f16", "bf16", "fp32", "f32"}

// EnsureBase elects the variant all others are judged against. With
// configured set, baseTag came from the user and demotes any previously
// stored base that disagrees, keeping the at-most-one-base property across
// reconfigured runs. Otherwise the stored flag wins, then the requested
// tag, then a well-known half-precision tag. Returns the elected base, or
// nil when no candidate variant exists yet.
func (d *Document) EnsureBase(baseTag string, configured bool) *VariantResult {
	if configured && baseTag != "" {
		for _, v := range d.Variants {
			if v.IsBase && !strings.EqualFold(v.Tag, baseTag) {
				v.IsBase = false
			}
		}
	}
	if base := d.Base(); base != nil {
		return base
	}
	if baseTag != "" {
		if v := d.Variant(baseTag); v != nil {
			v.IsBase = true
			return v
		}
	}
	for _, pattern := range halfPrecisionTags {
		for _, v := range d.Variants {
			if strings.EqualFold(tagSuffix(v.Tag), pattern) {
				v.IsBase = true
				return v
			}
		}
	}
	return nil
}

// Complete reports whether the variant answered the whole suite.
func (v *VariantResult) Complete(totalQuestions int) bool {
	return len(v.Results) >= totalQuestions
}

// Result finds a question result by question id.
func (v *VariantResult) Result(questionID string) *QuestionResult {
	for _, r := range v.Results {
		if r.QuestionID == questionID {
			return r
		}
	}
	return nil
}

// ShortDigest is the 12-character display form of a content digest.
func ShortDigest(digest string) string {
	d := strings.TrimPrefix(digest, "sha256:")
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Tag derives the per-variant identity token from a model reference: the
// suffix after the last colon, or the whole name for third-party registry
// paths without a tag.
func Tag(model string) string {
	return tagSuffix(model)
}

func tagSuffix(model string) string {
	if i := strings.LastIndex(model, ":"); i >= 0 {
		return model[i+1:]
	}
	return model
}
