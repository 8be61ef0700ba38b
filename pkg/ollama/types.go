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

package ollama

// GenerateOptions are the sampling settings sent with every generate call.
// They are fixed for the lifetime of a results document so that every
// variant answers under identical conditions.
type GenerateOptions struct {
	Temperature      float64
	Seed             int
	TopP             float64
	TopK             int
	RepeatPenalty    float64
	FrequencyPenalty float64
	NumCtx           int
	NumPredict       int
	// Think enables the server-side thinking mode. ThinkLevel, when set,
	// is forwarded verbatim as a string level instead of a boolean.
	Think      bool
	ThinkLevel string
}

// TokenLogprob is one entry of the per-token confidence trace.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// GenerateResult is the non-streaming answer to a generate call.
type GenerateResult struct {
	Response           string
	Logprobs           []TokenLogprob
	EvalCount          int
	EvalDuration       int64 // nanoseconds
	PromptEvalCount    int
	PromptEvalDuration int64 // nanoseconds
	TotalDuration      int64 // nanoseconds
}

// ModelInfo is one entry of the server's tag listing.
type ModelInfo struct {
	Name   string
	Size   int64
	Digest string
}

// TensorInfo describes one tensor of a model, as reported by show verbose.
type TensorInfo struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Shape []int64 `json:"shape"`
}

// ShowResult is the metadata for a single model.
type ShowResult struct {
	Family            string
	ParameterSize     string
	QuantizationLevel string
	Tensors           []TensorInfo
}

// PullProgress is one status record of a streaming pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// wire types

type generateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	Logprobs  bool           `json:"logprobs,omitempty"`
	Think     any            `json:"think,omitempty"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response           string         `json:"response"`
	Logprobs           []TokenLogprob `json:"logprobs"`
	Done               bool           `json:"done"`
	TotalDuration      int64          `json:"total_duration"`
	PromptEvalCount    int            `json:"prompt_eval_count"`
	PromptEvalDuration int64          `json:"prompt_eval_duration"`
	EvalCount          int            `json:"eval_count"`
	EvalDuration       int64          `json:"eval_duration"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message            chatMessage `json:"message"`
	Done               bool        `json:"done"`
	PromptEvalCount    int         `json:"prompt_eval_count"`
	EvalCount          int         `json:"eval_count"`
	EvalDuration       int64       `json:"eval_duration"`
	PromptEvalDuration int64       `json:"prompt_eval_duration"`
}

type tagsResponse struct {
	Models []struct {
		Name   string `json:"name"`
		Size   int64  `json:"size"`
		Digest string `json:"digest"`
	} `json:"models"`
}

type psResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type showRequest struct {
	Model   string `json:"model"`
	Verbose bool   `json:"verbose,omitempty"`
}

type showResponse struct {
	Details struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
	Tensors []TensorInfo `json:"tensors"`
}

type versionResponse struct {
	Version string `json:"version"`
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type deleteRequest struct {
	Model string `json:"model"`
}
