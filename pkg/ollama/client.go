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

// Package ollama is an HTTP client for Ollama-compatible inference servers.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the local server address.
const DefaultEndpoint = "http://localhost:11434"

// Client talks to one Ollama-compatible server.
//
// The embedded http.Client carries no aggregate timeout: every call takes a
// context so the engine can derive per-request deadlines and double them
// dynamically without tearing the client down.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Config holds configuration for the client.
type Config struct {
	Endpoint string // Default: http://localhost:11434
}

// NewClient creates a new client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{},
	}
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Version probes the server and returns its semantic version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp versionResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/version", nil, &resp); err != nil {
		return "", fmt.Errorf("server unreachable at %s: %w", c.endpoint, err)
	}
	return resp.Version, nil
}

// List returns the models known to the server.
func (c *Client) List(ctx context.Context) ([]ModelInfo, error) {
	var resp tagsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{Name: m.Name, Size: m.Size, Digest: m.Digest})
	}
	return models, nil
}

// Show returns metadata for a model. Verbose additionally requests the
// per-tensor descriptors used for enhanced quantization labels.
func (c *Client) Show(ctx context.Context, model string, verbose bool) (*ShowResult, error) {
	var resp showResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/show", showRequest{Model: model, Verbose: verbose}, &resp); err != nil {
		return nil, fmt.Errorf("failed to show model %s: %w", model, err)
	}
	return &ShowResult{
		Family:            resp.Details.Family,
		ParameterSize:     resp.Details.ParameterSize,
		QuantizationLevel: resp.Details.QuantizationLevel,
		Tensors:           resp.Tensors,
	}, nil
}

// Generate runs a non-streaming completion with log-probability capture.
// An answer without log-probabilities is a permanent failure: the engine
// must not retry it and the user has to upgrade the server.
func (c *Client) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (*GenerateResult, error) {
	req := generateRequest{
		Model:    model,
		Prompt:   prompt,
		Stream:   false,
		Logprobs: true,
		Options:  opts.toMap(),
	}
	if opts.ThinkLevel != "" {
		req.Think = opts.ThinkLevel
	} else if opts.Think {
		req.Think = true
	}

	var resp generateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, fmt.Errorf("generate failed for %s: %w", model, err)
	}
	if len(resp.Logprobs) == 0 {
		return nil, ErrLogprobsUnavailable
	}
	return &GenerateResult{
		Response:           resp.Response,
		Logprobs:           resp.Logprobs,
		EvalCount:          resp.EvalCount,
		EvalDuration:       resp.EvalDuration,
		PromptEvalCount:    resp.PromptEvalCount,
		PromptEvalDuration: resp.PromptEvalDuration,
		TotalDuration:      resp.TotalDuration,
	}, nil
}

// Chat sends a minimal non-streaming chat. The engine uses it only to force
// a proper first load: a chat-initialized engine reliably produces
// log-probabilities on subsequent generate calls.
func (c *Client) Chat(ctx context.Context, model, content string) error {
	req := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: content}},
		Stream:   false,
		Options:  map[string]any{"num_predict": 1},
	}
	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return fmt.Errorf("chat load failed for %s: %w", model, err)
	}
	return nil
}

// PreloadKeepAlive refreshes the server-side keep-alive timer with a no-op
// generate (empty prompt loads the model without producing tokens).
func (c *Client) PreloadKeepAlive(ctx context.Context, model string, keepAlive time.Duration) error {
	req := generateRequest{
		Model:     model,
		Stream:    false,
		KeepAlive: fmt.Sprintf("%dm", int(keepAlive.Minutes())),
	}
	var resp generateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return fmt.Errorf("keep-alive refresh failed for %s: %w", model, err)
	}
	return nil
}

// Unload asks the server to evict a loaded model by zeroing its keep-alive.
func (c *Client) Unload(ctx context.Context, model string) error {
	req := generateRequest{Model: model, Stream: false, KeepAlive: "0s"}
	var resp generateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return fmt.Errorf("unload failed for %s: %w", model, err)
	}
	return nil
}

// Pull downloads a model, invoking fn for each streamed progress record.
// The NDJSON stream is consumed as it arrives; it is never buffered whole.
func (c *Client) Pull(ctx context.Context, model string, fn func(PullProgress) error) error {
	body, err := json.Marshal(pullRequest{Model: model, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to marshal pull request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create pull request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("pull request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var progress PullProgress
		if err := json.Unmarshal(line, &progress); err != nil {
			// Malformed lines are skipped; the stream keeps going.
			continue
		}
		if progress.Error != "" {
			if strings.Contains(strings.ToLower(progress.Error), "not found") ||
				strings.Contains(strings.ToLower(progress.Error), "does not exist") {
				return fmt.Errorf("pull %s: %s: %w", model, progress.Error, ErrNotFound)
			}
			return fmt.Errorf("pull %s failed: %s", model, progress.Error)
		}
		if err := fn(progress); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading pull stream: %w", err)
	}
	return nil
}

// Delete removes a model. Not-found counts as success.
func (c *Client) Delete(ctx context.Context, model string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/api/delete", deleteRequest{Model: model}, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete model %s: %w", model, err)
	}
	return nil
}

// PSLoaded returns the names of the currently loaded models.
func (c *Client) PSLoaded(ctx context.Context) ([]string, error) {
	var resp psResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/ps", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to query loaded models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// JudgeChat sends a non-streaming chat with deterministic options and a
// structured response format. Used by the local judge back-end.
func (c *Client) JudgeChat(ctx context.Context, model, system, user string, format any, numCtx, numPredict int) (string, error) {
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: false,
		Format: format,
		Options: map[string]any{
			"temperature": 0.0,
			"seed":        42,
			"num_ctx":     numCtx,
			"num_predict": numPredict,
		},
	}
	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return "", fmt.Errorf("judge chat failed for %s: %w", model, err)
	}
	return resp.Message.Content, nil
}

func (opts GenerateOptions) toMap() map[string]any {
	m := map[string]any{
		"temperature": opts.Temperature,
		"seed":        opts.Seed,
	}
	if opts.TopP > 0 {
		m["top_p"] = opts.TopP
	}
	if opts.TopK > 0 {
		m["top_k"] = opts.TopK
	}
	if opts.RepeatPenalty > 0 {
		m["repeat_penalty"] = opts.RepeatPenalty
	}
	if opts.FrequencyPenalty != 0 {
		m["frequency_penalty"] = opts.FrequencyPenalty
	}
	if opts.NumCtx > 0 {
		m["num_ctx"] = opts.NumCtx
	}
	if opts.NumPredict > 0 {
		m["num_predict"] = opts.NumPredict
	}
	return m
}

// doJSON executes one JSON request/response round trip. A nil out discards
// the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &StatusError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusNotFound
	}
	return false
}
