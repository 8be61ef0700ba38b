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

package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Defaults for the Replicate predictions API.
const (
	DefaultReplicateModel    = "meta/meta-llama-3-70b-instruct"
	DefaultReplicateEndpoint = "https://api.replicate.com/v1"
)

type replicateBackend struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ backend = (*replicateBackend)(nil)

// NewReplicate creates a judge backed by the Replicate predictions API in
// blocking mode.
func NewReplicate(apiKey, model string) *Client {
	if model == "" {
		model = DefaultReplicateModel
	}
	return &Client{b: &replicateBackend{
		endpoint:   DefaultReplicateEndpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}}
}

type replicateRequest struct {
	Input struct {
		Prompt       string  `json:"prompt"`
		SystemPrompt string  `json:"system_prompt,omitempty"`
		MaxTokens    int     `json:"max_tokens,omitempty"`
		Temperature  float64 `json:"temperature"`
	} `json:"input"`
}

type replicateResponse struct {
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  any    `json:"error"`
}

func (r *replicateBackend) complete(ctx context.Context, req Request) (string, error) {
	var body replicateRequest
	body.Input.Prompt = req.User
	body.Input.SystemPrompt = req.System
	body.Input.MaxTokens = req.MaxTokens
	body.Input.Temperature = 0

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal judge request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", r.endpoint, r.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	// Blocking mode: hold the connection until the prediction finishes.
	httpReq.Header.Set("Prefer", "wait=60")

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("replicate judge call failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read replicate judge response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", &CloudStatusError{
			Provider:   "replicate",
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var resp replicateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse replicate judge response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("replicate judge error: %v", resp.Error)
	}

	// Output is a token-string array for chat models, a plain string for
	// others.
	switch out := resp.Output.(type) {
	case string:
		return out, nil
	case []any:
		var sb strings.Builder
		for _, tok := range out {
			if s, ok := tok.(string); ok {
				sb.WriteString(s)
			}
		}
		return sb.String(), nil
	default:
		return "", fmt.Errorf("replicate judge returned unexpected output type %T", resp.Output)
	}
}

func (r *replicateBackend) validate() error {
	if r.apiKey == "" {
		return fmt.Errorf("replicate: %w (set REPLICATE_API_TOKEN)", errMissingKey)
	}
	if !strings.Contains(r.model, "/") {
		return fmt.Errorf("replicate: model must be owner/name, got %q", r.model)
	}
	return nil
}

func (r *replicateBackend) providerName() string { return "replicate" }
func (r *replicateBackend) modelName() string    { return r.model }
func (r *replicateBackend) apiVersion() string   { return "v1" }
