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

// Defaults for the Cohere v2 chat API.
const (
	DefaultCohereModel    = "command-a-03-2025"
	DefaultCohereEndpoint = "https://api.cohere.com/v2/chat"
)

type cohereBackend struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ backend = (*cohereBackend)(nil)

// NewCohere creates a judge backed by the Cohere chat API.
func NewCohere(apiKey, model string) *Client {
	if model == "" {
		model = DefaultCohereModel
	}
	return &Client{b: &cohereBackend{
		endpoint:   DefaultCohereEndpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}}
}

type cohereRequest struct {
	Model       string               `json:"model"`
	Messages    []chatCompletionsMsg `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature"`
}

type cohereResponse struct {
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func (c *cohereBackend) complete(ctx context.Context, req Request) (string, error) {
	body := cohereRequest{
		Model: c.model,
		Messages: []chatCompletionsMsg{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: 0,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("cohere judge call failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read cohere judge response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", &CloudStatusError{
			Provider:   "cohere",
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var resp cohereResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse cohere judge response: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Message.Content {
		if block.Type == "text" || block.Type == "" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("cohere judge returned no text content")
	}
	return sb.String(), nil
}

func (c *cohereBackend) validate() error {
	if c.apiKey == "" {
		return fmt.Errorf("cohere: %w (set CO_API_KEY or COHERE_API_KEY)", errMissingKey)
	}
	return nil
}

func (c *cohereBackend) providerName() string { return "cohere" }
func (c *cohereBackend) modelName() string    { return c.model }
func (c *cohereBackend) apiVersion() string   { return "v2" }
