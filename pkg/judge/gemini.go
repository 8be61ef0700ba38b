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

// Defaults for the Gemini generateContent API.
const (
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
)

type geminiBackend struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ backend = (*geminiBackend)(nil)

// NewGemini creates a judge backed by the Gemini generateContent API.
func NewGemini(apiKey, model string) *Client {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Client{b: &geminiBackend{
		endpoint:   DefaultGeminiEndpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}}
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func geminiText(text string) []struct {
	Text string `json:"text"`
} {
	return []struct {
		Text string `json:"text"`
	}{{Text: text}}
}

func (g *geminiBackend) complete(ctx context.Context, req Request) (string, error) {
	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: geminiText(req.System)},
		Contents:          []geminiContent{{Role: "user", Parts: geminiText(req.User)}},
	}
	body.GenerationConfig.Temperature = 0
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	body.GenerationConfig.ResponseMimeType = "application/json"

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal judge request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini judge call failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read gemini judge response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", &CloudStatusError{
			Provider:   "gemini",
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse gemini judge response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini judge returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func (g *geminiBackend) validate() error {
	if g.apiKey == "" {
		return fmt.Errorf("gemini: %w (set GEMINI_API_KEY or GOOGLE_API_KEY)", errMissingKey)
	}
	return nil
}

func (g *geminiBackend) providerName() string { return "gemini" }
func (g *geminiBackend) modelName() string    { return g.model }
func (g *geminiBackend) apiVersion() string   { return "v1beta" }
