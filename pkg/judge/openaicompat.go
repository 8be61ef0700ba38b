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

// Defaults for the chat-completions family of providers.
const (
	DefaultOpenAIModel      = "gpt-4.1"
	DefaultOpenAIEndpoint   = "https://api.openai.com/v1/chat/completions"
	DefaultMistralModel     = "mistral-large-latest"
	DefaultMistralEndpoint  = "https://api.mistral.ai/v1/chat/completions"
	DefaultTogetherModel    = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
	DefaultTogetherEndpoint = "https://api.together.xyz/v1/chat/completions"
	DefaultHFModel          = "meta-llama/Llama-3.3-70B-Instruct"
	DefaultHFEndpoint       = "https://router.huggingface.co/v1/chat/completions"
	azureAPIVersion         = "2024-10-21"
)

// openAICompatBackend serves every provider speaking the chat-completions
// wire shape. Providers differ only in endpoint, auth header, and defaults.
type openAICompatBackend struct {
	provider   string
	endpoint   string
	apiKey     string
	model      string
	authHeader string // "Bearer" or "api-key"
	version    string
	httpClient *http.Client
}

var _ backend = (*openAICompatBackend)(nil)

// NewOpenAI creates a judge backed by the OpenAI chat-completions API.
func NewOpenAI(apiKey, model string) *Client {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return newChatCompletions("openai", DefaultOpenAIEndpoint, apiKey, model, "Bearer", "v1")
}

// NewAzureOpenAI creates a judge backed by an Azure OpenAI deployment. The
// model acts as the deployment name and the endpoint is the resource URL.
func NewAzureOpenAI(apiKey, endpoint, model string) *Client {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(endpoint, "/"), model, azureAPIVersion)
	return newChatCompletions("azure", url, apiKey, model, "api-key", azureAPIVersion)
}

// NewMistral creates a judge backed by the Mistral chat API.
func NewMistral(apiKey, model string) *Client {
	if model == "" {
		model = DefaultMistralModel
	}
	return newChatCompletions("mistral", DefaultMistralEndpoint, apiKey, model, "Bearer", "v1")
}

// NewTogether creates a judge backed by the Together chat API.
func NewTogether(apiKey, model string) *Client {
	if model == "" {
		model = DefaultTogetherModel
	}
	return newChatCompletions("together", DefaultTogetherEndpoint, apiKey, model, "Bearer", "v1")
}

// NewHuggingFace creates a judge backed by the HuggingFace inference router,
// which speaks the chat-completions shape.
func NewHuggingFace(apiKey, model string) *Client {
	if model == "" {
		model = DefaultHFModel
	}
	return newChatCompletions("huggingface", DefaultHFEndpoint, apiKey, model, "Bearer", "v1")
}

func newChatCompletions(provider, endpoint, apiKey, model, authHeader, version string) *Client {
	return &Client{b: &openAICompatBackend{
		provider:   provider,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		authHeader: authHeader,
		version:    version,
		httpClient: &http.Client{},
	}}
}

type chatCompletionsRequest struct {
	Model       string                `json:"model,omitempty"`
	Messages    []chatCompletionsMsg  `json:"messages"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float64               `json:"temperature"`
	Format      *chatCompletionsJSONF `json:"response_format,omitempty"`
}

type chatCompletionsMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsJSONF struct {
	Type string `json:"type"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message chatCompletionsMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *openAICompatBackend) complete(ctx context.Context, req Request) (string, error) {
	body := chatCompletionsRequest{
		Model: o.model,
		Messages: []chatCompletionsMsg{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: 0,
		Format:      &chatCompletionsJSONF{Type: "json_object"},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.authHeader == "api-key" {
		httpReq.Header.Set("api-key", o.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	httpResp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s judge call failed: %w", o.provider, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read %s judge response: %w", o.provider, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", &CloudStatusError{
			Provider:   o.provider,
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var resp chatCompletionsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse %s judge response: %w", o.provider, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s judge error: %s", o.provider, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s judge returned no choices", o.provider)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *openAICompatBackend) validate() error {
	if o.apiKey == "" {
		return fmt.Errorf("%s: %w", o.provider, errMissingKey)
	}
	if o.provider == "azure" && !strings.Contains(o.endpoint, "://") {
		return fmt.Errorf("azure: malformed endpoint %q", o.endpoint)
	}
	return nil
}

func (o *openAICompatBackend) providerName() string { return o.provider }
func (o *openAICompatBackend) modelName() string    { return o.model }
func (o *openAICompatBackend) apiVersion() string   { return o.version }
