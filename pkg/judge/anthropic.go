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
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when the judge specifier names no model.
const DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

// anthropicAPIVersion is pinned by the SDK; recorded in judge identities.
const anthropicAPIVersion = "2023-06-01"

type anthropicBackend struct {
	client anthropic.Client
	apiKey string
	model  string
}

var _ backend = (*anthropicBackend)(nil)

// NewAnthropic creates a judge backed by the Anthropic Messages API.
func NewAnthropic(apiKey, model string) *Client {
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Client{b: &anthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		apiKey: apiKey,
		model:  model,
	}}
}

func (a *anthropicBackend) complete(ctx context.Context, req Request) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic judge call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (a *anthropicBackend) validate() error {
	if a.apiKey == "" {
		return fmt.Errorf("anthropic: %w (set ANTHROPIC_API_KEY)", errMissingKey)
	}
	return nil
}

func (a *anthropicBackend) providerName() string { return "claude" }
func (a *anthropicBackend) modelName() string    { return a.model }
func (a *anthropicBackend) apiVersion() string   { return anthropicAPIVersion }
