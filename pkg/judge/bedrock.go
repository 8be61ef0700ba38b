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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// DefaultBedrockModel is used when the judge specifier names no model.
const DefaultBedrockModel = "anthropic.claude-sonnet-4-5-20250929-v1:0"

type bedrockBackend struct {
	client  *bedrockruntime.Client
	model   string
	loadErr error
}

var _ backend = (*bedrockBackend)(nil)

// NewBedrock creates a judge backed by the AWS Bedrock Converse API.
// Credentials come from the standard AWS chain (environment, shared config,
// instance role); there is no CLI key format for this provider.
func NewBedrock(ctx context.Context, model string) *Client {
	if model == "" {
		model = DefaultBedrockModel
	}
	b := &bedrockBackend{model: model}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		b.loadErr = fmt.Errorf("failed to load AWS config: %w", err)
	} else {
		b.client = bedrockruntime.NewFromConfig(cfg)
	}
	return &Client{b: b}
}

func (b *bedrockBackend) complete(ctx context.Context, req Request) (string, error) {
	if b.loadErr != nil {
		return "", b.loadErr
	}

	out, err := b.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		System: []bedrocktypes.SystemContentBlock{
			&bedrocktypes.SystemContentBlockMemberText{Value: req.System},
		},
		Messages: []bedrocktypes.Message{{
			Role: bedrocktypes.ConversationRoleUser,
			Content: []bedrocktypes.ContentBlock{
				&bedrocktypes.ContentBlockMemberText{Value: req.User},
			},
		}},
		InferenceConfig: &bedrocktypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(req.MaxTokens)),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return "", fmt.Errorf("bedrock judge call failed: %w", err)
	}

	msg, ok := out.Output.(*bedrocktypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock returned unexpected output type %T", out.Output)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*bedrocktypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String(), nil
}

func (b *bedrockBackend) validate() error {
	return b.loadErr
}

func (b *bedrockBackend) providerName() string { return "bedrock" }
func (b *bedrockBackend) modelName() string    { return b.model }
func (b *bedrockBackend) apiVersion() string   { return "converse" }
