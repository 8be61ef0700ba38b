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

	"github.com/teradata-labs/qc/pkg/ollama"
)

// localBackend judges through an Ollama-compatible server, either the one
// running the tests or a different one.
type localBackend struct {
	client   *ollama.Client
	model    string
	judgeCtx int // 0 = derive from the question's test context
}

var _ backend = (*localBackend)(nil)

// NewLocal creates a judge served by an Ollama-compatible endpoint.
// judgeCtx of zero sizes the context window per call as 2*testCtx + 2048.
func NewLocal(client *ollama.Client, model string, judgeCtx int) *Client {
	return &Client{b: &localBackend{client: client, model: model, judgeCtx: judgeCtx}}
}

func (l *localBackend) complete(ctx context.Context, req Request) (string, error) {
	numCtx := l.judgeCtx
	if numCtx <= 0 {
		numCtx = 2*req.TestCtx + 2048
	}

	format := any(responseFormat)
	if req.BestAnswerOnly {
		format = bestAnswerFormat
	}

	out, err := l.client.JudgeChat(ctx, l.model, req.System, req.User, format, numCtx, req.MaxTokens)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (l *localBackend) validate() error {
	if strings.TrimSpace(l.model) == "" {
		return fmt.Errorf("judge model name is empty")
	}
	return nil
}

func (l *localBackend) providerName() string { return "local" }
func (l *localBackend) modelName() string    { return l.model }
func (l *localBackend) apiVersion() string   { return "" }

// SameEndpoint reports whether this judge shares the given server endpoint.
// Generation and judging against the same server must not overlap.
func (c *Client) SameEndpoint(endpoint string) bool {
	lb, ok := c.b.(*localBackend)
	if !ok {
		return false
	}
	return strings.TrimRight(lb.client.Endpoint(), "/") == strings.TrimRight(endpoint, "/")
}
