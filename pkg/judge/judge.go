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

// Package judge scores one model answer against another using a separate
// judge model, local or cloud-hosted.
package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/teradata-labs/qc/internal/log"
	"go.uber.org/zap"
)

// Verdict is the normalized outcome of one judge call.
type Verdict struct {
	// Score is the similarity score, always within [1,100].
	Score int `json:"score"`
	// BestAnswer is "A", "B", "AB", or empty when the judge declined to pick.
	BestAnswer string `json:"bestAnswer,omitempty"`
	// Reason is the judge's explanation.
	Reason string `json:"reason"`
	// RawResponse is kept only when no reason could be extracted, for
	// diagnostics.
	RawResponse string `json:"rawResponse,omitempty"`
}

// Request carries one judge call.
type Request struct {
	System    string
	User      string
	MaxTokens int
	// TestCtx is the context length the answers were generated under. Local
	// back-ends size their own context window from it.
	TestCtx int
	// BestAnswerOnly selects the score-free structured contract on servers
	// that support constrained decoding.
	BestAnswerOnly bool
}

// backend is the raw completion capability each provider implements.
type backend interface {
	complete(ctx context.Context, req Request) (string, error)
	validate() error
	providerName() string
	modelName() string
	apiVersion() string
}

// reasonRetryAttempts bounds re-asking a judge whose response yielded no
// extractable reason.
const reasonRetryAttempts = 5

// reasonRetryDelay is the pause between reason retries.
var reasonRetryDelay = 2 * time.Second

// Client wraps a provider back-end with response normalization. Every
// back-end produces the same Verdict shape through it.
type Client struct {
	b backend
}

// ProviderName returns the back-end's provider token, e.g. "claude".
func (c *Client) ProviderName() string { return c.b.providerName() }

// ModelName returns the judge model identifier.
func (c *Client) ModelName() string { return c.b.modelName() }

// APIVersion returns the provider API version string, if any.
func (c *Client) APIVersion() string { return c.b.apiVersion() }

// Identity is the judge identity persisted with each judgment. A judgment
// written under a different identity is treated as missing.
func (c *Client) Identity() string {
	if c.b.providerName() == "local" {
		return c.b.modelName()
	}
	return "@" + c.b.providerName() + ":" + c.b.modelName()
}

// Validate checks the back-end's configuration (key present, endpoint sane)
// without issuing a model call.
func (c *Client) Validate() error {
	return c.b.validate()
}

// Judge runs one call and normalizes the response. When no reason can be
// extracted the call is repeated up to reasonRetryAttempts times; after
// exhaustion the score and best-answer are kept and the raw response is
// attached for diagnostics.
func (c *Client) Judge(ctx context.Context, req Request) (*Verdict, error) {
	var raw string
	for attempt := 1; attempt <= reasonRetryAttempts; attempt++ {
		var err error
		raw, err = c.b.complete(ctx, req)
		if err != nil {
			return nil, err
		}

		v := ParseVerdict(raw)
		if v.Reason != "" {
			return v, nil
		}

		log.Warn("judge response had no extractable reason, retrying",
			zap.String("judge", c.Identity()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", reasonRetryAttempts))

		if attempt < reasonRetryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reasonRetryDelay):
			}
		}
	}

	v := ParseVerdict(raw)
	v.RawResponse = raw
	return v, nil
}

var errMissingKey = fmt.Errorf("missing API key")
