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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/qc/pkg/ollama"
)

func TestLocalJudgeContextSizing(t *testing.T) {
	var gotOptions map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotOptions = req["options"].(map[string]any)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"{\"score\":88,\"bestanswer\":\"A\",\"reason\":\"close\"}"},"done":true}`)
	}))
	defer srv.Close()

	c := NewLocal(ollama.NewClient(ollama.Config{Endpoint: srv.URL}), "judge:8b", 0)
	v, err := c.Judge(context.Background(), Request{
		System:    "sys",
		User:      "user",
		MaxTokens: 2048,
		TestCtx:   4096,
	})
	require.NoError(t, err)

	assert.Equal(t, 88, v.Score)
	assert.Equal(t, "A", v.BestAnswer)
	assert.Equal(t, "close", v.Reason)
	// judgectx unset: context window derives from the test context.
	assert.Equal(t, float64(2*4096+2048), gotOptions["num_ctx"])
}

func TestLocalJudgeExplicitContext(t *testing.T) {
	var gotOptions map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotOptions = req["options"].(map[string]any)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"{\"score\":50,\"bestanswer\":\"B\",\"reason\":\"ok\"}"},"done":true}`)
	}))
	defer srv.Close()

	c := NewLocal(ollama.NewClient(ollama.Config{Endpoint: srv.URL}), "judge:8b", 16384)
	_, err := c.Judge(context.Background(), Request{TestCtx: 4096, MaxTokens: 1024})
	require.NoError(t, err)
	assert.Equal(t, float64(16384), gotOptions["num_ctx"])
}

func TestReasonRetryExhaustionKeepsRaw(t *testing.T) {
	oldDelay := reasonRetryDelay
	reasonRetryDelay = time.Millisecond
	t.Cleanup(func() { reasonRetryDelay = oldDelay })

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Score parses but no reason field is present.
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"{\"score\":70,\"bestanswer\":\"A\"}"},"done":true}`)
	}))
	defer srv.Close()

	c := NewLocal(ollama.NewClient(ollama.Config{Endpoint: srv.URL}), "judge:8b", 4096)
	v, err := c.Judge(context.Background(), Request{MaxTokens: 512})
	require.NoError(t, err)

	assert.Equal(t, reasonRetryAttempts, calls)
	assert.Equal(t, 70, v.Score)
	assert.Equal(t, "A", v.BestAnswer)
	assert.Empty(t, v.Reason)
	assert.NotEmpty(t, v.RawResponse)
}

func TestOpenAICompatJudge(t *testing.T) {
	var gotAuth string
	var gotReq chatCompletionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"score\":95,\"bestanswer\":\"AB\",\"reason\":\"same\"}"}}]}`)
	}))
	defer srv.Close()

	c := newChatCompletions("openai", srv.URL, "sk-test", "gpt-4.1", "Bearer", "v1")
	v, err := c.Judge(context.Background(), Request{System: "sys", User: "usr", MaxTokens: 1024})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, float64(0), gotReq.Temperature)
	assert.Equal(t, 95, v.Score)
	assert.Equal(t, "AB", v.BestAnswer)
}

func TestCloudStatusErrorClassification(t *testing.T) {
	rateLimited := &CloudStatusError{Provider: "openai", StatusCode: 429, Body: "slow down"}
	assert.True(t, IsRateLimited(rateLimited))
	assert.True(t, IsRetryable(rateLimited))

	unauthorized := &CloudStatusError{Provider: "openai", StatusCode: 401, Body: "bad key"}
	assert.False(t, IsRetryable(unauthorized))

	serverErr := &CloudStatusError{Provider: "gemini", StatusCode: 503, Body: "overloaded"}
	assert.True(t, IsRetryable(serverErr))
}

func TestBestAnswerOnlyFormat(t *testing.T) {
	var gotFormat map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotFormat = req["format"].(map[string]any)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"{\"bestanswer\":\"B\",\"reason\":\"clearer\"}"},"done":true}`)
	}))
	defer srv.Close()

	c := NewLocal(ollama.NewClient(ollama.Config{Endpoint: srv.URL}), "judge:8b", 4096)
	v, err := c.Judge(context.Background(), Request{MaxTokens: 512, BestAnswerOnly: true})
	require.NoError(t, err)

	required := gotFormat["required"].([]any)
	assert.NotContains(t, required, "score")
	assert.Equal(t, "B", v.BestAnswer)
	assert.Equal(t, "clearer", v.Reason)
}
