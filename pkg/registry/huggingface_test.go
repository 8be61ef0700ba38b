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

package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRegistryPath(t *testing.T) {
	assert.True(t, IsRegistryPath("hf.co/unsloth/Qwen3-8B-GGUF"))
	assert.True(t, IsRegistryPath("huggingface.co/unsloth/Qwen3-8B-GGUF:Q4_K_M"))
	assert.False(t, IsRegistryPath("qwen3:8b"))
	assert.False(t, IsRegistryPath("llama3"))
}

func TestRepoOf(t *testing.T) {
	assert.Equal(t, "unsloth/Qwen3-8B-GGUF", repoOf("hf.co/unsloth/Qwen3-8B-GGUF"))
	assert.Equal(t, "unsloth/Qwen3-8B-GGUF", repoOf("hf.co/unsloth/Qwen3-8B-GGUF:Q4_K_M"))
	assert.Equal(t, "ns/repo", repoOf("huggingface.co/ns/repo"))
}

func TestListTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/unsloth/Qwen3-8B-GGUF/tags/list", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"name":"unsloth/Qwen3-8B-GGUF","tags":["Q4_K_M","Q8_0","F16"]}`)
	}))
	defer srv.Close()

	h := NewHuggingFace(Config{Endpoint: srv.URL, Token: "tok"})
	tags, err := h.ListTags(context.Background(), "hf.co/unsloth/Qwen3-8B-GGUF")
	require.NoError(t, err)
	assert.Equal(t, []string{"Q4_K_M", "Q8_0", "F16"}, tags)
}

func TestListTagsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"code":"NAME_UNKNOWN"}]}`, http.StatusNotFound)
	}))
	defer srv.Close()

	h := NewHuggingFace(Config{Endpoint: srv.URL})
	_, err := h.ListTags(context.Background(), "hf.co/nope/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestManifestDigestDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/ns/repo/manifests/Q4_K_M", r.URL.Path)
		fmt.Fprint(w, `{"schemaVersion":2,"layers":[]}`)
	}))
	defer srv.Close()

	h := NewHuggingFace(Config{Endpoint: srv.URL})
	d1, err := h.ManifestDigest(context.Background(), "hf.co/ns/repo", "Q4_K_M")
	require.NoError(t, err)
	d2, err := h.ManifestDigest(context.Background(), "hf.co/ns/repo", "Q4_K_M")
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Contains(t, d1, "sha256:")
}

func TestResetDelayFrom(t *testing.T) {
	now := time.Now()

	h := http.Header{}
	h.Set("RateLimit-Reset", "42")
	assert.Equal(t, 42*time.Second, resetDelayFrom(h, now))

	h = http.Header{}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", now.Add(90*time.Second).Unix()))
	d := resetDelayFrom(h, now)
	assert.InDelta(t, 90, d.Seconds(), 2)

	// Hints beyond the cap are clamped.
	h = http.Header{}
	h.Set("Retry-After", "3600")
	assert.Equal(t, MaxRateLimitDelay, resetDelayFrom(h, now))

	assert.Equal(t, time.Duration(0), resetDelayFrom(http.Header{}, now))
}
