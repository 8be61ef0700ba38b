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

// Package registry queries third-party model registries referenced by
// hf.co/namespace/repo model paths.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultHuggingFaceEndpoint serves the OCI-style registry API that the
// inference server itself pulls hf.co models from.
const DefaultHuggingFaceEndpoint = "https://huggingface.co"

// MaxRateLimitDelay caps registry-suggested reset delays.
const MaxRateLimitDelay = 300 * time.Second

// IsRegistryPath reports whether a model reference names a third-party
// registry repo rather than a server-local model family.
func IsRegistryPath(name string) bool {
	return strings.HasPrefix(name, "hf.co/") || strings.HasPrefix(name, "huggingface.co/")
}

// HuggingFace lists tags and manifests for hf.co repos.
type HuggingFace struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// Config holds configuration for the registry client.
type Config struct {
	Endpoint string // Default: https://huggingface.co
	Token    string // Default: HF_TOKEN, then HUGGINGFACE_TOKEN
}

// NewHuggingFace creates a registry client.
func NewHuggingFace(cfg Config) *HuggingFace {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultHuggingFaceEndpoint
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("HF_TOKEN")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("HUGGINGFACE_TOKEN")
	}
	return &HuggingFace{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{},
	}
}

// HasToken reports whether authenticated requests are possible. Only with a
// token do rate-limit reset hints from the registry apply.
func (h *HuggingFace) HasToken() bool {
	return h.token != ""
}

// repoOf strips the hf.co/ prefix and any :tag suffix.
func repoOf(path string) string {
	path = strings.TrimPrefix(path, "hf.co/")
	path = strings.TrimPrefix(path, "huggingface.co/")
	if i := strings.LastIndex(path, ":"); i >= 0 {
		path = path[:i]
	}
	return path
}

// ListTags returns the repo's tags in registry order.
func (h *HuggingFace) ListTags(ctx context.Context, repoPath string) ([]string, error) {
	url := fmt.Sprintf("%s/v2/%s/tags/list", h.endpoint, repoOf(repoPath))
	body, _, err := h.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for %s: %w", repoPath, err)
	}

	var resp struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse tag listing for %s: %w", repoPath, err)
	}
	return resp.Tags, nil
}

// ManifestDigest fetches the manifest for repo:tag and returns the SHA-256
// of its bytes. Used as the deterministic digest fallback for registry
// variants whose digest is absent locally.
func (h *HuggingFace) ManifestDigest(ctx context.Context, repoPath, tag string) (string, error) {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", h.endpoint, repoOf(repoPath), tag)
	body, _, err := h.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch manifest %s:%s: %w", repoPath, tag, err)
	}
	return fmt.Sprintf("sha256:%x", sha256.Sum256(body)), nil
}

// RateLimitDelay queries the registry's rate-limit headers and derives the
// delay until the window resets, capped at MaxRateLimitDelay. Returns zero
// when the registry offers no hint.
func (h *HuggingFace) RateLimitDelay(ctx context.Context, repoPath string) time.Duration {
	url := fmt.Sprintf("%s/v2/%s/tags/list", h.endpoint, repoOf(repoPath))
	_, headers, err := h.get(ctx, url)
	if err != nil && headers == nil {
		return 0
	}
	return resetDelayFrom(headers, time.Now())
}

// resetDelayFrom extracts a reset delay from rate-limit headers. Both the
// delta-seconds and unix-timestamp conventions appear in the wild.
func resetDelayFrom(headers http.Header, now time.Time) time.Duration {
	for _, key := range []string{"RateLimit-Reset", "X-RateLimit-Reset", "Retry-After"} {
		v := headers.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		var d time.Duration
		if n > 1e9 { // unix timestamp
			d = time.Unix(n, 0).Sub(now)
		} else {
			d = time.Duration(n) * time.Second
		}
		if d <= 0 {
			continue
		}
		if d > MaxRateLimitDelay {
			d = MaxRateLimitDelay
		}
		return d
	}
	return 0
}

func (h *HuggingFace) get(ctx context.Context, url string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.Header, fmt.Errorf("repository not found (HTTP 404)")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, fmt.Errorf("registry returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, resp.Header, nil
}
