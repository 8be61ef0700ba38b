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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/qc/pkg/ollama"
)

func TestResolveLocalModel(t *testing.T) {
	server := ollama.NewClient(ollama.Config{Endpoint: "http://localhost:11434"})
	c, err := Resolve(context.Background(), "qwen3:32b", server, 0)
	require.NoError(t, err)

	assert.Equal(t, "local", c.ProviderName())
	assert.Equal(t, "qwen3:32b", c.ModelName())
	assert.Equal(t, "qwen3:32b", c.Identity())
	assert.True(t, c.SameEndpoint("http://localhost:11434/"))
}

func TestResolveLocalModelOnOtherServer(t *testing.T) {
	server := ollama.NewClient(ollama.Config{})
	c, err := Resolve(context.Background(), "qwen3:32b@http://judge-host:11434", server, 0)
	require.NoError(t, err)

	assert.Equal(t, "qwen3:32b", c.ModelName())
	assert.False(t, c.SameEndpoint(server.Endpoint()))
}

func TestResolveMalformedJudgeURL(t *testing.T) {
	server := ollama.NewClient(ollama.Config{})
	_, err := Resolve(context.Background(), "model@not a url", server, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed judge URL")
}

func TestResolveCloudWithInlineKey(t *testing.T) {
	c, err := Resolve(context.Background(), "@claude:sk-ant-test/claude-opus-4-1", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "claude", c.ProviderName())
	assert.Equal(t, "claude-opus-4-1", c.ModelName())
	assert.Equal(t, "@claude:claude-opus-4-1", c.Identity())
}

func TestResolveCloudModelWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	c, err := Resolve(context.Background(), "@openai/gpt-4.1-mini", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "openai", c.ProviderName())
	assert.Equal(t, "gpt-4.1-mini", c.ModelName())
}

func TestResolveKeyFromEnvFallbackOrder(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	c, err := Resolve(context.Background(), "@gemini", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.ProviderName())
	assert.Equal(t, DefaultGeminiModel, c.ModelName())
}

func TestResolveAzureKeyAtEndpoint(t *testing.T) {
	c, err := Resolve(context.Background(), "@azure:k123@myres.openai.azure.com/gpt4-dep", nil, 0)
	require.NoError(t, err)

	assert.Equal(t, "azure", c.ProviderName())
	assert.Equal(t, "gpt4-dep", c.ModelName())
}

func TestResolveUnknownProvider(t *testing.T) {
	_, err := Resolve(context.Background(), "@grokk", nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cloud provider")
}

func TestResolveMissingKeyFailsValidation(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "")
	_, err := Resolve(context.Background(), "@mistral", nil, 0)
	// Either validation fails on the empty key, or a key was found in the
	// OS keychain of the machine running the tests.
	if err != nil {
		assert.Contains(t, err.Error(), "missing API key")
	}
}

func TestHelpCloudListsAllProviders(t *testing.T) {
	help := HelpCloud()
	for token := range providers {
		assert.Contains(t, help, "@"+token)
	}
}
