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
	"net/url"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/teradata-labs/qc/pkg/ollama"
	"github.com/zalando/go-keyring"
)

// keyringService names the OS keychain entry consulted as the last key
// source.
const keyringService = "qc"

// provider describes one cloud judge back-end known to the registry.
type provider struct {
	envKeys []string
	make    func(ctx context.Context, key, model, endpoint string) *Client
}

// providers maps the @token of a judge specifier to its factory and the
// environment variables its key is sourced from, in priority order.
var providers = map[string]provider{
	"claude": {
		envKeys: []string{"ANTHROPIC_API_KEY"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewAnthropic(key, model)
		},
	},
	"openai": {
		envKeys: []string{"OPENAI_API_KEY"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewOpenAI(key, model)
		},
	},
	"gemini": {
		envKeys: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewGemini(key, model)
		},
	},
	"huggingface": {
		envKeys: []string{"HF_TOKEN", "HUGGINGFACE_TOKEN"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewHuggingFace(key, model)
		},
	},
	"azure": {
		envKeys: []string{"AZURE_OPENAI_API_KEY"},
		make: func(_ context.Context, key, model, endpoint string) *Client {
			if endpoint == "" {
				endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
			}
			if model == "" {
				model = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
			}
			return NewAzureOpenAI(key, endpoint, model)
		},
	},
	"cohere": {
		envKeys: []string{"CO_API_KEY", "COHERE_API_KEY"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewCohere(key, model)
		},
	},
	"mistral": {
		envKeys: []string{"MISTRAL_API_KEY"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewMistral(key, model)
		},
	},
	"together": {
		envKeys: []string{"TOGETHER_API_KEY"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewTogether(key, model)
		},
	},
	"replicate": {
		envKeys: []string{"REPLICATE_API_TOKEN"},
		make: func(_ context.Context, key, model, _ string) *Client {
			return NewReplicate(key, model)
		},
	},
	"bedrock": {
		// Credentials come from the AWS chain, never from the specifier.
		make: func(ctx context.Context, _, model, _ string) *Client {
			return NewBedrock(ctx, model)
		},
	},
}

// Resolve builds a judge from a specifier. Recognized forms:
//
//	model                     local judge on the test server
//	model@http://host:port    local-style judge on a different server
//	@provider                 cloud judge, key from environment or keychain
//	@provider:key             cloud judge with explicit key
//	@provider:key/model       cloud judge with explicit key and model
//	@azure:key@endpoint/dep   Azure OpenAI deployment
//
// testClient is the server running the tests; judgeCtx of zero auto-sizes
// local judge context windows.
func Resolve(ctx context.Context, spec string, testClient *ollama.Client, judgeCtx int) (*Client, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty judge specifier")
	}

	if !strings.HasPrefix(spec, "@") {
		return resolveLocal(spec, testClient, judgeCtx)
	}

	token, rest, _ := strings.Cut(spec[1:], ":")
	// @provider/model carries a model but no key.
	var modelOnly string
	if i := strings.Index(token, "/"); i >= 0 {
		token, modelOnly = token[:i], token[i+1:]
	}
	token = strings.ToLower(token)
	p, ok := providers[token]
	if !ok {
		return nil, fmt.Errorf("unknown cloud provider %q (see --help-cloud)", token)
	}

	key, model, endpoint, err := splitKeyModel(token, rest)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = modelOnly
	}
	if key == "" && len(p.envKeys) > 0 {
		key = keyFromEnv(p.envKeys)
	}
	if key == "" && len(p.envKeys) > 0 {
		if k, err := keyring.Get(keyringService, token); err == nil {
			key = k
		}
	}

	client := p.make(ctx, key, model, endpoint)
	if err := client.Validate(); err != nil {
		return nil, err
	}
	return client, nil
}

// resolveLocal handles plain model names and model@URL forms.
func resolveLocal(spec string, testClient *ollama.Client, judgeCtx int) (*Client, error) {
	model, rawURL, found := strings.Cut(spec, "@")
	if !found {
		return NewLocal(testClient, spec, judgeCtx), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("malformed judge URL %q", rawURL)
	}
	if model == "" {
		return nil, fmt.Errorf("judge specifier %q names no model", spec)
	}
	return NewLocal(ollama.NewClient(ollama.Config{Endpoint: rawURL}), model, judgeCtx), nil
}

// splitKeyModel separates the key, model, and (Azure only) endpoint parts of
// everything after "@provider:".
func splitKeyModel(token, rest string) (key, model, endpoint string, err error) {
	if rest == "" {
		return "", "", "", nil
	}

	if token == "azure" {
		// key@endpoint/deployment
		k, tail, found := strings.Cut(rest, "@")
		if !found {
			return rest, "", "", nil
		}
		ep, dep, _ := strings.Cut(tail, "/")
		if !strings.Contains(ep, "://") {
			ep = "https://" + ep
		}
		return k, dep, ep, nil
	}

	key, model, _ = strings.Cut(rest, "/")
	return key, model, "", nil
}

func keyFromEnv(names []string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// HelpCloud is the --help-cloud text.
func HelpCloud() string {
	return heredoc.Doc(`
		Cloud judge providers

		A judge specifier starting with @ selects a cloud provider instead of
		a model on the inference server:

		  @claude[:key[/model]]       Anthropic        ANTHROPIC_API_KEY
		  @openai[:key[/model]]       OpenAI           OPENAI_API_KEY
		  @gemini[:key[/model]]       Google Gemini    GEMINI_API_KEY, GOOGLE_API_KEY
		  @huggingface[:key[/model]]  HF Inference     HF_TOKEN, HUGGINGFACE_TOKEN
		  @azure:key@endpoint/dep     Azure OpenAI     AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT
		  @cohere[:key[/model]]       Cohere           CO_API_KEY, COHERE_API_KEY
		  @mistral[:key[/model]]      Mistral          MISTRAL_API_KEY
		  @together[:key[/model]]     Together         TOGETHER_API_KEY
		  @replicate[:key[/model]]    Replicate        REPLICATE_API_TOKEN
		  @bedrock[/model]            AWS Bedrock      standard AWS credential chain

		Keys are taken from the specifier first, then from the listed
		environment variables, then from the OS keychain (service "qc",
		account = provider token).

		A specifier without @ names a model on the inference server, or
		model@http://host:11434 for a judge on a different server.
	`)
}
