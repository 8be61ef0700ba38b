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

package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/qc/pkg/ollama"
)

func tagsServer(t *testing.T, names ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type model struct {
			Name string `json:"name"`
		}
		var models []model
		for _, n := range names {
			models = append(models, model{Name: n})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTagResolver(srv *httptest.Server) *tagResolver {
	return &tagResolver{
		server: ollama.NewClient(ollama.Config{Endpoint: srv.URL}),
		kernel: testKernel(false, ""),
	}
}

func TestResolveWildcardAgainstServer(t *testing.T) {
	srv := tagsServer(t, "llama3:q4_0", "llama3:q8_0", "llama3:fp16", "other:q4_0")
	r := newTagResolver(srv)

	refs, err := r.Resolve(context.Background(), "llama3", []string{"q*"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, variantRef{Name: "llama3:q4_0", Tag: "q4_0"}, refs[0])
	assert.Equal(t, variantRef{Name: "llama3:q8_0", Tag: "q8_0"}, refs[1])
}

func TestResolveDeduplicatesCaseInsensitively(t *testing.T) {
	srv := tagsServer(t)
	r := newTagResolver(srv)

	refs, err := r.Resolve(context.Background(), "llama3", []string{"fp16", "q4_0", "Q4_0"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "llama3:fp16", refs[0].Name)
	assert.Equal(t, "llama3:q4_0", refs[1].Name)
}

func TestResolveFullyQualifiedPassthrough(t *testing.T) {
	srv := tagsServer(t)
	r := newTagResolver(srv)

	refs, err := r.Resolve(context.Background(), "llama3", []string{"hf.co/user/repo:IQ2_XXS"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "hf.co/user/repo:IQ2_XXS", refs[0].Name)
	assert.Equal(t, "IQ2_XXS", refs[0].Tag)
}

func TestResolveNothingMatched(t *testing.T) {
	srv := tagsServer(t, "other:q4_0")
	r := newTagResolver(srv)

	_, err := r.Resolve(context.Background(), "llama3", []string{"iq9*"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no variants resolved")
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "llama3:q4_0", qualify("llama3", "q4_0"))
	assert.Equal(t, "llama3:latest", qualify("llama3", "llama3:latest"))
	assert.Equal(t, "hf.co/u/r:q4", qualify("llama3", "hf.co/u/r:q4"))
}

func TestTagOf(t *testing.T) {
	assert.Equal(t, "q4_0", tagOf("q4_0"))
	assert.Equal(t, "q4_0", tagOf("llama3:q4_0"))
	assert.Equal(t, "Q8_0", tagOf("hf.co/user/repo:Q8_0"))
}
