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

package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSuite(t *testing.T) {
	s := Default()
	assert.Equal(t, "qc-default", s.Name)
	assert.Greater(t, s.TotalQuestions(), 5)
	assert.Equal(t, 4096, s.DefaultCtx)
	assert.Equal(t, 2048, s.MaxPredict)
}

func TestResolveCtxOrder(t *testing.T) {
	s := &Suite{
		DefaultCtx: 4096,
		Categories: []Category{
			{
				Name:    "a",
				CtxSize: 8192,
				Questions: []Question{
					{ID: "q1", Prompt: "p", CtxSize: 16384},
					{ID: "q2", Prompt: "p"},
				},
			},
			{
				Name:      "b",
				Questions: []Question{{ID: "q3", Prompt: "p"}},
			},
		},
	}

	// question > category > suite
	assert.Equal(t, 16384, s.ResolveCtx(&s.Categories[0], &s.Categories[0].Questions[0]))
	assert.Equal(t, 8192, s.ResolveCtx(&s.Categories[0], &s.Categories[0].Questions[1]))
	assert.Equal(t, 4096, s.ResolveCtx(&s.Categories[1], &s.Categories[1].Questions[0]))
}

func TestLoadFromFile(t *testing.T) {
	content := `
name: mini
default_ctx: 2048
categories:
  - name: only
    questions:
      - id: one
        prompt: say hi
      - id: two
        prompt: say bye
        ctx_size: 1024
`
	path := filepath.Join(t.TempDir(), "mini.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mini", s.Name)
	assert.Equal(t, 2, s.TotalQuestions())

	c, q := s.Question("two")
	require.NotNil(t, q)
	assert.Equal(t, 1024, s.ResolveCtx(c, q))

	_, missing := s.Question("nope")
	assert.Nil(t, missing)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "categories:\n  - name: c\n    questions:\n      - id: q\n        prompt: p\n",
			wantErr: "suite name is required",
		},
		{
			name:    "no categories",
			content: "name: x\n",
			wantErr: "at least one category",
		},
		{
			name:    "duplicate ids",
			content: "name: x\ncategories:\n  - name: c\n    questions:\n      - id: q\n        prompt: p\n      - id: q\n        prompt: p2\n",
			wantErr: "duplicate question id",
		},
		{
			name:    "empty prompt",
			content: "name: x\ncategories:\n  - name: c\n    questions:\n      - id: q\n        prompt: \"\"\n",
			wantErr: "has no prompt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
