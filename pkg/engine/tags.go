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
	"fmt"
	"path"
	"strings"

	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/ollama"
	"github.com/teradata-labs/qc/pkg/registry"
	"go.uber.org/zap"
)

// variantRef is one concrete variant to test: the fully qualified name sent
// to the server and the tag used as document key.
type variantRef struct {
	Name string
	Tag  string
}

// tagResolver expands wildcard variant specifiers against the source the
// model lives in: the third-party registry for hf.co paths, the server's
// own tag listing otherwise.
type tagResolver struct {
	server *ollama.Client
	hf     *registry.HuggingFace
	kernel *kernel
}

// Resolve expands the specifiers in order. Registry ordering is preserved,
// duplicates are removed case-insensitively, and non-wildcard specifiers
// pass through unchanged.
func (r *tagResolver) Resolve(ctx context.Context, model string, specs []string) ([]variantRef, error) {
	var out []variantRef
	seen := map[string]bool{}

	add := func(ref variantRef) {
		key := strings.ToLower(ref.Tag)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, ref)
	}

	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		if !strings.Contains(spec, "*") {
			add(variantRef{Name: qualify(model, spec), Tag: tagOf(spec)})
			continue
		}

		tags, err := r.listTags(ctx, model)
		if err != nil {
			return nil, err
		}
		matched := 0
		for _, tag := range tags {
			ok, _ := path.Match(strings.ToLower(spec), strings.ToLower(tag))
			if !ok {
				continue
			}
			add(variantRef{Name: qualify(model, tag), Tag: tag})
			matched++
		}
		if matched == 0 {
			log.Warn("wildcard matched no tags", zap.String("pattern", spec), zap.String("model", model))
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no variants resolved from %v", specs)
	}
	return out, nil
}

// listTags consults the registry for hf.co paths and the server otherwise.
func (r *tagResolver) listTags(ctx context.Context, model string) ([]string, error) {
	if registry.IsRegistryPath(model) {
		var tags []string
		err := r.kernel.do(ctx, "list registry tags", func(ctx context.Context) error {
			var err error
			tags, err = r.hf.ListTags(ctx, model)
			return err
		})
		return tags, err
	}

	var models []ollama.ModelInfo
	err := r.kernel.do(ctx, "list server models", func(ctx context.Context) error {
		var err error
		models, err = r.server.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	prefix := strings.ToLower(model) + ":"
	var tags []string
	for _, m := range models {
		if strings.HasPrefix(strings.ToLower(m.Name), prefix) {
			tags = append(tags, m.Name[len(prefix):])
		}
	}
	return tags, nil
}

// qualify builds the fully qualified model name for a tag. A specifier that
// is already fully qualified passes through.
func qualify(model, tag string) string {
	if strings.Contains(tag, "/") || strings.Contains(tag, ":") {
		return tag
	}
	return model + ":" + tag
}

// tagOf derives the document key from a specifier: the suffix after the
// last colon, or the whole specifier.
func tagOf(spec string) string {
	if i := strings.LastIndex(spec, ":"); i >= 0 {
		return spec[i+1:]
	}
	return spec
}
