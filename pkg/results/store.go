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

package results

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/ollama"
	"github.com/teradata-labs/qc/pkg/registry"
	"go.uber.org/zap"
)

// PathSuffix terminates every results file name.
const PathSuffix = ".qc.json"

// DerivePath maps a target model name onto a results file path. Path
// separators in registry-style names become dashes so the file lands in the
// working directory.
func DerivePath(model string) string {
	name := strings.NewReplacer("/", "-", "\\", "-").Replace(model)
	return name + PathSuffix
}

// Store owns one results file: loading, compatibility checking, backup, and
// atomic persistence.
type Store struct {
	path string
}

// NewStore creates a store for the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the results file location.
func (s *Store) Path() string {
	return s.path
}

// OpenOrCreate loads an existing document or starts a fresh one. An existing
// document must match the target model and suite name; a corrupt one fails
// with a pointer at the repair command. A successfully loaded file is backed
// up before the run mutates it.
func (s *Store) OpenOrCreate(model, suiteName string, opts RunOptions) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		now := time.Now().UTC()
		return &Document{
			SuiteName: suiteName,
			Model:     model,
			Options:   opts,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results file %s: %w", s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("results file %s is corrupt (run with --fix to attempt recovery): %w", s.path, err)
	}

	if !strings.EqualFold(doc.Model, model) {
		return nil, fmt.Errorf("results file %s belongs to model %q, not %q", s.path, doc.Model, model)
	}
	if doc.SuiteName != suiteName {
		return nil, fmt.Errorf("results file %s was produced by test suite %q, not %q", s.path, doc.SuiteName, suiteName)
	}

	if err := s.backup(data); err != nil {
		return nil, err
	}
	log.Info("resuming existing results document",
		zap.String("path", s.path),
		zap.Int("variants", len(doc.Variants)))
	return &doc, nil
}

// backup writes a gzip-compressed timestamped copy next to the original.
func (s *Store) backup(data []byte) error {
	name := fmt.Sprintf("%s.backup-%s.gz", s.path, time.Now().Format("20060102-150405"))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create backup %s: %w", name, err)
	}

	gw := gzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		f.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write backup %s: %w", name, err)
	}
	if err := gw.Close(); err != nil {
		f.Close()
		os.Remove(name)
		return fmt.Errorf("failed to finish backup %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to close backup %s: %w", name, err)
	}
	log.Debug("backed up results document", zap.String("backup", name))
	return nil
}

// Save writes the document atomically: serialize to a tmp sibling, flush,
// rename over the destination. A failed write never leaves the tmp file
// behind and never touches the previous version.
func (s *Store) Save(doc *Document) error {
	doc.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// RestoreBackup decompresses a backup produced by OpenOrCreate.
func RestoreBackup(backupPath string) ([]byte, error) {
	f, err := os.Open(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup %s: %w", backupPath, err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("backup %s is not gzip data: %w", backupPath, err)
	}
	defer gr.Close()

	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup %s: %w", backupPath, err)
	}
	return data, nil
}

// BackfillDigests fills missing variant digests: first from the inference
// server's listing, then, for third-party registry variants the server has
// no digest for, from the SHA-256 of the registry manifest.
func BackfillDigests(ctx context.Context, doc *Document, server *ollama.Client, hf *registry.HuggingFace) {
	var serverDigests map[string]string
	for _, v := range doc.Variants {
		if v.Digest != "" {
			continue
		}

		if serverDigests == nil {
			serverDigests = map[string]string{}
			models, err := server.List(ctx)
			if err != nil {
				log.Warn("digest backfill: failed to list server models", zap.Error(err))
			}
			for _, m := range models {
				serverDigests[strings.ToLower(m.Name)] = m.Digest
			}
		}

		if d, ok := serverDigests[strings.ToLower(v.Model)]; ok && d != "" {
			v.Digest = d
			continue
		}

		if registry.IsRegistryPath(v.Model) && hf != nil {
			d, err := hf.ManifestDigest(ctx, v.Model, v.Tag)
			if err != nil {
				log.Warn("digest backfill: manifest fetch failed",
					zap.String("model", v.Model), zap.Error(err))
				continue
			}
			v.Digest = d
		}
	}
}
