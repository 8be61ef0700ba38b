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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/teradata-labs/qc/internal/log"
	"go.uber.org/zap"
)

// RepairStats summarizes what a recovery pass had to do.
type RepairStats struct {
	TruncatedArrays  int `json:"truncatedArrays"`
	TruncatedObjects int `json:"truncatedObjects"`
	RemovedBytes     int `json:"removedBytes"`
	FixedClosures    int `json:"fixedClosures"`
	DroppedVariants  int `json:"droppedVariants"`
}

func (s RepairStats) String() string {
	return fmt.Sprintf("truncated %d arrays and %d objects, removed %d bytes, fixed %d closures, dropped %d variants",
		s.TruncatedArrays, s.TruncatedObjects, s.RemovedBytes, s.FixedClosures, s.DroppedVariants)
}

// Repair recovers a corrupt results document. The structural strategy cuts
// the input at the last complete question-result record and re-balances; if
// that still does not parse, the general strategy re-reads the whole input
// character by character. Variants left without a tag or without question
// results are dropped.
func Repair(data []byte) (*Document, RepairStats, error) {
	candidate, stats, ok := repairStructural(data)
	if !ok {
		candidate, stats = repairGeneral(data)
	}

	var doc Document
	if err := json.Unmarshal(candidate, &doc); err != nil {
		candidate, stats = repairGeneral(data)
		if err := json.Unmarshal(candidate, &doc); err != nil {
			return nil, stats, fmt.Errorf("document is beyond repair: %w", err)
		}
	}

	kept := doc.Variants[:0]
	for _, v := range doc.Variants {
		if v.Tag == "" || len(v.Results) == 0 {
			stats.DroppedVariants++
			continue
		}
		kept = append(kept, v)
	}
	doc.Variants = kept

	return &doc, stats, nil
}

// repairStructural finds the last position where a question-result object
// closed cleanly, truncates there, and emits the minimal closing sequence
// the still-open containers need. The bracket counter ignores string
// interiors and escapes. Question results sit at nesting depth five
// (document, variant list, variant, result list, result).
func repairStructural(data []byte) ([]byte, RepairStats, bool) {
	const questionResultDepth = 5

	var stack []byte
	inString := false
	escaped := false
	lastBoundary := -1
	var boundaryStack []byte

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return nil, RepairStats{}, false
			}
			stack = stack[:len(stack)-1]
			if c == '}' && len(stack) == questionResultDepth-1 {
				lastBoundary = i
				boundaryStack = append(boundaryStack[:0], stack...)
			}
		}
	}

	if lastBoundary < 0 {
		return nil, RepairStats{}, false
	}

	var stats RepairStats
	stats.RemovedBytes = len(data) - lastBoundary - 1

	out := make([]byte, 0, lastBoundary+1+len(boundaryStack))
	out = append(out, data[:lastBoundary+1]...)
	for i := len(boundaryStack) - 1; i >= 0; i-- {
		if boundaryStack[i] == '{' {
			out = append(out, '}')
			stats.TruncatedObjects++
		} else {
			out = append(out, ']')
			stats.TruncatedArrays++
		}
		stats.FixedClosures++
	}
	return out, stats, true
}

// repairGeneral re-parses the input with a stack: mismatched closers are
// skipped, an unterminated trailing value is cut back to the last complete
// element of its container, and the remaining open containers are closed.
func repairGeneral(data []byte) ([]byte, RepairStats) {
	var stats RepairStats
	var out []byte
	var stack []byte

	// lastSafe is the output length right after the most recent complete
	// element; safeStack is the container stack at that point.
	lastSafe := 0
	var safeStack []byte
	markSafe := func() {
		lastSafe = len(out)
		safeStack = append(safeStack[:0], stack...)
	}

	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			out = append(out, c)
		case '{', '[':
			stack = append(stack, c)
			out = append(out, c)
			markSafe()
		case '}', ']':
			opener := byte('{')
			if c == ']' {
				opener = '['
			}
			if len(stack) == 0 || stack[len(stack)-1] != opener {
				// Extraneous closer: drop it.
				stats.FixedClosures++
				stats.RemovedBytes++
				continue
			}
			stack = stack[:len(stack)-1]
			out = append(out, c)
			markSafe()
		default:
			out = append(out, c)
		}
	}

	if inString {
		// The input ends inside a string: cut back to the last complete
		// element and drop whatever the string belonged to.
		removed := len(out) - lastSafe
		stats.RemovedBytes += removed
		out = out[:lastSafe]
		stack = append(stack[:0], safeStack...)
	}

	trimmed := strings.TrimRight(string(out), " \t\r\n")
	if strings.HasSuffix(trimmed, ",") {
		trimmed = trimmed[:len(trimmed)-1]
		stats.RemovedBytes++
	} else if strings.HasSuffix(trimmed, ":") {
		trimmed += " null"
	}
	out = []byte(trimmed)

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out = append(out, '}')
			stats.TruncatedObjects++
		} else {
			out = append(out, ']')
			stats.TruncatedArrays++
		}
		stats.FixedClosures++
	}
	return out, stats
}

// FixFile recovers a corrupt results file into a .fixed.json sibling. The
// input file is never modified. Returns the path written and the repair
// statistics.
func FixFile(path string) (string, RepairStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", RepairStats{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, stats, err := Repair(data)
	if err != nil {
		return "", stats, err
	}

	repaired, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", stats, fmt.Errorf("failed to serialize repaired document: %w", err)
	}
	if err := ValidateDocument(repaired); err != nil {
		return "", stats, fmt.Errorf("repaired document failed validation: %w", err)
	}

	fixed := strings.TrimSuffix(path, ".json") + ".fixed.json"
	if err := os.WriteFile(fixed, repaired, 0o644); err != nil {
		return "", stats, fmt.Errorf("failed to write %s: %w", fixed, err)
	}

	log.Info("repaired results document",
		zap.String("input", path),
		zap.String("output", fixed),
		zap.String("stats", stats.String()))
	return fixed, stats, nil
}
