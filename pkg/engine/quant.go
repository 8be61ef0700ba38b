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
	"sort"
	"strings"

	"github.com/teradata-labs/qc/pkg/ollama"
)

// enhancedQuantLabel derives a quantization label from per-tensor type
// statistics. Servers report a single nominal level, but mixed-precision
// files quantize different tensors differently; the label names the
// dominant weight type plus any secondary type above a ten percent share.
// One-dimensional tensors (norms, biases) are skipped, they are stored in
// high precision regardless of the quantization.
func enhancedQuantLabel(tensors []ollama.TensorInfo) string {
	counts := map[string]int{}
	total := 0
	for _, t := range tensors {
		if len(t.Shape) < 2 || t.Type == "" {
			continue
		}
		counts[strings.ToUpper(t.Type)]++
		total++
	}
	if total == 0 {
		return ""
	}

	type share struct {
		typ string
		n   int
	}
	shares := make([]share, 0, len(counts))
	for typ, n := range counts {
		shares = append(shares, share{typ, n})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].n != shares[j].n {
			return shares[i].n > shares[j].n
		}
		return shares[i].typ < shares[j].typ
	})

	label := shares[0].typ
	for _, s := range shares[1:] {
		if s.n*10 >= total {
			label += "+" + s.typ
		}
	}
	return label
}
