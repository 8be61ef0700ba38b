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
	"fmt"
	"io"

	"charm.land/lipgloss/v2"
	"github.com/teradata-labs/qc/pkg/results"
)

var summaryHeader = lipgloss.NewStyle().Bold(true).Underline(true)

// printSummary writes the end-of-run per-variant digest. Deeper analysis
// lives in the results document; this is just the at-a-glance view.
func printSummary(out io.Writer, doc *results.Document, total int) {
	fmt.Fprintf(out, "\n%s\n", summaryHeader.Render("Results for "+doc.Model))
	for _, v := range doc.Variants {
		quant := v.Quantization
		if v.QuantizationEnhanced != "" {
			quant = v.QuantizationEnhanced
		}
		line := fmt.Sprintf("  %-16s %-12s %8.1f tok/s", v.Tag, quant, averageEvalRate(v))

		switch {
		case v.IsBase:
			line += "  base"
		default:
			if avg, judged := averageScore(v); judged > 0 {
				line += fmt.Sprintf("  score %5.1f (%d judged)", avg, judged)
			}
		}
		if !v.Complete(total) {
			line += statStyle.Render(fmt.Sprintf("  incomplete %d/%d", len(v.Results), total))
		}
		fmt.Fprintln(out, line)
	}
}

func averageScore(v *results.VariantResult) (float64, int) {
	sum, judged := 0, 0
	for _, qr := range v.Results {
		if qr.Judgment == nil || qr.Judgment.Score == 0 {
			continue
		}
		sum += qr.Judgment.Score
		judged++
	}
	if judged == 0 {
		return 0, 0
	}
	return float64(sum) / float64(judged), judged
}

func averageEvalRate(v *results.VariantResult) float64 {
	sum, n := 0.0, 0
	for _, qr := range v.Results {
		if qr.EvalTokensPerSec > 0 {
			sum += qr.EvalTokensPerSec
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
