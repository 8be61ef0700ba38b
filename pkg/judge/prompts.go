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
	"fmt"

	"github.com/MakeNowJust/heredoc"
)

// similaritySystemPrompt asks for a similarity score plus a best-answer
// pick. Answer A is always the baseline.
var similaritySystemPrompt = heredoc.Doc(`
	You are comparing two answers to the same question. Answer A comes from
	a reference model, answer B from a variant of it. Judge how similar B is
	to A in content, correctness, and completeness.

	Respond with a single JSON object and nothing else:
	{"score": <integer 1-100, 100 = semantically identical>,
	 "bestanswer": <"A" | "B" | "AB" if equally good>,
	 "reason": <one or two sentences>}
`)

// bestAnswerSystemPrompt asks only which answer is better, no score.
var bestAnswerSystemPrompt = heredoc.Doc(`
	You are comparing two answers to the same question. Decide which answer
	is better overall: more correct, more complete, better written. Do not
	reward verbosity.

	Respond with a single JSON object and nothing else:
	{"bestanswer": <"A" | "B" | "AB" if equally good>,
	 "reason": <one or two sentences>}
`)

// SimilarityPrompts builds the system and user prompts for the similarity
// pass.
func SimilarityPrompts(question, baseAnswer, variantAnswer string) (system, user string) {
	return similaritySystemPrompt, pairPrompt(question, baseAnswer, variantAnswer)
}

// BestAnswerPrompts builds the system and user prompts for the quality-only
// best-answer pass.
func BestAnswerPrompts(question, baseAnswer, variantAnswer string) (system, user string) {
	return bestAnswerSystemPrompt, pairPrompt(question, baseAnswer, variantAnswer)
}

func pairPrompt(question, baseAnswer, variantAnswer string) string {
	return fmt.Sprintf("QUESTION:\n%s\n\nANSWER A:\n%s\n\nANSWER B:\n%s", question, baseAnswer, variantAnswer)
}

// responseFormat is the structured-output contract sent to servers that
// support constrained decoding.
var responseFormat = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score":      map[string]any{"type": "integer"},
		"bestanswer": map[string]any{"type": "string"},
		"reason":     map[string]any{"type": "string"},
	},
	"required": []string{"score", "bestanswer", "reason"},
}

// bestAnswerFormat is the score-free variant of the contract.
var bestAnswerFormat = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"bestanswer": map[string]any{"type": "string"},
		"reason":     map[string]any{"type": "string"},
	},
	"required": []string{"bestanswer", "reason"},
}
