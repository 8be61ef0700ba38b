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

// Package suite defines the question battery a benchmark run iterates over.
package suite

// Question is a single prompt in a test suite.
type Question struct {
	// ID is unique within the suite and is the resume key for results.
	ID     string
	Prompt string
	// CtxSize overrides the category and suite context length when > 0.
	CtxSize int
}

// Category is an ordered group of questions.
type Category struct {
	Name string
	// CtxSize overrides the suite context length when > 0.
	CtxSize   int
	Questions []Question
}

// Suite is an ordered battery of categorized questions.
type Suite struct {
	Name       string
	Categories []Category
	// MaxPredict caps the prediction length for every generate call.
	MaxPredict int
	// DefaultCtx is the context length used when neither the category nor
	// the question overrides it.
	DefaultCtx int
}

// TotalQuestions returns the number of questions across all categories.
func (s *Suite) TotalQuestions() int {
	n := 0
	for _, c := range s.Categories {
		n += len(c.Questions)
	}
	return n
}

// ResolveCtx returns the context length for a question. Resolution order is
// question > category > suite.
func (s *Suite) ResolveCtx(c *Category, q *Question) int {
	if q != nil && q.CtxSize > 0 {
		return q.CtxSize
	}
	if c != nil && c.CtxSize > 0 {
		return c.CtxSize
	}
	return s.DefaultCtx
}

// Question returns the question with the given id, or nil.
func (s *Suite) Question(id string) (*Category, *Question) {
	for ci := range s.Categories {
		c := &s.Categories[ci]
		for qi := range c.Questions {
			if c.Questions[qi].ID == id {
				return c, &c.Questions[qi]
			}
		}
	}
	return nil, nil
}
