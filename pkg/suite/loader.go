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
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_suite.yaml
var defaultSuiteYAML []byte

// suiteYAML is the on-disk representation of a test suite.
type suiteYAML struct {
	Name       string         `yaml:"name"`
	MaxPredict int            `yaml:"max_predict"`
	DefaultCtx int            `yaml:"default_ctx"`
	Categories []categoryYAML `yaml:"categories"`
}

type categoryYAML struct {
	Name      string         `yaml:"name"`
	CtxSize   int            `yaml:"ctx_size"`
	Questions []questionYAML `yaml:"questions"`
}

type questionYAML struct {
	ID      string `yaml:"id"`
	Prompt  string `yaml:"prompt"`
	CtxSize int    `yaml:"ctx_size"`
}

// Load reads a test suite from a YAML file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test suite file %s: %w", path, err)
	}
	s, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid test suite %s: %w", path, err)
	}
	return s, nil
}

// Default returns the embedded default suite.
func Default() *Suite {
	s, err := parse(defaultSuiteYAML)
	if err != nil {
		// The embedded suite is validated by tests; this is unreachable.
		panic(fmt.Sprintf("embedded default suite invalid: %v", err))
	}
	return s
}

func parse(data []byte) (*Suite, error) {
	var y suiteYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse suite YAML: %w", err)
	}
	if err := validate(&y); err != nil {
		return nil, err
	}

	s := &Suite{
		Name:       y.Name,
		MaxPredict: y.MaxPredict,
		DefaultCtx: y.DefaultCtx,
	}
	if s.MaxPredict == 0 {
		s.MaxPredict = 2048
	}
	if s.DefaultCtx == 0 {
		s.DefaultCtx = 4096
	}
	for _, cy := range y.Categories {
		c := Category{Name: cy.Name, CtxSize: cy.CtxSize}
		for _, qy := range cy.Questions {
			c.Questions = append(c.Questions, Question{
				ID:      qy.ID,
				Prompt:  qy.Prompt,
				CtxSize: qy.CtxSize,
			})
		}
		s.Categories = append(s.Categories, c)
	}
	return s, nil
}

func validate(y *suiteYAML) error {
	if y.Name == "" {
		return fmt.Errorf("suite name is required")
	}
	if len(y.Categories) == 0 {
		return fmt.Errorf("suite must contain at least one category")
	}
	seen := make(map[string]bool)
	for _, c := range y.Categories {
		if c.Name == "" {
			return fmt.Errorf("category name is required")
		}
		if len(c.Questions) == 0 {
			return fmt.Errorf("category %s has no questions", c.Name)
		}
		for _, q := range c.Questions {
			if q.ID == "" {
				return fmt.Errorf("question in category %s has no id", c.Name)
			}
			if seen[q.ID] {
				return fmt.Errorf("duplicate question id %s", q.ID)
			}
			seen[q.ID] = true
			if q.Prompt == "" {
				return fmt.Errorf("question %s has no prompt", q.ID)
			}
		}
	}
	return nil
}
