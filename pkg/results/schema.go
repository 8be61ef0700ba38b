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
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed document_schema.json
var documentSchema string

// ValidateDocument checks serialized document bytes against the results
// schema. Used on repaired documents before they are offered back to the
// user.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed to run: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("document does not match schema: %s", strings.Join(msgs, "; "))
}
