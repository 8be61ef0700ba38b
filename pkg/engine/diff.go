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

	"github.com/sergi/go-diff/diffmatchpatch"
)

// answerDiffStats summarizes how two answers differ, for the per-judgment
// diagnostic lines verbose mode prints instead of a progress bar.
func answerDiffStats(base, variant string) string {
	if base == "" && variant == "" {
		return "both empty"
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base, variant, false)
	dmp.DiffCleanupSemantic(diffs)

	var common, inserted, deleted int
	for _, d := range diffs {
		n := len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			common += n
		case diffmatchpatch.DiffInsert:
			inserted += n
		case diffmatchpatch.DiffDelete:
			deleted += n
		}
	}

	total := common + inserted + deleted
	if total == 0 {
		return "both empty"
	}
	return fmt.Sprintf("+%d -%d chars, %d%% common", inserted, deleted, common*100/total)
}
