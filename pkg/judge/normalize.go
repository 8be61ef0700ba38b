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
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ParseVerdict normalizes a raw judge response into a Verdict. The behavior
// is identical across back-ends: JSON first, truncation repair second, then
// increasingly lenient regex extraction. A verdict is always produced; an
// unparsable score becomes 1 and an ambiguous best-answer becomes empty.
func ParseVerdict(raw string) *Verdict {
	fields, ok := jsonFields(raw)
	if !ok {
		fields, ok = jsonFields(repairTruncatedJSON(raw))
	}

	v := &Verdict{Score: 1}
	if ok {
		if s, found := fields["score"]; found {
			v.Score = normalizeScore(s)
		} else {
			v.Score = scoreFromText(raw)
		}
		if ba, found := fields["bestanswer"]; found {
			v.BestAnswer = NormalizeBestAnswer(stringify(ba))
		}
		for _, key := range []string{"reason", "response", "explanation"} {
			if r, found := fields[key]; found {
				if s := strings.TrimSpace(stringify(r)); s != "" {
					v.Reason = s
					break
				}
			}
		}
	} else {
		v.Score = scoreFromText(raw)
		v.BestAnswer = NormalizeBestAnswer(bestAnswerFromText(raw))
	}

	if v.Reason == "" {
		v.Reason = reasonFromText(raw)
	}
	return v
}

// jsonFields parses raw as a JSON object with case-insensitive keys. Judge
// models frequently wrap the object in markdown fences or prose.
func jsonFields(raw string) (map[string]any, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, false
	}

	fields := make(map[string]any, len(obj))
	for k, val := range obj {
		fields[strings.ToLower(strings.ReplaceAll(k, "_", ""))] = val
	}
	return fields, true
}

// normalizeScore maps a judge-reported score onto [1,100]. Values at or
// below 1.0 are read as a 0-1 ratio and scaled.
func normalizeScore(val any) int {
	var f float64
	switch x := val.(type) {
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 1
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.Trim(x, "%")), 64)
		if err != nil {
			return 1
		}
		f = parsed
	default:
		return 1
	}

	if f <= 1.0 {
		f *= 100
	}
	n := int(math.Round(f))
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100
	}
	return n
}

// NormalizeBestAnswer maps the permissive vocabulary judges actually emit
// onto the closed set {A, B, AB}. Ambiguous or missing input yields empty.
func NormalizeBestAnswer(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || r == ' ' {
			return r
		}
		if r == '_' || r == '-' {
			return ' '
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	switch s {
	case "AB", "BA", "TIE", "EQUAL", "IDENTICAL", "BOTH", "SAME", "NEITHER":
		return "AB"
	case "A", "B":
		return s
	}

	words := strings.Fields(s)
	sawA, sawB, sawTie := false, false, false
	for _, w := range words {
		switch w {
		case "A":
			sawA = true
		case "B":
			sawB = true
		case "AB", "TIE", "EQUAL", "IDENTICAL", "BOTH", "SAME":
			sawTie = true
		case "RESPONSE", "ANSWER", "OPTION", "MODEL", "VARIANT", "THE", "IS", "BEST":
			// qualifier words carry no signal
		}
	}
	switch {
	case sawTie, sawA && sawB:
		return "AB"
	case sawA:
		return "A"
	case sawB:
		return "B"
	}
	return ""
}

// repairTruncatedJSON re-balances a response cut off mid-object: close an
// unterminated string, drop a dangling comma or colon, then emit the closing
// brackets the open stack still needs. String interiors and escapes are
// ignored by the counter.
func repairTruncatedJSON(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return raw
	}
	s := raw[start:]

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}

	trimmed := strings.TrimRight(b.String(), " \t\r\n")
	switch {
	case strings.HasSuffix(trimmed, ","):
		trimmed = trimmed[:len(trimmed)-1]
	case strings.HasSuffix(trimmed, ":"):
		trimmed += " null"
	}

	b.Reset()
	b.WriteString(trimmed)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

var (
	scoreRe      = regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)`)
	bestAnswerRe = regexp.MustCompile(`(?i)"?best_?answer"?\s*[:=]\s*"?([A-Za-z][A-Za-z _-]*)`)
	// reasonRes runs strictest to loosest: properly terminated string, then
	// a string truncated at end of input.
	reasonRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)"reason"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		regexp.MustCompile(`(?is)"response"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		regexp.MustCompile(`(?is)"explanation"\s*:\s*"((?:[^"\\]|\\.)*)"`),
		regexp.MustCompile(`(?is)"reason"\s*:\s*"(.+)$`),
	}
)

func scoreFromText(raw string) int {
	m := scoreRe.FindStringSubmatch(raw)
	if m == nil {
		return 1
	}
	return normalizeScore(m[1])
}

func bestAnswerFromText(raw string) string {
	m := bestAnswerRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

func reasonFromText(raw string) string {
	for _, re := range reasonRes {
		if m := re.FindStringSubmatch(raw); m != nil {
			if s := strings.TrimSpace(unescapeJSONString(m[1])); s != "" {
				return s
			}
		}
	}
	// A plain-text verdict with no JSON shape at all is its own reason.
	if !strings.Contains(raw, "{") {
		return strings.TrimSpace(raw)
	}
	return ""
}

func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
