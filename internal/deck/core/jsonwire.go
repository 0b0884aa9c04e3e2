package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// StorylineParseError is the fatal failure raised when the storyline
// builder cannot turn an LLM response into a usable storyline. It
// carries the raw response text so the job record shows exactly what
// the model returned.
type StorylineParseError struct {
	Raw string
	Err error
}

func (e *StorylineParseError) Error() string {
	return fmt.Sprintf("storyline response unparseable: %v", e.Err)
}

func (e *StorylineParseError) Unwrap() error { return e.Err }

// StripCodeFence removes an optional Markdown code-fence wrapper
// (```json ... ``` or ``` ... ```) around an LLM response.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	// drop a language tag on the fence line
	if idx := strings.IndexByte(t, '\n'); idx >= 0 {
		first := strings.TrimSpace(t[:idx])
		if first == "json" || first == "JSON" || first == "" {
			t = t[idx+1:]
		}
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// plusNumber matches a "+" immediately preceding a number in value
// position. Some models emit +12.5 inside numeric lists, which is not
// valid JSON.
var plusNumber = regexp.MustCompile(`([:\[,]\s*)\+(\d)`)

// RepairPlusNumbers removes the leading "+" from positive numbers so
// the payload parses as JSON.
func RepairPlusNumbers(s string) string {
	return plusNumber.ReplaceAllString(s, "${1}${2}")
}

// ExtractJSONBlock finds the first balanced top-level JSON object in a
// string, skipping any prose the model wrapped around it.
func ExtractJSONBlock(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}

// DecodeLLMObject runs the full wire-repair chain (fence strip, plus
// repair, block extraction) and unmarshals into v.
func DecodeLLMObject(raw string, v interface{}) error {
	cleaned := RepairPlusNumbers(ExtractJSONBlock(StripCodeFence(raw)))
	return json.Unmarshal([]byte(cleaned), v)
}
