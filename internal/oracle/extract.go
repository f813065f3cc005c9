package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Iron-Ham/relay/internal/errors"
)

// fencePattern matches fenced markdown blocks. Captures the language tag and body.
var fencePattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.+?)\\n```")

// ExtractJSON returns the first JSON object or array found in text,
// preferring fenced ```json blocks over bare JSON.
func ExtractJSON(text string) (string, error) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" {
			continue
		}
		body := strings.TrimSpace(m[2])
		if (strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[")) && json.Valid([]byte(body)) {
			return body, nil
		}
	}

	start := strings.IndexAny(text, "{[")
	for start >= 0 {
		if s := matchBracket(text[start:]); s != "" && json.Valid([]byte(s)) {
			return s, nil
		}
		next := strings.IndexAny(text[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", fmt.Errorf("no JSON value found in response")
}

// matchBracket returns the prefix of s up to the bracket closing s[0],
// skipping brackets inside string literals.
func matchBracket(s string) string {
	open := s[0]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// Decode extracts JSON from text and unmarshals it into T. Failures wrap
// ErrMalformedResponse.
func Decode[T any](stage, text string) (T, error) {
	var out T
	raw, err := ExtractJSON(text)
	if err != nil {
		return out, errors.NewOracleError(err.Error(), errors.ErrMalformedResponse).WithStage(stage)
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, errors.NewOracleError("decode response: "+err.Error(), errors.ErrMalformedResponse).WithStage(stage)
	}
	return out, nil
}

// ValidateSelection reports a malformed selection.
func ValidateSelection(s Selection) error {
	if s.NextSpeaker == "" {
		return errors.NewOracleError("selection has no next_speaker", errors.ErrMalformedResponse).WithStage(errors.StageSelect)
	}
	if s.Instruction == "" {
		return errors.NewOracleError("selection has no instruction", errors.ErrMalformedResponse).WithStage(errors.StageSelect)
	}
	return nil
}
