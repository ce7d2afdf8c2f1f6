package narrative

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	custom_errors "commitsaga/internal/errors"
	"commitsaga/internal/model"
)

const (
	// PlaceholderSummary is stored when a bucket summary could not be generated or parsed.
	PlaceholderSummary = "Summary generation failed - invalid response format"

	maxListItems  = 5
	maxItemLength = 300
)

// ExtractJSON returns the first balanced {...} or [...] span in text that is valid
// JSON. Brackets inside string literals are ignored. Spans that balance but do not
// parse are skipped and scanning resumes after their opening bracket.
func ExtractJSON(text string) (json.RawMessage, bool) {
	return extract(text, "{[")
}

// ExtractObject is ExtractJSON restricted to objects.
func ExtractObject(text string) (json.RawMessage, bool) {
	return extract(text, "{")
}

func extract(text, openers string) (json.RawMessage, bool) {
	found := scan(text, openers, 1)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

// scan collects up to limit valid spans, or all of them when limit <= 0. After a
// valid span scanning resumes past its closing bracket, after an invalid one past
// its opening bracket.
func scan(text, openers string, limit int) []json.RawMessage {
	var found []json.RawMessage
	for i := 0; i < len(text); i++ {
		if strings.IndexByte(openers, text[i]) < 0 {
			continue
		}
		end, ok := balancedEnd(text, i)
		if !ok {
			continue
		}
		span := text[i : end+1]
		if !json.Valid([]byte(span)) {
			continue
		}
		found = append(found, json.RawMessage(span))
		if limit > 0 && len(found) == limit {
			break
		}
		i = end
	}
	return found
}

// balancedEnd returns the index of the bracket closing the one at start.
func balancedEnd(text string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// FallbackBucketSummary is the placeholder result with empty lists.
func FallbackBucketSummary() model.BucketSummary {
	return model.BucketSummary{
		Summary:            PlaceholderSummary,
		KeyChanges:         []string{},
		NotableFeatures:    []string{},
		BugFixes:           []string{},
		TechnicalDecisions: []string{},
		MainContributors:   []string{},
	}
}

type rawBucketSummary struct {
	Summary            json.RawMessage `json:"summary"`
	KeyChanges         json.RawMessage `json:"key_changes"`
	NotableFeatures    json.RawMessage `json:"notable_features"`
	BugFixes           json.RawMessage `json:"bug_fixes"`
	TechnicalDecisions json.RawMessage `json:"technical_decisions"`
	MainContributors   json.RawMessage `json:"main_contributors"`
}

// ParseBucketSummary extracts a bucket summary from free-form generator output.
// The first top-level object carrying a non-empty summary wins. On failure it
// returns FallbackBucketSummary together with an error wrapping
// ErrMalformedGeneratorOutput, so callers can store the result unconditionally.
func ParseBucketSummary(text string) (model.BucketSummary, error) {
	objects := scan(text, "{", 0)
	if len(objects) == 0 {
		if _, isJSON := ExtractJSON(text); isJSON {
			return FallbackBucketSummary(), fmt.Errorf("expected a JSON object, got an array: %w", custom_errors.ErrMalformedGeneratorOutput)
		}
		return FallbackBucketSummary(), fmt.Errorf("no JSON found in response: %w", custom_errors.ErrMalformedGeneratorOutput)
	}

	var firstErr error
	for _, span := range objects {
		summary, err := decodeBucketSummary(span)
		if err == nil {
			return summary, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return FallbackBucketSummary(), firstErr
}

func decodeBucketSummary(span json.RawMessage) (model.BucketSummary, error) {
	var raw rawBucketSummary
	if err := json.Unmarshal(span, &raw); err != nil {
		return model.BucketSummary{}, fmt.Errorf("%v: %w", err, custom_errors.ErrMalformedGeneratorOutput)
	}

	summary := strings.TrimSpace(stringValue(raw.Summary))
	if summary == "" {
		return model.BucketSummary{}, fmt.Errorf("missing summary field: %w", custom_errors.ErrMalformedGeneratorOutput)
	}

	return model.BucketSummary{
		Summary:            summary,
		KeyChanges:         stringList(raw.KeyChanges),
		NotableFeatures:    stringList(raw.NotableFeatures),
		BugFixes:           stringList(raw.BugFixes),
		TechnicalDecisions: stringList(raw.TechnicalDecisions),
		MainContributors:   stringList(raw.MainContributors),
	}, nil
}

func stringValue(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// stringList accepts a list of scalars or a single string. Blank items are dropped,
// items are truncated and the list is capped.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		var single string
		if json.Unmarshal(raw, &single) != nil {
			return out
		}
		items = []any{single}
	}

	for _, it := range items {
		var s string
		switch v := it.(type) {
		case string:
			s = v
		case float64, bool:
			s = fmt.Sprint(v)
		default:
			continue
		}
		s = truncate(strings.TrimSpace(s), maxItemLength)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
