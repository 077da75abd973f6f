package attacker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Small LLMs emit JSON with trailing commas or missing commas between
// fields often enough that repairing is cheaper than retrying.
var (
	reTrailingComma = regexp.MustCompile(`,\s*([}\]])`)
	reMissingComma1 = regexp.MustCompile(`(")\s*\n(\s*")`)
	reMissingComma2 = regexp.MustCompile(`("[^"\n]*"\s*:\s*[^,\n}{\[]+)\n(\s*")`)
)

// ExtractJSON returns the substring from the first '{' to the last '}'.
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no json object found in policy output")
	}
	return text[start : end+1], nil
}

func repairJSON(text string) string {
	text = reTrailingComma.ReplaceAllString(text, "$1")
	text = reMissingComma1.ReplaceAllString(text, "$1,\n$2")
	text = reMissingComma2.ReplaceAllString(text, "$1,\n$2")
	return text
}

// ParseDecision extracts, repairs, and decodes a policy decision from
// raw model output.
func ParseDecision(text string) (Decision, error) {
	candidate, err := ExtractJSON(text)
	if err != nil {
		return Decision{}, err
	}
	var d Decision
	if err := json.Unmarshal([]byte(candidate), &d); err != nil {
		repaired := repairJSON(candidate)
		if err2 := json.Unmarshal([]byte(repaired), &d); err2 != nil {
			return Decision{}, fmt.Errorf("failed to decode policy output: %w", err)
		}
	}
	if d.Params == nil {
		d.Params = map[string]any{}
	}
	return d, nil
}
