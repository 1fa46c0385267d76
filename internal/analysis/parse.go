package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// dangerKeywords mark a free-text reply as dangerous when no JSON could be read
var dangerKeywords = []string{"danger", "危险", "异常", "受伤"}

// ParseResponse normalizes a backend reply into a Result. It never panics:
// anything it cannot read falls back to a keyword scan of the raw text.
func ParseResponse(text string) (result Result) {
	result = Result{
		RawResponse: text,
		Confidence:  0.5,
	}

	defer func() {
		if r := recover(); r != nil {
			result = keywordResult(text)
			result.Reasoning = fmt.Sprintf("%s (parse error: %v)", text, r)
		}
	}()

	fields, ok := extractJSON(text)
	if !ok {
		return keywordResult(text)
	}

	parsed, err := resultFromFields(fields)
	if err != nil {
		return keywordResult(text)
	}
	parsed.RawResponse = text
	return parsed
}

// extractJSON strips code fences and decodes the outermost {...} block
func extractJSON(text string) (map[string]interface{}, bool) {
	clean := strings.TrimSpace(text)
	if strings.HasPrefix(clean, "```json") {
		clean = clean[len("```json"):]
	} else if strings.HasPrefix(clean, "```") {
		clean = clean[len("```"):]
	}
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start == -1 || end == -1 || end < start {
		return nil, false
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(clean[start:end+1]), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func resultFromFields(fields map[string]interface{}) (Result, error) {
	result := Result{Confidence: 0.5}

	if v, ok := fields["is_danger"]; ok {
		result.IsDanger = truthy(v)
	}
	result.AlertType = stringField(fields, "alert_type")
	result.AlertMessage = stringField(fields, "alert_message")
	result.Reasoning = stringField(fields, "reasoning")

	if v, ok := fields["confidence"]; ok && v != nil {
		c, err := toFloat(v)
		if err != nil {
			return Result{}, err
		}
		result.Confidence = c
	}
	result.Confidence = clamp01(result.Confidence)

	return result, nil
}

// keywordResult is the fallback verdict for replies without usable JSON
func keywordResult(text string) Result {
	result := Result{
		RawResponse: text,
		Reasoning:   text,
		Confidence:  0.5,
	}
	// The raw text is scanned as is, so a truncated "is_danger" reply still
	// leans towards danger.
	lower := strings.ToLower(text)
	for _, kw := range dangerKeywords {
		if strings.Contains(lower, kw) {
			result.IsDanger = true
			break
		}
	}
	return result
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return t != ""
		}
		return b
	case nil:
		return false
	default:
		return true
	}
}

func stringField(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("confidence has unsupported type %T", v)
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
