package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResponse_ClampsConfidence(t *testing.T) {
	result := ParseResponse(`{"is_danger":true,"confidence":1.5,"reasoning":"x"}`)

	assert.True(t, result.IsDanger)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, "x", result.Reasoning)
	assert.False(t, result.Failed)
}

func TestParseResponse_NegativeConfidence(t *testing.T) {
	result := ParseResponse(`{"is_danger":false,"confidence":-3}`)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestParseResponse_Idempotent(t *testing.T) {
	text := `{"is_danger":true,"alert_type":"FALL","alert_message":"Person fell","reasoning":"lying still","confidence":0.9}`
	first := ParseResponse(text)
	second := ParseResponse(text)
	assert.Equal(t, first, second)
	assert.Equal(t, "FALL", first.AlertType)
	assert.Equal(t, "Person fell", first.AlertMessage)
	assert.Equal(t, text, first.RawResponse)
}

func TestParseResponse_CodeFences(t *testing.T) {
	tests := map[string]string{
		"json fence":  "```json\n{\"is_danger\": true, \"confidence\": 0.8}\n```",
		"plain fence": "```\n{\"is_danger\": true, \"confidence\": 0.8}\n```",
		"with prose":  "Here is my verdict: {\"is_danger\": true, \"confidence\": 0.8} thanks",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			result := ParseResponse(text)
			assert.True(t, result.IsDanger)
			assert.Equal(t, 0.8, result.Confidence)
			assert.Equal(t, text, result.RawResponse)
		})
	}
}

func TestParseResponse_Defaults(t *testing.T) {
	result := ParseResponse(`{}`)
	assert.False(t, result.IsDanger)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Empty(t, result.AlertType)
	assert.Empty(t, result.Reasoning)
}

func TestParseResponse_KeywordFallback(t *testing.T) {
	text := "no json here but DANGER detected"
	result := ParseResponse(text)

	assert.True(t, result.IsDanger)
	assert.Equal(t, text, result.Reasoning)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestParseResponse_ChineseKeywords(t *testing.T) {
	for _, text := range []string{"画面中有人受伤", "检测到异常行为", "情况危险"} {
		assert.True(t, ParseResponse(text).IsDanger, text)
	}
}

func TestParseResponse_SafeFreeText(t *testing.T) {
	result := ParseResponse("The person is doing yoga.")
	assert.False(t, result.IsDanger)
	assert.Equal(t, "The person is doing yoga.", result.Reasoning)
}

func TestParseResponse_MalformedJSONFallsBack(t *testing.T) {
	text := `{"is_danger": true, "reasoning": "person on floor", danger}`
	result := ParseResponse(text)

	assert.True(t, result.IsDanger, "keyword scan applies to unparseable JSON")
	assert.Equal(t, text, result.Reasoning)
}

func TestParseResponse_ReversedBraces(t *testing.T) {
	result := ParseResponse("} nothing {")
	assert.False(t, result.IsDanger)
	assert.Equal(t, "} nothing {", result.Reasoning)
}

func TestParseResponse_LooseTypes(t *testing.T) {
	result := ParseResponse(`{"is_danger":"true","confidence":"0.7","alert_type":3}`)
	assert.True(t, result.IsDanger)
	assert.Equal(t, 0.7, result.Confidence)
	assert.Equal(t, "3", result.AlertType)

	result = ParseResponse(`{"is_danger":false,"confidence":"high"}`)
	assert.True(t, result.IsDanger, "unreadable replies fall back to the raw keyword scan")
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, `{"is_danger":false,"confidence":"high"}`, result.Reasoning)
}

func TestParseResponse_KeyValueReplyIsDanger(t *testing.T) {
	text := "is_danger: true\nreasoning: person collapsed on the floor"
	result := ParseResponse(text)

	assert.True(t, result.IsDanger)
	assert.Equal(t, text, result.Reasoning)
}

func TestParseResponse_TruncatedJSONIsDanger(t *testing.T) {
	text := `{"is_danger": true, "reasoning": "person fell near the sta`
	result := ParseResponse(text)

	assert.True(t, result.IsDanger)
	assert.Equal(t, text, result.Reasoning)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestParseResponse_NeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"```",
		"```json```",
		"{",
		"}",
		"{}}",
		`{"confidence": null}`,
		`{"is_danger": [1,2,3], "confidence": {"a": 1}}`,
		strings.Repeat("{", 1000),
		"\x00\xff{\"is_danger\":true}",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			result := ParseResponse(in)
			assert.GreaterOrEqual(t, result.Confidence, 0.0)
			assert.LessOrEqual(t, result.Confidence, 1.0)
		}, "input %q", in)
	}
}
