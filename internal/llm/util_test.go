package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain json untouched",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "json fence",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "generic fence",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "fence with language identifier",
			input: "```javascript\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "conversational preamble",
			input: "Sure, here is the JSON you asked for:\n{\"a\": 1}",
			want:  `{"a": 1}`,
		},
		{
			name:  "trailing commentary after object",
			input: "{\"a\": 1}\nLet me know if you need anything else!",
			want:  `{"a": 1}`,
		},
		{
			name:  "nested objects stay balanced",
			input: `{"a": {"b": {"c": 1}}} trailing`,
			want:  `{"a": {"b": {"c": 1}}}`,
		},
		{
			name:  "braces inside strings ignored",
			input: `{"text": "a } b { c"} extra`,
			want:  `{"text": "a } b { c"}`,
		},
		{
			name:  "escaped quotes inside strings",
			input: `{"text": "she said \"}\" loudly"} extra`,
			want:  `{"text": "she said \"}\" loudly"}`,
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  \n {\"a\": 1} \n ",
			want:  `{"a": 1}`,
		},
		{
			name:  "no json at all passes through",
			input: "I could not produce a response.",
			want:  "I could not produce a response.",
		},
		{
			name:  "unbalanced object passes through",
			input: `{"a": 1`,
			want:  `{"a": 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONObject(`{"a":1}{"b":2}`))
	assert.Equal(t, "", extractJSONObject(`not json`))
	assert.Equal(t, "", extractJSONObject(`{"never": "closed"`))
}
