package synth

import (
	"testing"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twoTurns = []models.Turn{
	{Speaker: models.SpeakerUser, Text: "What is SuperNet?"},
	{Speaker: models.SpeakerAssistant, Text: "A network of networks."},
}

func TestParseTurnsShapes(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{
			name: "sharegpt array",
			text: `[{"from": "human", "value": "What is SuperNet?"}, {"from": "gpt", "value": "A network of networks."}]`,
		},
		{
			name: "role content wrapped in object",
			text: `{"messages": [{"role": "user", "content": "What is SuperNet?"}, {"role": "assistant", "content": "A network of networks."}]}`,
		},
		{
			name: "speaker text with system turn",
			text: `{"turns": [{"speaker": "system", "text": "ignored"}, {"speaker": "Human", "text": "What is SuperNet?"}, {"speaker": "AI", "text": "A network of networks."}]}`,
		},
		{
			name: "prose around json",
			text: "Sure! Here is the conversation:\n[{\"from\": \"human\", \"value\": \"What is SuperNet?\"}, {\"from\": \"gpt\", \"value\": \"A network of networks.\"}]\nHope this helps.",
		},
		{
			name: "code fence and think block",
			text: "<think>The user wants JSON. {not json}</think>\n```json\n[{\"from\": \"human\", \"value\": \"What is SuperNet?\"},\n {\"from\": \"gpt\", \"value\": \"A network of networks.\"}]\n```",
		},
		{
			name: "dangling think close",
			text: "reasoning without an opening tag</think>[{\"from\": \"human\", \"value\": \"What is SuperNet?\"}, {\"from\": \"gpt\", \"value\": \"A network of networks.\"}]",
		},
		{
			name: "single quotes bare keys trailing comma",
			text: `[{from: 'human', value: 'What is SuperNet?'}, {from: 'gpt', value: 'A network of networks.'},]`,
		},
		{
			name: "delimited",
			text: "Human: What is SuperNet?\nAssistant: A network of networks.",
		},
		{
			name: "delimited bold markers",
			text: "**User:** What is SuperNet?\n\n**Assistant:** A network of networks.",
		},
		{
			name: "delimited headings and qa labels",
			text: "### Q: What is SuperNet?\n### A: A network of networks.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns, err := ParseTurns(DefaultParsers(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, twoTurns, turns)
		})
	}
}

func TestDelimitedContinuationLines(t *testing.T) {
	text := "Intro text that is ignored.\nQuestion: How is it trained?\nIn detail please.\n\nAnswer: In two stages.\nFirst pretraining.\nThen finetuning."

	turns, ok := (&DelimitedTurnParser{}).Parse(text)
	require.True(t, ok)
	require.Len(t, turns, 2)
	assert.Equal(t, "How is it trained?\nIn detail please.", turns[0].Text)
	assert.Equal(t, "In two stages.\nFirst pretraining.\nThen finetuning.", turns[1].Text)
}

func TestParseTurnsFailures(t *testing.T) {
	for _, text := range []string{
		"",
		"<think>only thinking</think>",
		"I cannot help with that.",
		`[{"from": "narrator", "value": "x"}]`,
	} {
		_, err := ParseTurns(DefaultParsers(), text)
		assert.ErrorIs(t, err, models.ErrMalformedGeneration, "text %q", text)
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{a: 1,}`, `{"a": 1}`},
		{`['it\'s', "say \"hi\""]`, `["it's", "say \"hi\""]`},
		{`{'k': 'a "quoted" word'}`, `{"k": "a \"quoted\" word"}`},
		{"{\"k\": \"line\nbreak\"}", `{"k": "line\nbreak"}`},
		{`{ok: True, no: None}`, `{"ok": true, "no": null}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, repairJSON(tt.in))
	}
}

func TestValidateTurns(t *testing.T) {
	u := func(s string) models.Turn { return models.Turn{Speaker: models.SpeakerUser, Text: s} }
	a := func(s string) models.Turn { return models.Turn{Speaker: models.SpeakerAssistant, Text: s} }

	tests := []struct {
		name  string
		turns []models.Turn
		ok    bool
	}{
		{"valid pair", []models.Turn{u("q"), a("a")}, true},
		{"valid odd length", []models.Turn{u("q"), a("a"), u("q2")}, true},
		{"single turn", []models.Turn{u("q")}, false},
		{"assistant first", []models.Turn{a("a"), u("q")}, false},
		{"not alternating", []models.Turn{u("q"), u("q2"), a("a")}, false},
		{"blank turn", []models.Turn{u("q"), a("  ")}, false},
		{"degenerate length", []models.Turn{u("q"), a(string(make([]rune, 11)))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTurns(tt.turns, 10)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrMalformedGeneration)
			}
		})
	}
}
