package transcripts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"agency_calls_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	text string
	err  error
}

func (f fakeGenerator) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
	}}}, nil
}

func TestGeminiExtractor(t *testing.T) {
	transcript := Transcript{Text: "Agent: thanks for calling. Customer: I need to add a driver."}

	cases := []struct {
		name     string
		gen      fakeGenerator
		fallback bool
		summary  string
	}{
		{
			name:    "valid json",
			gen:     fakeGenerator{text: `{"summary":"Customer asked to add a driver.","actionItems":["add driver"],"sentiment":"positive","direction":"inbound"}`},
			summary: "Customer asked to add a driver.",
		},
		{
			name:    "fenced json",
			gen:     fakeGenerator{text: "```json\n{\"summary\":\"Policy question.\",\"sentiment\":\"angry\"}\n```"},
			summary: "Policy question.",
		},
		{name: "model error", gen: fakeGenerator{err: errors.New("503")}, fallback: true, summary: fallbackSummary},
		{name: "not json", gen: fakeGenerator{text: "Sure! Here is a summary"}, fallback: true, summary: fallbackSummary},
		{name: "empty summary", gen: fakeGenerator{text: `{"summary":" "}`}, fallback: true, summary: fallbackSummary},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &GeminiExtractor{models: tc.gen, model: "test", log: logger.Discard()}
			ex := g.Extract(context.Background(), transcript)
			assert.Equal(t, tc.fallback, ex.Fallback)
			assert.Equal(t, tc.summary, ex.Summary)
			assert.NotNil(t, ex.ActionItems)
			assert.Contains(t, []string{"positive", "neutral", "negative"}, ex.Sentiment)
		})
	}
}

func TestEmptyTranscriptSkipsModel(t *testing.T) {
	g := &GeminiExtractor{models: fakeGenerator{err: errors.New("must not be called")}, log: logger.Discard()}
	assert.True(t, g.Extract(context.Background(), Transcript{Text: "  "}).Fallback)
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("a", 9) + "é" + "ñ"
	for limit := 8; limit <= len(text)+1; limit++ {
		got := truncateUTF8(text, limit)
		assert.True(t, utf8.ValidString(got), "limit %d produced invalid UTF-8", limit)
		assert.LessOrEqual(t, len(got), limit)
		assert.True(t, strings.HasPrefix(text, got))
	}
	assert.Equal(t, strings.Repeat("a", 9), truncateUTF8(text, 10))
	assert.Equal(t, text, truncateUTF8(text, len(text)))
}
