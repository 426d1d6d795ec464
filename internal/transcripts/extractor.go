package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"agency_calls_backend/platform/logger"

	"google.golang.org/genai"
)

const (
	fallbackSummary = "Transcript available. Automatic summary could not be generated; review the transcript."

	// maxPromptChars keeps very long calls inside the model's context.
	maxPromptChars = 60000

	extractionInstruction = `You summarize phone calls between an insurance agency and its customers.
Return only a JSON object with these fields:
  "summary": two or three sentences describing what the call was about and how it ended,
  "actionItems": list of short follow-up tasks for the agency, empty when there are none,
  "sentiment": one of "positive", "neutral", "negative",
  "isHangup": true when the caller hung up before any real conversation happened,
  "direction": "inbound" when the customer called the agency, "outbound" when the agency called the customer, empty if unclear,
  "callReason": a few words naming the customer's reason for calling.`
)

// FallbackExtraction is the generic result used whenever extraction fails.
func FallbackExtraction() Extraction {
	return Extraction{
		Summary:     fallbackSummary,
		ActionItems: []string{},
		Sentiment:   "neutral",
		Fallback:    true,
	}
}

// contentGenerator is the subset of *genai.Models the extractor uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor produces call extractions with a Gemini model.
type GeminiExtractor struct {
	models contentGenerator
	model  string
	log    *logger.Logger
}

// NewGeminiExtractor creates an extractor backed by the Gemini API.
func NewGeminiExtractor(ctx context.Context, apiKey, model string, log *logger.Logger) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiExtractor{models: client.Models, model: model, log: log}, nil
}

// Extract never fails: any model or parse error yields FallbackExtraction.
func (g *GeminiExtractor) Extract(ctx context.Context, t Transcript) Extraction {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return FallbackExtraction()
	}
	text = truncateUTF8(text, maxPromptChars)

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(extractionInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		g.log.Warn("transcript extraction failed, using fallback", "error", err)
		return FallbackExtraction()
	}

	ex, err := parseExtraction(resp.Text())
	if err != nil {
		g.log.Warn("transcript extraction unparseable, using fallback", "error", err)
		return FallbackExtraction()
	}
	return ex
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func parseExtraction(raw string) (Extraction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var ex Extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ex); err != nil {
		return Extraction{}, err
	}
	if strings.TrimSpace(ex.Summary) == "" {
		return Extraction{}, fmt.Errorf("extraction has no summary")
	}
	if ex.ActionItems == nil {
		ex.ActionItems = []string{}
	}
	switch ex.Sentiment {
	case "positive", "neutral", "negative":
	default:
		ex.Sentiment = "neutral"
	}
	switch ex.Direction {
	case "inbound", "outbound":
	default:
		ex.Direction = ""
	}
	ex.Fallback = false
	return ex, nil
}

// FallbackExtractor is used when no model is configured.
type FallbackExtractor struct{}

// Extract returns FallbackExtraction for any transcript.
func (FallbackExtractor) Extract(context.Context, Transcript) Extraction {
	return FallbackExtraction()
}
