package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bobarin/explainer/internal/models"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// chatCompleter is the slice of the go-openai client the script and metadata
// services use.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient builds a client for any OpenAI-compatible endpoint. An
// empty baseURL uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

const defaultVisualHint = "Abstract geometric animation"

// minScriptCoverage is the share of requested segments a generated script
// must contain to be accepted.
const minScriptCoverage = 0.8

// ---------------------------------------------------------------------------
// ScriptService
// ---------------------------------------------------------------------------

type ScriptService struct {
	client chatCompleter
	model  string
}

func NewScriptService(client chatCompleter, model string) *ScriptService {
	return &ScriptService{client: client, model: model}
}

// GenerateSegments writes a narrated script split into count segments. A
// failed or invalid generation falls back to a fixed intro/body/conclusion
// script, so the only error is an unusable count.
func (s *ScriptService) GenerateSegments(ctx context.Context, topic, category string, count int) ([]models.Segment, error) {
	if count <= 0 {
		return nil, fmt.Errorf("segment count must be positive, got %d", count)
	}

	segments, err := s.generate(ctx, topic, category, count)
	if err != nil {
		log.Warn().Err(err).Str("topic", truncateString(topic, 60)).Msg("script generation failed, using fallback script")
		return FallbackSegments(topic, count), nil
	}

	log.Info().Int("segments", len(segments)).Msg("script generated")
	return segments, nil
}

func (s *ScriptService) generate(ctx context.Context, topic, category string, count int) ([]models.Segment, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scriptSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildScriptUserPrompt(topic, category, count)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	return ParseScript(resp.Choices[0].Message.Content, count)
}

// ParseScript extracts the JSON segment array from a model response and
// validates it. Indices are reassigned in array order.
func ParseScript(raw string, count int) ([]models.Segment, error) {
	body, err := extractJSONArray(raw)
	if err != nil {
		return nil, err
	}

	var segments []models.Segment
	if err := json.Unmarshal([]byte(body), &segments); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	if float64(len(segments)) < float64(count)*minScriptCoverage {
		return nil, fmt.Errorf("too few segments: %d/%d", len(segments), count)
	}

	for i := range segments {
		segments[i].Index = i
		segments[i].NarrationText = strings.TrimSpace(segments[i].NarrationText)
		if segments[i].NarrationText == "" {
			return nil, fmt.Errorf("segment %d missing text", i)
		}
		if strings.TrimSpace(segments[i].VisualHint) == "" {
			segments[i].VisualHint = defaultVisualHint
		}
		if words := len(strings.Fields(segments[i].NarrationText)); words < 20 || words > 60 {
			log.Debug().Int("segment", i).Int("words", words).Msg("segment word count outside 30-40 target")
		}
	}

	return segments, nil
}

func extractJSONArray(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	if i := strings.LastIndex(text, "Final Answer:"); i >= 0 {
		text = text[i+len("Final Answer:"):]
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end < start {
		return "", errors.New("no JSON array found in response")
	}
	return text[start : end+1], nil
}

// FallbackSegments is the deterministic script used when generation fails.
func FallbackSegments(topic string, count int) []models.Segment {
	if count <= 0 {
		return nil
	}

	segments := make([]models.Segment, 0, count)
	segments = append(segments, models.Segment{
		Index:         0,
		NarrationText: fmt.Sprintf("Welcome to this educational video about %s. Today we'll explore this fascinating subject in depth and understand its key concepts.", topic),
		VisualHint:    "Title animation with dynamic shapes",
	})
	if count == 1 {
		return segments
	}

	for i := 1; i < count-1; i++ {
		segments = append(segments, models.Segment{
			Index:         i,
			NarrationText: fmt.Sprintf("In this section, we examine an important aspect of %s. Understanding these fundamentals helps build a complete picture of the topic.", topic),
			VisualHint:    fmt.Sprintf("Animated visualization - variation %d", i),
		})
	}

	segments = append(segments, models.Segment{
		Index:         count - 1,
		NarrationText: fmt.Sprintf("We've covered the essential concepts of %s. Continue exploring to deepen your understanding. Thank you for watching this educational video.", topic),
		VisualHint:    "Conclusion animation with summary",
	})
	return segments
}

const scriptSystemPrompt = `You are an educational script writer. You write narration for short animated explainer videos, split into segments that are read aloud one after another.
Return ONLY a JSON array. Each element is an object with "index" (int), "text" (30-40 words of narration) and "visual_hint" (one sentence describing what the animation should show).`

func buildScriptUserPrompt(topic, category string, count int) string {
	middleStart := max(3, count/4)
	middleEnd := count - max(3, count/5)
	conclusionStart := count - max(2, count/10)

	prompt := fmt.Sprintf("Write a %d-segment script for an explainer video about: %q.", count, topic)
	if category != "" {
		prompt += fmt.Sprintf("\nCategory: %s", category)
	}
	if middleEnd <= middleStart || conclusionStart <= middleEnd {
		return prompt + "\nOpen with a hook, explain with concrete examples, and close with takeaways. The array must start with [ and end with ]."
	}
	prompt += fmt.Sprintf(`
Structure:
- Segments 0-%d: hook and introduction
- Segments %d-%d: core explanation with concrete examples
- Segments %d-%d: conclusion and takeaways
The array must start with [ and end with ].`, middleStart-1, middleStart, middleEnd-1, conclusionStart, count-1)
	return prompt
}

// ---------------------------------------------------------------------------
// MetadataService
// ---------------------------------------------------------------------------

const maxTitleLength = 60

// MetadataService writes the published title and description.
type MetadataService struct {
	client chatCompleter
	model  string
}

func NewMetadataService(client chatCompleter, model string) *MetadataService {
	return &MetadataService{client: client, model: model}
}

// GenerateTitle returns a short title for the topic, or a fallback title.
func (s *MetadataService) GenerateTitle(ctx context.Context, topic string) string {
	content, err := s.complete(ctx,
		"You are an expert YouTube video title creator. Create catchy, engaging titles that accurately represent the content.",
		fmt.Sprintf("Generate a short, catchy title (max %d chars) for this educational video topic: %q. Return ONLY the title, nothing else. No quotes, no extra text.", maxTitleLength, topic),
		50,
	)
	if err != nil {
		log.Warn().Err(err).Msg("title generation failed, using fallback")
		return FallbackTitle(topic)
	}
	return CleanTitle(content)
}

// GenerateDescription returns a plain-text description, or a fallback.
func (s *MetadataService) GenerateDescription(ctx context.Context, topic, title string) string {
	content, err := s.complete(ctx,
		"You are an expert educational content writer. Create engaging, informative descriptions for educational videos.",
		fmt.Sprintf(`Write an article-style description for an educational video titled %q about: %q.
Start with a hook, explain the key concepts and why they matter, and end with takeaways.
Do NOT use markdown formatting. Write plain text paragraphs separated by blank lines.
Return ONLY the description text.`, title, topic),
		1500,
	)
	if err != nil {
		log.Warn().Err(err).Msg("description generation failed, using fallback")
		return FallbackDescription(topic, title)
	}
	return StripMarkdown(content)
}

func (s *MetadataService) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty response from openai")
	}
	return content, nil
}

// CleanTitle strips surrounding quotes and caps the length.
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)

	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength-3]) + "..."
	}
	return title
}

// StripMarkdown removes the emphasis and heading markers models tend to emit
// despite instructions.
func StripMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "#", "")
	return strings.TrimSpace(text)
}

func FallbackTitle(topic string) string {
	topic = strings.TrimSpace(topic)
	runes := []rune(topic)
	if len(runes) > 50 {
		return strings.TrimSpace(string(runes[:50])) + "... Explained"
	}
	return topic + " - Educational Video"
}

func FallbackDescription(topic, title string) string {
	return fmt.Sprintf(`Welcome to this educational video about %s.

In this video, we explore the topic of %s. We break complex ideas into short, easy-to-follow segments, and each section builds on the previous one.

Key concepts covered include the foundational principles, practical applications and real-world examples.

Thank you for watching. Explore more videos on related topics to deepen your understanding.`, topic, title)
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
