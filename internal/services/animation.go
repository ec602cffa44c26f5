package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bobarin/explainer/internal/models"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// minDocumentLength rejects responses too short to be a real animation.
const minDocumentLength = 200

// generateFunc issues one text generation and returns the raw response.
type generateFunc func(ctx context.Context, system, prompt string) (string, error)

// AnimationService asks Gemini for one self-contained HTML animation per
// segment.
type AnimationService struct {
	generate generateFunc
}

// NewAnimationService creates a Gemini-backed animation generator.
func NewAnimationService(ctx context.Context, apiKey, model string) (*AnimationService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	generate := func(ctx context.Context, system, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.7),
			MaxOutputTokens:   16384,
		})
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}

	return &AnimationService{generate: generate}, nil
}

// Generate returns the animation document for a segment. Every failure is a
// content error for that segment so callers can substitute the local
// fallback document.
func (s *AnimationService) Generate(ctx context.Context, segment models.Segment, durationSeconds float64) (models.AnimationDocument, error) {
	raw, err := s.generate(ctx, animationSystemPrompt, buildAnimationPrompt(segment, durationSeconds))
	if err != nil {
		return models.AnimationDocument{}, models.NewSegmentError(segment.Index, models.KindContent, fmt.Errorf("animation request failed: %w", err))
	}

	html, err := ExtractHTMLDocument(raw)
	if err != nil {
		return models.AnimationDocument{}, models.NewSegmentError(segment.Index, models.KindContent, err)
	}

	doc := models.AnimationDocument{
		HTML:               html,
		MinDurationSeconds: durationSeconds,
		RequiredGlobals:    DetectRequiredGlobals(html),
		Source:             models.AnimationSourceGenerated,
	}

	log.Debug().
		Int("segment", segment.Index).
		Int("chars", len(html)).
		Strs("globals", doc.RequiredGlobals).
		Msg("animation document generated")

	return doc, nil
}

var fencedBlock = regexp.MustCompile("(?s)```(?:html|HTML)?\\s*(.*?)\\s*```")

// ExtractHTMLDocument pulls a complete HTML document out of a model
// response, from a fenced block or from the raw text.
func ExtractHTMLDocument(raw string) (string, error) {
	candidates := []string{}
	for _, m := range fencedBlock.FindAllStringSubmatch(raw, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, raw)

	for _, c := range candidates {
		if html, ok := trimToDocument(c); ok {
			return html, nil
		}
	}
	return "", errors.New("no complete HTML document in response")
}

func trimToDocument(text string) (string, bool) {
	lower := strings.ToLower(text)

	start := strings.Index(lower, "<!doctype html")
	if start == -1 {
		start = strings.Index(lower, "<html")
	}
	end := strings.LastIndex(lower, "</html>")
	if start == -1 || end == -1 || end < start {
		return "", false
	}

	html := strings.TrimSpace(text[start : end+len("</html>")])
	if len(html) < minDocumentLength {
		return "", false
	}
	return html, true
}

// libraryGlobals maps script sources to the window global they define.
var libraryGlobals = []struct {
	marker string
	global string
}{
	{"gsap", "gsap"},
	{"chart.js", "Chart"},
	{"chart.umd", "Chart"},
	{"three.min.js", "THREE"},
	{"three.module", "THREE"},
	{"/three@", "THREE"},
	{"lucide", "lucide"},
	{"anime.min.js", "anime"},
	{"d3.v7", "d3"},
	{"/d3@", "d3"},
}

var scriptSrc = regexp.MustCompile(`(?i)<script[^>]+src\s*=\s*["']([^"']+)["']`)

// DetectRequiredGlobals lists the globals the document's external scripts
// must define before it can be considered ready.
func DetectRequiredGlobals(html string) []string {
	var globals []string
	seen := map[string]bool{}

	for _, m := range scriptSrc.FindAllStringSubmatch(html, -1) {
		src := strings.ToLower(m[1])
		for _, lib := range libraryGlobals {
			if strings.Contains(src, lib.marker) && !seen[lib.global] {
				seen[lib.global] = true
				globals = append(globals, lib.global)
			}
		}
	}
	return globals
}

const animationSystemPrompt = `You create animated HTML scenes for educational explainer videos, in the style of Kurzgesagt and TED-Ed.
Output ONE complete HTML document inside a single html code block and nothing else.
The page is captured at exactly 1920x1080 with no scrolling; the body must fill the viewport.
Large readable text overlays animate over a moving background. You may load gsap, lucide or Chart.js from a CDN.
Start all motion when window.startRecording(durationMs) is called, and spread the animation across that duration.
Set window.animationReady = true once fonts and libraries are loaded.`

func buildAnimationPrompt(segment models.Segment, durationSeconds float64) string {
	return fmt.Sprintf(`Create the animation for segment %d.
Narration: %q
Visual: %q
Duration: %.1f seconds`, segment.Index, segment.NarrationText, segment.VisualHint, durationSeconds)
}
