// Package generator produces proposed file content for repair plans. The
// Gemini adapter calls the external model; the fallback builder handles the
// deterministic fixes that need no model at all. Generator output is never
// trusted: the patch synthesizer's sanity checks gate everything.
package generator

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"remedy/internal/config"
	"remedy/internal/logging"
	"remedy/internal/types"
)

// GeminiGenerator implements types.ContentGenerator on the Gemini API.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout config.GeneratorConfig
}

// NewGeminiGenerator creates a Gemini-backed generator from config.
func NewGeminiGenerator(cfg config.GeneratorConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generator API key is required (set REMEDY_API_KEY or GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &GeminiGenerator{
		client:  client,
		model:   model,
		timeout: cfg,
	}, nil
}

// Generate asks the model for corrected whole-file content.
func (g *GeminiGenerator) Generate(ctx context.Context, req types.GenerationRequest) (*types.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout.GenerateTimeout())
	defer cancel()

	prompt := buildPrompt(req)
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generation failed for %s: %w", req.FilePath, err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: empty response for %s", types.ErrInvalidGeneratedContent, req.FilePath)
	}

	content := stripCodeFences(text)
	logging.GeneratorDebug("generated %d bytes for %s", len(content), req.FilePath)
	return &types.GenerationResult{Content: content}, nil
}

// buildPrompt assembles the repair prompt. The model must return the full
// corrected file, nothing else; stripCodeFences handles the inevitable
// markdown wrapper anyway.
func buildPrompt(req types.GenerationRequest) string {
	var b strings.Builder

	b.WriteString("You are fixing compiler and linter errors in a source file.\n")
	b.WriteString("Return the COMPLETE corrected file content. No explanations, no markdown.\n\n")

	if req.Intent != "" {
		b.WriteString("Repair strategy:\n")
		b.WriteString(req.Intent)
		b.WriteString("\n\n")
	}
	if req.Conventions != "" {
		b.WriteString("Project conventions:\n")
		b.WriteString(req.Conventions)
		b.WriteString("\n\n")
	}

	b.WriteString("Errors to fix:\n")
	for _, d := range req.Diagnostics {
		fmt.Fprintf(&b, "- line %d: %s", d.StartLine, d.Message)
		if d.Code != "" {
			fmt.Fprintf(&b, " (%s)", d.Code)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nFile: %s", req.FilePath)
	if req.LanguageID != "" {
		fmt.Fprintf(&b, " (%s)", req.LanguageID)
	}
	b.WriteString("\n```\n")
	b.WriteString(req.CurrentContent)
	if !strings.HasSuffix(req.CurrentContent, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")

	return b.String()
}

// stripCodeFences unwraps a ```lang ... ``` block if the model returned one.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return text
	}
	// Drop the opening fence (with optional language tag).
	lines = lines[1:]
	// Drop the closing fence if present.
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
