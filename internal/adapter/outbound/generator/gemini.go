package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kestrel-social/kestrel/internal/domain/content"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini generates content with the Google Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	baseURL     string
	logger      *slog.Logger
}

// GeminiOption configures a Gemini generator.
type GeminiOption func(*Gemini)

// WithModel sets the model name.
func WithModel(model string) GeminiOption {
	return func(g *Gemini) {
		if model != "" {
			g.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) GeminiOption {
	return func(g *Gemini) { g.temperature = t }
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) { g.timeout = d }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) GeminiOption {
	return func(g *Gemini) { g.baseURL = url }
}

// NewGemini creates a Gemini generator. An empty apiKey falls back to the
// GOOGLE_API_KEY or GEMINI_API_KEY environment variables.
func NewGemini(ctx context.Context, apiKey string, logger *slog.Logger, opts ...GeminiOption) (*Gemini, error) {
	g := &Gemini{
		model:       DefaultGeminiModel,
		temperature: 0.7,
		timeout:     30 * time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}

	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if g.baseURL != "" {
		cfg.HTTPOptions.BaseURL = g.baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Generate asks the model for one post (or one thread) and returns its text.
func (g *Gemini) Generate(ctx context.Context, pc content.PromptContext) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	system, user := Prompt(pc)
	temp := g.temperature
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Temperature:       &temp,
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	g.logger.Debug("content generated",
		"model", g.model,
		"kind", pc.Kind,
		"chars", len(text),
		"duration", time.Since(start))
	if text == "" {
		return "", errors.Join(content.ErrEmptyOutput, blockReason(resp))
	}
	return text, nil
}

// blockReason explains an empty response when the API says why.
func blockReason(resp *genai.GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		return fmt.Errorf("finish reason: %s", resp.Candidates[0].FinishReason)
	}
	return nil
}

var _ content.Generator = (*Gemini)(nil)
