// Package textgen produces short platform comment content through the
// Gemini API. Generation is deliberately rate limited well below the API's
// own ceiling; comment cadence should look human, not quota-bound.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

const systemPrompt = "You write short, casual social media comments. " +
	"Reply with the comment text only: no quotes, no hashtags unless asked, " +
	"no explanation of what you did."

// Generator implements schemas.TextGenerator against the Gemini API.
type Generator struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	cfg        config.LLMConfig
}

// -- Gemini API Request/Response Structures (Internal to this file) --

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGenerator initializes the generator.
func NewGenerator(cfg config.LLMConfig, logger *zap.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	return &Generator{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.Named("textgen"),
	}, nil
}

// GenerateComment produces one comment for the request, clamped to the
// configured character budget.
func (g *Generator) GenerateComment(ctx context.Context, req schemas.CommentRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = g.cfg.MaxCommentChars
	}

	payload := g.buildRequestPayload(req, maxChars)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var comment string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)

		startTime := time.Now()
		resp, err := g.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			g.logger.Warn("Network error during generation request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return g.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("generation API returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("generation API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("generation API returned empty content parts (Reason: %s)", candidate.FinishReason)
		}

		g.logger.Info("Comment generation complete",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
		)

		comment = candidate.Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}

	return clampComment(comment, maxChars), nil
}

// Close releases idle connections.
func (g *Generator) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

func (g *Generator) buildRequestPayload(req schemas.CommentRequest, maxChars int) geminiRequestPayload {
	var prompt strings.Builder
	if req.IsReply {
		fmt.Fprintf(&prompt, "Write a reply to this comment:\n%q\n", req.ParentText)
		if req.Topic != "" {
			fmt.Fprintf(&prompt, "The surrounding discussion is about: %s\n", req.Topic)
		}
	} else {
		fmt.Fprintf(&prompt, "Write a comment about:\n%s\n", req.Topic)
	}
	fmt.Fprintf(&prompt, "Keep it under %d characters.", maxChars)

	return geminiRequestPayload{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: prompt.String()}},
			},
		},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.cfg.Temperature,
			MaxOutputTokens: g.cfg.MaxTokens,
		},
	}
}

func (g *Generator) handleAPIError(statusCode int, body []byte) error {
	g.logger.Error("Generation API returned error status",
		zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("generation API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}

// clampComment trims whitespace and surrounding quotes the model sometimes
// adds, then hard-truncates to the character budget on a rune boundary.
func clampComment(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"`)
	text = strings.TrimSpace(text)

	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxChars]))
}

var _ schemas.TextGenerator = (*Generator)(nil)
