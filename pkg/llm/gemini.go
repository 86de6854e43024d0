package llm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"google.golang.org/genai"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
)

// GeminiClient implements Client and Uploader on the official genai SDK.
type GeminiClient struct {
	client *genai.Client
	cfg    *config.LLMConfig

	// Observe, when set, receives the duration and outcome of every model
	// call, including failed attempts within the fallback chain.
	Observe func(model string, elapsed time.Duration, err error)
}

// NewGeminiClient creates a Gemini-backed client. The API key is read from
// the environment variable named in the config.
func NewGeminiClient(ctx context.Context, cfg *config.LLMConfig) (*GeminiClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key missing: environment variable %s is empty", cfg.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, cfg: cfg}, nil
}

// ModelID returns the primary model identifier.
func (g *GeminiClient) ModelID() string {
	return g.cfg.PrimaryModel
}

// Generate walks the model fallback chain (primary → secondary → tertiary),
// retrying each model once at the transport layer before moving on. These
// transport retries are distinct from the quality-directed retries the
// extractor applies on top.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	chain := g.cfg.ModelChain()
	if req.Model != "" {
		chain = []string{req.Model}
	}

	var lastErr error
	for _, model := range chain {
		for attempt := 0; attempt <= g.cfg.TransportRetries; attempt++ {
			text, err := g.generateOnce(ctx, model, req)
			if err == nil {
				return text, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return "", fmt.Errorf("LLM call aborted: %w", ctx.Err())
			}
			slog.Warn("LLM call failed",
				"model", model, "attempt", attempt+1, "error", err)
		}
	}
	return "", fmt.Errorf("all models in chain failed: %w", lastErr)
}

func (g *GeminiClient) generateOnce(ctx context.Context, model string, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	parts := make([]*genai.Part, 0, 2)
	if req.FileURI != "" {
		parts = append(parts, &genai.Part{
			FileData: &genai.FileData{
				FileURI:  req.FileURI,
				MIMEType: req.FileMIMEType,
			},
		})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	contents := []*genai.Content{{Role: "user", Parts: parts}}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.cfg.Temperature)),
	}
	if g.cfg.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.cfg.MaxOutputTokens)
	}
	if req.JSONResponse {
		genCfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(callCtx, model, contents, genCfg)
	if g.Observe != nil {
		g.Observe(model, time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("generation failed on %s: %w", model, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from %s", model)
	}

	var buf bytes.Buffer
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			buf.WriteString(part.Text)
		}
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("response from %s contained no text parts", model)
	}
	return buf.String(), nil
}

// Upload pushes bytes to the provider Files API and returns the handle.
func (g *GeminiClient) Upload(ctx context.Context, data []byte, mimeType, displayName string) (string, time.Time, error) {
	file, err := g.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("file upload failed: %w", err)
	}

	expires := time.Now().Add(47 * time.Hour)
	if !file.ExpirationTime.IsZero() {
		expires = file.ExpirationTime
	}
	return file.URI, expires, nil
}

var (
	_ Client   = (*GeminiClient)(nil)
	_ Uploader = (*GeminiClient)(nil)
)
