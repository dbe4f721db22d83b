package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	cfg    Config
}

func newGemini(ctx context.Context, cfg Config) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("llm: gemini: %w", err))
	}
	return &geminiClient{client: client, cfg: cfg}, nil
}

func (c *geminiClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	gc := &genai.GenerateContentConfig{Temperature: genai.Ptr(c.cfg.Temperature)}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(req.Prompt), gc)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.Code, fmt.Errorf("llm: gemini: %w", err))
		}
		return "", NewTransientError(fmt.Errorf("llm: gemini: %w", err))
	}
	text := resp.Text()
	if text == "" {
		return "", NewTransientError(errors.New("llm: gemini: empty response"))
	}
	return text, nil
}
