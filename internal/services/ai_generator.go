package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIGeneratorConfig OpenAI 兼容接口配置
type OpenAIGeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIGenerator 通过 chat/completions 生成私信回复
type OpenAIGenerator struct {
	cfg    OpenAIGeneratorConfig
	client *http.Client
	logger *logrus.Logger
}

func NewOpenAIGenerator(cfg OpenAIGeneratorConfig, logger *logrus.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIGenerator{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Enabled reports whether an API key is configured.
func (g *OpenAIGenerator) Enabled() bool { return g.cfg.APIKey != "" }

// Generate 未配置 API Key 时直接返回 ErrGeneratorUnavailable，不生成兜底文案
func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	ctx, span := otel.Tracer("commentflow.ai").Start(ctx, "OpenAIGenerator.Generate")
	span.SetAttributes(attribute.String("model", g.cfg.Model))
	defer span.End()

	if !g.Enabled() {
		return "", ErrGeneratorUnavailable
	}

	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(req.GuidancePrompt)},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		err := fmt.Errorf("OpenAI API error: %s", out.Error.Message)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("OpenAI API returned status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func buildSystemPrompt(guidance string) string {
	prompt := "You reply to Instagram comments with a short, friendly direct message. " +
		"Answer in the language of the comment, in at most three sentences, without hashtags."
	if g := strings.TrimSpace(guidance); g != "" {
		prompt += "\n\nBusiness instructions:\n" + g
	}
	return prompt
}

func buildUserPrompt(req GenerationRequest) string {
	return fmt.Sprintf("Comment from @%s:\n%s", req.AuthorHandle, req.CommentText)
}
