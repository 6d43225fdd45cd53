package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/qs3c/cv_score_server/config"
)

const defaultModel = "gemini-2.0-flash"

// Response 模型的原始输出及资源消耗
type Response struct {
	Text       string
	Model      string
	TokensUsed int
}

// Client 评分能力：输入提示词，返回结构化 JSON 文本
type Client interface {
	Score(ctx context.Context, prompt string) (*Response, error)
}

// GeminiClient 基于 Google GenAI 的评分客户端
type GeminiClient struct {
	client          *genai.Client
	modelName       string
	maxOutputTokens int32
	temperature     float32
}

func NewGeminiClient(ctx context.Context, cfg *config.ScoringConfig) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("scoring api key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &GeminiClient{
		client:          client,
		modelName:       model,
		maxOutputTokens: int32(cfg.MaxOutputTokens),
		temperature:     float32(cfg.Temperature),
	}, nil
}

func (g *GeminiClient) Model() string {
	return g.modelName
}

// Score 发送提示词，低温度、限制输出长度，要求返回 JSON
func (g *GeminiClient) Score(ctx context.Context, prompt string) (*Response, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("prompt must not be empty")
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		ResponseMIMEType: "application/json",
	}
	if g.maxOutputTokens > 0 {
		genCfg.MaxOutputTokens = g.maxOutputTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, genai.Text(prompt), genCfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return nil, errors.New("gemini api returned empty response")
	}

	out := &Response{Text: output, Model: g.modelName}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}
