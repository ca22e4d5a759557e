package anthropic

import (
	"context"
	"errors"
	"strings"

	"StakePilot-Chain/internal/llm"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Config 描述调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// Client 通过官方 SDK 调用 Anthropic 提供的推理能力。
type Client struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Generate 调用 Messages API 生成回复文本。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Message)),
		},
	}
	if instruction := strings.TrimSpace(req.Instruction); instruction != "" {
		params.System = []sdk.TextBlockParam{{Text: instruction}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("Anthropic 响应内容为空")
	}
	return &llm.Response{Text: text.String()}, nil
}
