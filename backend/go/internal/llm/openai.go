package llm

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 是 OpenAI 兼容接口的回答生成器。
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAI 创建一个新的 OpenAI 生成器，baseURL 为空时使用官方地址。
func NewOpenAI(model, apiKey, baseURL string, temperature float32) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: temperature,
	}
}

// Generate 使用 Chat Completions 接口生成回答。
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return joinParts([]string{resp.Choices[0].Message.Content})
}

// Close 实现 Generator，HTTP 客户端无需显式关闭。
func (o *OpenAI) Close() error { return nil }

func (o *OpenAI) request(prompt string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	// 温度为 0 时不下发，由服务端使用默认值
	if o.temperature > 0 {
		temperature := o.temperature
		req.Temperature = &temperature
	}
	return req
}
