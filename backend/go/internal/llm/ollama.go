package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是本地 Ollama 服务的回答生成器。
type Ollama struct {
	client      *olla.Client
	model       string
	temperature float32
}

// NewOllama 创建一个新的 Ollama 生成器。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
//	temperature: 采样温度，0 表示使用模型默认值。
//
// 返回值:
//
//	*Ollama: 新创建的生成器。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllama(model, baseURL string, temperature float32) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// 本地模型生成较慢，超时交给调用方的上下文控制。
	hc := &http.Client{Timeout: 10 * time.Minute}
	return &Ollama{client: olla.NewClient(parsedURL, hc), model: model, temperature: temperature}, nil
}

// Generate 以非流式方式生成回答。
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &olla.GenerateRequest{
		Model:  o.model,
		System: systemInstruction,
		Prompt: prompt,
		Stream: &stream,
	}
	if o.temperature > 0 {
		req.Options = map[string]interface{}{"temperature": o.temperature}
	}

	var parts []string
	err := o.client.Generate(ctx, req, func(resp olla.GenerateResponse) error {
		parts = append(parts, resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content with ollama: %w", err)
	}
	return joinParts(parts)
}

// Close 实现 Generator，HTTP 客户端无需显式关闭。
func (o *Ollama) Close() error { return nil }
