package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini 使用 Gemini GenerativeModel 生成回答。
// 每次调用都是独立的单轮请求，不保留聊天历史。
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini 创建一个新的 Gemini 生成器。
//
// 参数:
//
//	ctx: 上下文，用于创建 GenAI 客户端。
//	model: 要使用的 Gemini 模型名称。
//	apiKey: Gemini API 密钥。
//	temperature: 采样温度，0 表示使用模型默认值。
//
// 返回值:
//
//	*Gemini: 新创建的生成器。
//	error: 如果无法创建 GenAI 客户端，则返回错误。
func NewGemini(ctx context.Context, model, apiKey string, temperature float32) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("创建 genai 客户端失败: %w", err)
	}

	generativeModel := client.GenerativeModel(model)
	generativeModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	if temperature > 0 {
		generativeModel.SetTemperature(temperature)
	}

	return &Gemini{client: client, model: generativeModel}, nil
}

// Generate 发送提示并返回第一个候选回答的文本。
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return geminiText(resp)
}

// Close 关闭底层客户端。
func (g *Gemini) Close() error {
	return g.client.Close()
}

// geminiText 提取第一个候选中的全部文本部分。
func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	return joinParts(parts)
}
