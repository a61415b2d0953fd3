package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
)

// ErrEmptyResponse 表示模型返回了空回答。
var ErrEmptyResponse = errors.New("llm returned an empty response")

// systemInstruction 约束模型只依据检索到的资料作答。
const systemInstruction = "You answer questions about a company's internal documents. " +
	"Use only the numbered context passages you are given and cite them as [name #index]. " +
	"If the passages do not contain the answer, say so. Answer in the language of the question."

// Generator 是回答生成模型的统一接口，与 rag 的 LLM 接口一致。
type Generator interface {
	interfaces.LLM
	// Close 释放底层客户端。
	Close() error
}

// NewGenerator 根据配置中选中的提供商创建回答生成器。
//
// 参数:
//
//	ctx: 用于创建客户端的上下文。
//	cfg: LLM 配置，提供商为 "gemini"、"openai" 或 "ollama"。
//
// 返回值:
//
//	Generator: 新创建的生成器。
//	error: 如果提供商不支持或缺少密钥，则返回错误。
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	p := cfg.ActiveProvider()
	var key string
	if keys := p.Keys(); len(keys) > 0 {
		key = keys[0]
	}

	switch cfg.Provider {
	case "gemini", "google":
		if key == "" {
			return nil, fmt.Errorf("llm provider %s requires an api key", cfg.Provider)
		}
		return NewGemini(ctx, p.Model, key, cfg.Temperature)
	case "openai":
		if key == "" {
			return nil, fmt.Errorf("llm provider %s requires an api key", cfg.Provider)
		}
		return NewOpenAI(p.Model, key, p.BaseURL, cfg.Temperature), nil
	case "ollama":
		return NewOllama(p.Model, p.BaseURL, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// joinParts 拼接非空文本片段，全部为空时返回 ErrEmptyResponse。
func joinParts(parts []string) (string, error) {
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
