package embedding

import (
	"fmt"
	"time"
)

// NewBackend 根据指定的提供商、模型与基础 URL 创建并返回一个新的 Embedding 后端实例。
// 密钥不在此处绑定，而是每次调用时由凭据池提供。
//
// 参数:
//
//	provider: Embedding 模型的提供商 ("gemini", "openai", "ollama")。
//	model: 要使用的模型名称。
//	baseURL: 模型的服务基础 URL (可选，某些提供商可能不需要)。
//	timeout: 单次调用超时，仅对自建 HTTP 客户端的提供商生效。
//
// 返回值:
//
//	Backend: 新创建的 Embedding 后端实例。
//	error: 如果提供商不支持或模型初始化失败，则返回错误。
func NewBackend(provider, model, baseURL string, timeout time.Duration) (Backend, error) {
	switch ModelType(provider) {
	case Google, "google":
		return NewGoogleModel(model), nil
	case OpenAI:
		return NewOpenAIModel(model, baseURL), nil
	case Ollama:
		return NewOllamaModel(model, baseURL, timeout)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider) // 如果提供商不支持，返回错误。
	}
}
