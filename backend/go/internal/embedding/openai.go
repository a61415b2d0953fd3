package embedding

import (
	"context"
	"fmt"
	"sync"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIModel 是一个用于 OpenAI 兼容 API 的 Embedding 模型客户端。
type OpenAIModel struct {
	model   string // 要使用的模型名称。
	baseURL string // 为空时使用官方地址。

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAIModel 创建一个新的 OpenAIModel 客户端。
//
// 参数:
//
//	modelName: 要使用的模型名称。
//	baseURL: OpenAI 兼容服务地址，可为空。
//
// 返回值:
//
//	*OpenAIModel: 新创建的 OpenAIModel 客户端实例。
func NewOpenAIModel(modelName, baseURL string) *OpenAIModel {
	return &OpenAIModel{model: modelName, baseURL: baseURL, clients: make(map[string]*openai.Client)}
}

// Name 实现 Backend。
func (m *OpenAIModel) Name() string { return string(OpenAI) }

func (m *OpenAIModel) client(apiKey string) *openai.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[apiKey]; ok {
		return c
	}
	// 使用 API 密钥创建默认配置。
	config := openai.DefaultConfig(apiKey)
	if m.baseURL != "" {
		config.BaseURL = m.baseURL
	}
	c := openai.NewClientWithConfig(config)
	m.clients[apiKey] = c
	return c
}

// EmbedBatch 使用 OpenAI API 为一批文本生成嵌入向量。
func (m *OpenAIModel) EmbedBatch(ctx context.Context, req Request) ([]Outcome, error) {
	resp, err := m.client(req.APIKey).CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: req.Texts,
		Model: openai.EmbeddingModel(m.model),
	})
	if err != nil {
		return nil, Classify(err)
	}

	// 响应按 Index 对齐输入，缺失的条目视为瞬时失败。
	out := make([]Outcome, len(req.Texts))
	seen := make([]bool, len(req.Texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, NewError(KindTransientNetwork, fmt.Sprintf("openai returned out-of-range index %d", d.Index), nil)
		}
		out[d.Index] = Outcome{Vector: d.Embedding}
		seen[d.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			out[i] = Outcome{Err: NewError(KindTransientNetwork, "no embedding returned for input", nil)}
		}
	}
	return out, nil
}
