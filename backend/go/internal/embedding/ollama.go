package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaModel 是一个用于 Ollama API 的 Embedding 模型客户端。
// Ollama 不需要密钥，凭据池中的密钥仅用于节流与健康统计。
type OllamaModel struct {
	client *ollama.Client // Ollama 客户端实例。
	model  string         // 要使用的模型名称。
}

// NewOllamaModel 创建一个新的 OllamaModel 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
//	timeout: 单次 HTTP 调用超时。
//
// 返回值:
//
//	*OllamaModel: 新创建的 OllamaModel 客户端实例。
//	error: 如果基准 URL 无效，则返回错误。
func NewOllamaModel(model, baseURL string, timeout time.Duration) (*OllamaModel, error) {
	// 如果 baseURL 为空，则使用默认地址。
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	// 将字符串 URL 转换为 *url.URL。
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// 创建一个带有超时设置的 HTTP 客户端。
	hc := &http.Client{Timeout: timeout}

	return &OllamaModel{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Name 实现 Backend。
func (m *OllamaModel) Name() string { return string(Ollama) }

// EmbedBatch 使用 Ollama 的批量嵌入功能为一批文本生成嵌入向量。
func (m *OllamaModel) EmbedBatch(ctx context.Context, req Request) ([]Outcome, error) {
	resp, err := m.client.Embed(ctx, &ollama.EmbedRequest{
		Model: m.model,
		Input: req.Texts,
	})
	if err != nil {
		return nil, Classify(err)
	}
	if len(resp.Embeddings) != len(req.Texts) {
		return nil, NewError(KindTransientNetwork,
			fmt.Sprintf("ollama returned %d embeddings for %d texts", len(resp.Embeddings), len(req.Texts)), nil)
	}
	return successes(resp.Embeddings), nil
}
