package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel 是一个用于 Google GenAI Embedding API 的客户端。
// 每个 API 密钥对应一个懒加载的 genai.Client。
type GoogleModel struct {
	modelName string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGoogleModel 创建并返回一个新的 GoogleModel 客户端实例。
//
// 参数:
//
//	modelName: 要使用的 Embedding 模型名称，例如 "text-embedding-004"。
//
// 返回值:
//
//	*GoogleModel: 新创建的 GoogleModel 客户端实例。
func NewGoogleModel(modelName string) *GoogleModel {
	return &GoogleModel{
		modelName: modelName,
		clients:   make(map[string]*genai.Client),
	}
}

// Name 实现 Backend。
func (m *GoogleModel) Name() string { return string(Google) }

// client 返回指定密钥的客户端，不存在时创建。
func (m *GoogleModel) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[apiKey]; ok {
		return c, nil
	}
	// 使用 genai.NewClient 初始化客户端；客户端生命周期独立于单次请求。
	c, err := genai.NewClient(context.WithoutCancel(ctx), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	m.clients[apiKey] = c
	return c, nil
}

// EmbedBatch 为一批文本生成嵌入向量。
//
// 参数:
//
//	ctx: 上下文，用于控制操作的生命周期。
//	req: 凭据、文本与用途。
//
// 返回值:
//
//	[]Outcome: 每条文本的结果。
//	error: 整批失败时返回已分类的 *Error。
func (m *GoogleModel) EmbedBatch(ctx context.Context, req Request) ([]Outcome, error) {
	client, err := m.client(ctx, req.APIKey)
	if err != nil {
		return nil, Classify(fmt.Errorf("创建 genai 客户端失败: %w", err))
	}

	// 获取指定的 embedding 模型，并按用途设置任务类型。
	model := client.EmbeddingModel(m.modelName)
	model.TaskType = genai.TaskTypeRetrievalDocument
	if req.Task == TaskQuery {
		model.TaskType = genai.TaskTypeRetrievalQuery
	}

	// 创建一个新的批量嵌入请求，并将所有文本添加到批量请求中。
	batch := model.NewBatch()
	for _, text := range req.Texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, Classify(err)
	}
	if len(res.Embeddings) != len(req.Texts) {
		return nil, NewError(KindTransientNetwork,
			fmt.Sprintf("gemini returned %d embeddings for %d texts", len(res.Embeddings), len(req.Texts)), nil)
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb != nil {
			vectors[i] = emb.Values
		}
	}
	return successes(vectors), nil
}

// Close 关闭所有已创建的客户端。
func (m *GoogleModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for key, c := range m.clients {
		errs = append(errs, c.Close())
		delete(m.clients, key)
	}
	return errors.Join(errs...)
}
