package embedding

import "context"

// Task 表示向量的用途，部分提供商会据此使用不同的编码方式。
type Task int

const (
	TaskDocument Task = iota // 文档分块入库
	TaskQuery                // 检索问题
)

// Request 是一次批量向量化调用。
type Request struct {
	APIKey string   // 本次调用使用的凭据，由凭据池分配
	Texts  []string // 一批原始文本
	Task   Task
}

// Outcome 是单条文本的向量化结果：要么是向量，要么是带分类的失败。
// 后端响应在适配器边界一次性解码为 Outcome，下游不再检查原始响应结构。
type Outcome struct {
	Vector []float32
	Err    *Error
}

// OK 报告该条目是否成功。
func (o Outcome) OK() bool { return o.Err == nil }

// Backend 定义了所有 embedding 提供商需要实现的接口。
type Backend interface {
	// Name 返回提供商名称，用于日志与指标。
	Name() string

	// EmbedBatch 为一批文本生成嵌入向量，每批只发起一次后端调用。
	//
	// 参数:
	//   ctx: 上下文，用于控制操作的生命周期。
	//   req: 凭据与文本。
	//
	// 返回值:
	//   []Outcome: 与 req.Texts 一一对应的结果，长度必须相等。
	//   error: 整批调用失败时返回 *Error，其 Kind 已完成分类。
	EmbedBatch(ctx context.Context, req Request) ([]Outcome, error)
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI ModelType = "openai" // OpenAI 兼容模型类型。
	Google ModelType = "gemini" // Google Gemini 模型类型。
	Ollama ModelType = "ollama" // Ollama 本地模型类型。
)

// successes 把一组向量包装为成功的 Outcome。
func successes(vectors [][]float32) []Outcome {
	out := make([]Outcome, len(vectors))
	for i, v := range vectors {
		out[i] = Outcome{Vector: v}
	}
	return out
}
