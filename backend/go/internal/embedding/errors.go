package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	openai "github.com/meguminnnnnnnnn/go-openai"
	ollama "github.com/ollama/ollama/api"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

// Kind 是向量化失败的分类。
type Kind int

const (
	KindQuotaExceeded     Kind = iota + 1 // 后端限流或配额耗尽，可换凭据并退避重试
	KindTransientNetwork                  // 超时、连接重置、5xx，可重试
	KindAuthFailure                       // 凭据无效，该凭据永久停用
	KindDimensionMismatch                 // 返回向量维度与配置不符，不可重试
	KindCancelled                         // 任务被取消，条目未被派发
	KindInvalidRequest                    // 请求本身被拒绝（其他 4xx），换凭据或重试都无济于事
)

// String 返回分类的稳定名称，用于日志、指标和 API 响应。
func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthFailure:
		return "auth_failure"
	case KindDimensionMismatch:
		return "dimension_mismatch"
	case KindCancelled:
		return "cancelled"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Retryable 报告该分类是否值得在后续补偿轮次中重试。
func (k Kind) Retryable() bool {
	return k == KindQuotaExceeded || k == KindTransientNetwork
}

// ErrDimensionMismatch 表示后端返回的向量维度与系统配置不一致。
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Error 是带分类的向量化错误。
type Error struct {
	Kind       Kind
	StatusCode int    // 后端 HTTP 状态码，未知时为 0
	Message    string // 面向日志的简短描述
	Err        error  // 原始错误
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError 构造一个带分类的错误。
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// DimensionError 构造维度不匹配错误。
func DimensionError(got, want int) *Error {
	return &Error{
		Kind:    KindDimensionMismatch,
		Message: fmt.Sprintf("got %d dimensions, want %d", got, want),
		Err:     ErrDimensionMismatch,
	}
}

// KindOf 返回任意错误的分类。未知错误按瞬时网络错误处理。
func KindOf(err error) Kind {
	return Classify(err).Kind
}

// Classify 把提供商 SDK 的错误解码为 *Error。
// 已经分类过的错误原样返回。
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "context cancelled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransientNetwork, Message: "call timed out", Err: err}
	}

	// Google Generative Language API (REST 与 gRPC 两种传输)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fromStatus(gerr.Code, gerr.Message, err)
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return fromStatus(code, aerr.Error(), err)
		}
		if st := aerr.GRPCStatus(); st != nil {
			return fromGRPC(st.Code(), st.Message(), err)
		}
	}

	// OpenAI 兼容接口
	var oerr *openai.APIError
	if errors.As(err, &oerr) {
		return fromStatus(oerr.HTTPStatusCode, oerr.Message, err)
	}
	var rerr *openai.RequestError
	if errors.As(err, &rerr) {
		return fromStatus(rerr.HTTPStatusCode, rerr.Error(), err)
	}

	// Ollama
	var serr ollama.StatusError
	if errors.As(err, &serr) {
		return fromStatus(serr.StatusCode, serr.ErrorMessage, err)
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return &Error{Kind: KindTransientNetwork, Message: nerr.Error(), Err: err}
	}

	return &Error{Kind: KindTransientNetwork, Message: err.Error(), Err: err}
}

// KindFromStatus 按 HTTP 状态码分类。
func KindFromStatus(code int, msg string) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindQuotaExceeded
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthFailure
	case code == http.StatusBadRequest && mentionsAPIKey(msg):
		// Gemini 对无效密钥返回 400 INVALID_ARGUMENT (API_KEY_INVALID)
		return KindAuthFailure
	case strings.Contains(strings.ToLower(msg), "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return KindQuotaExceeded
	case code == http.StatusRequestTimeout:
		return KindTransientNetwork
	case code >= 400 && code < 500:
		// 超长输入、模型不存在等，与后端健康无关
		return KindInvalidRequest
	default:
		return KindTransientNetwork
	}
}

func fromStatus(code int, msg string, err error) *Error {
	return &Error{Kind: KindFromStatus(code, msg), StatusCode: code, Message: msg, Err: err}
}

func fromGRPC(code codes.Code, msg string, err error) *Error {
	kind := KindTransientNetwork
	switch code {
	case codes.ResourceExhausted:
		kind = KindQuotaExceeded
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = KindAuthFailure
	case codes.InvalidArgument:
		kind = KindInvalidRequest
		if mentionsAPIKey(msg) {
			kind = KindAuthFailure
		}
	case codes.NotFound, codes.OutOfRange, codes.Unimplemented:
		kind = KindInvalidRequest
	case codes.Canceled:
		kind = KindCancelled
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

func mentionsAPIKey(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key") || strings.Contains(m, "api_key")
}
