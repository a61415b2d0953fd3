package models

import (
	"time"
)

// JobStatus 定义了文档处理任务的几种可能状态
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusPartial   JobStatus = "partial" // 部分分块向量化失败，等待 reconcile
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal 报告该状态是否为终态。
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IngestRequest 是一次文档入库请求，既可来自 HTTP 也可来自 Kafka。
// Text 与 ObjectKey 二选一：ObjectKey 指向对象存储中已抽取的文本。
type IngestRequest struct {
	JobID      string  `json:"job_id,omitempty" bson:"job_id,omitempty"`
	DocumentID string  `json:"id,omitempty" bson:"document_id,omitempty"`
	CompanyID  string  `json:"company_id" bson:"company_id"`
	Name       string  `json:"name" bson:"name"`
	Type       string  `json:"type" bson:"type"`
	PageCount  int     `json:"page_count" bson:"page_count"`
	ParentID   *string `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Supersede  bool    `json:"supersede,omitempty" bson:"supersede,omitempty"`
	UploadedBy string  `json:"uploaded_by" bson:"uploaded_by"`
	Text       string  `json:"text,omitempty" bson:"-"`
	ObjectKey  string  `json:"object_key,omitempty" bson:"object_key,omitempty"`
}

// IngestResult 汇总一次文档处理的结果。
type IngestResult struct {
	DocumentID string    `json:"document_id" bson:"document_id"`
	Chunks     int       `json:"chunks" bson:"chunks"`
	Stored     int       `json:"stored" bson:"stored"`
	Embedded   int       `json:"embedded" bson:"embedded"`
	Failed     int       `json:"failed" bson:"failed"`
	Cancelled  int       `json:"cancelled" bson:"cancelled"`
	Status     JobStatus `json:"status" bson:"status"`
}

// IngestJob 代表一个持久化的文档处理任务记录
type IngestJob struct {
	ID          string        `bson:"_id" json:"id"`
	CompanyID   string        `bson:"company_id" json:"company_id"`
	Status      JobStatus     `bson:"status" json:"status"`
	Request     IngestRequest `bson:"request" json:"request"`
	Result      *IngestResult `bson:"result,omitempty" json:"result,omitempty"`
	Error       string        `bson:"error,omitempty" json:"error,omitempty"`
	SubmittedAt time.Time     `bson:"submitted_at" json:"submitted_at"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updated_at"`
	CompletedAt *time.Time    `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}
