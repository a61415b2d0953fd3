package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document 表示一份已上传并完成文本抽取的文档。
// 除 Active 外创建后不再修改；删除时级联删除其全部 Chunk。
type Document struct {
	ID         string            `gorm:"primaryKey;size:36" json:"id"`
	CompanyID  string            `gorm:"index:idx_doc_company;not null;size:64" json:"company_id"` // 租户ID
	Name       string            `gorm:"not null;size:512" json:"name"`
	Type       string            `gorm:"size:64" json:"type"` // 例如 "pdf", "docx", "text/html"
	PageCount  int               `json:"page_count"`
	Active     bool              `gorm:"not null;default:true" json:"active"`
	ParentID   *string           `gorm:"size:36;index" json:"parent_id,omitempty"` // 版本或层级关系中的上级文档
	UploadedBy string            `gorm:"size:255" json:"uploaded_by,omitempty"`
	Attributes datatypes.JSONMap `gorm:"type:json" json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TableName 指定文档表名。
func (Document) TableName() string {
	return "rag_documents"
}
