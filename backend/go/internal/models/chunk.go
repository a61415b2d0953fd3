package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Chunk 是文档抽取文本中的一个有序片段，也是向量化与检索的基本单位。
// (DocID, ChunkIndex) 唯一，且同一文档内的 ChunkIndex 从 0 开始连续。
// Embedding 要么为空，要么是维度正确的完整向量。
type Chunk struct {
	ID                string           `gorm:"primaryKey;size:36" json:"id"`
	DocID             string           `gorm:"not null;size:36;uniqueIndex:idx_chunk_doc_index" json:"doc_id"`
	CompanyID         string           `gorm:"not null;size:64;index" json:"company_id"`
	ChunkIndex        int              `gorm:"not null;uniqueIndex:idx_chunk_doc_index" json:"chunk_index"`
	Content           string           `gorm:"type:text;not null" json:"content"`
	NormalizedContent string           `gorm:"type:text" json:"-"` // 模糊检索使用的归一化文本
	TokenCount        int              `json:"token_count"`
	Embedding         *pgvector.Vector `json:"-"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// TableName 指定分块表名。
func (Chunk) TableName() string {
	return "rag_chunks"
}

// HasEmbedding 报告该分块是否已经附带向量。
func (c *Chunk) HasEmbedding() bool {
	return c.Embedding != nil && len(c.Embedding.Slice()) > 0
}

// ChunkEmbedding 是回写到存储层的一条向量更新。
type ChunkEmbedding struct {
	ChunkID string
	Vector  []float32
}
