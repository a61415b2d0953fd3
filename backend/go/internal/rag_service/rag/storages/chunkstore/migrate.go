package chunkstore

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Dialect selects the SQL flavour of a GormStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// postgresSchema needs the vector and pg_trgm extensions. %d is the embedding dimension.
var postgresSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
	`CREATE TABLE IF NOT EXISTS rag_documents (
		id          varchar(36)  PRIMARY KEY,
		company_id  varchar(64)  NOT NULL,
		name        varchar(512) NOT NULL,
		type        varchar(64),
		page_count  integer      NOT NULL DEFAULT 0,
		active      boolean      NOT NULL DEFAULT true,
		parent_id   varchar(36),
		uploaded_by varchar(255),
		attributes  jsonb,
		created_at  timestamptz  NOT NULL DEFAULT now(),
		updated_at  timestamptz  NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_doc_company ON rag_documents (company_id)`,
	`CREATE INDEX IF NOT EXISTS idx_doc_parent ON rag_documents (parent_id)`,
	`CREATE TABLE IF NOT EXISTS rag_chunks (
		id                 varchar(36) PRIMARY KEY,
		doc_id             varchar(36) NOT NULL REFERENCES rag_documents (id) ON DELETE CASCADE,
		company_id         varchar(64) NOT NULL,
		chunk_index        integer     NOT NULL,
		content            text        NOT NULL,
		normalized_content text,
		token_count        integer     NOT NULL DEFAULT 0,
		embedding          vector(%d),
		created_at         timestamptz NOT NULL DEFAULT now(),
		updated_at         timestamptz NOT NULL DEFAULT now(),
		CONSTRAINT idx_chunk_doc_index UNIQUE (doc_id, chunk_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_company ON rag_chunks (company_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_unembedded ON rag_chunks (doc_id, chunk_index) WHERE embedding IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON rag_chunks USING hnsw (embedding vector_cosine_ops)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_trgm ON rag_chunks USING gin (normalized_content gin_trgm_ops)`,
}

// mysqlSchema stores embeddings as pgvector text literals; similarity is computed in-process.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS rag_documents (
		id          varchar(36)  NOT NULL PRIMARY KEY,
		company_id  varchar(64)  NOT NULL,
		name        varchar(512) NOT NULL,
		type        varchar(64),
		page_count  int          NOT NULL DEFAULT 0,
		active      tinyint(1)   NOT NULL DEFAULT 1,
		parent_id   varchar(36),
		uploaded_by varchar(255),
		attributes  json,
		created_at  datetime(3)  NOT NULL,
		updated_at  datetime(3)  NOT NULL,
		INDEX idx_doc_company (company_id),
		INDEX idx_doc_parent (parent_id)
	) DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS rag_chunks (
		id                 varchar(36) NOT NULL PRIMARY KEY,
		doc_id             varchar(36) NOT NULL,
		company_id         varchar(64) NOT NULL,
		chunk_index        int         NOT NULL,
		content            mediumtext  NOT NULL,
		normalized_content mediumtext,
		token_count        int         NOT NULL DEFAULT 0,
		embedding          mediumtext,
		created_at         datetime(3) NOT NULL,
		updated_at         datetime(3) NOT NULL,
		UNIQUE KEY idx_chunk_doc_index (doc_id, chunk_index),
		INDEX idx_chunks_company (company_id),
		CONSTRAINT fk_chunks_document FOREIGN KEY (doc_id) REFERENCES rag_documents (id) ON DELETE CASCADE
	) DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the document and chunk tables if they do not exist.
// Tables are created from hand-written DDL because the embedding column
// type depends on the configured dimension.
//
// pg_trgm only builds trigrams from characters the database's LC_CTYPE
// classifies as alphanumeric. Under C or POSIX, CJK and other non-ASCII
// text yields no trigrams at all, so the database should be created with a
// UTF-8 locale such as en_US.UTF-8 or C.UTF-8. TrigramLocale reports it.
func Migrate(ctx context.Context, db *gorm.DB, dialect Dialect, dimension int) error {
	var stmts []string
	switch dialect {
	case DialectPostgres:
		if dimension <= 0 {
			return fmt.Errorf("migrate: invalid embedding dimension %d", dimension)
		}
		for _, s := range postgresSchema {
			if strings.Contains(s, "%d") {
				s = fmt.Sprintf(s, dimension)
			}
			stmts = append(stmts, s)
		}
	case DialectMySQL:
		stmts = mysqlSchema
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}

	for _, s := range stmts {
		if err := db.WithContext(ctx).Exec(s).Error; err != nil {
			return fmt.Errorf("migrate %s: %w", dialect, err)
		}
	}
	return nil
}

// TrigramLocale returns the current database's LC_CTYPE and whether pg_trgm
// can build trigrams from non-ASCII letters under it.
func TrigramLocale(ctx context.Context, db *gorm.DB) (string, bool, error) {
	var ctype string
	err := db.WithContext(ctx).
		Raw("SELECT datctype FROM pg_database WHERE datname = current_database()").
		Scan(&ctype).Error
	if err != nil {
		return "", false, fmt.Errorf("read lc_ctype: %w", err)
	}
	return ctype, trigramSafeCType(ctype), nil
}

// trigramSafeCType reports whether ctype classifies non-ASCII letters as alphanumeric.
func trigramSafeCType(ctype string) bool {
	switch strings.ToUpper(strings.TrimSpace(ctype)) {
	case "", "C", "POSIX":
		return false
	}
	return true
}
