package dal

import (
	"context"
	"errors"
	"fmt"

	"DocSage/backend/go/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrDocumentNotFound is returned when the document does not exist for the tenant.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentExists is returned when a document with the same id already exists.
	ErrDocumentExists = errors.New("document already exists")
)

// DocumentDAL provides data access methods for RAG documents.
// Every query is scoped by company_id.
type DocumentDAL struct {
	db *gorm.DB
}

// NewDocumentDAL creates a new DocumentDAL.
func NewDocumentDAL(db *gorm.DB) *DocumentDAL {
	return &DocumentDAL{db: db}
}

// CreateDocument inserts a new document row.
func (dal *DocumentDAL) CreateDocument(ctx context.Context, doc *models.Document) error {
	result := dal.db.WithContext(ctx).Create(doc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%s: %w", doc.ID, ErrDocumentExists)
		}
		return result.Error
	}
	return nil
}

// GetDocument retrieves one document of a company.
func (dal *DocumentDAL) GetDocument(ctx context.Context, companyID, id string) (*models.Document, error) {
	var doc models.Document
	result := dal.db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&doc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, result.Error
	}
	return &doc, nil
}

// ListDocumentsByCompany retrieves all documents for a given company, newest first.
func (dal *DocumentDAL) ListDocumentsByCompany(ctx context.Context, companyID string) ([]*models.Document, error) {
	var docs []*models.Document
	result := dal.db.WithContext(ctx).Where("company_id = ?", companyID).Order("created_at DESC, id").Find(&docs)
	if result.Error != nil {
		return nil, result.Error
	}
	return docs, nil
}

// SetActive toggles the active flag of a document.
func (dal *DocumentDAL) SetActive(ctx context.Context, companyID, id string, active bool) error {
	result := dal.db.WithContext(ctx).Model(&models.Document{}).
		Where("company_id = ? AND id = ?", companyID, id).
		Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteDocument deletes a document and its chunks in one transaction.
// The chunk delete mirrors the ON DELETE CASCADE constraint so dialects
// without enforced foreign keys behave the same.
func (dal *DocumentDAL) DeleteDocument(ctx context.Context, companyID, id string) error {
	return dal.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("company_id = ? AND doc_id = ?", companyID, id).Delete(&models.Chunk{}).Error; err != nil {
			return err
		}
		result := tx.Where("company_id = ? AND id = ?", companyID, id).Delete(&models.Document{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrDocumentNotFound
		}
		return nil
	})
}
