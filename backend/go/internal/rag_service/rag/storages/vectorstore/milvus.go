package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/database/milvus"
	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/pkg/logger"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// Schema fields of the chunk collection.
	FieldID        = "id"
	FieldCompanyID = "company_id"
	FieldDocID     = "doc_id"
	FieldEmbedding = "embedding"
)

// DefaultSchema fills the chunk collection layout when the config leaves it empty.
// Only COSINE is accepted as metric because scores are used as similarities.
func DefaultSchema(s *config.SchemaConfig, dim int) error {
	if s.CollectionName == "" {
		s.CollectionName = "rag_chunks"
	}
	if s.VectorField == "" {
		s.VectorField = FieldEmbedding
	}
	if len(s.Fields) == 0 {
		s.Fields = []config.FieldConfig{
			{Name: FieldID, DataType: "VarChar", IsPrimaryKey: true, MaxLength: 36},
			{Name: FieldCompanyID, DataType: "VarChar", MaxLength: 64},
			{Name: FieldDocID, DataType: "VarChar", MaxLength: 36},
			{Name: s.VectorField, DataType: "FloatVector", Dim: dim},
		}
	}
	if s.Index.FieldName == "" {
		s.Index.FieldName = s.VectorField
	}
	if s.Index.MetricType == "" {
		s.Index.MetricType = string(entity.COSINE)
	}
	if s.Index.MetricType != string(entity.COSINE) {
		return fmt.Errorf("milvus metric must be COSINE, got %s", s.Index.MetricType)
	}
	return nil
}

// MilvusIndex keeps chunk embeddings in a Milvus collection and answers
// nearest-neighbour queries scoped by company.
type MilvusIndex struct {
	log        *logger.Logger
	client     client.Client
	collection string
	field      string
	dim        int
}

// NewMilvusIndex creates a new MilvusIndex over an initialized client.
func NewMilvusIndex(milvusClient *milvus.MilvusClient, dim int, log *logger.Logger) (*MilvusIndex, error) {
	if milvusClient == nil || milvusClient.Client == nil {
		return nil, fmt.Errorf("milvus client is not initialized")
	}
	schema := milvusClient.Config.Schema
	return &MilvusIndex{
		log:        log.Named("milvus"),
		client:     milvusClient.Client,
		collection: schema.CollectionName,
		field:      schema.VectorField,
		dim:        dim,
	}, nil
}

// Upsert writes the embeddings of chunks that carry one.
func (s *MilvusIndex) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	var ids, companies, docs []string
	var vectors [][]float32
	for _, c := range chunks {
		if !c.HasEmbedding() {
			continue
		}
		ids = append(ids, c.ID)
		companies = append(companies, c.CompanyID)
		docs = append(docs, c.DocID)
		vectors = append(vectors, c.Embedding.Slice())
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := s.client.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnVarChar(FieldCompanyID, companies),
		entity.NewColumnVarChar(FieldDocID, docs),
		entity.NewColumnFloatVector(s.field, s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert into Milvus: %w", err)
	}
	s.log.Debug(fmt.Sprintf("upserted %d vectors into %s", len(ids), s.collection))
	return nil
}

// Search returns the nearest chunks of one company. Scores are cosine similarities.
func (s *MilvusIndex) Search(ctx context.Context, companyID string, query []float32, limit int) ([]interfaces.IndexHit, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(10)
	expr := fmt.Sprintf(`%s == "%s"`, FieldCompanyID, escape(companyID))

	results, err := s.client.Search(
		ctx, s.collection, nil, expr, []string{FieldID},
		[]entity.Vector{entity.FloatVector(query)},
		s.field, entity.COSINE, limit, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search in Milvus: %w", err)
	}

	var hits []interfaces.IndexHit
	for _, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("milvus search result: %w", res.Err)
		}
		idCol, ok := res.IDs.(*entity.ColumnVarChar)
		if !ok {
			s.log.Warn("search result has no varchar id column, skipping")
			continue
		}
		ids := idCol.Data()
		for i := 0; i < res.ResultCount && i < len(ids); i++ {
			hits = append(hits, interfaces.IndexHit{ChunkID: ids[i], Score: float64(res.Scores[i])})
		}
	}
	return hits, nil
}

// DeleteDocument removes every vector of a document.
func (s *MilvusIndex) DeleteDocument(ctx context.Context, companyID, docID string) error {
	expr := fmt.Sprintf(`%s == "%s" and %s == "%s"`, FieldCompanyID, escape(companyID), FieldDocID, escape(docID))
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("failed to delete from Milvus: %w", err)
	}
	return nil
}

func escape(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

var _ interfaces.VectorIndex = (*MilvusIndex)(nil)
