package vectorstore

import (
	"testing"

	"DocSage/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchema(t *testing.T) {
	var s config.SchemaConfig
	require.NoError(t, DefaultSchema(&s, 768))

	assert.Equal(t, "rag_chunks", s.CollectionName)
	assert.Equal(t, FieldEmbedding, s.Index.FieldName)
	assert.Equal(t, "COSINE", s.Index.MetricType)
	require.Len(t, s.Fields, 4)
	assert.True(t, s.Fields[0].IsPrimaryKey)
	assert.Equal(t, 768, s.Fields[3].Dim)

	bad := config.SchemaConfig{Index: config.IndexConfig{MetricType: "L2"}}
	assert.Error(t, DefaultSchema(&bad, 768))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `acme\"corp`, escape(`acme"corp`))
	assert.Equal(t, `a\\b`, escape(`a\b`))
}
