package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("app:\n  name: docsage\n"))
	require.NoError(t, err)

	assert.Equal(t, "docsage", cfg.App.Name)
	assert.Equal(t, 10, cfg.Embedding.BatchSize)
	assert.Equal(t, 3, cfg.Embedding.MaxRetries)
	assert.Equal(t, 1, cfg.Embedding.QueryRetries)
	assert.Equal(t, "2s", cfg.Embedding.InitialBackoff)
	assert.Equal(t, 10, cfg.Embedding.ReconcilePasses)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, "10m", cfg.Embedding.CallTimeout)
	assert.Equal(t, uint32(5), cfg.Quota.FailureThreshold)
	assert.Equal(t, 20, cfg.Quota.QuotaErrorThreshold)
	assert.Equal(t, "60s", cfg.Quota.Cooldown)
	assert.InDelta(t, 0.45, cfg.Search.FuzzyThreshold, 1e-9)
	assert.InDelta(t, 0.012, cfg.Search.LengthPenalty, 1e-9)
	assert.Equal(t, 50, cfg.Search.FuzzyLimit)
	assert.Equal(t, 3, cfg.Search.PerDocumentCap)
	assert.Equal(t, 120000, cfg.Retrieval.ContextBudget)
	assert.Equal(t, []string{"vector", "fuzzy"}, cfg.Retrieval.Strategies)
	assert.Equal(t, 50, cfg.Chunker.InsertBatchSize)
	assert.Equal(t, "rag.ingest", cfg.Databases.Kafka.IngestTopic)
}

func TestParseRejectsImpossibleValues(t *testing.T) {
	_, err := Parse([]byte(`
chunker:
  targetTokens: 100
  overlapTokens: 200
search:
  fuzzyThreshold: 1.5
retrieval:
  strategies: [vector, bm25]
quota:
  cooldown: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlapTokens")
	assert.Contains(t, err.Error(), "fuzzyThreshold")
	assert.Contains(t, err.Error(), "bm25")
	assert.Contains(t, err.Error(), "quota.cooldown")
}

func TestEnvOverridesKeys(t *testing.T) {
	t.Setenv("RAG_EMBEDDING_API_KEYS", "k1, k2 ,,k3")
	t.Setenv("RAG_LLM_API_KEY", "llm-key")

	cfg, err := Parse([]byte("embedding:\n  provider: gemini\n  gemini:\n    apiKey: k1\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.Embedding.ActiveProvider().Keys())
	assert.Equal(t, "llm-key", cfg.LLM.ActiveProvider().APIKey)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("databases:\n  driver: memory\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Databases.Driver)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
}
