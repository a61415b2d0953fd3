package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/database/kafka"
	"DocSage/backend/go/internal/database/milvus"
	"DocSage/backend/go/internal/database/minio"
	"DocSage/backend/go/internal/database/mongo"
	"DocSage/backend/go/internal/database/mysql"
	"DocSage/backend/go/internal/database/postgres"
	"DocSage/backend/go/internal/database/redis"
	"DocSage/backend/go/internal/embedding"
	"DocSage/backend/go/internal/llm"
	"DocSage/backend/go/internal/rag_service/jobs"
	"DocSage/backend/go/internal/rag_service/rag/cache"
	"DocSage/backend/go/internal/rag_service/rag/embeddings"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/loaders"
	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/internal/rag_service/rag/search"
	"DocSage/backend/go/internal/rag_service/rag/splitters"
	"DocSage/backend/go/internal/rag_service/rag/storages/chunkstore"
	"DocSage/backend/go/internal/rag_service/rag/storages/vectorstore"
	"DocSage/backend/go/internal/rag_service/service"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"

	goredis "github.com/go-redis/redis/v8"
	kafkago "github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// app 持有装配好的组件以及按逆序执行的关闭函数。
type app struct {
	svc      *service.Service
	indexer  *pipeline.IndexingPipeline
	consumer *jobs.Consumer
	reader   *kafkago.Reader
	closers  []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build 按配置装配存储、检索、生成和任务组件。ctx 结束时后台任务随之停止。
func build(ctx context.Context, cfg *config.AppConfig, log *logger.Logger, m *metrics.Metrics) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	dim := cfg.Embedding.Dimension

	store, err := openStore(ctx, a, cfg, log)
	if err != nil {
		return nil, err
	}

	var index interfaces.VectorIndex
	if cfg.Databases.Milvus.Enabled {
		if err := vectorstore.DefaultSchema(&cfg.Databases.Milvus.Schema, dim); err != nil {
			return nil, err
		}
		mc, err := milvus.GetClient(ctx, &cfg.Databases.Milvus)
		if err != nil {
			return nil, err
		}
		a.onClose(mc.Close)
		if err := mc.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		mc.StartAutoFlush(30 * time.Second)
		mi, err := vectorstore.NewMilvusIndex(mc, dim, log)
		if err != nil {
			return nil, err
		}
		index = mi
	}

	provider := cfg.Embedding.ActiveProvider()
	backend, err := embedding.NewBackend(cfg.Embedding.Provider, provider.Model, provider.BaseURL,
		config.Duration(cfg.Embedding.CallTimeout, 10*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("embedding backend: %w", err)
	}
	if c, ok := backend.(interface{ Close() error }); ok {
		a.onClose(func() { _ = c.Close() })
	}

	keys := provider.Keys()
	if len(keys) == 0 && cfg.Embedding.Provider == "ollama" {
		// Ollama 不需要密钥，用一个占位凭据让配额池照常工作
		keys = []string{"local"}
	}
	qopts := quota.OptionsFromConfig("embedding", cfg.Quota)
	qopts.Logger, qopts.Metrics = log, m
	pool, err := quota.NewManager(keys, qopts)
	if err != nil {
		return nil, err
	}

	gopts := embeddings.OptionsFromConfig(cfg.Embedding)
	gopts.Logger, gopts.Metrics = log, m
	gen := embeddings.NewGenerator(backend, pool, gopts)

	generator, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	a.onClose(func() { _ = generator.Close() })

	splitter, err := newSplitter(cfg.Chunker)
	if err != nil {
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.Cache.Backend == "redis" {
		rdb, err = redis.NewClient(ctx, &cfg.Databases.Redis)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = rdb.Close() })
	}
	resultCache, err := cache.New(cfg.Cache, rdb)
	if err != nil {
		return nil, err
	}

	var loader interfaces.Loader
	if cfg.Databases.MinIO.Endpoint != "" {
		mc, err := minio.NewClient(ctx, &cfg.Databases.MinIO)
		if err != nil {
			return nil, err
		}
		loader = loaders.NewObjectLoader(mc, cfg.Databases.MinIO.Bucket)
	}

	iopts := pipeline.IndexingOptionsFromConfig(cfg.Chunker)
	iopts.Logger, iopts.Metrics = log, m
	a.indexer = pipeline.NewIndexingPipeline(splitter, gen, store, index, loader, iopts)

	strategies, err := newStrategies(cfg, gen, store, index, log, m)
	if err != nil {
		return nil, err
	}
	ropts := pipeline.RetrievalOptionsFromConfig(cfg)
	ropts.Logger, ropts.Metrics = log, m
	retrieval := pipeline.NewRetrievalPipeline(strategies, resultCache, ropts)

	qaOpts := pipeline.QAOptionsFromConfig(cfg)
	qaOpts.Logger, qaOpts.Metrics = log, m
	qa := pipeline.NewQAPipeline(retrieval, generator, qaOpts)

	comps := service.Components{
		Store:     store,
		Index:     index,
		Indexer:   a.indexer,
		Retrieval: retrieval,
		QA:        qa,
		Pool:      pool,
	}
	if err := wireJobs(ctx, a, cfg, &comps, log); err != nil {
		return nil, err
	}

	a.svc, err = service.New(ctx, comps, service.Options{
		ReconcileMaxRows: cfg.Embedding.ReconcileMaxRows,
		LocalWorkers:     cfg.Ingestion.Workers,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}
	if a.reader != nil {
		a.consumer = jobs.NewConsumer(a.reader, a.svc.Runner(), cfg.Ingestion.Workers, log)
	}
	return a, nil
}

func openStore(ctx context.Context, a *app, cfg *config.AppConfig, log *logger.Logger) (interfaces.ChunkStore, error) {
	opts := chunkstore.OptionsFromConfig(cfg)
	var (
		db      *gorm.DB
		dialect chunkstore.Dialect
		err     error
	)
	switch cfg.Databases.Driver {
	case "memory":
		return chunkstore.NewMemoryStore(opts), nil
	case "postgres":
		dialect = chunkstore.DialectPostgres
		db, err = postgres.Open(ctx, &cfg.Databases.Postgres)
		if err == nil {
			a.onClose(func() { _ = postgres.Close(db) })
		}
	case "mysql":
		dialect = chunkstore.DialectMySQL
		db, err = mysql.Open(ctx, &cfg.Databases.MySQL)
		if err == nil {
			a.onClose(func() { _ = mysql.Close(db) })
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Databases.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := chunkstore.Migrate(ctx, db, dialect, cfg.Embedding.Dimension); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if dialect == chunkstore.DialectPostgres {
		ctype, ok, err := chunkstore.TrigramLocale(ctx, db)
		switch {
		case err != nil:
			log.WithErr(err).Warn("Could not read database locale, keeping pg_trgm scoring")
		case !ok:
			log.WithField("lc_ctype", ctype).Warn("Database locale drops non-ASCII trigrams, scoring fuzzy search in-process")
			opts.InProcessTrigram = true
		}
	}
	return chunkstore.NewGormStore(db, dialect, opts), nil
}

func newSplitter(cfg config.ChunkerConfig) (*splitters.TextSplitter, error) {
	opts := []splitters.Option{splitters.WithBoundaryWindow(cfg.BoundaryWindow)}
	switch cfg.Tokenizer {
	case "", "unicode":
	case "tiktoken":
		tk, err := splitters.NewTiktokenTokenizer("")
		if err != nil {
			return nil, err
		}
		opts = append(opts, splitters.WithTokenizer(tk))
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", cfg.Tokenizer)
	}
	return splitters.NewTextSplitter(opts...), nil
}

func newStrategies(cfg *config.AppConfig, emb interfaces.Embedder, store interfaces.ChunkStore,
	index interfaces.VectorIndex, log *logger.Logger, m *metrics.Metrics) ([]pipeline.Strategy, error) {
	vopts := search.VectorOptionsFromConfig(cfg.Search)
	vopts.Logger, vopts.Metrics = log, m
	fopts := search.FuzzyOptionsFromConfig(cfg.Search)
	fopts.Logger, fopts.Metrics = log, m

	var out []pipeline.Strategy
	for _, name := range cfg.Retrieval.Strategies {
		switch name {
		case "vector":
			out = append(out, pipeline.NewVectorStrategy(emb, search.NewVectorEngine(store, index, vopts), cfg.Retrieval.MinSufficient))
		case "fuzzy":
			out = append(out, pipeline.NewFuzzyStrategy(search.NewFuzzyEngine(store, fopts), cfg.Retrieval.MinSufficient))
		default:
			return nil, fmt.Errorf("unknown retrieval strategy %q", name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no retrieval strategy configured")
	}
	return out, nil
}

// wireJobs 在配置了 MongoDB 和 Kafka 时使用持久化的任务记录和消息队列，
// 否则保持进程内默认实现。
func wireJobs(ctx context.Context, a *app, cfg *config.AppConfig, comps *service.Components, log *logger.Logger) error {
	if cfg.Databases.MongoDB.Address != "" {
		client, err := mongo.Connect(ctx, &cfg.Databases.MongoDB)
		if err != nil {
			return err
		}
		a.onClose(func() { _ = client.Disconnect(context.Background()) })
		comps.Jobs = jobs.NewMongoStore(mongo.Collection(client, &cfg.Databases.MongoDB))
	}

	kc := &cfg.Databases.Kafka
	if len(kc.Brokers) == 0 {
		return nil
	}
	if err := kafka.EnsureTopics(kc); err != nil {
		log.WithErr(err).Warn("Failed to ensure kafka topics")
	}
	pub := jobs.NewPublisher(kafka.NewWriter(kc, kc.IngestTopic), kafka.NewWriter(kc, kc.ResultTopic), log)
	a.onClose(func() { _ = pub.Close() })
	comps.Queue = pub
	comps.Results = pub

	if cfg.Ingestion.Enabled {
		a.reader = kafka.NewReader(kc, kc.IngestTopic)
		a.onClose(func() { _ = a.reader.Close() })
	}
	return nil
}
