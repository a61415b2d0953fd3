package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FieldConfig 定义了 Milvus 集合中字段的配置。
type FieldConfig struct {
	Name         string `yaml:"name"`                // 字段名称
	DataType     string `yaml:"dataType"`            // 字段数据类型 (例如: "Int64", "VarChar", "FloatVector")
	IsPrimaryKey bool   `yaml:"isPrimaryKey"`        // 是否为主键
	IsAutoID     bool   `yaml:"isAutoID"`            // 是否自动生成ID
	Dim          int    `yaml:"dim,omitempty"`       // 向量维度 (仅适用于向量类型)
	MaxLength    int    `yaml:"maxLength,omitempty"` // 最大长度 (仅适用于VarChar类型)
}

// IndexConfig 定义了 Milvus 集合中索引的配置。
type IndexConfig struct {
	FieldName  string                 `yaml:"fieldName"`  // 要创建索引的字段名称
	IndexType  string                 `yaml:"indexType"`  // 索引类型 (例如: "IVF_FLAT", "HNSW")
	MetricType string                 `yaml:"metricType"` // 相似度度量类型，分块检索要求 "COSINE"
	Params     map[string]interface{} `yaml:"params"`     // 索引参数 (例如: {"nlist": 128})
}

// SchemaConfig 定义了 Milvus 集合的 Schema 配置。
type SchemaConfig struct {
	CollectionName string        `yaml:"collectionName"` // 集合名称
	Description    string        `yaml:"description"`    // 集合描述
	VectorField    string        `yaml:"vectorField"`    // 向量字段名称
	Fields         []FieldConfig `yaml:"fields"`         // 字段配置列表
	Index          IndexConfig   `yaml:"index"`          // 索引配置
}

// MilvusConfig 定义了 Milvus 数据库的连接和 Schema 配置。
type MilvusConfig struct {
	Enabled bool         `yaml:"enabled"` // 为 true 时向量检索走 Milvus，否则走关系库的相似度算子
	Address string       `yaml:"address"` // Milvus 服务地址
	Schema  SchemaConfig `yaml:"schema"`  // Milvus 集合 Schema 配置
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MySQLConfig 定义了 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// PostgresConfig 定义了 PostgreSQL (pgvector + pg_trgm) 的连接配置。
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`             // 例如 "host=localhost user=rag password=rag dbname=rag port=5432 sslmode=disable"
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 存放已抽取文本的存储桶
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address    string `yaml:"address"`    // MongoDB 服务器地址
	Username   string `yaml:"username"`   // 用户名
	Password   string `yaml:"password"`   // 密码
	Database   string `yaml:"database"`   // 数据库名称
	Collection string `yaml:"collection"` // 任务记录集合
}

// EtcdConfig 定义了 Etcd 服务发现的连接配置。
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"` // Etcd 节点地址列表
	Username  string   `yaml:"username"`  // 用户名
	Password  string   `yaml:"password"`  // 密码
	LeaseTTL  int64    `yaml:"leaseTTL"`  // 注册租约 TTL (秒)
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`     // Kafka Broker 地址列表
	IngestTopic string   `yaml:"ingestTopic"` // 文档入库请求主题
	ResultTopic string   `yaml:"resultTopic"` // 入库结果事件主题
	GroupID     string   `yaml:"groupID"`     // 消费者组
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	Driver   string         `yaml:"driver"`   // 分块存储使用的关系库: "postgres" | "mysql" | "memory"
	Postgres PostgresConfig `yaml:"postgres"` // PostgreSQL 配置
	MySQL    MySQLConfig    `yaml:"mysql"`    // MySQL 配置
	Milvus   MilvusConfig   `yaml:"milvus"`   // Milvus 数据库配置
	Redis    RedisConfig    `yaml:"redis"`    // Redis 数据库配置
	MinIO    MinIOConfig    `yaml:"minio"`    // MinIO 对象存储配置
	MongoDB  MongoConfig    `yaml:"mongodb"`  // MongoDB 数据库配置
	Etcd     EtcdConfig     `yaml:"etcd"`     // Etcd 服务发现配置
	Kafka    KafkaConfig    `yaml:"kafka"`    // Kafka 消息队列配置
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ServerConfig 定义了 HTTP 与 gRPC 监听配置。
type ServerConfig struct {
	HTTPAddress     string `yaml:"httpAddress"`     // 例如 ":8080"
	GRPCAddress     string `yaml:"grpcAddress"`     // 健康检查 gRPC 端口，例如 ":9090"
	ShutdownTimeout string `yaml:"shutdownTimeout"` // 优雅退出超时，例如 "15s"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	Server     ServerConfig     `yaml:"server"`     // 监听地址
	Embedding  EmbeddingConfig  `yaml:"embedding"`  // Embedding 配置部分
	Quota      QuotaConfig      `yaml:"quota"`      // 凭据池与熔断配置
	Chunker    ChunkerConfig    `yaml:"chunker"`    // 分块配置
	Search     SearchConfig     `yaml:"search"`     // 检索配置
	Retrieval  RetrievalConfig  `yaml:"retrieval"`  // 检索编排配置
	LLM        LLMConfig        `yaml:"llm"`        // LLM 配置部分
	Cache      CacheConfig      `yaml:"cache"`      // 检索结果缓存
	Ingestion  IngestionConfig  `yaml:"ingestion"`  // 入库任务配置
	Databases  DatabaseConfigs  `yaml:"databases"`  // 数据库配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 中间件配置
}

// ProviderConfig 描述一个模型提供商的访问方式。
type ProviderConfig struct {
	APIKey  string   `yaml:"apiKey"`  // 单个密钥
	APIKeys []string `yaml:"apiKeys"` // 多个可互换的密钥，组成凭据池
	Model   string   `yaml:"model"`   // 模型名称
	BaseURL string   `yaml:"baseURL"` // OpenAI 兼容接口或 Ollama 地址
}

// Keys 返回去重后的全部密钥，APIKey 排在最前。
func (p ProviderConfig) Keys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, k := range append([]string{p.APIKey}, p.APIKeys...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// EmbeddingConfig 包含 Embedding 提供商与批处理参数。
type EmbeddingConfig struct {
	Provider         string         `yaml:"provider"`         // "gemini" | "openai" | "ollama"
	Gemini           ProviderConfig `yaml:"gemini"`           // Gemini 模型配置
	OpenAI           ProviderConfig `yaml:"openai"`           // OpenAI 兼容模型配置
	Ollama           ProviderConfig `yaml:"ollama"`           // Ollama 模型配置
	Dimension        int            `yaml:"dimension"`        // 全局向量维度
	BatchSize        int            `yaml:"batchSize"`        // 每次后端调用的文本数 B
	MaxRetries       int            `yaml:"maxRetries"`       // 单批最大重试次数
	QueryRetries     int            `yaml:"queryRetries"`     // 查询向量化的重试次数，不做补偿轮次
	InitialBackoff   string         `yaml:"initialBackoff"`   // 首次退避，例如 "2s"
	MaxBackoff       string         `yaml:"maxBackoff"`       // 退避上限
	ReconcilePasses  int            `yaml:"reconcilePasses"`  // 补偿轮次上限
	Concurrency      int            `yaml:"concurrency"`      // 并发批次数
	CallTimeout      string         `yaml:"callTimeout"`      // 单次后端调用超时
	ReconcileEvery   string         `yaml:"reconcileEvery"`   // 后台补偿周期，空表示关闭
	ReconcileMaxRows int            `yaml:"reconcileMaxRows"` // 每轮补偿最多处理的分块数
}

// ActiveProvider 返回当前选中的提供商配置。
func (e EmbeddingConfig) ActiveProvider() ProviderConfig {
	switch e.Provider {
	case "openai":
		return e.OpenAI
	case "ollama":
		return e.Ollama
	default:
		return e.Gemini
	}
}

// QuotaConfig 定义了凭据池与配额熔断器的参数。
type QuotaConfig struct {
	Cooldown            string  `yaml:"cooldown"`            // 触发配额错误后凭据的冷却时间
	FailureThreshold    uint32  `yaml:"failureThreshold"`    // 连续失败多少次熔断
	QuotaErrorThreshold int     `yaml:"quotaErrorThreshold"` // 滑动窗口内多少次配额错误熔断
	QuotaWindow         string  `yaml:"quotaWindow"`         // 配额错误滑动窗口
	OpenTimeout         string  `yaml:"openTimeout"`         // 熔断打开后多久进入半开
	HalfOpenMaxRequests uint32  `yaml:"halfOpenMaxRequests"` // 半开状态允许的探测请求数
	HalfOpenSuccesses   uint32  `yaml:"halfOpenSuccesses"`   // 半开状态下关闭熔断所需的连续成功次数
	RequestsPerMinute   float64 `yaml:"requestsPerMinute"`   // 每个凭据的请求速率，0 表示不限制
	CredentialFailures  uint32  `yaml:"credentialFailures"`  // 单个凭据连续瞬时失败多少次后进入冷却，0 表示不冷却
}

// ChunkerConfig 定义了分块参数。
type ChunkerConfig struct {
	Tokenizer       string `yaml:"tokenizer"`       // "unicode" | "tiktoken"
	TargetTokens    int    `yaml:"targetTokens"`    // 目标分块大小
	OverlapTokens   int    `yaml:"overlapTokens"`   // 相邻分块重叠
	BoundaryWindow  int    `yaml:"boundaryWindow"`  // 在目标终点之前寻找边界的容忍窗口 (token)
	InsertBatchSize int    `yaml:"insertBatchSize"` // 写入存储时的子批大小
}

// SearchConfig 定义了向量检索与模糊检索的参数。
type SearchConfig struct {
	VectorLimit         int     `yaml:"vectorLimit"`         // 向量检索返回上限
	CandidateFactor     int     `yaml:"candidateFactor"`     // 候选池 = limit × factor
	MinSimilarity       float64 `yaml:"minSimilarity"`       // 自适应阈值的下限 minFloor
	AdaptiveRatio       float64 `yaml:"adaptiveRatio"`       // 头部四分位均值的比例
	PerDocumentCap      int     `yaml:"perDocumentCap"`      // 每个文档最多返回的结果数
	DuplicateSimilarity float64 `yaml:"duplicateSimilarity"` // 互相似度高于此值视为重复
	FuzzyThreshold      float64 `yaml:"fuzzyThreshold"`      // 模糊检索原始相似度阈值
	LengthPenalty       float64 `yaml:"lengthPenalty"`       // 长度差惩罚系数
	FuzzyLimit          int     `yaml:"fuzzyLimit"`          // 模糊检索返回上限
}

// RetrievalConfig 定义了检索编排参数。
type RetrievalConfig struct {
	MinSufficient      int      `yaml:"minSufficient"`      // 至少多少条结果视为充分
	ContextBudget      int      `yaml:"contextBudget"`      // 上下文字符预算
	Strategies         []string `yaml:"strategies"`         // 策略顺序，默认 ["vector", "fuzzy"]
	AlwaysMerge        bool     `yaml:"alwaysMerge"`        // 即使向量结果充分也执行模糊检索并合并
	NoResultMessage    string   `yaml:"noResultMessage"`    // 无结果时返回给用户的文本
	UnavailableMessage string   `yaml:"unavailableMessage"` // 检索或生成不可用时返回给用户的文本
}

// LLMConfig 包含了回答生成模型的配置。
type LLMConfig struct {
	Provider    string         `yaml:"provider"`    // "gemini" | "openai" | "ollama"
	Gemini      ProviderConfig `yaml:"gemini"`      // Gemini 模型配置
	OpenAI      ProviderConfig `yaml:"openai"`      // OpenAI 兼容模型配置
	Ollama      ProviderConfig `yaml:"ollama"`      // Ollama 模型配置
	Temperature float32        `yaml:"temperature"` // 采样温度
	Timeout     string         `yaml:"timeout"`     // 单次生成超时
}

// ActiveProvider 返回当前选中的提供商配置。
func (l LLMConfig) ActiveProvider() ProviderConfig {
	switch l.Provider {
	case "openai":
		return l.OpenAI
	case "ollama":
		return l.Ollama
	default:
		return l.Gemini
	}
}

// CacheConfig 定义了检索结果缓存。
type CacheConfig struct {
	Backend  string `yaml:"backend"`  // "redis" | "memory" | "none"
	TTL      string `yaml:"ttl"`      // 例如 "5m"
	Capacity int    `yaml:"capacity"` // 进程内 LRU 容量
}

// IngestionConfig 定义了异步入库任务的参数。
type IngestionConfig struct {
	Enabled bool `yaml:"enabled"` // 是否启动 Kafka 消费者
	Workers int  `yaml:"workers"` // 并行处理的文档数
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Algorithm   string            `yaml:"algorithm"` // 支持: "slidingLog", "tokenBucket"
	SlidingLog  SlidingLogConfig  `yaml:"slidingLog"`
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`
}

// SlidingLogConfig 定义了滑动窗口日志算法的配置。
type SlidingLogConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析并填充默认值后的应用程序配置结构体。
//	error: 如果文件读取、解析或校验失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	return Parse(yamlFile)
}

// Parse 解析 YAML 内容，应用环境变量覆盖和默认值，并执行校验。
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置，主要用于测试和内存模式。
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyEnv 用环境变量覆盖密钥配置，避免把密钥写进配置文件。
func (c *AppConfig) ApplyEnv() {
	if v := os.Getenv("RAG_EMBEDDING_API_KEYS"); v != "" {
		keys := splitKeys(v)
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.OpenAI.APIKeys = keys
		case "ollama":
			c.Embedding.Ollama.APIKeys = keys
		default:
			c.Embedding.Gemini.APIKeys = keys
		}
	}
	if v := strings.TrimSpace(os.Getenv("RAG_LLM_API_KEY")); v != "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.OpenAI.APIKey = v
		case "ollama":
			c.LLM.Ollama.APIKey = v
		default:
			c.LLM.Gemini.APIKey = v
		}
	}
}

func splitKeys(v string) []string {
	var keys []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ApplyDefaults 为所有未设置的字段填充默认值。
func (c *AppConfig) ApplyDefaults() {
	setString(&c.App.Name, "rag_service")
	setString(&c.Logger.Level, "info")
	setString(&c.Server.HTTPAddress, ":8080")
	setString(&c.Server.ShutdownTimeout, "15s")

	e := &c.Embedding
	setString(&e.Provider, "gemini")
	setString(&e.Gemini.Model, "text-embedding-004")
	setString(&e.OpenAI.Model, "text-embedding-3-small")
	setString(&e.Ollama.Model, "nomic-embed-text")
	setString(&e.Ollama.BaseURL, "http://localhost:11434")
	setInt(&e.Dimension, 768)
	setInt(&e.BatchSize, 10)
	setInt(&e.MaxRetries, 3)
	setInt(&e.QueryRetries, 1)
	setString(&e.InitialBackoff, "2s")
	setString(&e.MaxBackoff, "30s")
	setInt(&e.ReconcilePasses, 10)
	setInt(&e.Concurrency, 4)
	setString(&e.CallTimeout, "10m")
	setInt(&e.ReconcileMaxRows, 500)

	q := &c.Quota
	setString(&q.Cooldown, "60s")
	setUint(&q.FailureThreshold, 5)
	setInt(&q.QuotaErrorThreshold, 20)
	setString(&q.QuotaWindow, "60s")
	setString(&q.OpenTimeout, "60s")
	setUint(&q.HalfOpenMaxRequests, 1)
	setUint(&q.HalfOpenSuccesses, 1)

	ch := &c.Chunker
	setString(&ch.Tokenizer, "unicode")
	setInt(&ch.TargetTokens, 500)
	setInt(&ch.OverlapTokens, 50)
	setInt(&ch.BoundaryWindow, 100)
	setInt(&ch.InsertBatchSize, 50)

	s := &c.Search
	setInt(&s.VectorLimit, 10)
	setInt(&s.CandidateFactor, 4)
	setFloat(&s.MinSimilarity, 0.2)
	setFloat(&s.AdaptiveRatio, 0.6)
	setInt(&s.PerDocumentCap, 3)
	setFloat(&s.DuplicateSimilarity, 0.97)
	setFloat(&s.FuzzyThreshold, 0.45)
	setFloat(&s.LengthPenalty, 0.012)
	setInt(&s.FuzzyLimit, 50)

	r := &c.Retrieval
	setInt(&r.MinSufficient, 1)
	setInt(&r.ContextBudget, 120000)
	if len(r.Strategies) == 0 {
		r.Strategies = []string{"vector", "fuzzy"}
	}
	setString(&r.NoResultMessage, "申し訳ありませんが、アップロードされた資料の中に関連する情報が見つかりませんでした。")
	setString(&r.UnavailableMessage, "現在、検索サービスが混み合っているため回答を作成できませんでした。しばらくしてから再度お試しください。")

	l := &c.LLM
	setString(&l.Provider, "gemini")
	setString(&l.Gemini.Model, "gemini-1.5-flash")
	setString(&l.OpenAI.Model, "gpt-4o-mini")
	setString(&l.Ollama.Model, "llama3")
	setString(&l.Ollama.BaseURL, "http://localhost:11434")
	setString(&l.Timeout, "2m")

	setString(&c.Cache.Backend, "memory")
	setString(&c.Cache.TTL, "5m")
	setInt(&c.Cache.Capacity, 1024)

	setInt(&c.Ingestion.Workers, 2)

	d := &c.Databases
	setString(&d.Driver, "postgres")
	setString(&d.Kafka.IngestTopic, "rag.ingest")
	setString(&d.Kafka.ResultTopic, "rag.ingest.result")
	setString(&d.Kafka.GroupID, "rag-ingestion")
	setString(&d.MongoDB.Collection, "ingest_jobs")
	if d.Etcd.LeaseTTL <= 0 {
		d.Etcd.LeaseTTL = 10
	}
	setString(&d.Milvus.Schema.CollectionName, "rag_chunks")
	setString(&d.Milvus.Schema.VectorField, "embedding")
	setString(&d.Milvus.Schema.Index.MetricType, "COSINE")
}

// Validate 拒绝不可能的配置组合。
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension 必须为正数: %d", c.Embedding.Dimension))
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.Concurrency <= 0 {
		errs = append(errs, errors.New("embedding.batchSize 与 embedding.concurrency 必须为正数"))
	}
	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.TargetTokens {
		errs = append(errs, fmt.Errorf("chunker.overlapTokens (%d) 必须小于 targetTokens (%d)", c.Chunker.OverlapTokens, c.Chunker.TargetTokens))
	}
	if c.Search.FuzzyThreshold < 0 || c.Search.FuzzyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("search.fuzzyThreshold 必须位于 [0,1): %v", c.Search.FuzzyThreshold))
	}
	if c.Search.PerDocumentCap <= 0 {
		errs = append(errs, errors.New("search.perDocumentCap 必须为正数"))
	}
	for _, s := range c.Retrieval.Strategies {
		if s != "vector" && s != "fuzzy" {
			errs = append(errs, fmt.Errorf("未知的检索策略: %q", s))
		}
	}
	switch c.Databases.Driver {
	case "postgres", "mysql", "memory":
	default:
		errs = append(errs, fmt.Errorf("不支持的 databases.driver: %q", c.Databases.Driver))
	}
	for name, v := range map[string]string{
		"embedding.initialBackoff": c.Embedding.InitialBackoff,
		"embedding.maxBackoff":     c.Embedding.MaxBackoff,
		"embedding.callTimeout":    c.Embedding.CallTimeout,
		"embedding.reconcileEvery": c.Embedding.ReconcileEvery,
		"quota.cooldown":           c.Quota.Cooldown,
		"quota.quotaWindow":        c.Quota.QuotaWindow,
		"quota.openTimeout":        c.Quota.OpenTimeout,
		"cache.ttl":                c.Cache.TTL,
		"llm.timeout":              c.LLM.Timeout,
		"server.shutdownTimeout":   c.Server.ShutdownTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s 不是合法的时长 %q: %w", name, v, err))
		}
	}
	return errors.Join(errs...)
}

// Duration 解析时长字符串，解析失败或为空时返回 fallback。
func Duration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p <= 0 {
		*p = v
	}
}

func setUint(p *uint32, v uint32) {
	if *p == 0 {
		*p = v
	}
}

func setFloat(p *float64, v float64) {
	if *p <= 0 {
		*p = v
	}
}
