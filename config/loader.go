// =============================================================================
// 📦 ragcore 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("ragcore.yaml").
//	    WithEnvPrefix("RAGCORE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ragcore 的完整配置结构
type Config struct {
	// Chunking 文档分块配置
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Embedding 向量化配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Generation 生成配置
	Generation GenerationConfig `yaml:"generation" env:"GENERATION"`

	// Context 会话上下文配置
	Context ContextConfig `yaml:"context" env:"CONTEXT"`

	// Memory 记忆评分配置
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Storage 向量存储配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	// 策略: recursive, sentence, paragraph, fixed
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 每块最大字符数
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 相邻块重叠字符数
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 最小块大小（尾部碎片合并阈值）
	MinChunkSize int `yaml:"min_chunk_size" env:"MIN_CHUNK_SIZE"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	// Provider: hash, openai, ollama
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 向量维度
	Dimension int `yaml:"dimension" env:"DIMENSION"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 单批最大条数
	MaxBatchSize int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
	// 并发子请求数
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
	// 每秒请求数限制（0 表示不限）
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 是否启用缓存
	CacheEnabled bool `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	// 缓存后端: memory, redis
	CacheBackend string `yaml:"cache_backend" env:"CACHE_BACKEND"`
	// 内存缓存条目上限
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// Provider 不可用时是否降级到哈希向量
	FallbackEnabled bool `yaml:"fallback_enabled" env:"FALLBACK_ENABLED"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 策略: semantic, keyword, hybrid
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 返回结果数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 语义分数权重
	SemanticWeight float64 `yaml:"semantic_weight" env:"SEMANTIC_WEIGHT"`
	// 关键词分数权重
	KeywordWeight float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	// 是否启用重排序
	RerankingEnabled bool `yaml:"reranking_enabled" env:"RERANKING_ENABLED"`
	// 重排序器: exact_match, length_normalized, metadata_boost, ensemble
	Reranker string `yaml:"reranker" env:"RERANKER"`
	// 重排序候选数
	RerankTopN int `yaml:"rerank_top_n" env:"RERANK_TOP_N"`
	// 存储故障重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 重试初始延迟
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 是否启用结果缓存
	CacheEnabled bool `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	// 结果缓存条目上限
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 结果缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// GenerationConfig 生成配置
type GenerationConfig struct {
	// Provider: none, openai
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Prompt 上下文 Token 预算
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 连续失败多少次后熔断；0 关闭熔断
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断后多久放行试探请求
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// ContextConfig 会话上下文配置
type ContextConfig struct {
	// 超过该轮数返回压缩视图
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
	// 存储的最大轮数
	MaxStoredTurns int `yaml:"max_stored_turns" env:"MAX_STORED_TURNS"`
	// 存储后端: memory, redis
	Store string `yaml:"store" env:"STORE"`
	// Redis 会话过期时间
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
}

// MemoryConfig 记忆评分配置
type MemoryConfig struct {
	// 新近度权重
	NewnessWeight float64 `yaml:"newness_weight" env:"NEWNESS_WEIGHT"`
	// 相关性权重
	RelevanceWeight float64 `yaml:"relevance_weight" env:"RELEVANCE_WEIGHT"`
	// 重要性权重
	ImportanceWeight float64 `yaml:"importance_weight" env:"IMPORTANCE_WEIGHT"`
	// 新近度半衰期
	HalfLife time.Duration `yaml:"half_life" env:"HALF_LIFE"`
	// 返回的记忆条数
	TopN int `yaml:"top_n" env:"TOP_N"`
}

// StorageConfig 向量存储配置
type StorageConfig struct {
	// 后端: memory, sqlite, postgres, mysql, mongodb
	Backend string `yaml:"backend" env:"BACKEND"`
	// SQL 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	// MongoDB 配置
	MongoDB MongoDBConfig `yaml:"mongodb" env:"MONGODB"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoDBConfig MongoDB 配置
type MongoDBConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 连接超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否使用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Prometheus 命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RAGCORE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN(driver string) string {
	switch driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
