// =============================================================================
// 📦 MnemosyneOS 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("mnemo.yaml").
//	    WithEnvPrefix("MNEMO").
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

	"github.com/brooksjoey/MnemosyneOS/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MnemosyneOS 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" json:"server" env:"SERVER"`

	// Embedding 嵌入提供者配置
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding" env:"EMBEDDING"`

	// VectorStore 向量存储配置
	VectorStore VectorStoreConfig `yaml:"vector_store" json:"vector_store" env:"VECTOR_STORE"`

	// Database 记录存储数据库配置
	Database DatabaseConfig `yaml:"database" json:"database" env:"DATABASE"`

	// Mongo MongoDB 记录存储配置（Database.Driver == "mongo" 时生效）
	Mongo MongoConfig `yaml:"mongo" json:"mongo" env:"MONGO"`

	// Cache Redis 向量缓存配置
	Cache CacheConfig `yaml:"cache" json:"cache" env:"CACHE"`

	// Memory 记忆引擎配置（切块、检索、工作池）
	Memory MemoryConfig `yaml:"memory" json:"memory" env:"MEMORY"`

	// Reflection 反思调度配置
	Reflection ReflectionConfig `yaml:"reflection" json:"reflection" env:"REFLECTION"`

	// LLM 反思摘要模型配置
	LLM LLMConfig `yaml:"llm" json:"llm" env:"LLM"`

	// Auth API 鉴权配置
	Auth AuthConfig `yaml:"auth" json:"auth" env:"AUTH"`

	// Log 日志配置
	Log LogConfig `yaml:"log" json:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每分钟请求数限制
	RateLimitPerMin int `yaml:"rate_limit_per_min" json:"rate_limit_per_min" env:"RATE_LIMIT_PER_MIN"`
	// 突发请求上限
	RateLimitBurst int `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TLS 配置
	TLS TLSConfig `yaml:"tls" json:"tls" env:"TLS"`
}

// TLSConfig TLS 配置
type TLSConfig struct {
	// 是否启用 TLS
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 证书文件路径
	CertFile string `yaml:"cert_file" json:"cert_file" env:"CERT_FILE"`
	// 私钥文件路径
	KeyFile string `yaml:"key_file" json:"key_file" env:"KEY_FILE"`
}

// EmbeddingConfig 嵌入提供者配置
type EmbeddingConfig struct {
	// 提供者类型: openai, compat, local
	Provider string `yaml:"provider" json:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" json:"api_key" env:"API_KEY"`
	// 基础 URL（可选，compat 必填）
	BaseURL string `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" json:"model" env:"MODEL"`
	// 向量维度
	Dimensions int `yaml:"dimensions" json:"dimensions" env:"DIMENSIONS"`
	// 单批最大输入数
	BatchSize int `yaml:"batch_size" json:"batch_size" env:"BATCH_SIZE"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// 重试策略
	Retry RetryConfig `yaml:"retry" json:"retry" env:"RETRY"`
}

// RetryConfig 瞬时故障重试策略
type RetryConfig struct {
	// 最大重试次数（不含首次尝试）
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	// 首次重试延迟
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" env:"INITIAL_DELAY"`
	// 最大延迟
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay" env:"MAX_DELAY"`
	// 退避倍数
	Multiplier float64 `yaml:"multiplier" json:"multiplier" env:"MULTIPLIER"`
	// 是否启用抖动
	Jitter bool `yaml:"jitter" json:"jitter" env:"JITTER"`
}

// VectorStoreConfig 向量存储配置
type VectorStoreConfig struct {
	// 后端类型: memory, chromem, qdrant, pgvector
	Backend string `yaml:"backend" json:"backend" env:"BACKEND"`
	// Chromem 嵌入式存储配置
	Chromem ChromemConfig `yaml:"chromem" json:"chromem" env:"CHROMEM"`
	// Qdrant 配置
	Qdrant QdrantConfig `yaml:"qdrant" json:"qdrant" env:"QDRANT"`
	// PGVector 配置
	PGVector PGVectorConfig `yaml:"pgvector" json:"pgvector" env:"PGVECTOR"`
}

// ChromemConfig 嵌入式持久化向量存储配置
type ChromemConfig struct {
	// 持久化目录
	Path string `yaml:"path" json:"path" env:"PATH"`
	// 是否压缩存储
	Compress bool `yaml:"compress" json:"compress" env:"COMPRESS"`
}

// QdrantConfig Qdrant 向量存储配置
type QdrantConfig struct {
	// 主机
	Host string `yaml:"host" json:"host" env:"HOST"`
	// REST 端口
	Port int `yaml:"port" json:"port" env:"PORT"`
	// API Key（可选）
	APIKey string `yaml:"api_key" json:"api_key" env:"API_KEY"`
	// 是否使用 HTTPS
	UseTLS bool `yaml:"use_tls" json:"use_tls" env:"USE_TLS"`
	// 集合名前缀，命名空间拼接其后
	CollectionPrefix string `yaml:"collection_prefix" json:"collection_prefix" env:"COLLECTION_PREFIX"`
}

// PGVectorConfig PostgreSQL + pgvector 配置
type PGVectorConfig struct {
	// 连接字符串
	DSN string `yaml:"dsn" json:"dsn" env:"DSN"`
	// 连接池大小
	MaxConns int `yaml:"max_conns" json:"max_conns" env:"MAX_CONNS"`
}

// DatabaseConfig 记录存储数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres, mysql, mongo
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" json:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" json:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" json:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" json:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 记录存储配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" json:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" json:"database" env:"DATABASE"`
}

// CacheConfig Redis 向量缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 缓存条目默认 TTL
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" env:"DEFAULT_TTL"`
}

// MemoryConfig 记忆引擎配置
type MemoryConfig struct {
	// 切块阈值（token 数），超过则切块
	ChunkSize int `yaml:"chunk_size" json:"chunk_size" env:"CHUNK_SIZE"`
	// 相邻块重叠（token 数）
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 尾块最小 token 数，小于则并入前块
	MinChunkTokens int `yaml:"min_chunk_tokens" json:"min_chunk_tokens" env:"MIN_CHUNK_TOKENS"`
	// 跳过 tiktoken 初始化，按字符估算 token 数（离线环境适用）
	EstimateTokens bool `yaml:"estimate_tokens" json:"estimate_tokens" env:"ESTIMATE_TOKENS"`
	// 切块嵌入并发度
	EmbedConcurrency int `yaml:"embed_concurrency" json:"embed_concurrency" env:"EMBED_CONCURRENCY"`
	// 检索默认返回条数
	DefaultK int `yaml:"default_k" json:"default_k" env:"DEFAULT_K"`
	// 检索最大返回条数
	MaxK int `yaml:"max_k" json:"max_k" env:"MAX_K"`
	// 过滤前的过量拉取倍数
	OverfetchFactor int `yaml:"overfetch_factor" json:"overfetch_factor" env:"OVERFETCH_FACTOR"`
	// 分数并列判定阈值
	ScoreEpsilon float64 `yaml:"score_epsilon" json:"score_epsilon" env:"SCORE_EPSILON"`
	// 工作池大小
	Workers int `yaml:"workers" json:"workers" env:"WORKERS"`
	// 工作池队列长度
	QueueSize int `yaml:"queue_size" json:"queue_size" env:"QUEUE_SIZE"`
}

// ReflectionConfig 反思调度配置
type ReflectionConfig struct {
	// 是否启用周期调度
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 调度间隔
	Interval time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	// 扫描窗口
	Window time.Duration `yaml:"window" json:"window" env:"WINDOW"`
	// 扫描的源记忆层
	SourceLayers []string `yaml:"source_layers" json:"source_layers" env:"SOURCE_LAYERS"`
	// 单次反思最多读取的记录数
	MaxSourceRecords int `yaml:"max_source_records" json:"max_source_records" env:"MAX_SOURCE_RECORDS"`
	// 触发反思所需的最少记录数
	MinSourceRecords int `yaml:"min_source_records" json:"min_source_records" env:"MIN_SOURCE_RECORDS"`
}

// LLMConfig 反思摘要模型配置
type LLMConfig struct {
	// 提供者: openai, extractive
	Provider string `yaml:"provider" json:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" json:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" json:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// 摘要最大 Token 数
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" env:"MAX_TOKENS"`
	// 温度参数
	Temperature float64 `yaml:"temperature" json:"temperature" env:"TEMPERATURE"`
}

// AuthConfig API 鉴权配置
type AuthConfig struct {
	// 鉴权模式: none, api_key, bearer
	Mode string `yaml:"mode" json:"mode" env:"MODE"`
	// 静态 API Key（mode == api_key）
	APIKey string `yaml:"api_key" json:"api_key" env:"API_KEY"`
	// JWT 签名密钥（mode == bearer，HS256）
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" env:"JWT_SECRET"`
	// JWT 受众校验值
	Audience string `yaml:"audience" json:"audience" env:"AUDIENCE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" json:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
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
		envPrefix:  "MNEMO",
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
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
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
		// 支持逗号分隔的字符串切片
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

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitPerMin < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit values must be non-negative")
	}

	// 嵌入
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding dimensions must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, "embedding batch_size must be positive")
	}

	// 切块
	if c.Memory.ChunkSize <= 0 {
		errs = append(errs, "chunk_size must be positive")
	}
	if c.Memory.ChunkOverlap < 0 || c.Memory.ChunkOverlap >= c.Memory.ChunkSize {
		errs = append(errs, "chunk_overlap must be in [0, chunk_size)")
	}
	if c.Memory.MinChunkTokens < 0 || c.Memory.MinChunkTokens > c.Memory.ChunkSize {
		errs = append(errs, "min_chunk_tokens must be in [0, chunk_size]")
	}

	// 检索
	if c.Memory.DefaultK < 1 || c.Memory.DefaultK > c.Memory.MaxK {
		errs = append(errs, "default_k must be in [1, max_k]")
	}
	if c.Memory.OverfetchFactor < 1 {
		errs = append(errs, "overfetch_factor must be at least 1")
	}
	if c.Memory.ScoreEpsilon < 0 {
		errs = append(errs, "score_epsilon must be non-negative")
	}

	// 反思
	if c.Reflection.MinSourceRecords > c.Reflection.MaxSourceRecords {
		errs = append(errs, "reflection min_source_records exceeds max_source_records")
	}
	for _, layer := range c.Reflection.SourceLayers {
		if _, err := types.ParseMemoryLayer(layer); err != nil {
			errs = append(errs, fmt.Sprintf("invalid reflection source layer %q", layer))
		}
	}

	// 鉴权
	switch c.Auth.Mode {
	case "", "none", "api_key", "bearer":
	default:
		errs = append(errs, fmt.Sprintf("unknown auth mode %q", c.Auth.Mode))
	}
	if c.Auth.Mode == "api_key" && c.Auth.APIKey == "" {
		errs = append(errs, "auth mode api_key requires api_key")
	}
	if c.Auth.Mode == "bearer" && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth mode bearer requires jwt_secret")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
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

// URL 返回 Qdrant REST 基础 URL
func (q *QdrantConfig) URL() string {
	scheme := "http"
	if q.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, q.Host, q.Port)
}
