// =============================================================================
// 📦 SceneGen 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("scenegen.yaml").
//	    WithEnvPrefix("SCENEGEN").
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

// Config 是 SceneGen 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Image     ImageConfig     `yaml:"image" env:"IMAGE"`
	Mesh      MeshConfig      `yaml:"mesh" env:"MESH"`
	Scene     SceneConfig     `yaml:"scene" env:"SCENE"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort           int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort        int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout        time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	APIKeys            []string      `yaml:"api_keys" env:"API_KEYS"`
	AllowQueryAPIKey   bool          `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	JWTSecret          string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer          string        `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 同时设置时以 HTTPS 启动
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// BackendConfig 生成后端的公共连接参数
type BackendConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次请求超时（同步生成需要足够长）
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 健康检查超时
	HealthTimeout time.Duration `yaml:"health_timeout" env:"HEALTH_TIMEOUT"`
	// 并发请求上限
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 初始重试间隔
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 熔断阈值（连续失败次数）
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断恢复等待时间
	BreakerReset time.Duration `yaml:"breaker_reset" env:"BREAKER_RESET"`
}

// ImageConfig 文生图服务（Stable Diffusion WebUI）配置
type ImageConfig struct {
	BackendConfig  `yaml:",inline" env:""`
	NegativePrompt string        `yaml:"negative_prompt" env:"NEGATIVE_PROMPT"`
	DefaultSampler string        `yaml:"default_sampler" env:"DEFAULT_SAMPLER"`
	ProgressPoll   time.Duration `yaml:"progress_poll" env:"PROGRESS_POLL"`
}

// MeshConfig 图生 3D 服务（Hunyuan3D）配置
type MeshConfig struct {
	BackendConfig `yaml:",inline" env:""`
	// 服务是否支持直接从文本生成（决定 MODEL_FIRST 是否可行）
	TextTo3D bool `yaml:"text_to_3d" env:"TEXT_TO_3D"`
	// 输出格式
	Format string `yaml:"format" env:"FORMAT"`
}

// SceneConfig 场景宿主（Blender 插件 socket）配置
type SceneConfig struct {
	Host          string        `yaml:"host" env:"HOST"`
	Port          int           `yaml:"port" env:"PORT"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxConcurrent int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// WorkflowConfig 工作流引擎配置
type WorkflowConfig struct {
	// 异步网格任务初始轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 轮询间隔上限
	MaxPollInterval time.Duration `yaml:"max_poll_interval" env:"MAX_POLL_INTERVAL"`
	// 轮询间隔倍增因子
	PollMultiplier float64 `yaml:"poll_multiplier" env:"POLL_MULTIPLIER"`
	// 异步任务总等待时长
	TaskDeadline time.Duration `yaml:"task_deadline" env:"TASK_DEADLINE"`
	// HYBRID 模式下模型分支等待图像的窗口
	HybridImageWindow time.Duration `yaml:"hybrid_image_window" env:"HYBRID_IMAGE_WINDOW"`
	// 硬件档位: low, medium, high, ultra
	HardwareTier string `yaml:"hardware_tier" env:"HARDWARE_TIER"`
	// 默认是否走异步网格路径
	DefaultAsync bool `yaml:"default_async" env:"DEFAULT_ASYNC"`
	// 运行报告输出目录（为空则不写文件）
	ReportDir string `yaml:"report_dir" env:"REPORT_DIR"`
	// 后台运行的 worker 数量
	Workers int `yaml:"workers" env:"WORKERS"`
	// 后台运行排队上限
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 自定义预设 YAML 文件
	PresetsFile string `yaml:"presets_file" env:"PRESETS_FILE"`
}

// StoreConfig 运行报告存储配置
type StoreConfig struct {
	// 驱动类型: memory, redis, database
	Driver string `yaml:"driver" env:"DRIVER"`
	// 报告保留时长（0 表示永久）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 内存存储最多保留的报告数
	MaxRuns int `yaml:"max_runs" env:"MAX_RUNS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
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
		envPrefix:  "SCENEGEN",
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
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
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

// setFieldsFromEnv 递归设置结构体字段
// 匿名嵌入字段（env:""）沿用父级前缀，例如 SCENEGEN_MESH_BASE_URL
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag, hasTag := fieldType.Tag.Lookup("env")
		if !hasTag || envTag == "-" {
			continue
		}

		if fieldType.Anonymous && envTag == "" && field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}
		if envTag == "" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

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
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
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

var (
	validHardwareTiers = map[string]bool{"low": true, "medium": true, "high": true, "ultra": true}
	validStoreDrivers  = map[string]bool{"memory": true, "redis": true, "database": true}
)

// Validate 验证配置，汇总所有问题后一次性返回
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	if c.Image.BaseURL == "" {
		errs = append(errs, "image.base_url is required")
	}
	if c.Mesh.BaseURL == "" {
		errs = append(errs, "mesh.base_url is required")
	}
	if c.Scene.Host == "" || c.Scene.Port <= 0 || c.Scene.Port > 65535 {
		errs = append(errs, "scene host/port is invalid")
	}

	w := c.Workflow
	if w.PollInterval <= 0 {
		errs = append(errs, "workflow.poll_interval must be positive")
	}
	if w.MaxPollInterval < w.PollInterval {
		errs = append(errs, "workflow.max_poll_interval must be >= poll_interval")
	}
	if w.PollMultiplier < 1.0 {
		errs = append(errs, "workflow.poll_multiplier must be >= 1")
	}
	if w.TaskDeadline <= 0 {
		errs = append(errs, "workflow.task_deadline must be positive")
	}
	if w.HybridImageWindow < 0 {
		errs = append(errs, "workflow.hybrid_image_window must not be negative")
	}
	if !validHardwareTiers[w.HardwareTier] {
		errs = append(errs, fmt.Sprintf("unknown hardware tier %q", w.HardwareTier))
	}
	if w.Workers <= 0 {
		errs = append(errs, "workflow.workers must be positive")
	}

	if !validStoreDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Addr 返回场景宿主的 TCP 地址
func (s SceneConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
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
