// =============================================================================
// 📦 SceneGen 默认配置
// =============================================================================
// 提供所有配置项的合理默认值，后端地址与原始部署保持一致
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Image:     DefaultImageConfig(),
		Mesh:      DefaultMeshConfig(),
		Scene:     DefaultSceneConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		JWTIssuer:       "scenegen",
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultImageConfig 返回默认 SD WebUI 配置
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		BackendConfig: BackendConfig{
			BaseURL:          "http://localhost:7860",
			Timeout:          5 * time.Minute,
			HealthTimeout:    5 * time.Second,
			MaxConcurrent:    2,
			MaxRetries:       3,
			RetryDelay:       time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		NegativePrompt: "lowres, bad anatomy, blurry, watermark, text",
		DefaultSampler: "DPM++ 2M Karras",
		ProgressPoll:   time.Second,
	}
}

// DefaultMeshConfig 返回默认 Hunyuan3D 配置
func DefaultMeshConfig() MeshConfig {
	return MeshConfig{
		BackendConfig: BackendConfig{
			BaseURL:          "http://localhost:8081",
			Timeout:          10 * time.Minute,
			HealthTimeout:    5 * time.Second,
			MaxConcurrent:    1,
			MaxRetries:       3,
			RetryDelay:       2 * time.Second,
			BreakerThreshold: 3,
			BreakerReset:     time.Minute,
		},
		TextTo3D: false,
		Format:   "glb",
	}
}

// DefaultSceneConfig 返回默认 Blender 宿主配置
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		Host:          "localhost",
		Port:          9876,
		Timeout:       15 * time.Second,
		MaxConcurrent: 1,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		PollInterval:      2 * time.Second,
		MaxPollInterval:   15 * time.Second,
		PollMultiplier:    1.5,
		TaskDeadline:      10 * time.Minute,
		HybridImageWindow: 20 * time.Second,
		HardwareTier:      "medium",
		DefaultAsync:      true,
		Workers:           4,
		QueueSize:         64,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:    "memory",
		TTL:       24 * time.Hour,
		KeyPrefix: "scenegen:run:",
		MaxRuns:   1000,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "scenegen",
		Name:            "scenegen",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "scenegen",
		SampleRate:   0.1,
	}
}
