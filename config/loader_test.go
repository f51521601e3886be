// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)

	assert.Equal(t, "http://localhost:7860", cfg.Image.BaseURL)
	assert.Equal(t, "http://localhost:8081", cfg.Mesh.BaseURL)
	assert.Equal(t, "localhost:9876", cfg.Scene.Addr())
	assert.Equal(t, 15*time.Second, cfg.Scene.Timeout)

	assert.Equal(t, 20*time.Second, cfg.Workflow.HybridImageWindow)
	assert.Equal(t, "medium", cfg.Workflow.HardwareTier)
	assert.Equal(t, "memory", cfg.Store.Driver)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "scenegen.yaml")

	yamlContent := `
server:
  http_port: 8888
  api_keys: ["k1", "k2"]
image:
  base_url: "http://sd:7860"
  max_concurrent: 3
mesh:
  base_url: "http://hunyuan:8081"
  text_to_3d: true
workflow:
  poll_interval: 1s
  max_poll_interval: 4s
  task_deadline: 2m
  hardware_tier: high
store:
  driver: redis
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, "http://sd:7860", cfg.Image.BaseURL)
	assert.Equal(t, 3, cfg.Image.MaxConcurrent)
	// 未在文件中出现的字段保留默认值
	assert.Equal(t, 5*time.Minute, cfg.Image.Timeout)
	assert.True(t, cfg.Mesh.TextTo3D)
	assert.Equal(t, time.Second, cfg.Workflow.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Workflow.TaskDeadline)
	assert.Equal(t, "high", cfg.Workflow.HardwareTier)
	assert.Equal(t, "redis", cfg.Store.Driver)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("SCENEGEN_SERVER_HTTP_PORT", "9000")
	t.Setenv("SCENEGEN_MESH_BASE_URL", "http://gpu-box:8081")
	t.Setenv("SCENEGEN_MESH_MAX_CONCURRENT", "2")
	t.Setenv("SCENEGEN_MESH_TEXT_TO_3D", "true")
	t.Setenv("SCENEGEN_WORKFLOW_HYBRID_IMAGE_WINDOW", "45s")
	t.Setenv("SCENEGEN_WORKFLOW_POLL_MULTIPLIER", "2.0")
	t.Setenv("SCENEGEN_SERVER_CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "http://gpu-box:8081", cfg.Mesh.BaseURL)
	assert.Equal(t, 2, cfg.Mesh.MaxConcurrent)
	assert.True(t, cfg.Mesh.TextTo3D)
	assert.Equal(t, 45*time.Second, cfg.Workflow.HybridImageWindow)
	assert.Equal(t, 2.0, cfg.Workflow.PollMultiplier)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "scenegen.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("workflow:\n  hardware_tier: low\n"), 0o644))
	t.Setenv("SCENEGEN_WORKFLOW_HARDWARE_TIER", "ultra")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "ultra", cfg.Workflow.HardwareTier)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("SG_SCENE_PORT", "7777")

	cfg, err := NewLoader().WithEnvPrefix("SG").Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Scene.Port)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("SCENEGEN_WORKFLOW_TASK_DEADLINE", "forever")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	assert.NoError(t, err)

	t.Setenv("SCENEGEN_WORKFLOW_HARDWARE_TIER", "quantum")
	_, err = NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hardware tier")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/scenegen.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "HTTP port"},
		{"missing mesh url", func(c *Config) { c.Mesh.BaseURL = "" }, "mesh.base_url"},
		{"max interval below interval", func(c *Config) { c.Workflow.MaxPollInterval = time.Millisecond }, "max_poll_interval"},
		{"negative window", func(c *Config) { c.Workflow.HybridImageWindow = -time.Second }, "hybrid_image_window"},
		{"bad store", func(c *Config) { c.Store.Driver = "mongo" }, "store driver"},
		{"bad scene port", func(c *Config) { c.Scene.Port = 70000 }, "scene"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "scenegen", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=scenegen sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "scenegen"}
	assert.Equal(t, "u:p@tcp(db:3306)/scenegen?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "runs.db"}
	assert.Equal(t, "runs.db", lite.DSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{{{"), 0o644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
