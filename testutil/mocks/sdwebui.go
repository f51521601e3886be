// SDWebUI 是 Stable Diffusion WebUI API 的测试替身。
//
// 支持固定图像、失败注入（前 N 次或始终失败）与请求记录。
package mocks

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// PNGStub 替身默认返回的图像字节
var PNGStub = []byte("\x89PNG\r\n\x1a\nscenegen-test-image")

// SDWebUI 模拟 /sdapi/v1/* 端点
type SDWebUI struct {
	mu     sync.Mutex
	server *httptest.Server

	image      []byte
	seed       int64
	checkpoint string
	samplers   []string

	// 失败注入：failTimes < 0 表示始终失败
	failStatus  int
	failMessage string
	failTimes   int
	delay       time.Duration

	calls    map[string]int
	requests map[string]map[string]any
}

// NewSDWebUI 启动替身服务
func NewSDWebUI() *SDWebUI {
	m := &SDWebUI{
		image:      PNGStub,
		seed:       424242,
		checkpoint: "sd_xl_base_1.0.safetensors",
		samplers:   []string{"Euler a", "DPM++ 2M Karras", "DPM++ 2M SDE Karras"},
		calls:      make(map[string]int),
		requests:   make(map[string]map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sdapi/v1/txt2img", m.generate)
	mux.HandleFunc("POST /sdapi/v1/img2img", m.generate)
	mux.HandleFunc("GET /sdapi/v1/options", m.options)
	mux.HandleFunc("GET /sdapi/v1/samplers", m.samplerList)
	mux.HandleFunc("GET /sdapi/v1/sd-models", m.models)
	mux.HandleFunc("GET /sdapi/v1/progress", m.progress)
	mux.HandleFunc("POST /sdapi/v1/interrupt", m.interrupt)
	m.server = httptest.NewServer(mux)
	return m
}

// URL 返回替身的基础地址
func (m *SDWebUI) URL() string { return m.server.URL }

// Close 关闭替身服务
func (m *SDWebUI) Close() { m.server.Close() }

// WithImage 设置返回的图像
func (m *SDWebUI) WithImage(data []byte) *SDWebUI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = data
	return m
}

// WithSeed 设置 info 中回报的种子
func (m *SDWebUI) WithSeed(seed int64) *SDWebUI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed = seed
	return m
}

// WithFailure 让生成端点以 status 失败 times 次，times < 0 表示始终失败
func (m *SDWebUI) WithFailure(status int, message string, times int) *SDWebUI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
	m.failMessage = message
	m.failTimes = times
	return m
}

// WithDelay 为生成端点增加延迟
func (m *SDWebUI) WithDelay(d time.Duration) *SDWebUI {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Calls 返回某个路径被调用的次数
func (m *SDWebUI) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

// LastRequest 返回某个路径最近一次收到的 JSON 请求体
func (m *SDWebUI) LastRequest(path string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

func (m *SDWebUI) record(r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[r.URL.Path]++
	if r.Body == nil || r.Method != http.MethodPost {
		return
	}
	var body map[string]any
	if json.NewDecoder(r.Body).Decode(&body) == nil {
		m.requests[r.URL.Path] = body
	}
}

// shouldFail 消耗一次失败配额
func (m *SDWebUI) shouldFail() (int, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatus == 0 || m.failTimes == 0 {
		return 0, "", false
	}
	if m.failTimes > 0 {
		m.failTimes--
	}
	return m.failStatus, m.failMessage, true
}

func (m *SDWebUI) generate(w http.ResponseWriter, r *http.Request) {
	m.record(r)

	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status, msg, fail := m.shouldFail(); fail {
		writeJSON(w, status, map[string]any{"detail": msg})
		return
	}

	m.mu.Lock()
	img := base64.StdEncoding.EncodeToString(m.image)
	info := fmt.Sprintf(`{"seed": %d}`, m.seed)
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"images":     []string{img},
		"parameters": map[string]any{},
		"info":       info,
	})
}

func (m *SDWebUI) options(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"sd_model_checkpoint": m.checkpoint})
}

func (m *SDWebUI) samplerList(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.samplers))
	for _, s := range m.samplers {
		out = append(out, map[string]any{"name": s, "aliases": []string{}})
	}
	writeJSON(w, http.StatusOK, out)
}

func (m *SDWebUI) models(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	writeJSON(w, http.StatusOK, []map[string]any{
		{"title": m.checkpoint + " [31e35c80fc]", "model_name": "sd_xl_base_1.0", "hash": "31e35c80fc"},
	})
}

func (m *SDWebUI) progress(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"progress":     0.5,
		"eta_relative": 3.2,
		"state": map[string]any{
			"job":            "txt2img",
			"sampling_step":  10,
			"sampling_steps": 20,
		},
	})
}

func (m *SDWebUI) interrupt(w http.ResponseWriter, r *http.Request) {
	m.record(r)
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
