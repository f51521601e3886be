// Hunyuan3D 是 Hunyuan3D API 服务的测试替身。
//
// 同步 /generate 直接返回 GLB 字节；异步 /send 建立任务，
// /status 在若干次 processing 之后报告 completed（或永不完成、或失败）。
package mocks

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// GLBStub 替身默认返回的网格字节
var GLBStub = []byte("glTF\x02\x00\x00\x00scenegen-test-mesh")

type meshTask struct {
	polls int
}

// Hunyuan3D 模拟 /generate、/send、/status/{uid}、/download/{uid} 与 /health
type Hunyuan3D struct {
	mu     sync.Mutex
	server *httptest.Server

	model []byte

	// 异步任务行为
	pendingPolls  int
	neverComplete bool
	taskFailure   string
	inline        bool
	aliases       bool

	// /generate 失败注入，failTimes < 0 表示始终失败
	failStatus  int
	failMessage string
	failTimes   int
	jsonError   string

	noHealth bool

	tasks  map[string]*meshTask
	nextID int
	calls  map[string]int
	bodies map[string]map[string]any
}

// NewHunyuan3D 启动替身服务
func NewHunyuan3D() *Hunyuan3D {
	m := &Hunyuan3D{
		model:        GLBStub,
		pendingPolls: 2,
		tasks:        make(map[string]*meshTask),
		calls:        make(map[string]int),
		bodies:       make(map[string]map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", m.generate)
	mux.HandleFunc("POST /send", m.send)
	mux.HandleFunc("GET /status/{uid}", m.status)
	mux.HandleFunc("GET /download/{uid}", m.download)
	mux.HandleFunc("GET /health", m.health)
	mux.HandleFunc("GET /{$}", m.root)
	m.server = httptest.NewServer(mux)
	return m
}

// URL 返回替身的基础地址
func (m *Hunyuan3D) URL() string { return m.server.URL }

// Close 关闭替身服务
func (m *Hunyuan3D) Close() { m.server.Close() }

// WithModel 设置返回的网格字节
func (m *Hunyuan3D) WithModel(data []byte) *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = data
	return m
}

// WithPendingPolls 设置任务完成前报告 processing 的次数
func (m *Hunyuan3D) WithPendingPolls(n int) *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingPolls = n
	return m
}

// WithNeverComplete 任务始终处于 processing
func (m *Hunyuan3D) WithNeverComplete() *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.neverComplete = true
	return m
}

// WithTaskFailure 任务在 pending 轮询之后以 message 失败
func (m *Hunyuan3D) WithTaskFailure(message string) *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskFailure = message
	return m
}

// WithInlineModel 完成状态直接携带 model_base64
func (m *Hunyuan3D) WithInlineModel() *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inline = true
	return m
}

// WithStatusAliases 使用 running/failed 代替 processing/error
func (m *Hunyuan3D) WithStatusAliases() *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases = true
	return m
}

// WithFailure 让 /generate 与 /send 以 status 失败 times 次
func (m *Hunyuan3D) WithFailure(status int, message string, times int) *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
	m.failMessage = message
	m.failTimes = times
	return m
}

// WithJSONError 让 /generate 以 200 + JSON 错误体应答
func (m *Hunyuan3D) WithJSONError(message string) *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jsonError = message
	return m
}

// WithoutHealthEndpoint 让 /health 返回 404，只能探测根路径
func (m *Hunyuan3D) WithoutHealthEndpoint() *Hunyuan3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noHealth = true
	return m
}

// Calls 返回某个端点（generate、send、status、download、health、root）的调用次数
func (m *Hunyuan3D) Calls(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[endpoint]
}

// LastRequest 返回 generate 或 send 最近一次的请求体
func (m *Hunyuan3D) LastRequest(endpoint string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[endpoint]
}

func (m *Hunyuan3D) record(endpoint string, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[endpoint]++
	if r.Method != http.MethodPost {
		return
	}
	var body map[string]any
	if json.NewDecoder(r.Body).Decode(&body) == nil {
		m.bodies[endpoint] = body
	}
}

func (m *Hunyuan3D) shouldFail() (int, string, bool) {
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

func (m *Hunyuan3D) generate(w http.ResponseWriter, r *http.Request) {
	m.record("generate", r)
	if status, msg, fail := m.shouldFail(); fail {
		writeJSON(w, status, map[string]any{"text": msg, "error_code": 1})
		return
	}

	m.mu.Lock()
	jsonErr := m.jsonError
	model := m.model
	m.mu.Unlock()

	if jsonErr != "" {
		writeJSON(w, http.StatusOK, map[string]any{"error": jsonErr})
		return
	}
	w.Header().Set("Content-Type", "model/gltf-binary")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(model)
}

func (m *Hunyuan3D) send(w http.ResponseWriter, r *http.Request) {
	m.record("send", r)
	if status, msg, fail := m.shouldFail(); fail {
		writeJSON(w, status, map[string]any{"detail": msg})
		return
	}

	m.mu.Lock()
	m.nextID++
	uid := fmt.Sprintf("task-%04d", m.nextID)
	m.tasks[uid] = &meshTask{}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"uid": uid})
}

func (m *Hunyuan3D) status(w http.ResponseWriter, r *http.Request) {
	m.record("status", r)
	uid := r.PathValue("uid")

	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[uid]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "task not found"})
		return
	}
	task.polls++

	processing, failed := "processing", "error"
	if m.aliases {
		processing, failed = "running", "failed"
	}

	if m.neverComplete || task.polls <= m.pendingPolls {
		progress := 0
		if m.pendingPolls > 0 {
			progress = min(99, task.polls*100/(m.pendingPolls+1))
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": processing, "progress": progress})
		return
	}
	if m.taskFailure != "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": failed, "error": m.taskFailure, "message": m.taskFailure})
		return
	}

	resp := map[string]any{"status": "completed", "progress": 100}
	if m.inline {
		resp["model_base64"] = base64.StdEncoding.EncodeToString(m.model)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *Hunyuan3D) download(w http.ResponseWriter, r *http.Request) {
	m.record("download", r)
	uid := r.PathValue("uid")

	m.mu.Lock()
	_, ok := m.tasks[uid]
	model := m.model
	m.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "task not found"})
		return
	}
	w.Header().Set("Content-Type", "model/gltf-binary")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(model)
}

func (m *Hunyuan3D) health(w http.ResponseWriter, r *http.Request) {
	m.record("health", r)
	m.mu.Lock()
	noHealth := m.noHealth
	m.mu.Unlock()
	if noHealth {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "version": "2.1"})
}

func (m *Hunyuan3D) root(w http.ResponseWriter, r *http.Request) {
	m.record("root", r)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Hunyuan3D API server"})
}
