// Blender 是场景宿主插件 socket 的测试替身。
//
// 监听本地 TCP 端口，按 {"type","params"} 解析命令并维护一个
// 最小的场景对象列表，可注入命令失败。只接受插件真实提供的命令，
// execute_code 不执行脚本，只按脚本中的 light_add/camera_add 调用更新对象列表。
package mocks

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	lookupRe = regexp.MustCompile(`bpy\.data\.objects\.get\(("(?:[^"\\]|\\.)*")\)`)
	lightRe  = regexp.MustCompile(`light_add\(type='(\w+)', location=\(([^)]*)\)\)`)
	cameraRe = regexp.MustCompile(`camera_add\(location=\(([^)]*)\)\)`)
)

// Command 替身收到的一条命令
type Command struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// SceneObject 场景中的对象
type SceneObject struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Location []float64 `json:"location"`
}

// Blender 模拟 Blender 插件
type Blender struct {
	ln net.Listener
	wg sync.WaitGroup

	mu          sync.Mutex
	objects     []SceneObject
	commands    []Command
	failures    map[string]string
	conns       map[net.Conn]struct{}
	connections int
	closed      bool
}

// NewBlender 在 127.0.0.1 随机端口上启动替身，监听失败时 panic
func NewBlender() *Blender {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("mocks: failed to listen: %v", err))
	}
	b := &Blender{
		ln:       ln,
		failures: make(map[string]string),
		conns:    make(map[net.Conn]struct{}),
	}
	b.wg.Add(1)
	go b.serve()
	return b
}

// Addr 返回 host:port
func (b *Blender) Addr() string { return b.ln.Addr().String() }

// Host 返回监听地址
func (b *Blender) Host() string {
	host, _, _ := net.SplitHostPort(b.Addr())
	return host
}

// Port 返回监听端口
func (b *Blender) Port() int {
	_, port, _ := net.SplitHostPort(b.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Close 停止监听并等待连接处理结束
func (b *Blender) Close() {
	b.mu.Lock()
	b.closed = true
	for c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	_ = b.ln.Close()
	b.wg.Wait()
}

// WithObjects 预置场景对象
func (b *Blender) WithObjects(objs ...SceneObject) *Blender {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = append(b.objects, objs...)
	return b
}

// WithFailure 让某条命令返回 status=error
func (b *Blender) WithFailure(command, message string) *Blender {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[command] = message
	return b
}

// Commands 返回已收到命令的副本
func (b *Blender) Commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Command, len(b.commands))
	copy(out, b.commands)
	return out
}

// CommandTypes 按顺序返回已收到命令的类型
func (b *Blender) CommandTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.commands))
	for _, c := range b.commands {
		out = append(out, c.Type)
	}
	return out
}

// ExecutedCode 按顺序返回 execute_code 收到的脚本
func (b *Blender) ExecutedCode() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.commands {
		if c.Type == "execute_code" {
			code, _ := c.Params["code"].(string)
			out = append(out, code)
		}
	}
	return out
}

// Objects 返回当前场景对象
func (b *Blender) Objects() []SceneObject {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SceneObject, len(b.objects))
	copy(out, b.objects)
	return out
}

// Connections 返回已接受的连接数
func (b *Blender) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connections
}

func (b *Blender) serve() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		b.mu.Lock()
		b.connections++
		b.conns[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.handleConn(conn)
	}
}

func (b *Blender) handleConn(conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var cmd Command
		if err := dec.Decode(&cmd); err != nil {
			return
		}
		if err := enc.Encode(b.handle(cmd)); err != nil {
			return
		}
	}
}

func (b *Blender) handle(cmd Command) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.commands = append(b.commands, cmd)
	if msg, ok := b.failures[cmd.Type]; ok {
		return map[string]any{"status": "error", "message": msg}
	}

	switch cmd.Type {
	case "get_scene_info":
		return success(map[string]any{
			"name":         "Scene",
			"object_count": len(b.objects),
			"objects":      append([]SceneObject(nil), b.objects...),
		})

	case "import_hunyuan3d_model":
		data, _ := cmd.Params["model_data"].(string)
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil || len(raw) == 0 {
			return success(map[string]any{"error": "model_data is not valid base64"})
		}
		name, _ := cmd.Params["name"].(string)
		if name == "" {
			name = "Hunyuan3D_Model"
		}
		b.objects = append(b.objects, SceneObject{Name: name, Type: "MESH", Location: []float64{0, 0, 0}})
		return success(map[string]any{"name": name, "message": fmt.Sprintf("Imported %s (%d bytes)", name, len(raw))})

	case "execute_code":
		return b.execute(cmd.Params)

	// Hyper3D Rodin 导入
	case "import_generated_asset":
		_, task := cmd.Params["task_uuid"].(string)
		_, req := cmd.Params["request_id"].(string)
		if !task && !req {
			return map[string]any{"status": "error", "message": "task_uuid or request_id required"}
		}
		return success(map[string]any{"succeed": false, "error": "no generated asset"})

	// Poly Haven 贴图，texture_id 必须已下载
	case "set_texture":
		object, _ := cmd.Params["object_name"].(string)
		id, _ := cmd.Params["texture_id"].(string)
		if object == "" || id == "" {
			return map[string]any{"status": "error", "message": "object_name and texture_id required"}
		}
		return success(map[string]any{"error": "Could not find any images for texture: " + id})

	default:
		return map[string]any{"status": "error", "message": "Unknown command type: " + cmd.Type}
	}
}

func success(result map[string]any) map[string]any {
	return map[string]any{"status": "success", "result": result}
}

func (b *Blender) execute(params map[string]any) map[string]any {
	code, _ := params["code"].(string)
	if strings.TrimSpace(code) == "" {
		return map[string]any{"status": "error", "message": "code is required"}
	}

	var name string
	if m := lookupRe.FindStringSubmatch(code); m != nil {
		_ = json.Unmarshal([]byte(m[1]), &name)
		if !b.hasObject(name) {
			return map[string]any{"status": "error", "message": "Code execution error: object not found: " + name}
		}
	}

	for _, m := range lightRe.FindAllStringSubmatch(code, -1) {
		b.objects = append(b.objects, SceneObject{
			Name:     fmt.Sprintf("%s_%d", m[1], len(b.objects)),
			Type:     "LIGHT",
			Location: floats(m[2]),
		})
	}
	for _, m := range cameraRe.FindAllStringSubmatch(code, -1) {
		b.objects = append(b.objects, SceneObject{
			Name:     fmt.Sprintf("Camera_%d", len(b.objects)),
			Type:     "CAMERA",
			Location: floats(m[1]),
		})
	}
	return success(map[string]any{"executed": true, "result": name + "\n"})
}

func (b *Blender) hasObject(name string) bool {
	for _, o := range b.objects {
		if o.Name == name {
			return true
		}
	}
	return false
}

// floats 解析 "5, 5, 10"
func floats(s string) []float64 {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
			out = append(out, f)
		}
	}
	return out
}
