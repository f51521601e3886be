package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/circuitbreaker"
	"github.com/BaSui01/scenegen/types"
)

// BackendName 指标与错误中使用的后端名称
const BackendName = "blender"

// 插件命令
const (
	CmdGetSceneInfo = "get_scene_info"
	CmdImportModel  = "import_hunyuan3d_model"
	CmdExecuteCode  = "execute_code"
)

type command struct {
	Type   string `json:"type"`
	Params any    `json:"params"`
}

type response struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
}

// Object 场景中的一个对象
type Object struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Location []float64 `json:"location,omitempty"`
}

// Info get_scene_info 的结果
type Info struct {
	Name        string   `json:"name"`
	ObjectCount int      `json:"object_count"`
	Objects     []Object `json:"objects"`
}

// HasType 报告场景中是否存在某类对象（MESH、LIGHT、CAMERA）
func (i Info) HasType(kind string) bool {
	for _, o := range i.Objects {
		if o.Type == kind {
			return true
		}
	}
	return false
}

// Client Blender 插件 socket 客户端
type Client struct {
	cfg    config.SceneConfig
	addr   string
	dialer net.Dialer
	guard  *backend.Guard
	logger *zap.Logger
}

// New 创建 Blender 客户端
func New(cfg config.SceneConfig, recorder backend.Recorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger = logger.With(zap.String("component", "scene_client"), zap.String("backend", BackendName))

	return &Client{
		cfg:    cfg,
		addr:   cfg.Addr(),
		dialer: net.Dialer{Timeout: cfg.Timeout},
		// 场景宿主是单线程的，导入操作不可重试
		guard: backend.NewGuard(backend.GuardConfig{
			Name:          BackendName,
			MaxConcurrent: cfg.MaxConcurrent,
			Breaker:       &circuitbreaker.Config{Threshold: 3, ResetTimeout: 30 * time.Second},
			Recorder:      recorder,
			Logger:        logger,
		}),
		logger: logger,
	}
}

// Name 返回后端名称
func (c *Client) Name() string { return BackendName }

// Open 建立一条会话连接，连接失败返回 SERVICE_UNAVAILABLE
func (c *Client) Open(ctx context.Context) (*Session, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, backend.TransportError(ctx, err, BackendName)
	}
	return &Session{
		conn:    conn,
		dec:     json.NewDecoder(conn),
		timeout: c.cfg.Timeout,
		logger:  c.logger,
	}, nil
}

// SceneInfo 单独查询一次场景信息
func (c *Client) SceneInfo(ctx context.Context) (Info, error) {
	var info Info
	err := c.guard.Observe(ctx, "scene_info", func(ctx context.Context) error {
		s, err := c.Open(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Send(ctx, CmdGetSceneInfo, map[string]any{}, &info)
	})
	return info, err
}

// Health 通过 get_scene_info 探测宿主
func (c *Client) Health(ctx context.Context) types.ServiceStatus {
	start := time.Now()
	info, err := c.SceneInfo(ctx)
	st := backend.Check(BackendName, start, err, types.CapabilityImport, types.CapabilityTexture)
	if err == nil {
		st.Version = info.Name
	}
	return st
}

// Session 单条 TCP 连接，命令在其上串行发送，不可并发使用
type Session struct {
	conn    net.Conn
	dec     *json.Decoder
	timeout time.Duration
	logger  *zap.Logger
}

// Send 发送一条命令并等待响应，result 非 nil 时解码到 out。
// 宿主返回 status=error、result 中带 error 字段或通信失败时返回 ASSEMBLY_ERROR。
func (s *Session) Send(ctx context.Context, cmd string, params any, out any) error {
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return assemblyError(cmd, "set deadline", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer stop()

	payload, err := json.Marshal(command{Type: cmd, Params: params})
	if err != nil {
		return types.NewError(types.ErrValidation, "encode command").WithBackend(BackendName).WithCause(err)
	}
	if _, err := s.conn.Write(payload); err != nil {
		return s.ioError(ctx, cmd, "write", err)
	}

	var resp response
	if err := s.dec.Decode(&resp); err != nil {
		return s.ioError(ctx, cmd, "read", err)
	}
	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		return types.NewError(types.ErrAssembly, fmt.Sprintf("%s: %s", cmd, msg)).WithBackend(BackendName)
	}
	if msg := resultError(resp.Result); msg != "" {
		return types.NewError(types.ErrAssembly, fmt.Sprintf("%s: %s", cmd, msg)).WithBackend(BackendName)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return assemblyError(cmd, "decode result", err)
		}
	}

	s.logger.Debug("scene command ok", zap.String("command", cmd))
	return nil
}

// resultError 插件部分命令以 status=success 返回 {"error": "..."}
func resultError(raw json.RawMessage) string {
	var r struct {
		Error string `json:"error"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &r) != nil {
		return ""
	}
	return r.Error
}

func (s *Session) ioError(ctx context.Context, cmd, op string, err error) error {
	if ctx.Err() != nil {
		return backend.ContextError(ctx, BackendName).WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return assemblyError(cmd, op+" timed out", err)
	}
	return assemblyError(cmd, op, err)
}

func assemblyError(cmd, what string, err error) *types.Error {
	return types.NewError(types.ErrAssembly, fmt.Sprintf("%s: %s", cmd, what)).
		WithBackend(BackendName).
		WithCause(err)
}

// Close 关闭连接
func (s *Session) Close() error {
	return s.conn.Close()
}
