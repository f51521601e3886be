package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/backend"
	"github.com/BaSui01/scenegen/backend/image"
	"github.com/BaSui01/scenegen/backend/mesh"
	"github.com/BaSui01/scenegen/backend/scene"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/preset"
	"github.com/BaSui01/scenegen/types"
)

var (
	testImage = []byte("\x89PNG-test-image")
	testMesh  = []byte("glTF-test-mesh")
)

type fakeImage struct {
	mu          sync.Mutex
	err         error
	delay       time.Duration
	unreachable bool
	calls       int
	last        image.Request
}

func (f *fakeImage) GenerateSync(ctx context.Context, req image.Request) (*types.Artifact, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, backend.ContextError(ctx, image.BackendName)
		}
	}
	if err != nil {
		return nil, err
	}
	return types.NewArtifact(types.ArtifactImage, "sdwebui://txt2img/test", "png", testImage), nil
}

func (f *fakeImage) Health(context.Context) types.ServiceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := types.ServiceStatus{Backend: image.BackendName, Reachable: !f.unreachable, Capabilities: []string{types.CapabilityTxt2Img}}
	if f.unreachable {
		st.Error = "connection refused"
	}
	return st
}

func (f *fakeImage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMesh struct {
	mu       sync.Mutex
	textTo3D bool
	err      error
	// block 阻塞直到 ctx 结束
	block       bool
	pending     int
	neverFinish bool
	calls       int
	polls       int
	last        mesh.Request
}

func (f *fakeMesh) record(req mesh.Request) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	return f.block, f.err
}

func (f *fakeMesh) GenerateSync(ctx context.Context, req mesh.Request) (*types.Artifact, error) {
	block, err := f.record(req)
	if block {
		<-ctx.Done()
		return nil, backend.ContextError(ctx, mesh.BackendName)
	}
	if err != nil {
		return nil, err
	}
	return types.NewArtifact(types.ArtifactMesh, "hunyuan3d://generate/test", "glb", testMesh), nil
}

func (f *fakeMesh) Submit(_ context.Context, req mesh.Request) (*mesh.Task, error) {
	if _, err := f.record(req); err != nil {
		return nil, err
	}
	return &mesh.Task{ID: "task-1", SubmittedAt: time.Now(), LastStatus: mesh.StatusQueued}, nil
}

func (f *fakeMesh) Poll(_ context.Context, _ *mesh.Task) (mesh.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.neverFinish || f.polls <= f.pending {
		return mesh.TaskStatus{Status: mesh.StatusProcessing, Progress: 50}, nil
	}
	return mesh.TaskStatus{Status: mesh.StatusCompleted, Progress: 100}, nil
}

func (f *fakeMesh) Download(_ context.Context, task *mesh.Task) (*types.Artifact, error) {
	return types.NewArtifact(types.ArtifactMesh, "hunyuan3d://task/"+task.ID, "glb", testMesh), nil
}

func (f *fakeMesh) Health(context.Context) types.ServiceStatus {
	caps := []string{types.CapabilityImageTo3D}
	f.mu.Lock()
	if f.textTo3D {
		caps = append(caps, types.CapabilityTextTo3D)
	}
	f.mu.Unlock()
	return types.ServiceStatus{Backend: mesh.BackendName, Reachable: true, Capabilities: caps}
}

func (f *fakeMesh) Last() mesh.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeMesh) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeScene struct {
	mu          sync.Mutex
	err         error
	unreachable bool
	calls       int
	last        scene.Metadata
}

func (f *fakeScene) Assemble(_ context.Context, m *types.Artifact, md scene.Metadata) (*scene.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = md
	if f.err != nil {
		return nil, f.err
	}
	name := md.ObjectName
	if name == "" {
		name = "scenegen_" + m.Digest
	}
	return &scene.Handle{
		Object:        name,
		Ref:           "blender://scene/" + name,
		Lights:        2,
		Camera:        true,
		MaterialBound: len(md.TextureImage) > 0,
		AssembledAt:   time.Now(),
	}, nil
}

func (f *fakeScene) Health(context.Context) types.ServiceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.ServiceStatus{Backend: scene.BackendName, Reachable: !f.unreachable, Capabilities: []string{types.CapabilityImport}}
}

func (f *fakeScene) Last() (scene.Metadata, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.calls
}

// eventLog 记录引擎发出的事件
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// memoryStore 测试用报告存储
type memoryStore struct {
	mu      sync.Mutex
	reports map[string]*Report
	saves   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{reports: make(map[string]*Report)}
}

func (s *memoryStore) Save(_ context.Context, rep *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.reports[rep.ID] = rep
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "run %s not found", id)
	}
	return rep, nil
}

func (s *memoryStore) List(_ context.Context, limit int) ([]*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakes struct {
	image  *fakeImage
	mesh   *fakeMesh
	scene  *fakeScene
	events *eventLog
}

func newFakes() *fakes {
	return &fakes{
		image:  &fakeImage{},
		mesh:   &fakeMesh{textTo3D: true},
		scene:  &fakeScene{},
		events: &eventLog{},
	}
}

func (f *fakes) deps() Deps {
	return Deps{
		Image:   f.image,
		Mesh:    f.mesh,
		Scene:   f.scene,
		Presets: preset.NewRegistry(zap.NewNop()),
		Events:  f.events,
		Logger:  zap.NewNop(),
	}
}

func testWorkflowConfig() config.WorkflowConfig {
	cfg := config.DefaultWorkflowConfig()
	cfg.DefaultAsync = false
	cfg.HybridImageWindow = 500 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.MaxPollInterval = 5 * time.Millisecond
	cfg.TaskDeadline = 2 * time.Second
	cfg.ReportDir = ""
	return cfg
}

func newTestEngine(t *testing.T, f *fakes, mutate ...func(*config.WorkflowConfig)) *Engine {
	t.Helper()
	cfg := testWorkflowConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	e, err := NewEngine(cfg, f.deps())
	require.NoError(t, err)
	return e
}

func statuses(rep *Report) map[Stage]StageStatus {
	out := make(map[Stage]StageStatus, len(rep.Stages))
	for _, s := range rep.Stages {
		out[s.Stage] = s.Status
	}
	return out
}

func describe(rep *Report) string {
	s := fmt.Sprintf("outcome=%s", rep.Outcome)
	for _, st := range rep.Stages {
		s += fmt.Sprintf(" %s=%s", st.Stage, st.Status)
	}
	if rep.Error != nil {
		s += " error=" + rep.Error.Error()
	}
	return s
}
