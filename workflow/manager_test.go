package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/testutil"
	"github.com/BaSui01/scenegen/types"
)

func newTestManager(t *testing.T, f *fakes, mutate ...func(*config.WorkflowConfig)) (*Manager, *memoryStore) {
	t.Helper()
	cfg := testWorkflowConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	store := newMemoryStore()
	m, err := NewManager(cfg, f.deps(), store)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, store
}

func fastRequest() Request {
	return Request{Description: "a red apple", Preset: "fast"}
}

func waitTerminal(t *testing.T, m *Manager, id string) *Report {
	t.Helper()
	var rep *Report
	testutil.AssertEventuallyTrue(t, func() bool {
		r, err := m.Status(testutil.TestContext(t), id)
		if err != nil || !r.Terminal() {
			return false
		}
		rep = r
		return true
	}, 3*time.Second)
	return rep
}

func TestNewManager_RequiresStore(t *testing.T) {
	_, err := NewManager(testWorkflowConfig(), newFakes().deps(), nil)
	assert.Error(t, err)
}

func TestManager_RunSync(t *testing.T) {
	f := newFakes()
	m, store := newTestManager(t, f)

	rep, err := m.Run(testutil.TestContext(t), fastRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, rep.Outcome)
	assert.Zero(t, m.Active())

	stored, err := store.Get(testutil.TestContext(t), rep.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, stored.Outcome)
	assert.NotEmpty(t, f.events.Events(), "the configured sink still receives events")
}

func TestManager_SubmitCompletes(t *testing.T) {
	f := newFakes()
	m, store := newTestManager(t, f)

	id, err := m.Submit(testutil.TestContext(t), fastRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rep := waitTerminal(t, m, id)
	assert.Equal(t, OutcomeSucceeded, rep.Outcome)
	testutil.AssertEventuallyTrue(t, func() bool { return m.Active() == 0 }, time.Second)

	store.mu.Lock()
	saves := store.saves
	store.mu.Unlock()
	assert.GreaterOrEqual(t, saves, 2, "queued snapshot and final report")
}

func TestManager_StatusWhileRunning(t *testing.T) {
	f := newFakes()
	f.mesh.block = true
	m, _ := newTestManager(t, f)

	id, err := m.Submit(testutil.TestContext(t), fastRequest())
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return f.mesh.Calls() == 1 }, 2*time.Second)

	rep, err := m.Status(testutil.TestContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRunning, rep.Outcome)
	assert.Equal(t, StageModelGeneration, rep.CurrentStage)
	assert.Equal(t, StatusRunning, rep.Stage(StageModelGeneration).Status)
	assert.False(t, rep.Terminal())
	assert.Equal(t, 1, m.Active())
}

func TestManager_Cancel(t *testing.T) {
	f := newFakes()
	f.mesh.block = true
	m, _ := newTestManager(t, f)
	ctx := testutil.TestContext(t)

	id, err := m.Submit(ctx, fastRequest())
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return f.mesh.Calls() == 1 }, 2*time.Second)

	require.NoError(t, m.Cancel(ctx, id))
	rep := waitTerminal(t, m, id)
	assert.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, types.ErrCancelled, rep.Error.Code)

	testutil.AssertEventuallyTrue(t, func() bool { return m.Active() == 0 }, time.Second)
	testutil.AssertErrorCode(t, m.Cancel(ctx, id), types.ErrImmutable)
}

func TestManager_UnknownRun(t *testing.T) {
	m, _ := newTestManager(t, newFakes())
	ctx := testutil.TestContext(t)

	_, err := m.Status(ctx, "missing")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
	testutil.AssertErrorCode(t, m.Cancel(ctx, "missing"), types.ErrNotFound)
	_, _, err = m.Subscribe(ctx, "missing")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestManager_SubscribeStreamsUntilFinal(t *testing.T) {
	f := newFakes()
	f.image.delay = 100 * time.Millisecond
	m, _ := newTestManager(t, f)
	ctx := testutil.TestContext(t)

	id, err := m.Submit(ctx, Request{Description: "a lamp", Method: types.MethodImageFirst})
	require.NoError(t, err)
	ch, unsubscribe, err := m.Subscribe(ctx, id)
	require.NoError(t, err)
	defer unsubscribe()

	var events []Event
	deadline := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-ch:
			if !ok {
				done = true
				break
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("subscription never closed")
		}
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Final())
	assert.Equal(t, OutcomeSucceeded, last.Outcome)
	for _, ev := range events {
		assert.Equal(t, id, ev.RunID)
	}
}

func TestManager_SubscribeFinishedRun(t *testing.T) {
	m, _ := newTestManager(t, newFakes())
	ctx := testutil.TestContext(t)

	rep, err := m.Run(ctx, fastRequest())
	require.NoError(t, err)

	ch, unsubscribe, err := m.Subscribe(ctx, rep.ID)
	require.NoError(t, err)
	defer unsubscribe()

	ev, ok := <-ch
	require.True(t, ok)
	assert.True(t, ev.Final())
	assert.Equal(t, OutcomeSucceeded, ev.Outcome)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestManager_QueueFull(t *testing.T) {
	f := newFakes()
	f.mesh.block = true
	m, store := newTestManager(t, f, func(c *config.WorkflowConfig) {
		c.Workers = 1
		c.QueueSize = 1
	})
	ctx := testutil.TestContext(t)

	_, err := m.Submit(ctx, fastRequest())
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return m.PoolStats().Active == 1 }, 2*time.Second)

	_, err = m.Submit(ctx, fastRequest())
	require.NoError(t, err, "one slot in the queue")

	_, err = m.Submit(ctx, fastRequest())
	testutil.AssertErrorCode(t, err, types.ErrServiceUnavailable)
	assert.Equal(t, 2, m.Active(), "rejected runs are not tracked")
	assert.Equal(t, int64(1), m.PoolStats().Rejected)

	stored, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "rejected runs are not stored")
	listed, err := m.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestManager_RunCancelledWhileQueued(t *testing.T) {
	f := newFakes()
	f.mesh.block = true
	m, store := newTestManager(t, f, func(c *config.WorkflowConfig) {
		c.Workers = 1
		c.QueueSize = 1
	})
	ctx := testutil.TestContext(t)

	_, err := m.Submit(ctx, fastRequest())
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return m.PoolStats().Active == 1 }, 2*time.Second)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan *Report, 1)
	go func() {
		rep, _ := m.Run(runCtx, fastRequest())
		done <- rep
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return m.Active() == 2 }, 2*time.Second)
	cancel()

	rep, ok := testutil.WaitForChannel(done, 2*time.Second)
	require.True(t, ok)
	require.NotNil(t, rep)
	assert.Equal(t, OutcomeFailed, rep.Outcome)
	require.NotNil(t, rep.Error)
	assert.Equal(t, types.ErrCancelled, rep.Error.Code)
	assert.Equal(t, 1, f.mesh.Calls(), "the queued run never reached the mesh service")

	stored, err := store.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, stored.Outcome)
}

func TestManager_RunAfterClose(t *testing.T) {
	m, _ := newTestManager(t, newFakes())
	m.Close()

	rep, err := m.Run(testutil.TestContext(t), fastRequest())
	assert.Nil(t, rep)
	testutil.AssertErrorCode(t, err, types.ErrServiceUnavailable)
}

func TestManager_List(t *testing.T) {
	f := newFakes()
	m, _ := newTestManager(t, f)
	ctx := testutil.TestContext(t)

	first, err := m.Run(ctx, fastRequest())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Run(ctx, fastRequest())
	require.NoError(t, err)

	all, err := m.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	one, err := m.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, second.ID, one[0].ID)
}

func TestManager_CloseCancelsInFlight(t *testing.T) {
	f := newFakes()
	f.mesh.block = true
	store := newMemoryStore()
	m, err := NewManager(testWorkflowConfig(), f.deps(), store)
	require.NoError(t, err)

	id, err := m.Submit(testutil.TestContext(t), fastRequest())
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return f.mesh.Calls() == 1 }, 2*time.Second)

	m.Close()
	rep, err := store.Get(testutil.TestContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, types.ErrCancelled, rep.Error.Code)

	_, err = m.Submit(testutil.TestContext(t), fastRequest())
	testutil.AssertErrorCode(t, err, types.ErrServiceUnavailable)
}
