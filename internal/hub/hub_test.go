package hub

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	closed   int
	calls    []string
	deadline time.Duration
	waitCh   chan error
	toolsErr error
	// hang makes resource listing block until its context ends.
	hang bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{waitCh: make(chan error, 1)}
}

func (s *fakeSession) ListTools(context.Context) ([]ToolInfo, error) {
	if s.toolsErr != nil {
		return nil, s.toolsErr
	}
	return []ToolInfo{{Name: "read_file"}, {Name: "write_file"}}, nil
}

func (s *fakeSession) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []ResourceInfo{{URI: "file:///a"}}, nil
}

func (s *fakeSession) ListResourceTemplates(context.Context) ([]ResourceTemplateInfo, error) {
	return nil, errors.New("method not found")
}

func (s *fakeSession) CallTool(ctx context.Context, name string, _ map[string]any) (*CallResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if dl, ok := ctx.Deadline(); ok {
		s.deadline = time.Until(dl)
	}
	return &CallResult{Content: []Content{{Type: ContentText, Text: "ok"}}}, nil
}

func (s *fakeSession) ReadResource(_ context.Context, uri string) (*ResourceResult, error) {
	return &ResourceResult{Contents: []Content{{Type: ContentResource, URI: uri, Text: "body"}}}, nil
}

func (s *fakeSession) Wait() error { return <-s.waitCh }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	select {
	case s.waitCh <- nil:
	default:
	}
	return nil
}

type fakeConnector struct {
	mu          sync.Mutex
	connects    map[string]int
	sessions    map[string][]*fakeSession
	fail        map[string]error
	toolsErr    error
	hang        bool
	notify      map[string]NotificationFunc
	reconciling []bool
	hub         *Hub
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		connects: make(map[string]int),
		sessions: make(map[string][]*fakeSession),
		fail:     make(map[string]error),
		notify:   make(map[string]NotificationFunc),
	}
}

func (c *fakeConnector) Connect(_ context.Context, name string, _ ServerConfig, notify NotificationFunc) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects[name]++
	if c.hub != nil {
		c.reconciling = append(c.reconciling, c.hub.IsReconciling())
	}
	if err := c.fail[name]; err != nil {
		return nil, err
	}
	s := newFakeSession()
	s.toolsErr = c.toolsErr
	s.hang = c.hang
	c.sessions[name] = append(c.sessions[name], s)
	c.notify[name] = notify
	return s, nil
}

func (c *fakeConnector) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects[name]
}

func (c *fakeConnector) session(name string, i int) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[name][i]
}

func newTestHub(t *testing.T) (*Hub, *fakeConnector) {
	t.Helper()
	fc := newFakeConnector()
	h := New(Options{Connector: fc})
	fc.hub = h
	t.Cleanup(func() { h.Dispose() })
	return h, fc
}

func stdio(cmd string) ServerConfig {
	return ServerConfig{Command: cmd}
}

func TestUpdateConnections_ReconnectsChangedOnly(t *testing.T) {
	h, fc := newTestHub(t)
	ctx := context.Background()

	require.NoError(t, h.UpdateConnections(ctx, map[string]ServerConfig{
		"fs":  stdio("fs-server"),
		"git": stdio("git-server"),
	}))
	assert.Equal(t, 1, fc.count("fs"))
	assert.Equal(t, 1, fc.count("git"))

	// Same config again is a no-op.
	require.NoError(t, h.UpdateConnections(ctx, map[string]ServerConfig{
		"fs":  stdio("fs-server"),
		"git": stdio("git-server"),
	}))
	assert.Equal(t, 1, fc.count("fs"))

	changed := stdio("fs-server")
	changed.Args = []string{"--root", "/tmp"}
	require.NoError(t, h.UpdateConnections(ctx, map[string]ServerConfig{
		"fs":  changed,
		"git": stdio("git-server"),
	}))

	assert.Equal(t, 2, fc.count("fs"), "fs should reconnect exactly once")
	assert.Equal(t, 1, fc.session("fs", 0).closed, "old fs session closed once")
	assert.Equal(t, 1, fc.count("git"), "git untouched")
	assert.Equal(t, 0, fc.session("git", 0).closed, "git session not closed")

	conn, ok := h.Connection("fs")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, conn.Status)
	assert.Equal(t, changed.Canonical(), conn.Config)
}

func TestUpdateConnections_RemovesAbsent(t *testing.T) {
	h, fc := newTestHub(t)
	ctx := context.Background()

	require.NoError(t, h.UpdateConnections(ctx, map[string]ServerConfig{"fs": stdio("a"), "web": stdio("b")}))
	require.NoError(t, h.UpdateConnections(ctx, map[string]ServerConfig{"fs": stdio("a")}))

	_, ok := h.Connection("web")
	assert.False(t, ok)
	assert.Equal(t, 1, fc.session("web", 0).closed)
	assert.Len(t, h.Connections(), 1)
}

func TestUpdateConnections_IsSerialized(t *testing.T) {
	h, fc := newTestHub(t)
	assert.False(t, h.IsReconciling())

	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": stdio("a")}))
	assert.Equal(t, []bool{true}, fc.reconciling)
	assert.False(t, h.IsReconciling())
}

func TestDisabledServerIsPlaceholder(t *testing.T) {
	h, fc := newTestHub(t)
	cfg := stdio("fs-server")
	cfg.Disabled = true

	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": cfg}))
	assert.Equal(t, 0, fc.count("fs"))

	conn, ok := h.Connection("fs")
	require.True(t, ok)
	assert.True(t, conn.Disabled)
	assert.Equal(t, StatusDisconnected, conn.Status)

	_, err := h.CallTool(context.Background(), "fs", "read_file", nil)
	assert.ErrorIs(t, err, ErrConnectionDisabled)
}

func TestCallTool_FailsFast(t *testing.T) {
	h, fc := newTestHub(t)
	fc.fail["broken"] = errors.New("spawn failed")

	_, err := h.CallTool(context.Background(), "missing", "x", nil)
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	err = h.UpdateConnections(context.Background(), map[string]ServerConfig{"broken": stdio("nope")})
	assert.Error(t, err)

	conn, _ := h.Connection("broken")
	assert.Equal(t, StatusDisconnected, conn.Status)
	assert.Contains(t, conn.Error, "spawn failed")

	_, err = h.CallTool(context.Background(), "broken", "x", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCallTool_UsesServerTimeout(t *testing.T) {
	h, fc := newTestHub(t)
	cfg := stdio("fs-server")
	cfg.Timeout = 5

	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": cfg}))
	res, err := h.CallTool(context.Background(), "fs", "read_file", map[string]any{"path": "a"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content[0].Text)

	s := fc.session("fs", 0)
	assert.Equal(t, []string{"read_file"}, s.calls)
	assert.InDelta(t, 5*time.Second, s.deadline, float64(time.Second))
}

func TestUpdateConnections_HungCatalogTimesOut(t *testing.T) {
	h, fc := newTestHub(t)
	fc.hang = true
	cfg := stdio("fs-server")
	cfg.Timeout = 1

	done := make(chan error, 1)
	go func() {
		done <- h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": cfg})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("UpdateConnections blocked on a hung server")
	}

	conn, ok := h.Connection("fs")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, conn.Status)
	assert.Len(t, conn.Tools, 2)
	assert.Empty(t, conn.Resources)

	fc.mu.Lock()
	fc.hang = false
	fc.mu.Unlock()
	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"other": stdio("other-server")}))
	assert.Equal(t, 1, fc.count("other"))
}

func TestServerConfig_TimeoutMillis(t *testing.T) {
	assert.Equal(t, int64(60000), ServerConfig{}.TimeoutMillis())
	assert.Equal(t, int64(30000), ServerConfig{Timeout: 30}.TimeoutMillis())
}

func TestCatalogFailuresDegrade(t *testing.T) {
	h, fc := newTestHub(t)
	fc.toolsErr = errors.New("tools/list failed")

	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": stdio("a")}))
	conn, _ := h.Connection("fs")
	assert.Equal(t, StatusConnected, conn.Status)
	assert.Empty(t, conn.Tools)
	assert.Len(t, conn.Resources, 1)
	assert.Empty(t, conn.ResourceTemplates)
}

func TestTransportFailureAccumulatesErrors(t *testing.T) {
	h, fc := newTestHub(t)
	var mu sync.Mutex
	var changes []Connection
	h.onChange = func(c Connection) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}

	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": stdio("a")}))
	fc.session("fs", 0).waitCh <- errors.New("broken pipe")

	require.Eventually(t, func() bool {
		conn, _ := h.Connection("fs")
		return conn.Status == StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	conn, _ := h.Connection("fs")
	assert.Contains(t, conn.Error, "broken pipe")

	// A reconnect that fails appends rather than replaces.
	h.mu.Lock()
	h.conns["fs"].appendError("second failure")
	h.mu.Unlock()
	conn, _ = h.Connection("fs")
	assert.Contains(t, conn.Error, "broken pipe")
	assert.Contains(t, conn.Error, "second failure")

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, changes)
}

func TestNotificationsForwarded(t *testing.T) {
	h, fc := newTestHub(t)
	got := make(chan Notification, 1)
	h.SetNotificationSink(func(n Notification) { got <- n })

	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": stdio("a")}))
	fc.notify["fs"](Notification{Level: "info", Message: "indexing"})

	select {
	case n := <-got:
		assert.Equal(t, "fs", n.Server)
		assert.Equal(t, "indexing", n.Message)
	case <-time.After(time.Second):
		t.Fatal("notification not forwarded")
	}
}

func TestAutoApprove(t *testing.T) {
	h, _ := newTestHub(t)
	cfg := stdio("a")
	cfg.AutoApprove = []string{"read_file"}
	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": cfg}))

	assert.True(t, h.IsAutoApproved("fs", "read_file"))
	assert.False(t, h.IsAutoApproved("fs", "write_file"))
	assert.False(t, h.IsAutoApproved("other", "read_file"))
}

func TestInitialize_ConnectsAll(t *testing.T) {
	h, fc := newTestHub(t)
	fc.fail["bad"] = errors.New("nope")

	require.NoError(t, h.Initialize(context.Background(), map[string]ServerConfig{
		"a":   stdio("a"),
		"b":   stdio("b"),
		"bad": stdio("c"),
	}))
	conns := h.Connections()
	require.Len(t, conns, 3)
	assert.Equal(t, StatusConnected, conns[0].Status)
	assert.Equal(t, StatusConnected, conns[1].Status)
	assert.Equal(t, StatusDisconnected, conns[2].Status)
}

func TestInvalidConfigRecorded(t *testing.T) {
	h, fc := newTestHub(t)
	err := h.UpdateConnections(context.Background(), map[string]ServerConfig{"x": {Type: "sse"}})
	assert.Error(t, err)
	assert.Equal(t, 0, fc.count("x"))
	conn, _ := h.Connection("x")
	assert.Contains(t, conn.Error, "requires a url")
}

func TestDispose(t *testing.T) {
	h, fc := newTestHub(t)
	require.NoError(t, h.UpdateConnections(context.Background(), map[string]ServerConfig{"fs": stdio("a")}))
	require.NoError(t, h.Dispose())
	assert.Empty(t, h.Connections())
	assert.Equal(t, 1, fc.session("fs", 0).closed)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	h, fc := newTestHub(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"fs": {"command": "a"}}}`), 0644))

	servers, err := LoadSettings(path)
	require.NoError(t, err)
	require.NoError(t, h.Initialize(context.Background(), servers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Watch(ctx, path))

	tmp := filepath.Join(dir, "servers.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{
		// switched binary
		"mcpServers": {"fs": {"command": "b"},},
	}`), 0644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return fc.count("fs") == 2 }, 3*time.Second, 20*time.Millisecond)
	conn, _ := h.Connection("fs")
	assert.Equal(t, stdio("b").Canonical(), conn.Config)
}
