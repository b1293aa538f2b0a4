// Package hub manages connections to external capability servers (MCP) and
// exposes their tools and resources.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrConnectionNotFound is returned for an unknown server name.
	ErrConnectionNotFound = errors.New("capability server not found")
	// ErrConnectionDisabled is returned for a server marked disabled.
	ErrConnectionDisabled = errors.New("capability server is disabled")
	// ErrNotConnected is returned when the server has no live session.
	ErrNotConnected = errors.New("capability server is not connected")
)

// Options configures a Hub.
type Options struct {
	Connector Connector
	Logger    *slog.Logger
	// OnNotification receives server log messages.
	OnNotification NotificationFunc
	// OnChange is called after a connection's state changes.
	OnChange func(Connection)
}

// Hub owns every capability connection. Reconciliations are serialized.
type Hub struct {
	connector Connector
	logger    *slog.Logger
	onChange  func(Connection)

	mu    sync.RWMutex
	conns map[string]*conn

	notifyMu sync.RWMutex
	notify   NotificationFunc

	reconcileMu sync.Mutex
	reconciling atomic.Bool
}

// New creates a hub with no connections.
func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	connector := opts.Connector
	if connector == nil {
		connector = NewMCPConnector(MCPOptions{})
	}
	return &Hub{
		connector: connector,
		logger:    logger.With("component", "hub"),
		onChange:  opts.OnChange,
		conns:     make(map[string]*conn),
		notify:    opts.OnNotification,
	}
}

// SetNotificationSink replaces the receiver of server notifications.
func (h *Hub) SetNotificationSink(fn NotificationFunc) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()
	h.notify = fn
}

func (h *Hub) forward(n Notification) {
	h.notifyMu.RLock()
	fn := h.notify
	h.notifyMu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

// IsReconciling reports whether UpdateConnections is in progress.
func (h *Hub) IsReconciling() bool {
	return h.reconciling.Load()
}

// Initialize connects every server concurrently. Per-server failures are
// recorded on their connections.
func (h *Hub) Initialize(ctx context.Context, servers map[string]ServerConfig) error {
	h.reconcileMu.Lock()
	defer h.reconcileMu.Unlock()
	h.reconciling.Store(true)
	defer h.reconciling.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	for name, cfg := range servers {
		g.Go(func() error {
			if err := h.connect(gctx, name, cfg); err != nil {
				h.logger.Warn("connect failed", "server", name, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// UpdateConnections reconciles the live set with servers: removed names are
// closed, new names connected, and names whose config changed are
// reconnected. Unchanged connections are left alone.
func (h *Hub) UpdateConnections(ctx context.Context, servers map[string]ServerConfig) error {
	h.reconcileMu.Lock()
	defer h.reconcileMu.Unlock()
	h.reconciling.Store(true)
	defer h.reconciling.Store(false)

	h.mu.RLock()
	current := make(map[string]string, len(h.conns))
	for name, c := range h.conns {
		current[name] = c.Config
	}
	h.mu.RUnlock()

	for name := range current {
		if _, ok := servers[name]; !ok {
			h.logger.Info("removing server", "server", name)
			h.remove(name)
		}
	}

	var errs []error
	for _, name := range sortedNames(servers) {
		cfg := servers[name]
		existing, ok := current[name]
		switch {
		case !ok:
			h.logger.Info("adding server", "server", name)
		case existing != cfg.Canonical():
			h.logger.Info("server config changed, reconnecting", "server", name)
			h.remove(name)
		default:
			continue
		}
		if err := h.connect(ctx, name, cfg); err != nil {
			errs = append(errs, fmt.Errorf("connect %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// connect creates the record for name and, unless disabled, opens a session
// and loads its catalogs.
func (h *Hub) connect(ctx context.Context, name string, cfg ServerConfig) error {
	c := &conn{
		Connection: Connection{
			Name:     name,
			Config:   cfg.Canonical(),
			Status:   StatusDisconnected,
			Disabled: cfg.Disabled,
		},
		cfg: cfg,
	}
	if cfg.Disabled {
		h.store(c)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		c.appendError(err.Error())
		h.store(c)
		return err
	}

	c.Status = StatusConnecting
	h.store(c)

	notify := func(n Notification) {
		n.Server = name
		h.forward(n)
	}
	sess, err := h.connector.Connect(ctx, name, cfg, notify)
	if err != nil {
		h.update(c, func(c *conn) {
			c.Status = StatusDisconnected
			c.appendError(err.Error())
		})
		return err
	}

	tools := h.fetchTools(ctx, name, cfg, sess)
	resources, err := bounded(ctx, cfg, sess.ListResources)
	if err != nil {
		h.logger.Debug("list resources failed", "server", name, "error", err)
		resources = nil
	}
	templates, err := bounded(ctx, cfg, sess.ListResourceTemplates)
	if err != nil {
		h.logger.Debug("list resource templates failed", "server", name, "error", err)
		templates = nil
	}

	live := h.update(c, func(c *conn) {
		c.session = sess
		c.Status = StatusConnected
		c.Tools = tools
		c.Resources = resources
		c.ResourceTemplates = templates
	})
	if !live {
		// Replaced or removed while the handshake was in flight.
		sess.Close()
		return nil
	}

	go h.monitor(c, sess)
	return nil
}

func (h *Hub) fetchTools(ctx context.Context, name string, cfg ServerConfig, sess Session) []ToolInfo {
	tools, err := bounded(ctx, cfg, sess.ListTools)
	if err != nil {
		h.logger.Debug("list tools failed", "server", name, "error", err)
		return nil
	}
	approved := make(map[string]bool, len(cfg.AutoApprove))
	for _, t := range cfg.AutoApprove {
		approved[t] = true
	}
	for i := range tools {
		tools[i].AutoApprove = approved[tools[i].Name]
	}
	return tools
}

// bounded runs one catalog request under the server's request timeout so
// a hung server cannot stall reconciliation.
func bounded[T any](ctx context.Context, cfg ServerConfig, list func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()
	return list(ctx)
}

// monitor marks the connection disconnected when its transport closes.
func (h *Hub) monitor(c *conn, sess Session) {
	err := sess.Wait()
	h.update(c, func(c *conn) {
		if c.session != sess {
			return
		}
		c.session = nil
		c.Status = StatusDisconnected
		msg := "transport closed"
		if err != nil {
			msg = fmt.Sprintf("transport closed: %v", err)
		}
		c.appendError(msg)
	})
	h.logger.Warn("server disconnected", "server", c.Name, "error", err)
}

// store installs c as the record for its name.
func (h *Hub) store(c *conn) {
	h.mu.Lock()
	h.conns[c.Name] = c
	snap := c.snapshot()
	h.mu.Unlock()
	h.changed(snap)
}

// update applies fn to c if c is still the live record for its name.
func (h *Hub) update(c *conn, fn func(*conn)) bool {
	h.mu.Lock()
	if h.conns[c.Name] != c {
		h.mu.Unlock()
		return false
	}
	fn(c)
	snap := c.snapshot()
	h.mu.Unlock()
	h.changed(snap)
	return true
}

// remove drops the record for name and closes its session.
func (h *Hub) remove(name string) {
	h.mu.Lock()
	c, ok := h.conns[name]
	if ok {
		delete(h.conns, name)
	}
	var sess Session
	if ok {
		sess = c.session
		c.session = nil
		c.Status = StatusDisconnected
	}
	h.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			h.logger.Debug("close session", "server", name, "error", err)
		}
	}
}

func (h *Hub) changed(c Connection) {
	if h.onChange != nil {
		h.onChange(c)
	}
}

// Connections returns snapshots of every connection sorted by name.
func (h *Hub) Connections() []Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Connection returns a snapshot of the named connection.
func (h *Hub) Connection(name string) (Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[name]
	if !ok {
		return Connection{}, false
	}
	return c.snapshot(), true
}

// liveSession returns the session and config for name or a descriptive error.
func (h *Hub) liveSession(name string) (Session, ServerConfig, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[name]
	switch {
	case !ok:
		return nil, ServerConfig{}, fmt.Errorf("%w: %q", ErrConnectionNotFound, name)
	case c.Disabled:
		return nil, ServerConfig{}, fmt.Errorf("%w: %q", ErrConnectionDisabled, name)
	case c.Status != StatusConnected || c.session == nil:
		return nil, ServerConfig{}, fmt.Errorf("%w: %q is %s", ErrNotConnected, name, c.Status)
	}
	return c.session, c.cfg, nil
}

// CallTool invokes tool on server with the server's request timeout.
func (h *Hub) CallTool(ctx context.Context, server, tool string, args map[string]any) (*CallResult, error) {
	sess, cfg, err := h.liveSession(server)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()

	res, err := sess.CallTool(ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("call %s/%s: %w", server, tool, err)
	}
	return res, nil
}

// ReadResource reads uri from server with the server's request timeout.
func (h *Hub) ReadResource(ctx context.Context, server, uri string) (*ResourceResult, error) {
	sess, cfg, err := h.liveSession(server)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()

	res, err := sess.ReadResource(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", uri, server, err)
	}
	return res, nil
}

// IsAutoApproved reports whether server lists tool in its autoApprove set.
func (h *Hub) IsAutoApproved(server, tool string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[server]
	if !ok {
		return false
	}
	for _, t := range c.Tools {
		if t.Name == tool {
			return t.AutoApprove
		}
	}
	return false
}

// Dispose closes every session and forgets all connections.
func (h *Hub) Dispose() error {
	h.reconcileMu.Lock()
	defer h.reconcileMu.Unlock()

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*conn)
	h.mu.Unlock()

	var errs []error
	for name, c := range conns {
		if c.session == nil {
			continue
		}
		if err := c.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func sortedNames(servers map[string]ServerConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
