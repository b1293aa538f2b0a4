package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPOptions configures the MCP connector.
type MCPOptions struct {
	ClientName    string
	ClientVersion string
	HTTPClient    *http.Client
}

// MCPConnector opens sessions with the MCP go-sdk client.
type MCPConnector struct {
	opts MCPOptions
	// transportFor builds the transport for a config. Tests replace it.
	transportFor func(cfg ServerConfig) (mcp.Transport, error)
}

// NewMCPConnector creates a connector for stdio, SSE and streamable HTTP servers.
func NewMCPConnector(opts MCPOptions) *MCPConnector {
	if opts.ClientName == "" {
		opts.ClientName = "taskpilot"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "dev"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	c := &MCPConnector{opts: opts}
	c.transportFor = c.transport
	return c
}

func (c *MCPConnector) transport(cfg ServerConfig) (mcp.Transport, error) {
	switch cfg.TransportType() {
	case TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Dir = cfg.Cwd
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		return &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: c.httpClient(cfg)}, nil
	case TransportHTTP:
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: c.httpClient(cfg)}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.TransportType())
	}
}

func (c *MCPConnector) httpClient(cfg ServerConfig) *http.Client {
	if len(cfg.Headers) == 0 {
		return c.opts.HTTPClient
	}
	base := c.opts.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client := *c.opts.HTTPClient
	client.Transport = headerTransport{base: base, headers: cfg.Headers}
	return &client
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// Connect performs the MCP handshake, bounded by the server timeout.
func (c *MCPConnector) Connect(ctx context.Context, name string, cfg ServerConfig, notify NotificationFunc) (Session, error) {
	transport, err := c.transportFor(cfg)
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(&mcp.Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion}, &mcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *mcp.LoggingMessageRequest) {
			if notify == nil || req == nil || req.Params == nil {
				return
			}
			notify(Notification{
				Server:  name,
				Level:   string(req.Params.Level),
				Logger:  req.Params.Logger,
				Message: logData(req.Params.Data),
			})
		},
	})

	// Some transports bind their stream to the Connect context, so the
	// handshake runs on a detached context and the timeout is raced here.
	done := make(chan handshake, 1)
	go func() {
		sess, err := client.Connect(context.WithoutCancel(ctx), transport, nil)
		done <- handshake{sess, err}
	}()

	timer := time.NewTimer(cfg.RequestTimeout())
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("mcp handshake with %s: %w", name, r.err)
		}
		return &mcpSession{sess: r.sess}, nil
	case <-timer.C:
		go closeLate(done)
		return nil, fmt.Errorf("mcp handshake with %s: timed out after %v", name, cfg.RequestTimeout())
	case <-ctx.Done():
		go closeLate(done)
		return nil, fmt.Errorf("mcp handshake with %s: %w", name, ctx.Err())
	}
}

type handshake struct {
	sess *mcp.ClientSession
	err  error
}

// closeLate closes a session whose handshake finished after we gave up.
func closeLate(done <-chan handshake) {
	if h := <-done; h.sess != nil {
		h.sess.Close()
	}
}

func logData(data any) string {
	if s, ok := data.(string); ok {
		return s
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(b)
}

// mcpSession adapts *mcp.ClientSession to Session.
type mcpSession struct {
	sess *mcp.ClientSession
}

func (s *mcpSession) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var out []ToolInfo
	params := &mcp.ListToolsParams{}
	for {
		res, err := s.sess.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			info := ToolInfo{Name: t.Name, Description: t.Description}
			if t.InputSchema != nil {
				if schema, err := json.Marshal(t.InputSchema); err == nil {
					info.InputSchema = schema
				}
			}
			out = append(out, info)
		}
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *mcpSession) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	var out []ResourceInfo
	params := &mcp.ListResourcesParams{}
	for {
		res, err := s.sess.ListResources(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, r := range res.Resources {
			out = append(out, ResourceInfo{URI: r.URI, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListResourcesParams{Cursor: res.NextCursor}
	}
}

func (s *mcpSession) ListResourceTemplates(ctx context.Context) ([]ResourceTemplateInfo, error) {
	var out []ResourceTemplateInfo
	params := &mcp.ListResourceTemplatesParams{}
	for {
		res, err := s.sess.ListResourceTemplates(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, r := range res.ResourceTemplates {
			out = append(out, ResourceTemplateInfo{URITemplate: r.URITemplate, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListResourceTemplatesParams{Cursor: res.NextCursor}
	}
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	res, err := s.sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	out := &CallResult{IsError: res.IsError}
	for _, c := range res.Content {
		out.Content = append(out.Content, convertContent(c)...)
	}
	return out, nil
}

func (s *mcpSession) ReadResource(ctx context.Context, uri string) (*ResourceResult, error) {
	res, err := s.sess.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	out := &ResourceResult{}
	for _, rc := range res.Contents {
		out.Contents = append(out.Contents, resourceContent(rc))
	}
	return out, nil
}

func (s *mcpSession) Wait() error  { return s.sess.Wait() }
func (s *mcpSession) Close() error { return s.sess.Close() }

func convertContent(c mcp.Content) []Content {
	switch v := c.(type) {
	case *mcp.TextContent:
		return []Content{{Type: ContentText, Text: v.Text}}
	case *mcp.ImageContent:
		return []Content{{Type: ContentImage, MIMEType: v.MIMEType, Data: base64.StdEncoding.EncodeToString(v.Data)}}
	case *mcp.EmbeddedResource:
		if v.Resource == nil {
			return nil
		}
		return []Content{resourceContent(v.Resource)}
	case *mcp.ResourceLink:
		return []Content{{Type: ContentResource, URI: v.URI, Text: v.Name}}
	default:
		return nil
	}
}

func resourceContent(rc *mcp.ResourceContents) Content {
	out := Content{Type: ContentResource, URI: rc.URI, MIMEType: rc.MIMEType, Text: rc.Text}
	if len(rc.Blob) > 0 {
		out.Data = base64.StdEncoding.EncodeToString(rc.Blob)
	}
	return out
}

var _ Connector = (*MCPConnector)(nil)
