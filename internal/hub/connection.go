package hub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout is the request timeout for servers that do not set one.
const DefaultTimeout = 60 * time.Second

// Status is the lifecycle state of a connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Transport names.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// ServerConfig describes one capability server.
type ServerConfig struct {
	Type        string            `json:"type,omitempty" yaml:"type,omitempty"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Disabled    bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	AutoApprove []string          `json:"autoApprove,omitempty" yaml:"autoApprove,omitempty"`
}

// TransportType returns the configured transport, inferring it when unset:
// a command means stdio, a URL means streamable HTTP.
func (c ServerConfig) TransportType() string {
	if c.Type != "" {
		return strings.ToLower(c.Type)
	}
	if c.Command != "" {
		return TransportStdio
	}
	if c.URL != "" {
		return TransportHTTP
	}
	return ""
}

// Validate checks that the transport has what it needs.
func (c ServerConfig) Validate() error {
	switch c.TransportType() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio server requires a command")
		}
	case TransportSSE, TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("%s server requires a url", c.TransportType())
		}
	case "":
		return fmt.Errorf("server requires a command or url")
	default:
		return fmt.Errorf("unknown transport type %q", c.Type)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// TimeoutMillis returns the request timeout in milliseconds.
func (c ServerConfig) TimeoutMillis() int64 {
	if c.Timeout > 0 {
		return int64(c.Timeout) * 1000
	}
	return DefaultTimeout.Milliseconds()
}

// RequestTimeout returns the request timeout as a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutMillis()) * time.Millisecond
}

// Canonical serializes the config for structural comparison. Map keys are
// sorted by encoding/json, so equal configs serialize identically.
func (c ServerConfig) Canonical() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// ToolInfo is a tool exposed by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	AutoApprove bool            `json:"autoApprove,omitempty"`
}

// ResourceInfo is a resource exposed by a server.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceTemplateInfo is a parameterized resource exposed by a server.
type ResourceTemplateInfo struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Connection is a snapshot of one managed server binding.
type Connection struct {
	Name              string                 `json:"name"`
	Config            string                 `json:"config"`
	Status            Status                 `json:"status"`
	Error             string                 `json:"error,omitempty"`
	Disabled          bool                   `json:"disabled,omitempty"`
	Tools             []ToolInfo             `json:"tools,omitempty"`
	Resources         []ResourceInfo         `json:"resources,omitempty"`
	ResourceTemplates []ResourceTemplateInfo `json:"resourceTemplates,omitempty"`
}

// conn is the hub's mutable record for a connection.
type conn struct {
	Connection
	cfg     ServerConfig
	session Session
}

// appendError adds msg to the error log. Earlier errors are kept.
func (c *conn) appendError(msg string) {
	if c.Error == "" {
		c.Error = msg
		return
	}
	c.Error += "\n" + msg
}

func (c *conn) snapshot() Connection {
	s := c.Connection
	s.Tools = append([]ToolInfo(nil), c.Tools...)
	s.Resources = append([]ResourceInfo(nil), c.Resources...)
	s.ResourceTemplates = append([]ResourceTemplateInfo(nil), c.ResourceTemplates...)
	return s
}
