package hub

import "context"

// ContentType tags a result content item.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentResource ContentType = "resource"
)

// Content is one item of a tool or resource result.
// Data holds base64 for images and binary resources.
type Content struct {
	Type     ContentType
	Text     string
	Data     string
	MIMEType string
	URI      string
}

// CallResult is the outcome of a remote tool call.
type CallResult struct {
	Content []Content
	IsError bool
}

// ResourceResult is the outcome of a resource read.
type ResourceResult struct {
	Contents []Content
}

// Notification is an out-of-band log message from a server.
type Notification struct {
	Server  string
	Level   string
	Logger  string
	Message string
}

// NotificationFunc receives server notifications.
type NotificationFunc func(Notification)

// Session is a live connection to one server.
type Session interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	ListResourceTemplates(ctx context.Context) ([]ResourceTemplateInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	ReadResource(ctx context.Context, uri string) (*ResourceResult, error)
	// Wait blocks until the transport closes.
	Wait() error
	Close() error
}

// Connector opens sessions for server configs.
type Connector interface {
	Connect(ctx context.Context, name string, cfg ServerConfig, notify NotificationFunc) (Session, error)
}
