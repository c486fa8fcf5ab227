package types

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one entry of the caller-supplied conversation history.
// The gateway forwards turns as given and never edits them.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound body accepted on chat routes. Callers send either
// an explicit message plus history, or the whole conversation in messages.
type ChatRequest struct {
	Message   string     `json:"message,omitempty"`
	Messages  []ChatTurn `json:"messages,omitempty"`
	History   []ChatTurn `json:"history,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// QueryRequest is the body sent to the inference backend's query endpoints.
type QueryRequest struct {
	Message   string     `json:"message"`
	History   []ChatTurn `json:"history"`
	SessionID string     `json:"session_id,omitempty"`
}

// RouteKind selects how a protected API call is shaped before forwarding.
type RouteKind string

const (
	KindChat       RouteKind = "chat"
	KindChatStream RouteKind = "chat_stream"
	KindJSON       RouteKind = "json"
	KindMultipart  RouteKind = "multipart"

	// KindPassthrough forwards method, query and body as sent.
	KindPassthrough RouteKind = "passthrough"
)

func ParseRouteKind(s string) (RouteKind, bool) {
	switch RouteKind(s) {
	case KindChat, KindChatStream, KindJSON, KindMultipart, KindPassthrough:
		return RouteKind(s), true
	default:
		return "", false
	}
}

// ResponseMode selects what happens to a successful backend reply.
type ResponseMode string

const (
	ResponseNormalize   ResponseMode = "normalize"
	ResponsePassthrough ResponseMode = "passthrough"
)
