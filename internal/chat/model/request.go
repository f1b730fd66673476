package model

// ChatRequest is the inbound chat payload. EnableTools and UseRAG carry
// pointer-typed JSON bindings at the HTTP boundary; by the time a request
// reaches the orchestrator the defaults (tools on, RAG off) are resolved.
type ChatRequest struct {
	UserID      string
	SessionID   string
	Message     string
	EnableTools bool
	UseRAG      bool
}

// OutputEventType discriminates the caller-facing event channel.
type OutputEventType string

const (
	// EventText carries a model text delta, in production order.
	EventText OutputEventType = "text"
	// EventThought is a structured progress notification (tool execution,
	// truncation notices). Never part of the answer text.
	EventThought OutputEventType = "thought"
	// EventError is the single terminal error notification of a failed turn.
	EventError OutputEventType = "error"
)

// OutputEvent is one element of the live response stream for a turn.
type OutputEvent struct {
	Type    OutputEventType `json:"type"`
	Content string          `json:"content"`
}
