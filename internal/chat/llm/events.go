package llm

import "github.com/cloudwego/eino/schema"

// EventKind discriminates the incremental generation events of one provider
// round-trip.
type EventKind int

const (
	// KindTextDelta carries one incremental fragment of answer text.
	KindTextDelta EventKind = iota
	// KindToolCall carries one complete model-issued tool call request.
	// Tool calls are delivered after the text of the round, before KindTurnEnd.
	KindToolCall
	// KindTurnEnd marks a successfully completed provider round-trip.
	KindTurnEnd
	// KindError is terminal: the provider failed mid-round. No further events
	// follow it.
	KindError
)

// Event is one element of the streaming generation protocol.
type Event struct {
	Kind     EventKind
	Text     string          // KindTextDelta
	ToolCall schema.ToolCall // KindToolCall
	Err      error           // KindError
}
