package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/converso/server/internal/core/errx"
	logx "github.com/converso/server/pkg/logger"
)

// Streamer is the orchestrator's boundary to the generation provider. Stream
// never retries and never panics mid-stream: provider failures arrive as a
// single terminal KindError event so the consumer always reaches a defined
// end state. Complete is the non-streaming call used by the profile job.
type Streamer interface {
	Stream(ctx context.Context, system string, conversation []*schema.Message, withTools bool) <-chan Event
	Complete(ctx context.Context, system string, conversation []*schema.Message) (string, error)
}

// ChatStreamer adapts an eino tool-calling chat model to the Event protocol.
// Text fragments are forwarded as they arrive; tool calls are reassembled
// from the chunk stream and delivered complete before KindTurnEnd.
type ChatStreamer struct {
	base   einomodel.ToolCallingChatModel
	tooled einomodel.ToolCallingChatModel
}

// New wraps the given chat model. When tool schemas are provided, a
// tool-bound variant is prepared once; Stream selects between the two per
// request.
func New(chat einomodel.ToolCallingChatModel, tools []*schema.ToolInfo) (*ChatStreamer, error) {
	s := &ChatStreamer{base: chat, tooled: chat}
	if len(tools) > 0 {
		bound, err := chat.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools to chat model: %w", err)
		}
		s.tooled = bound
	}
	return s, nil
}

func (s *ChatStreamer) Stream(ctx context.Context, system string, conversation []*schema.Message, withTools bool) <-chan Event {
	events := make(chan Event, 1)
	chat := s.base
	if withTools {
		chat = s.tooled
	}

	go func() {
		defer close(events)

		reader, err := chat.Stream(ctx, withSystem(system, conversation))
		if err != nil {
			s.emit(ctx, events, Event{Kind: KindError, Err: errx.WrapLLM(err)})
			return
		}
		defer reader.Close()

		var chunks []*schema.Message
		for {
			chunk, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				s.emit(ctx, events, Event{Kind: KindError, Err: errx.WrapLLM(err)})
				return
			}

			chunks = append(chunks, chunk)
			if chunk.Content != "" {
				if !s.emit(ctx, events, Event{Kind: KindTextDelta, Text: chunk.Content}) {
					return
				}
			}
		}

		if len(chunks) > 0 {
			// Tool call arguments stream in fragments; concatenation yields
			// the complete calls in production order.
			full, err := schema.ConcatMessages(chunks)
			if err != nil {
				s.emit(ctx, events, Event{Kind: KindError, Err: errx.WrapLLM(err)})
				return
			}
			for _, call := range full.ToolCalls {
				if !s.emit(ctx, events, Event{Kind: KindToolCall, ToolCall: call}) {
					return
				}
			}
		}

		s.emit(ctx, events, Event{Kind: KindTurnEnd})
	}()

	return events
}

// emit sends ev unless the consumer has gone away. Returning false stops the
// producer, which releases the provider stream via the deferred Close.
func (s *ChatStreamer) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		logx.Debug().Msg("stream consumer gone, stopping event production")
		return false
	}
}

func (s *ChatStreamer) Complete(ctx context.Context, system string, conversation []*schema.Message) (string, error) {
	out, err := s.base.Generate(ctx, withSystem(system, conversation))
	if err != nil {
		return "", errx.WrapLLM(err)
	}
	return out.Content, nil
}

func withSystem(system string, conversation []*schema.Message) []*schema.Message {
	if system == "" {
		return conversation
	}
	msgs := make([]*schema.Message, 0, len(conversation)+1)
	msgs = append(msgs, schema.SystemMessage(system))
	return append(msgs, conversation...)
}
