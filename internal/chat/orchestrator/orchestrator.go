package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/converso/server/internal/chat/llm"
	"github.com/converso/server/internal/chat/model"
	"github.com/converso/server/internal/chat/tools"
	logx "github.com/converso/server/pkg/logger"
)

// Deps wires the orchestrator's collaborators. Retriever and Dispatcher may
// be nil: retrieval then always yields zero passages and no background job
// is enqueued.
type Deps struct {
	History    model.HistoryRepository
	Profiles   model.ProfileRepository
	Retriever  model.Retriever
	Registry   *tools.Registry
	Streamer   llm.Streamer
	Dispatcher model.Dispatcher
	TopK       int
}

// Orchestrator drives one logical user turn: history window, optional
// retrieval context, the streaming tool-call loop against the provider, and
// the deferred profile-update trigger. One Run invocation owns its TurnState
// exclusively; nothing in-flight is shared across concurrent requests.
type Orchestrator struct {
	deps Deps
	cfg  model.ConversationConfig
}

func New(deps Deps, cfg model.ConversationConfig) *Orchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	if deps.TopK <= 0 {
		deps.TopK = 4
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// turnState is the in-flight working set of one request: the evolving
// provider conversation, the accumulated answer text and the loop counters.
// Created at request start, discarded at request end; never persisted.
type turnState struct {
	working []*schema.Message
	output  strings.Builder
	rounds  int
	callSeq int
}

// Run executes the turn and returns the live event stream. The channel is
// bounded: when the caller stops consuming, generation pauses rather than
// buffering without limit. The channel is closed when the turn reaches a
// terminal state.
func (o *Orchestrator) Run(ctx context.Context, req model.ChatRequest) <-chan model.OutputEvent {
	out := make(chan model.OutputEvent, o.cfg.EventBuffer)
	go func() {
		defer close(out)
		o.runTurn(ctx, req, out)
	}()
	return out
}

func (o *Orchestrator) runTurn(ctx context.Context, req model.ChatRequest, out chan<- model.OutputEvent) {
	st := &turnState{}

	// Preparing.
	history, err := o.deps.History.Load(ctx, req.UserID, req.SessionID)
	if err != nil {
		logx.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to load history window")
		o.emit(ctx, out, model.OutputEvent{Type: model.EventError, Content: "failed to load conversation history"})
		return
	}
	st.working = model.ToSchemaMessages(history)

	// Durable append before generation, so a crash mid-turn never loses the
	// user's input.
	userMsg := model.Message{Role: model.RoleUser, Content: req.Message}
	if err := o.deps.History.Append(ctx, req.UserID, req.SessionID, userMsg); err != nil {
		logx.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to persist user message")
		o.emit(ctx, out, model.OutputEvent{Type: model.EventError, Content: "failed to persist message"})
		return
	}
	st.working = append(st.working, schema.UserMessage(req.Message))

	toolsEnabled := req.EnableTools && o.deps.Registry != nil

	system, err := RenderSystemPrompt(ctx, PromptInput{
		ToolsEnabled: toolsEnabled,
		Passages:     o.retrieve(ctx, req),
		Profile:      o.loadProfile(ctx, req.UserID),
	})
	if err != nil {
		o.emit(ctx, out, model.OutputEvent{Type: model.EventError, Content: "failed to assemble prompt"})
		return
	}

	// Streaming / ToolExecuting loop.
	for {
		round, done := o.streamRound(ctx, req, st, out, system, toolsEnabled)
		if done {
			return
		}

		if round.failed {
			// Errored: persist whatever accumulated, then one terminal
			// notification. Partial answers are still valuable.
			o.finalize(ctx, req, st)
			o.emit(ctx, out, model.OutputEvent{Type: model.EventError, Content: round.err.Error()})
			return
		}

		if len(round.calls) == 0 {
			break
		}

		if st.rounds >= o.cfg.MaxToolRounds {
			logx.Warn().
				Int("max_tool_rounds", o.cfg.MaxToolRounds).
				Str("session_id", req.SessionID).
				Msg("tool round cap reached, forcing finalization")
			o.emit(ctx, out, model.OutputEvent{
				Type:    model.EventThought,
				Content: fmt.Sprintf("Tool call limit (%d) reached; answering with the information gathered so far.", o.cfg.MaxToolRounds),
			})
			break
		}
		st.rounds++

		if !o.emit(ctx, out, model.OutputEvent{
			Type:    model.EventThought,
			Content: describeCalls(round.calls),
		}) {
			o.finalize(ctx, req, st)
			return
		}

		o.executeTools(ctx, st, round)
	}

	// Finalizing.
	o.finalize(ctx, req, st)
}

// roundResult captures one provider round-trip.
type roundResult struct {
	text   strings.Builder
	calls  []schema.ToolCall
	failed bool
	err    error
}

// streamRound pulls one provider round to completion. done is true when the
// caller disconnected and the turn was already wrapped up.
func (o *Orchestrator) streamRound(ctx context.Context, req model.ChatRequest, st *turnState, out chan<- model.OutputEvent, system string, toolsEnabled bool) (*roundResult, bool) {
	round := &roundResult{}
	var pending []string

	events := o.deps.Streamer.Stream(ctx, system, st.working, toolsEnabled)
	for {
		select {
		case <-ctx.Done():
			// Caller gone: stop pulling events, keep what we have.
			logx.Debug().Str("session_id", req.SessionID).Msg("caller disconnected mid-turn")
			o.finalize(ctx, req, st)
			return round, true
		case ev, ok := <-events:
			if !ok {
				// Producer closed without a turn-end marker; treat as end.
				return round, false
			}
			switch ev.Kind {
			case llm.KindTextDelta:
				round.text.WriteString(ev.Text)
				if o.cfg.ShowPreliminaryText {
					st.output.WriteString(ev.Text)
					if !o.emit(ctx, out, model.OutputEvent{Type: model.EventText, Content: ev.Text}) {
						o.finalize(ctx, req, st)
						return round, true
					}
				} else {
					pending = append(pending, ev.Text)
				}
			case llm.KindToolCall:
				round.calls = append(round.calls, ev.ToolCall)
			case llm.KindError:
				round.failed = true
				round.err = ev.Err
				o.flushPending(ctx, req, st, out, pending, round)
				return round, false
			case llm.KindTurnEnd:
				o.flushPending(ctx, req, st, out, pending, round)
				return round, false
			}
		}
	}
}

// flushPending releases text buffered under ShowPreliminaryText=false. Text
// from a round that requested tool calls is preliminary and gets dropped;
// the model restates its answer after consuming the results.
func (o *Orchestrator) flushPending(ctx context.Context, req model.ChatRequest, st *turnState, out chan<- model.OutputEvent, pending []string, round *roundResult) {
	if o.cfg.ShowPreliminaryText || len(pending) == 0 {
		return
	}
	if len(round.calls) > 0 && !round.failed {
		return
	}
	for _, delta := range pending {
		st.output.WriteString(delta)
		if !o.emit(ctx, out, model.OutputEvent{Type: model.EventText, Content: delta}) {
			return
		}
	}
}

// executeTools records the model turn verbatim, runs each buffered call in
// order, and appends one result entry per call so the provider protocol stays
// consistent on re-entry.
func (o *Orchestrator) executeTools(ctx context.Context, st *turnState, round *roundResult) {
	calls := round.calls
	for i := range calls {
		// Some providers omit tool call IDs; synthesize them so results can
		// be matched by call identity.
		if strings.TrimSpace(calls[i].ID) == "" {
			st.callSeq++
			calls[i].ID = fmt.Sprintf("call_%d", st.callSeq)
		}
	}

	st.working = append(st.working, schema.AssistantMessage(round.text.String(), calls))

	for _, call := range calls {
		result := o.invokeTool(ctx, call)
		st.working = append(st.working, schema.ToolMessage(result, call.ID, schema.WithToolName(call.Function.Name)))
	}
}

// invokeTool runs one call, converting any failure into a textual result the
// model can recover from. A broken tool never aborts the turn.
func (o *Orchestrator) invokeTool(ctx context.Context, call schema.ToolCall) string {
	name := call.Function.Name
	if o.deps.Registry == nil {
		return fmt.Sprintf(`{"error":"unknown_tool","name":%q}`, name)
	}

	result, err := o.deps.Registry.Invoke(ctx, name, call.Function.Arguments)
	if err != nil {
		logx.Warn().Err(err).Str("tool", name).Msg("tool invocation failed, feeding error back to model")
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return result
}

func (o *Orchestrator) retrieve(ctx context.Context, req model.ChatRequest) []model.RetrievedPassage {
	if !req.UseRAG || o.deps.Retriever == nil {
		return nil
	}
	passages, err := o.deps.Retriever.Search(ctx, req.UserID, req.Message, o.deps.TopK)
	if err != nil {
		// Retrieval is best-effort augmentation, not a hard dependency.
		logx.Warn().Err(err).Str("user_id", req.UserID).Msg("retrieval failed, continuing without context")
		return nil
	}
	return passages
}

func (o *Orchestrator) loadProfile(ctx context.Context, userID string) string {
	if o.deps.Profiles == nil {
		return ""
	}
	summary, err := o.deps.Profiles.Get(ctx, userID)
	if err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("profile load failed, continuing without it")
		return ""
	}
	return summary
}

// finalize persists the accumulated answer and fires the profile-update
// trigger, both only when output exists. It runs detached from the caller's
// cancellation so a disconnect cannot lose an answer already produced.
func (o *Orchestrator) finalize(ctx context.Context, req model.ChatRequest, st *turnState) {
	text := st.output.String()
	if text == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	assistantMsg := model.Message{Role: model.RoleAssistant, Content: text}
	if err := o.deps.History.Append(ctx, req.UserID, req.SessionID, assistantMsg); err != nil {
		logx.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to persist assistant message")
	}

	if o.deps.Dispatcher == nil {
		return
	}
	if err := o.deps.Dispatcher.Dispatch(ctx, req.UserID, req.SessionID); err != nil {
		// Fire-and-forget: a queue failure never fails the turn.
		logx.Warn().Err(err).Str("user_id", req.UserID).Msg("profile update dispatch failed")
	}
}

func (o *Orchestrator) emit(ctx context.Context, out chan<- model.OutputEvent, ev model.OutputEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func describeCalls(calls []schema.ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Function.Name)
	}
	return fmt.Sprintf("Running %d tool call(s): %s", len(calls), strings.Join(names, ", "))
}
