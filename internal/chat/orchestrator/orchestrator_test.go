package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converso/server/internal/chat/llm"
	"github.com/converso/server/internal/chat/model"
	"github.com/converso/server/internal/chat/tools"
)

// ===== test doubles =====

type fakeHistory struct {
	mu       sync.Mutex
	preload  []model.Message
	appended []model.Message
	loadErr  error
}

func (f *fakeHistory) Load(ctx context.Context, userID, sessionID string) ([]model.Message, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.preload, nil
}

func (f *fakeHistory) Append(ctx context.Context, userID, sessionID string, msg model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, msg)
	return nil
}

func (f *fakeHistory) all() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.appended...)
}

type fakeProfiles struct {
	summary string
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (string, error) {
	return f.summary, nil
}

func (f *fakeProfiles) Save(ctx context.Context, userID, summary string) error {
	f.summary = summary
	return nil
}

type fakeRetriever struct {
	passages []model.RetrievedPassage
	err      error
	queries  []string
}

func (f *fakeRetriever) Search(ctx context.Context, ownerID, query string, k int) ([]model.RetrievedPassage, error) {
	f.queries = append(f.queries, query)
	return f.passages, f.err
}

type fakeDispatcher struct {
	mu    sync.Mutex
	count int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func (f *fakeDispatcher) dispatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// scriptedStreamer replays one scripted event sequence per provider round.
// When the script runs out it replays repeat, which lets tests simulate a
// model that requests tools forever.
type scriptedStreamer struct {
	rounds  [][]llm.Event
	repeat  []llm.Event
	systems []string
	convs   [][]*schema.Message
	tooled  []bool
}

func (s *scriptedStreamer) Stream(ctx context.Context, system string, conv []*schema.Message, withTools bool) <-chan llm.Event {
	s.systems = append(s.systems, system)
	cp := make([]*schema.Message, len(conv))
	copy(cp, conv)
	s.convs = append(s.convs, cp)
	s.tooled = append(s.tooled, withTools)

	evs := s.repeat
	if len(s.rounds) > 0 {
		evs = s.rounds[0]
		s.rounds = s.rounds[1:]
	}
	ch := make(chan llm.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}

func (s *scriptedStreamer) Complete(ctx context.Context, system string, conv []*schema.Message) (string, error) {
	return "", nil
}

func delta(text string) llm.Event { return llm.Event{Kind: llm.KindTextDelta, Text: text} }
func turnEnd() llm.Event          { return llm.Event{Kind: llm.KindTurnEnd} }

func toolCall(id, name, args string) llm.Event {
	return llm.Event{Kind: llm.KindToolCall, ToolCall: schema.ToolCall{
		ID:       id,
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}}
}

func drain(t *testing.T, ch <-chan model.OutputEvent) []model.OutputEvent {
	t.Helper()
	var events []model.OutputEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining output events")
		}
	}
}

func newOrchestrator(t *testing.T, streamer llm.Streamer, hist *fakeHistory, disp *fakeDispatcher, opts ...func(*Deps)) *Orchestrator {
	t.Helper()
	registry, err := tools.Default()
	require.NoError(t, err)

	deps := Deps{
		History:    hist,
		Profiles:   &fakeProfiles{},
		Registry:   registry,
		Streamer:   streamer,
		Dispatcher: disp,
		TopK:       4,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return New(deps, model.ConversationConfig{
		MaxToolRounds:       3,
		ShowPreliminaryText: true,
		EventBuffer:         16,
	})
}

func request() model.ChatRequest {
	return model.ChatRequest{
		UserID:      "u1",
		SessionID:   "s1",
		Message:     "hello",
		EnableTools: true,
	}
}

// ===== scenarios =====

func TestPlainStreamingTurn(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("Hi"), delta(" there"), delta("!"), turnEnd()},
	}}
	hist := &fakeHistory{}
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, streamer, hist, disp)

	events := drain(t, o.Run(context.Background(), request()))

	require.Len(t, events, 3)
	assert.Equal(t, model.EventText, events[0].Type)
	assert.Equal(t, "Hi", events[0].Content)
	assert.Equal(t, " there", events[1].Content)
	assert.Equal(t, "!", events[2].Content)

	appended := hist.all()
	require.Len(t, appended, 2)
	assert.Equal(t, model.RoleUser, appended[0].Role)
	assert.Equal(t, "hello", appended[0].Content)
	assert.Equal(t, model.RoleAssistant, appended[1].Role)
	assert.Equal(t, "Hi there!", appended[1].Content)

	assert.Equal(t, 1, disp.dispatches())
}

func TestStockPriceToolTurn(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{toolCall("call_1", tools.ToolGetStockPrice, `{"ticker_symbol":"GOOG"}`), turnEnd()},
		{delta("GOOG is trading at $142.50."), turnEnd()},
	}}
	hist := &fakeHistory{}
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, streamer, hist, disp)

	req := request()
	req.Message = "What is GOOG trading at?"
	events := drain(t, o.Run(context.Background(), req))

	// Exactly one thought progress event, emitted before the final text.
	require.Len(t, events, 2)
	assert.Equal(t, model.EventThought, events[0].Type)
	assert.Contains(t, events[0].Content, tools.ToolGetStockPrice)
	assert.Equal(t, model.EventText, events[1].Type)

	// The tool round re-enters the model with the negotiation recorded: the
	// verbatim call plus the matching result carrying the mock price.
	require.Len(t, streamer.convs, 2)
	second := streamer.convs[1]
	require.GreaterOrEqual(t, len(second), 3)
	assistantTurn := second[len(second)-2]
	toolResult := second[len(second)-1]
	require.Len(t, assistantTurn.ToolCalls, 1)
	assert.Equal(t, "call_1", assistantTurn.ToolCalls[0].ID)
	assert.Equal(t, schema.Tool, toolResult.Role)
	assert.Equal(t, "call_1", toolResult.ToolCallID)
	assert.Contains(t, toolResult.Content, "$142.50")

	appended := hist.all()
	require.Len(t, appended, 2)
	assert.Contains(t, appended[1].Content, "$142.50")
	assert.Equal(t, 1, disp.dispatches())
}

func TestToolInvocationFailureFedBackToModel(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{toolCall("call_1", "no_such_tool", `{}`), turnEnd()},
		{delta("I could not look that up."), turnEnd()},
	}}
	hist := &fakeHistory{}
	o := newOrchestrator(t, streamer, hist, &fakeDispatcher{})

	events := drain(t, o.Run(context.Background(), request()))

	// The turn is never aborted by a broken call.
	require.Len(t, events, 2)
	assert.Equal(t, model.EventText, events[1].Type)

	second := streamer.convs[1]
	toolResult := second[len(second)-1]
	assert.Contains(t, toolResult.Content, "error")
}

func TestToolLoopTerminatesAtCap(t *testing.T) {
	streamer := &scriptedStreamer{
		repeat: []llm.Event{toolCall("", tools.ToolGetStockPrice, `{"ticker_symbol":"GOOG"}`), turnEnd()},
	}
	hist := &fakeHistory{}
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, streamer, hist, disp)

	events := drain(t, o.Run(context.Background(), request()))

	// Initial round plus MaxToolRounds re-entries, then forced finalization.
	assert.Len(t, streamer.systems, 4)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.EventThought, last.Type)
	assert.Contains(t, last.Content, "limit")

	// No text accumulated: no assistant message, no dispatch.
	appended := hist.all()
	require.Len(t, appended, 1)
	assert.Equal(t, model.RoleUser, appended[0].Role)
	assert.Equal(t, 0, disp.dispatches())
}

func TestSynthesizedToolCallIDs(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{toolCall("", tools.ToolGetStockPrice, `{"ticker_symbol":"MSFT"}`), turnEnd()},
		{delta("done"), turnEnd()},
	}}
	o := newOrchestrator(t, streamer, &fakeHistory{}, &fakeDispatcher{})

	drain(t, o.Run(context.Background(), request()))

	second := streamer.convs[1]
	assistantTurn := second[len(second)-2]
	require.Len(t, assistantTurn.ToolCalls, 1)
	assert.Equal(t, "call_1", assistantTurn.ToolCalls[0].ID)
	assert.Equal(t, "call_1", second[len(second)-1].ToolCallID)
}

func TestProviderErrorPersistsPartialText(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("partial answer"), {Kind: llm.KindError, Err: fmt.Errorf("provider unavailable")}},
	}}
	hist := &fakeHistory{}
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, streamer, hist, disp)

	events := drain(t, o.Run(context.Background(), request()))

	require.Len(t, events, 2)
	assert.Equal(t, model.EventText, events[0].Type)
	assert.Equal(t, model.EventError, events[1].Type)
	assert.Contains(t, events[1].Content, "provider unavailable")

	appended := hist.all()
	require.Len(t, appended, 2)
	assert.Equal(t, "partial answer", appended[1].Content)
	assert.Equal(t, 1, disp.dispatches())
}

func TestProviderErrorWithoutOutputSkipsDispatch(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{{Kind: llm.KindError, Err: fmt.Errorf("boom")}},
	}}
	hist := &fakeHistory{}
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, streamer, hist, disp)

	events := drain(t, o.Run(context.Background(), request()))

	require.Len(t, events, 1)
	assert.Equal(t, model.EventError, events[0].Type)

	// Only the eagerly appended user message; zero dispatches.
	require.Len(t, hist.all(), 1)
	assert.Equal(t, 0, disp.dispatches())
}

func TestEmptyRetrievalStatesNoDocuments(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("ok"), turnEnd()},
	}}
	retr := &fakeRetriever{}
	o := newOrchestrator(t, streamer, &fakeHistory{}, &fakeDispatcher{}, func(d *Deps) {
		d.Retriever = retr
	})

	req := request()
	req.UseRAG = true
	events := drain(t, o.Run(context.Background(), req))

	require.Len(t, events, 1)
	require.Len(t, streamer.systems, 1)
	assert.Contains(t, streamer.systems[0], NoDocumentsNotice)
	assert.Equal(t, []string{"hello"}, retr.queries)
}

func TestRetrievalErrorDegradesToNoDocuments(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("ok"), turnEnd()},
	}}
	o := newOrchestrator(t, streamer, &fakeHistory{}, &fakeDispatcher{}, func(d *Deps) {
		d.Retriever = &fakeRetriever{err: fmt.Errorf("index offline")}
	})

	req := request()
	req.UseRAG = true
	events := drain(t, o.Run(context.Background(), req))

	// Best-effort: no error surfaced, prompt marks the section absent.
	require.Len(t, events, 1)
	assert.Equal(t, model.EventText, events[0].Type)
	assert.Contains(t, streamer.systems[0], NoDocumentsNotice)
}

func TestRetrievedPassagesInjectedIntoPrompt(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("ok"), turnEnd()},
	}}
	o := newOrchestrator(t, streamer, &fakeHistory{}, &fakeDispatcher{}, func(d *Deps) {
		d.Retriever = &fakeRetriever{passages: []model.RetrievedPassage{
			{Text: "Go channels are typed conduits.", SourceID: "doc-1"},
		}}
	})

	req := request()
	req.UseRAG = true
	drain(t, o.Run(context.Background(), req))

	assert.Contains(t, streamer.systems[0], "Go channels are typed conduits.")
	assert.NotContains(t, streamer.systems[0], NoDocumentsNotice)
}

func TestDisabledToolsAreNotAdvertised(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("ok"), turnEnd()},
	}}
	o := newOrchestrator(t, streamer, &fakeHistory{}, &fakeDispatcher{})

	req := request()
	req.EnableTools = false
	drain(t, o.Run(context.Background(), req))

	require.Len(t, streamer.tooled, 1)
	assert.False(t, streamer.tooled[0])
}

func TestHistoryWindowFeedsWorkingConversation(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("ok"), turnEnd()},
	}}
	hist := &fakeHistory{preload: []model.Message{
		{Role: model.RoleUser, Content: "earlier question"},
		{Role: model.RoleAssistant, Content: "earlier answer"},
	}}
	o := newOrchestrator(t, streamer, hist, &fakeDispatcher{})

	drain(t, o.Run(context.Background(), request()))

	require.Len(t, streamer.convs, 1)
	conv := streamer.convs[0]
	require.Len(t, conv, 3)
	assert.Equal(t, "earlier question", conv[0].Content)
	assert.Equal(t, schema.Assistant, conv[1].Role)
	assert.Equal(t, "hello", conv[2].Content)
}

func TestCancellationPersistsAccumulatedText(t *testing.T) {
	// A streamer that emits one delta and then stays open, never ending the
	// round, so the turn can only end through cancellation.
	held := make(chan llm.Event, 1)
	held <- delta("partial")
	streamer := &holdingStreamer{ch: held}

	hist := &fakeHistory{}
	disp := &fakeDispatcher{}
	o := newOrchestrator(t, streamer, hist, disp)

	ctx, cancel := context.WithCancel(context.Background())
	out := o.Run(ctx, request())

	ev := <-out
	assert.Equal(t, "partial", ev.Content)
	cancel()

	drain(t, out)

	appended := hist.all()
	require.Len(t, appended, 2)
	assert.Equal(t, "partial", appended[1].Content)
	assert.Equal(t, 1, disp.dispatches())
}

type holdingStreamer struct {
	ch chan llm.Event
}

func (h *holdingStreamer) Stream(ctx context.Context, system string, conv []*schema.Message, withTools bool) <-chan llm.Event {
	return h.ch
}

func (h *holdingStreamer) Complete(ctx context.Context, system string, conv []*schema.Message) (string, error) {
	return "", nil
}

func TestSuppressedPreliminaryTextIsDropped(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("let me check"), toolCall("call_1", tools.ToolGetStockPrice, `{"ticker_symbol":"GOOG"}`), turnEnd()},
		{delta("final answer"), turnEnd()},
	}}
	hist := &fakeHistory{}
	registry, err := tools.Default()
	require.NoError(t, err)
	o := New(Deps{
		History:    hist,
		Profiles:   &fakeProfiles{},
		Registry:   registry,
		Streamer:   streamer,
		Dispatcher: &fakeDispatcher{},
	}, model.ConversationConfig{MaxToolRounds: 3, ShowPreliminaryText: false, EventBuffer: 16})

	events := drain(t, o.Run(context.Background(), request()))

	var texts []string
	for _, ev := range events {
		if ev.Type == model.EventText {
			texts = append(texts, ev.Content)
		}
	}
	assert.Equal(t, []string{"final answer"}, texts)

	appended := hist.all()
	require.Len(t, appended, 2)
	assert.Equal(t, "final answer", appended[1].Content)
}

func TestProfileSummaryAppearsInPrompt(t *testing.T) {
	streamer := &scriptedStreamer{rounds: [][]llm.Event{
		{delta("ok"), turnEnd()},
	}}
	o := newOrchestrator(t, streamer, &fakeHistory{}, &fakeDispatcher{}, func(d *Deps) {
		d.Profiles = &fakeProfiles{summary: "Prefers Go and terse answers."}
	})

	drain(t, o.Run(context.Background(), request()))

	assert.Contains(t, streamer.systems[0], "Prefers Go and terse answers.")
	assert.False(t, strings.Contains(streamer.systems[0], NoProfileNotice))
}
