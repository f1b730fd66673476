package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converso/server/internal/chat/model"
)

type fakeRunner struct {
	events  []model.OutputEvent
	lastReq model.ChatRequest
	called  bool
}

func (f *fakeRunner) Run(ctx context.Context, req model.ChatRequest) <-chan model.OutputEvent {
	f.called = true
	f.lastReq = req
	ch := make(chan model.OutputEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsEventsAsSSE(t *testing.T) {
	runner := &fakeRunner{events: []model.OutputEvent{
		{Type: model.EventText, Content: "Hi"},
		{Type: model.EventText, Content: " there"},
		{Type: model.EventThought, Content: "Running 1 tool call(s): get_stock_price"},
	}}
	s := New(runner)

	rec := post(t, s.Handler(), `{"session_id":"s1","message":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: text\ndata: {\"type\":\"text\",\"content\":\"Hi\"}\n\n")
	assert.Contains(t, body, `"content":" there"`)
	assert.Contains(t, body, "event: thought\n")

	// Delta order is preserved on the wire.
	assert.Less(t, strings.Index(body, `"Hi"`), strings.Index(body, `" there"`))
}

func TestChatValidatesBeforeOrchestration(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing session", `{"message":"hello"}`, "session_id is required"},
		{"missing message", `{"session_id":"s1"}`, "message is required"},
		{"blank message", `{"session_id":"s1","message":"   "}`, "message is required"},
		{"malformed json", `{not json`, "invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{}
			rec := post(t, New(runner).Handler(), tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
			assert.False(t, runner.called, "turn must not start on invalid input")
		})
	}
}

func TestChatRequestDefaults(t *testing.T) {
	runner := &fakeRunner{}
	post(t, New(runner).Handler(), `{"session_id":"s1","message":"hello"}`)

	require.True(t, runner.called)
	assert.True(t, runner.lastReq.EnableTools, "tools default on")
	assert.False(t, runner.lastReq.UseRAG, "RAG defaults off")
	assert.Equal(t, "s1", runner.lastReq.UserID, "user defaults to session owner")
}

func TestChatRequestOverrides(t *testing.T) {
	runner := &fakeRunner{}
	post(t, New(runner).Handler(), `{"user_id":"u9","session_id":"s1","message":"hello","enable_tools":false,"use_rag":true}`)

	require.True(t, runner.called)
	assert.Equal(t, "u9", runner.lastReq.UserID)
	assert.False(t, runner.lastReq.EnableTools)
	assert.True(t, runner.lastReq.UseRAG)
}

func TestChatErrorEventOnWire(t *testing.T) {
	runner := &fakeRunner{events: []model.OutputEvent{
		{Type: model.EventError, Content: "provider unavailable"},
	}}
	rec := post(t, New(runner).Handler(), `{"session_id":"s1","message":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload model.OutputEvent
	line := strings.TrimPrefix(strings.Split(rec.Body.String(), "\n")[1], "data: ")
	require.NoError(t, json.Unmarshal([]byte(line), &payload))
	assert.Equal(t, model.EventError, payload.Type)
	assert.Equal(t, "provider unavailable", payload.Content)
}

func TestHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	New(&fakeRunner{}).Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
