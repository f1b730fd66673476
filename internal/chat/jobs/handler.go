package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/hibiken/asynq"

	"github.com/converso/server/internal/chat/llm"
	"github.com/converso/server/internal/chat/model"
	logx "github.com/converso/server/pkg/logger"
)

const condensationPrompt = `You maintain a long-term user profile for a conversational assistant.
Analyze the conversation and extract 3-5 durable facts about the user: preferences, recurring goals, expertise, constraints. Ignore one-off requests and small talk.
Merge them with the existing profile, dropping anything the conversation contradicts.
Respond with one concise paragraph and nothing else.`

// ProfileUpdateHandler condenses a session's history into the user's stored
// profile summary. It runs in the worker process, off the request path.
type ProfileUpdateHandler struct {
	history  model.HistoryRepository
	profiles model.ProfileRepository
	streamer llm.Streamer
}

func NewProfileUpdateHandler(history model.HistoryRepository, profiles model.ProfileRepository, streamer llm.Streamer) *ProfileUpdateHandler {
	return &ProfileUpdateHandler{history: history, profiles: profiles, streamer: streamer}
}

// ProcessTask implements asynq.Handler for TypeProfileUpdate tasks.
func (h *ProfileUpdateHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload ProfileUpdatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// Malformed payloads never become valid; skip retries.
		return fmt.Errorf("unmarshal %s payload: %v: %w", TypeProfileUpdate, err, asynq.SkipRetry)
	}

	history, err := h.history.Load(ctx, payload.UserID, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load history for profile update: %w", err)
	}
	if len(history) == 0 {
		logx.Debug().Str("session_id", payload.SessionID).Msg("no history to condense, skipping profile update")
		return nil
	}

	existing, err := h.profiles.Get(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("load existing profile: %w", err)
	}

	summary, err := h.streamer.Complete(ctx, condensationPrompt, condensationInput(existing, history))
	if err != nil {
		return fmt.Errorf("condense profile: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		logx.Warn().Str("user_id", payload.UserID).Msg("empty condensation result, keeping previous profile")
		return nil
	}

	if err := h.profiles.Save(ctx, payload.UserID, summary); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	logx.Info().Str("user_id", payload.UserID).Msg("profile summary updated")
	return nil
}

// condensationInput flattens the existing profile and the transcript into a
// single user message for the non-streaming completion call.
func condensationInput(existing string, history []model.Message) []*schema.Message {
	var b strings.Builder
	if strings.TrimSpace(existing) != "" {
		b.WriteString("Existing profile:\n")
		b.WriteString(existing)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	for _, msg := range history {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return []*schema.Message{schema.UserMessage(b.String())}
}
