package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/converso/server/internal/chat/model"
	logx "github.com/converso/server/pkg/logger"
)

// TypeProfileUpdate is the task type for the post-turn profile condensation
// job consumed by the worker process.
const TypeProfileUpdate = "profile:update"

// ProfileUpdatePayload is the wire payload of a profile update task.
type ProfileUpdatePayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// NewProfileUpdateTask builds the queue task for one completed turn.
func NewProfileUpdateTask(userID, sessionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProfileUpdatePayload{UserID: userID, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal profile update payload: %w", err)
	}
	return asynq.NewTask(TypeProfileUpdate, payload, asynq.MaxRetry(3)), nil
}

// Dispatcher enqueues background work over Redis. Enqueueing is
// fire-and-forget from the caller's perspective: failures are reported but
// carry no turn state.
type Dispatcher struct {
	client *asynq.Client
}

func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

var _ model.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(ctx context.Context, userID, sessionID string) error {
	task, err := NewProfileUpdateTask(userID, sessionID)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeProfileUpdate, err)
	}
	logx.Debug().
		Str("task_id", info.ID).
		Str("user_id", userID).
		Msg("profile update enqueued")
	return nil
}
