package model

import "context"

// HistoryRepository is the boundary to the bounded per-session message log.
type HistoryRepository interface {
	// Load returns the window for (userID, sessionID), most-recent-last.
	// Absence of any entries yields an empty slice, not an error.
	Load(ctx context.Context, userID, sessionID string) ([]Message, error)

	// Append adds a message at the tail and enforces the capacity bound as a
	// single logical operation.
	Append(ctx context.Context, userID, sessionID string, msg Message) error
}

// ProfileRepository reads and writes the free-text long-term user profile.
// The orchestrator only reads; the background job is the single writer.
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (string, error)
	Save(ctx context.Context, userID, summary string) error
}

// Retriever returns the top-k passages owned by ownerID closest to query.
// An empty index or no matches yields an empty slice.
type Retriever interface {
	Search(ctx context.Context, ownerID, query string, k int) ([]RetrievedPassage, error)
}

// Dispatcher enqueues the fire-and-forget profile-update job after a turn.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, sessionID string) error
}
