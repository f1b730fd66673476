package model

// ================ Config ================

type HistoryConfig struct {
	// Capacity bounds the per-session window; 10 keeps 5 user/assistant pairs.
	Capacity int    `envconfig:"HISTORY_CAPACITY" default:"10"`
	TTL      string `envconfig:"HISTORY_TTL" default:"24h"`
}

type ConversationConfig struct {
	// MaxToolRounds caps provider round-trips that end in tool calls within
	// one turn. Exceeding it forces finalization with a truncation notice.
	MaxToolRounds int `envconfig:"CONVERSATION_TOOL_MAX_ROUNDS" default:"5"`
	// ShowPreliminaryText controls whether text produced in a round that also
	// requests tool calls is streamed to the caller as produced. When false,
	// such preliminary text is dropped and only post-tool text is shown.
	ShowPreliminaryText bool `envconfig:"CONVERSATION_SHOW_PRELIMINARY_TEXT" default:"true"`
	// EventBuffer sizes the bounded channel between the generation loop and
	// the caller transport; a slow consumer pauses generation.
	EventBuffer int `envconfig:"CONVERSATION_EVENT_BUFFER" default:"16"`
}

type RetrievalConfig struct {
	TopK           int    `envconfig:"RETRIEVAL_TOP_K" default:"4"`
	EmbeddingModel string `envconfig:"RETRIEVAL_EMBEDDING_MODEL" default:"text-embedding-004"`
}

type ChatModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
}
