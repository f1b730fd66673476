package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/converso/server/internal/chat/history"
	"github.com/converso/server/internal/chat/jobs"
	"github.com/converso/server/internal/chat/llm"
	"github.com/converso/server/internal/chat/model"
	"github.com/converso/server/internal/chat/orchestrator"
	"github.com/converso/server/internal/chat/profile"
	"github.com/converso/server/internal/chat/retrieval"
	"github.com/converso/server/internal/chat/tools"
	"github.com/converso/server/internal/core"
	"github.com/converso/server/internal/server"
	logx "github.com/converso/server/pkg/logger"
	pkgpostgres "github.com/converso/server/pkg/postgres"
	pkgredis "github.com/converso/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the chat server, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Infrastructure
	Redis    pkgredis.Config
	Postgres pkgpostgres.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Chat configs
	History      model.HistoryConfig
	Conversation model.ConversationConfig
	Retrieval    model.RetrievalConfig
	ChatModel    model.ChatModelConfig
}

func main() {
	ctx := context.Background()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.FromEnv()})

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise Redis client")
	}
	defer rdb.Close()

	pool, err := cfg.Postgres.New(ctx)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise Postgres pool")
	}
	defer pool.Close()

	ttl, err := time.ParseDuration(cfg.History.TTL)
	if err != nil {
		logx.Fatal().Err(err).Str("ttl", cfg.History.TTL).Msg("invalid HISTORY_TTL")
	}

	client, err := llm.NewGeminiClient(ctx, llm.GeminiClientConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create Gemini client")
	}

	registry, err := tools.Default()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build tool registry")
	}
	infos, err := registry.Infos(ctx)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to collect tool schemas")
	}

	streamer, err := llm.NewGeminiStreamer(ctx, client, cfg.ChatModel, infos)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create chat streamer")
	}

	connOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to parse Redis URI for task queue")
	}
	queue := asynq.NewClient(connOpt)
	defer queue.Close()

	embedder := retrieval.NewGeminiEmbedder(client, cfg.Retrieval.EmbeddingModel)

	o := orchestrator.New(orchestrator.Deps{
		History:    history.New(rdb, cfg.History.Capacity, ttl),
		Profiles:   profile.New(pool),
		Retriever:  retrieval.NewSearcher(pool, embedder, cfg.Retrieval.TopK),
		Registry:   registry,
		Streamer:   streamer,
		Dispatcher: jobs.NewDispatcher(queue),
		TopK:       cfg.Retrieval.TopK,
	}, cfg.Conversation)

	if err := server.New(o).ListenAndServe(cfg.Addr); err != nil {
		logx.Fatal().Err(err).Msg("http server stopped")
	}
}
