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
	"github.com/converso/server/internal/chat/profile"
	"github.com/converso/server/internal/core"
	logx "github.com/converso/server/pkg/logger"
	pkgpostgres "github.com/converso/server/pkg/postgres"
	pkgredis "github.com/converso/server/pkg/redis"
)

// WorkerConfig is the worker process environment, a subset of the API
// server's plus queue concurrency.
type WorkerConfig struct {
	Concurrency int `envconfig:"WORKER_CONCURRENCY" default:"5"`

	Redis    pkgredis.Config
	Postgres pkgpostgres.Config

	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	History   model.HistoryConfig
	ChatModel model.ChatModelConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg WorkerConfig
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

	// No tool schemas: the condensation job only needs plain completion.
	streamer, err := llm.NewGeminiStreamer(ctx, client, cfg.ChatModel, nil)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to create chat streamer")
	}

	connOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to parse Redis URI for task queue")
	}

	handler := jobs.NewProfileUpdateHandler(
		history.New(rdb, cfg.History.Capacity, ttl),
		profile.New(pool),
		streamer,
	)

	mux := asynq.NewServeMux()
	mux.Handle(jobs.TypeProfileUpdate, handler)

	srv := asynq.NewServer(connOpt, asynq.Config{Concurrency: cfg.Concurrency})
	logx.Info().Int("concurrency", cfg.Concurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logx.Fatal().Err(err).Msg("worker stopped")
	}
}
