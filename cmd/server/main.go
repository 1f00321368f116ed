package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docongo/internal/auth"
	"docongo/internal/config"
	"docongo/internal/core"
	"docongo/internal/db"
	httpserver "docongo/internal/http"
	"docongo/internal/llm"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.LogLevel)

	if cfg.FallbackAPIKey != "" && !auth.ValidKeyFormat(cfg.FallbackAPIKey) {
		log.Warn().Msg("GEMINI_API_KEY does not look like a valid key")
	}

	server := &httpserver.Server{
		Resolver:    &auth.StaticResolver{},
		FallbackKey: cfg.FallbackAPIKey,
		ChatTemp:    cfg.ChatTemperature,
		RxTemp:      cfg.RxTemperature,
		MinRxTurns:  cfg.MinRxTranscript,
		Gateway: func(apiKey string, temperature float32) (llm.Client, error) {
			return llm.NewClient(llm.Options{
				APIKey:      apiKey,
				BaseURL:     cfg.ModelBaseURL,
				Model:       cfg.Model,
				Temperature: temperature,
			})
		},
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory session store")
		server.Store = core.NewMemoryStore()
	} else {
		dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := dbConn.PingContext(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := db.Migrate(context.Background(), dbConn); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		server.Store = db.NewStore(dbConn)
		server.Resolver = auth.NewTokenResolver(dbConn)
		server.Notifier = db.NewNotifier(dbConn, cfg.DatabaseURL, cfg.NotifyChannel)
	}

	log.Info().Str("addr", cfg.Addr).Str("model", cfg.Model).Msg("listening")
	if err := http.ListenAndServe(cfg.Addr, server.Router()); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if level == "" {
		return
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping default")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}
