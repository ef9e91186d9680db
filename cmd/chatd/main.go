// chatd is the chat application server daemon.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HananKavitz/ChatGPTLike/internal/auth"
	"github.com/HananKavitz/ChatGPTLike/internal/chart"
	"github.com/HananKavitz/ChatGPTLike/internal/config"
	"github.com/HananKavitz/ChatGPTLike/internal/httpserver"
	"github.com/HananKavitz/ChatGPTLike/internal/logging"
	"github.com/HananKavitz/ChatGPTLike/internal/provider"
	provideranthropic "github.com/HananKavitz/ChatGPTLike/internal/provider/anthropic"
	provideropenai "github.com/HananKavitz/ChatGPTLike/internal/provider/openai"
	provideropenrouter "github.com/HananKavitz/ChatGPTLike/internal/provider/openrouter"
	"github.com/HananKavitz/ChatGPTLike/internal/relay"
	"github.com/HananKavitz/ChatGPTLike/internal/store"
	storepostgres "github.com/HananKavitz/ChatGPTLike/internal/store/postgres"
	storesqlite "github.com/HananKavitz/ChatGPTLike/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.LogFile, cfg.LogMaxBytes)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer logCloser.Close()
	logger.SetPrefix("[chatd] ")

	var st store.Store
	if cfg.UsePostgres() {
		st, err = storepostgres.New(cfg.DatabaseURL,
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			logger.Fatalf("open postgres store: %v", err)
		}
		logger.Printf("storage backend postgres")
	} else {
		st, err = storesqlite.New(cfg.SQLitePath)
		if err != nil {
			logger.Fatalf("open sqlite store: %v", err)
		}
		logger.Printf("storage backend sqlite path=%s", cfg.SQLitePath)
	}
	defer st.Close()

	catalog, err := provider.LoadCatalog()
	if err != nil {
		logger.Fatalf("load model catalog: %v", err)
	}

	registry := provider.NewRegistry()
	registry.Register(store.ProviderOpenAI, func(apiKey string) (provider.Client, error) {
		return provideropenai.New(provideropenai.Config{APIKey: apiKey, BaseURL: cfg.OpenAIBaseURL})
	})
	registry.Register(store.ProviderAnthropic, func(apiKey string) (provider.Client, error) {
		return provideranthropic.New(provideranthropic.Config{APIKey: apiKey, BaseURL: cfg.AnthropicBaseURL})
	})
	registry.Register(store.ProviderOpenRouter, func(apiKey string) (provider.Client, error) {
		return provideropenrouter.New(provideropenrouter.Config{APIKey: apiKey, BaseURL: cfg.OpenRouterBaseURL})
	})

	charts := chart.NewService(st, logger)
	streamRelay := relay.New(st, registry, catalog, logger, relay.Options{
		ProgressTimeout: time.Duration(cfg.ProgressTimeoutSeconds) * time.Second,
		Files:           charts,
		Annotator:       charts,
	})

	tokens := auth.NewManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)

	server := httpserver.New(httpserver.Options{
		Store:     st,
		Relay:     streamRelay,
		Tokens:    tokens,
		Registry:  registry,
		Catalog:   catalog,
		Charts:    charts,
		UploadDir: cfg.UploadDir,
		MaxUpload: cfg.MaxUploadBytes,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("serve: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("[WARN] shutdown: %v", err)
	}
}
