package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
	"github.com/aspired-future/startales-sub005/internal/providers"
	"github.com/aspired-future/startales-sub005/internal/rag"
	"github.com/aspired-future/startales-sub005/internal/storage"
	"github.com/aspired-future/startales-sub005/internal/web"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("failed to load config", "path", configPath, "error", err)
	}

	logger := newLogger(cfg.Logging)

	mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL)
	if err != nil {
		log.Fatal("failed to connect to mysql", "error", err)
	}
	defer mysqlStore.Close()
	logger.Info("mysql connected", "host", cfg.Database.MySQL.Host)

	redisStore, err := storage.NewRedisStore(cfg.Database.Redis)
	if err != nil {
		logger.Warn("redis unavailable, capture dedup and recent-message cache disabled", "error", err)
		redisStore = nil
	} else {
		defer redisStore.Close()
		logger.Info("redis connected", "host", cfg.Database.Redis.Host)
	}

	provs, err := providers.Build(cfg.AI, logger)
	if err != nil {
		log.Fatal("failed to build providers", "error", err)
	}
	for _, p := range provs {
		logger.Info("provider registered", "name", p.Name(), "model", p.Model(), "embedding_model", p.EmbeddingModel())
	}

	// Prefer Qdrant; fall back to the in-process index so the service stays
	// usable in development without a vector database.
	var index interfaces.VectorIndex
	qdrantIndex, err := rag.NewQdrantIndex(cfg.Database.Qdrant)
	if err != nil {
		logger.Warn("qdrant unavailable, using in-memory vector index", "error", err)
		index = rag.NewMemoryIndex()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = qdrantIndex.EnsureCollection(ctx)
		cancel()
		if err != nil {
			logger.Warn("qdrant collection setup failed, using in-memory vector index", "error", err)
			index = rag.NewMemoryIndex()
		} else {
			logger.Info("qdrant connected", "collection", cfg.Database.Qdrant.Collection)
			index = qdrantIndex
		}
	}

	cache := rag.NewEmbeddingCache(provs, cfg.Memory.Cache, logger)
	store := rag.NewMemoryStore(index, logger)

	var dedup rag.CaptureDeduper
	if redisStore != nil {
		dedup = redisStore
	}
	queue := rag.NewCaptureQueue(mysqlStore, cache, store, dedup, cfg.Memory.Capture, logger)
	defer queue.Close()

	search := rag.NewSemanticSearchEngine(cache, store, cfg.Memory.Search, logger)
	assembler := rag.NewContextAssembler(search, provs[0], cfg.Memory.Assembly, logger)
	convService := rag.NewConversationService(mysqlStore, search, logger)

	handlers := web.NewHandlers(cache, queue, search, assembler, store, mysqlStore, convService, redisStore, logger)
	router := web.NewRouter(handlers, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Stop accepting requests first, then drain the capture queue so
	// accepted messages reach the stores before exit.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	queue.Close()

	logger.Info("stopped")
}

func newLogger(cfg config.LoggingConfig) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
	}
	logger := log.NewWithOptions(os.Stderr, opts)

	switch cfg.Level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}
