package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/pawtrack/backend/internal/aiclient"
	"github.com/zhouzirui/pawtrack/backend/internal/config"
	"github.com/zhouzirui/pawtrack/backend/internal/handler"
	"github.com/zhouzirui/pawtrack/backend/internal/logging"
	"github.com/zhouzirui/pawtrack/backend/internal/repository"
	"github.com/zhouzirui/pawtrack/backend/internal/service/ai"
	"github.com/zhouzirui/pawtrack/backend/internal/service/assistant"
	conversationService "github.com/zhouzirui/pawtrack/backend/internal/service/conversation"
	"github.com/zhouzirui/pawtrack/backend/internal/service/notify"
	petsService "github.com/zhouzirui/pawtrack/backend/internal/service/pets"
	"github.com/zhouzirui/pawtrack/backend/internal/storage/localstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	local, err := localstore.OpenBolt(cfg.Storage.LocalStorePath())
	if err != nil {
		return err
	}
	defer local.Close()

	docs, err := repository.Open(cfg.Storage.DocumentPath())
	if err != nil {
		return err
	}
	defer docs.Close()

	hub := notify.NewHub(0, logger)
	petDocs := repository.NewPets(docs)
	eventDocs := repository.NewEvents(docs)

	// 待删除的宠物只保存在内存中，关闭时丢弃。
	pets := petsService.NewService(petDocs, hub, cfg.Pets.UndoWindow, logger)
	defer pets.Close()
	if err := pets.Refresh(ctx); err != nil {
		logger.Warn("failed to load pets", zap.Error(err))
	}

	conversations := conversationService.NewStore(local,
		conversationService.WithMaxConversations(cfg.Assistant.MaxConversations),
		conversationService.WithLogger(logger),
	)
	client := aiclient.New(cfg.Assistant, logger)
	assistantSvc := assistant.NewService(conversations, client, pets, logger)

	// Initialize AI service
	var aiSvc *ai.Service
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err == nil {
			aiSvc, err = ai.NewService(ctx, chatModel, cfg.AI, logger)
		}
		if err != nil {
			logger.Warn("continuing without AI backend - 请检查 Ark 模型相关环境变量", zap.Error(err))
			aiSvc = nil
		} else {
			logger.Info("AI backend initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	router := handler.NewRouter(handler.Dependencies{
		Store:     docs,
		Pets:      pets,
		PetDocs:   petDocs,
		Events:    eventDocs,
		Assistant: assistantSvc,
		AI:        aiSvc,
		Hub:       hub,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("PawTrack backend listening", zap.String("addr", srv.Addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
