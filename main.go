package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfiguera/lexbot-be/internal/api"
	"github.com/mfiguera/lexbot-be/internal/auth"
	"github.com/mfiguera/lexbot-be/internal/config"
	"github.com/mfiguera/lexbot-be/internal/database"
	"github.com/mfiguera/lexbot-be/internal/filestore"
	"github.com/mfiguera/lexbot-be/internal/logger"
	"github.com/mfiguera/lexbot-be/internal/monitoring"
	"github.com/mfiguera/lexbot-be/internal/openai"
	"github.com/mfiguera/lexbot-be/internal/services"
)

const runInstructions = "Por favor usa los documentos provistos para responder preguntas de indole legal."

func main() {
	logger.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to apply database migrations: %v", err)
	}

	// Set up the artifact store
	files, err := filestore.New(cfg.FilesPath)
	if err != nil {
		log.Fatalf("Failed to initialize file store: %v", err)
	}

	// Set up services
	tokens := auth.NewTokenService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	userService := services.NewUserService(db)
	openaiClient := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	assistantService := services.NewAssistantService(openaiClient, files, services.AssistantOptions{
		AssistantID:   cfg.AssistantID,
		VectorStoreID: cfg.VectorStoreID,
		Instructions:  runInstructions,
		ThreadTTL:     cfg.ThreadCacheTTL,
		PollInterval:  cfg.RunPollInterval,
		MaxWait:       cfg.RunMaxWait,
	})

	// Set up and run the background artifact sweeper
	sweeper, err := monitoring.NewSweeper(files, cfg.SweepSchedule, cfg.ArtifactRetention)
	if err != nil {
		log.Fatalf("Failed to initialize artifact sweeper: %v", err)
	}
	sweeper.Run()

	// Set up router
	router := api.NewRouter(cfg, userService, assistantService, files, tokens)

	// Set up server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on port %d\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}
