package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/api"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/config"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/router"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/middleware"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	container, err := Build(getEnv)
	if err != nil {
		print("Check whether the database is running or not\n")
		print("For local runs without Postgres, set DB_DRIVER=sqlite\n")
		return err
	}

	container.Summaries.Start()

	// Initialize Cron Manager (only if enabled via environment variable)
	cronStarted := false
	if getEnv.CRON_ENABLED {
		if err := container.Cron.Start(); err != nil {
			print("Warning: Failed to start cron jobs\n")
			print("Error: ", err.Error(), "\n")
			// Don't fail the app, just log the warning
		} else {
			cronStarted = true
		}
	}

	// Defer stopping cron jobs, draining summaries and closing the DB
	defer func() {
		if cronStarted {
			container.Cron.Stop()
		}
		container.Close()
	}()

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	// Setup Routes
	router.SetupRoutes(app, router.Dependencies{
		Store:    container.Store,
		Cache:    container.Cache,
		Verifier: container.Verifier,
		Turns:    container.Orchestrator,
		Sessions: container.Sessions,
		Security: middleware.SecurityConfig{
			AllowedOrigins:    getEnv.ALLOWED_ORIGINS,
			RateLimitRequests: getEnv.RATE_LIMIT_REQUESTS,
			RateLimitWindow:   time.Minute,
		},
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down API Server...")

		// Streams in flight may need up to the stream timeout to finalize
		ctx, cancel := context.WithTimeout(context.Background(), getEnv.ANSWER_STREAM_TIMEOUT+15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Warning: shutdown: %v", err)
		}
	}()

	// Get the PORT & Start the Server
	return server.Run()

}
