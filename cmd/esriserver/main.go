// Command esriserver runs the job-control HTTP API: POST a layer URL, poll for progress,
// download the finished GeoJSON once the dump completes.
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

	"github.com/gin-gonic/gin"

	"github.com/nikhilvedi/esrigeo/config"
	"github.com/nikhilvedi/esrigeo/internal/jobs"
	"github.com/nikhilvedi/esrigeo/internal/middleware"
	"github.com/nikhilvedi/esrigeo/internal/state"
	"github.com/nikhilvedi/esrigeo/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func run() error {
	cfg := config.Load()

	outputDir := os.Getenv("ESRI_OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "./output"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	// The Postgres checkpoint store is optional: with DATABASE_URL set, each job's state is
	// checkpointed to the dump_jobs table. The job registry itself stays in memory; jobs are
	// not reloaded or resumed from those checkpoints when the server starts.
	var jobStore jobs.Store
	if cfg.DBUrl != "" {
		db, err := storage.NewDB(cfg.DBUrl)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Failed to close database connection: %v", err)
			}
		}()
		jobStore = state.NewStore(db)
	}

	if os.Getenv("GIN_MODE") != "" {
		gin.SetMode(os.Getenv("GIN_MODE"))
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := setupRouter(jobStore, outputDir)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("esriserver listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-quit
	log.Println("esriserver shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		return err
	}

	log.Println("esriserver exited")
	return nil
}

func setupRouter(jobStore jobs.Store, outputDir string) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlingMiddleware())
	r.Use(middleware.CORSMiddleware())

	jobService := jobs.NewService(jobStore)
	jobService.RegisterRoutes(r, outputDir)

	api := r.Group("/api")
	{
		api.GET("/health", healthCheckHandler)
	}

	return r
}

func healthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
