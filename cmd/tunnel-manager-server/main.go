package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internalhttp "github.com/EternisAI/tunnel-manager/internal/api/http"
	"github.com/EternisAI/tunnel-manager/internal/app"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Tunnel Manager Server", "version", AppVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := app.LoadCatalog(config.ProtocolsFile)
	if err != nil {
		slog.Error("Failed to load protocol catalog", "path", config.ProtocolsFile, "error", err)
		os.Exit(1)
	}

	application, err := app.New(ctx, config, catalog)
	if err != nil {
		slog.Error("Failed to initialise application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, config.Http, &internalhttp.Services{
		Reconcile:       application.Service,
		Auth:            application.Auth,
		Sweeper:         application.Sweeper,
		Syncer:          application.Syncer,
		DefaultProtocol: config.DefaultProtocol,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	application.Start(ctx)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	application.Close()
	slog.Info("Shutdown complete")
}
