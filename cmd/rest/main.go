package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lumina-be/internal/bootstrap"
	"lumina-be/internal/config"
	"lumina-be/internal/server"
	"lumina-be/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// 2. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(cfg)
	if err != nil {
		log.Fatalf("Failed to bootstrap: %v", err)
	}
	defer container.Close()

	// 3. Tracing (off unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer(container.Logger)
	defer shutdownTracer(context.Background())

	// 4. Start Background Services
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := container.AlertService.Consume(ctx); err != nil {
		log.Fatalf("Failed to start alert relay: %v", err)
	}

	// 5. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			container.Logger.Error("Main", "Graceful shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// 6. Run Server
	if err := srv.Run(); err != nil {
		container.Logger.Error("Main", "Server stopped", map[string]interface{}{"error": err.Error()})
	}
}
