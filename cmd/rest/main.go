package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"araquem/internal/bootstrap"
	"araquem/internal/config"
	"araquem/internal/server"
	"araquem/internal/tracer"
)

func main() {
	// 1. Load configuration
	cfg := config.Load()

	// 2. Tracer
	shutdownTracer := tracer.InitTracer(cfg.Ops.OtelEnabled, cfg.Ops.OtelEndpoint, cfg.App.BuildID)
	defer shutdownTracer(context.Background())

	// 3. Bootstrap dependencies
	container, err := bootstrap.NewContainer(cfg)
	if err != nil {
		log.Fatalf("Unable to start: %v", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background services
	go func() {
		log.Println("Background: Starting analytics consumer...")
		if err := container.ConsumerService.Consume(ctx); err != nil {
			log.Printf("Background Consumer Error: %v", err)
		}
	}()
	if cfg.Policies.Watch {
		go func() {
			if err := container.PolicyStore.Watch(ctx); err != nil {
				log.Printf("Policy watcher stopped: %v", err)
			}
		}()
	}

	// 5. Server
	srv := server.New(cfg, container)
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}
