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

	"github.com/gorilla/websocket"

	"github.com/shepherdsec/console/internal/api"
	"github.com/shepherdsec/console/internal/backend"
	"github.com/shepherdsec/console/internal/config"
	"github.com/shepherdsec/console/internal/run"
	"github.com/shepherdsec/console/internal/runid"
	"github.com/shepherdsec/console/internal/store"
	"github.com/shepherdsec/console/internal/wspool"
)

// notifier logs user-facing run events; the HTTP clients observe the same
// facts through the status and transcript endpoints.
type notifier struct{}

func (notifier) ConnectionLost(code int, err error) {
	log.Printf("WARN: connection lost (close code %d): %v", code, err)
}
func (notifier) AtCapacity(pos int, msg string) {
	log.Printf("Backend at capacity (queue position %d): %s", pos, msg)
}
func (notifier) InputRequested() {
	log.Printf("Run is waiting for user input")
}
func (notifier) Alert(msg string) {
	log.Printf("ALERT: %s", msg)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting console gateway...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Backend URL: %s", cfg.BackendURL)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	client := backend.NewClient(cfg.BackendURL)
	dialer := &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	sockets := wspool.NewRegistryWithOptions(dialer, cfg.WriteTimeout)
	controller := run.NewController(runid.New(db), client, sockets, notifier{})

	handler := api.NewHandler(controller, db, client)
	server := api.NewServer(handler)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	log.Printf("Console gateway started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down console gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Best-effort run teardown before the server goes away.
	controller.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: server shutdown: %v", err)
	}
	log.Println("Console gateway stopped")
}
