/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the workshop ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, then LEDGER_* environment)
  2. Parse command-line flags (override configuration)
  3. Initialize SQLite store
  4. Wire prices, ledger and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: LEDGER_PORT or 8080)
  -db      SQLite database path (default: LEDGER_DB or talleres.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection

EXAMPLES:
  ./server -db="./data/ledger.db"
  LEDGER_CLASS_PRICE=180 ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/ledger.go: Services
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/workshop-ledger/api"
	"github.com/warp/workshop-ledger/config"
	"github.com/warp/workshop-ledger/ledger"
	"github.com/warp/workshop-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	pricing := ledger.NewSettingsPricing(store, cfg.EnrollmentPrice, cfg.ClassPrice)
	handler := api.NewHandler(store, ledger.New(store, pricing), pricing)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Ledger listening on http://localhost:%d (db %s)", *port, *dbPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
