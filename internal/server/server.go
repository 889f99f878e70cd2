package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/npcflow/internal/config"
)

// Start initializes and starts the HTTP server. It returns the actual
// address being listened on (useful for testing with port 0). The server
// shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, generator DialogueGenerator, ledger BudgetReader) (string, error) {
	handlers := NewHandlers(generator, ledger)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/dialogue", handlers.GenerateDialogue)
	apiMux.HandleFunc("/api/budget/stats", handlers.DailyStats)
	apiMux.HandleFunc("/api/budget/hourly", handlers.HourlyBreakdown)
	apiMux.HandleFunc("/api/budget/projection", handlers.Projection)
	apiMux.HandleFunc("/api/budget/alert", handlers.SetAlert)
	apiMux.HandleFunc("/api/budget/alerts", handlers.CheckAlerts)

	mux := http.NewServeMux()

	// Health endpoint, no auth required, used by monitoring
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	mux.Handle("/api/", requireAuth(apiMux, cfg))

	rl := newRateLimiter(cfg.Security.RateLimit, cfg.Security.RateBurst)
	handler := rateLimitMiddleware(mux, rl)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	return actualAddr, nil
}
