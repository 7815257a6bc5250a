// Command mockaicore runs a single HTTP server that simulates just enough
// of SAP UAA and the AI Core control plane to exercise the gateway
// end-to-end without real credentials: the OAuth2 token endpoint, the
// deployments listing, and the deployments themselves (one per family),
// each answering with that family's native wire format.
//
// Environment overrides:
//
//	PORT                — listen port (default 19100)
//	MOCK_LATENCY_MS      — artificial latency added to every inference call
//	MOCK_STREAM_WORDS    — words in a streamed response (default 12)
//	MOCK_REJECT_FIRST_AUTH — if "true", the first inference request to each
//	                         deployment is rejected with 401 once, so the
//	                         gateway's retry-once-on-401 path can be driven
//	                         manually
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

// mockConfig holds runtime configuration shared across all handlers.
type mockConfig struct {
	latencyMS       int
	streamWords     int
	rejectFirstAuth bool
}

func loadMockConfig() mockConfig {
	c := mockConfig{streamWords: 12}
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.latencyMS = n
		}
	}
	if v := os.Getenv("MOCK_STREAM_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.streamWords = n
		}
	}
	c.rejectFirstAuth = os.Getenv("MOCK_REJECT_FIRST_AUTH") == "true"
	return c
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadMockConfig()

	port := os.Getenv("PORT")
	if port == "" {
		port = "19100"
	}
	addr := ":" + port
	baseURL := "http://localhost:" + port

	s := newState(cfg, baseURL)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/v2/lm/deployments", s.handleDeployments)
	mux.HandleFunc("/v2/admin/resourceGroups", s.handleResourceGroups)
	mux.HandleFunc("/v2/inference/deployments/", s.handleDeploymentDispatch)

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("mock aicore listening", slog.String("addr", addr), slog.String("base_url", baseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	fmt.Println("READY")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock aicore")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
