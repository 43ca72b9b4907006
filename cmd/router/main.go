// Inference Router - entry point.
// Loads the routing configuration, starts the health prober and
// metrics exporter, and serves the generation and admin HTTP surfaces
// until an interrupt signal requests a graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inference-router/internal/config"
	"inference-router/internal/lifecycle"
	"inference-router/internal/logging"
	"inference-router/internal/router"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the routing configuration file")
	listenAddr := flag.String("addr", ":8080", "Address the generation HTTP API listens on")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctrl, err := lifecycle.New(cfg, log)
	if err != nil {
		log.Fatal("failed to build router", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		log.Fatal("failed to start router", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/generate", handleGenerate(ctrl.Router, log))
	mux.HandleFunc("/breakers", handleBreakerStats(ctrl))
	mux.HandleFunc("/breakers/reset", handleBreakerReset(ctrl))

	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		log.Info("generation API listening", zap.String("addr", *listenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("generation API server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("generation API shutdown error", zap.Error(err))
	}

	if err := ctrl.Stop(); err != nil {
		log.Warn("router shutdown error", zap.Error(err))
	}
}

type generateRequest struct {
	SystemPrompt string   `json:"system_prompt"`
	UserPrompt   string   `json:"user_prompt"`
	Backend      string   `json:"backend,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	TopP         float64  `json:"top_p,omitempty"`
	Stop         []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Text     string          `json:"text"`
	Metadata router.Metadata `json:"metadata"`
}

func handleGenerate(r *router.Router, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body generateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		resp, err := r.Generate(req.Context(), router.Request{
			SystemPrompt:     body.SystemPrompt,
			UserPrompt:       body.UserPrompt,
			PreferredBackend: body.Backend,
			MaxTokens:        body.MaxTokens,
			Temperature:      body.Temperature,
			TopP:             body.TopP,
			Stop:             body.Stop,
		})
		if err != nil {
			log.Warn("generate returned degraded reply", zap.Error(err))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(generateResponse{Text: resp.Text, Metadata: resp.Metadata})
	}
}

func handleBreakerStats(ctrl *lifecycle.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ctrl.BreakerStats())
	}
}

func handleBreakerReset(ctrl *lifecycle.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := req.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "missing name parameter", http.StatusBadRequest)
			return
		}
		if !ctrl.ResetBreaker(name) {
			http.Error(w, "unknown breaker", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
