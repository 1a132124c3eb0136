package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/expand"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/recommend"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Service, env.Fallback),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// recommendRequest is the POST /recommendations body.
type recommendRequest struct {
	Filter     model.FilterSpec `json:"filter"`
	MinResults int              `json:"min_results"`
}

// failedResponse is returned with 503 when discovery fails.
type failedResponse struct {
	Error    string            `json:"error"`
	Fallback []model.Candidate `json:"fallback"`
}

// buildRouter wires the HTTP API around svc.
func buildRouter(svc *recommend.Service, fallback *fallbackList) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/recommendations", func(w http.ResponseWriter, req *http.Request) {
		var body recommendRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rec, err := svc.RequestRecommendation(req.Context(), body.Filter, body.MinResults, nil)
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, rec)
		case errors.Is(err, model.ErrInvalidFilter), errors.Is(err, recommend.ErrInvalidMinResults):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, expand.ErrDiscoveryFailed):
			zap.L().Warn("discovery failed, serving fallback list", zap.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, failedResponse{
				Error:    err.Error(),
				Fallback: fallback.For(body.Filter.Category),
			})
		default:
			zap.L().Error("recommendation failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "recommendation failed")
		}
	})

	r.Get("/pools/{key}/next", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		c, ok := svc.GetNextFromPool(key)
		if !ok {
			respondError(w, http.StatusNotFound, "no pooled candidates for key")
			return
		}
		stats, _ := svc.PoolStats(key)
		respondJSON(w, http.StatusOK, map[string]any{
			"selected":      c,
			"pool_stats":    stats,
			"needs_refresh": svc.NeedsRefresh(key),
		})
	})

	r.Delete("/pools/{key}", func(w http.ResponseWriter, req *http.Request) {
		if !svc.Forget(chi.URLParam(req, "key")) {
			respondError(w, http.StatusNotFound, "nothing cached for key")
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"removed": true})
	})

	r.Delete("/cache", func(w http.ResponseWriter, req *http.Request) {
		category, err := categoryFilter(req.URL.Query().Get("category"))
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]int{"removed": svc.Invalidate(category)})
	})

	r.Get("/cache/stats", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, svc.CacheStats())
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
