package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.Ledger.Migrate(ctx); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownServer(srv, 10*time.Second)
		}()

		zap.L().Info("starting review API", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/reviews/pending", func(w http.ResponseWriter, req *http.Request) {
		limit := queryInt(req, "limit", 50)
		offset := queryInt(req, "offset", 0)
		system := req.URL.Query().Get("system")

		pairs, err := env.Ledger.GetPendingReviews(req.Context(), limit, offset, system)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs, "count": len(pairs)})
	})

	r.Get("/reviews/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := env.Ledger.GetReviewStats(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Get("/systems", func(w http.ResponseWriter, req *http.Request) {
		systems, err := env.Ledger.GetSystemsList(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"systems": systems})
	})

	r.Post("/reviews/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Status     string `json:"status"`
			Notes      string `json:"notes"`
			ReviewedBy string `json:"reviewed_by"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}

		status := model.PairStatus(body.Status)
		if !model.ValidPairStatus(status) || status == model.PairPending {
			writeError(w, http.StatusBadRequest, eris.Errorf("invalid status %q", body.Status))
			return
		}

		id := chi.URLParam(req, "id")
		if err := env.Ledger.UpdateReviewStatus(req.Context(), id, status, body.Notes, body.ReviewedBy); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"pair_id": id, "status": body.Status})
	})

	r.Post("/reviews/bulk-resolve", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			PairIDs    []string `json:"pair_ids"`
			Status     string   `json:"status"`
			ReviewedBy string   `json:"reviewed_by"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if len(body.PairIDs) == 0 {
			writeError(w, http.StatusBadRequest, eris.New("pair_ids is required"))
			return
		}

		status := model.PairStatus(body.Status)
		if !model.ValidPairStatus(status) || status == model.PairPending {
			writeError(w, http.StatusBadRequest, eris.Errorf("invalid status %q", body.Status))
			return
		}

		res, err := env.Ledger.BulkUpdateStatus(req.Context(), body.PairIDs, status, body.ReviewedBy)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/execute", func(w http.ResponseWriter, req *http.Request) {
		report, err := env.Engine.ExecuteAll(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	return r
}

// shutdownServer drains in-flight requests before returning. The signal
// context is already canceled by the time shutdown starts, so the drain
// needs its own deadline; Shutdown with a dead context gives up
// immediately and in-flight requests are cut off when the process exits.
func shutdownServer(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

func queryInt(req *http.Request, key string, def int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	zap.L().Warn("request failed", zap.Int("status", code), zap.Error(err))
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
