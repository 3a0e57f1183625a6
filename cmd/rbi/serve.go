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
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-integrity/rbi-cli/internal/config"
	"github.com/meridian-integrity/rbi-cli/internal/model"
	"github.com/meridian-integrity/rbi-cli/internal/rbi"
	"github.com/meridian-integrity/rbi-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st, cfg.Server, cfg.Preview),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the admin API. Routes mirror the engine contract: compute
// is the audit-critical commit path, preview is the best-effort impact report.
func newRouter(st store.Store, serverCfg config.ServerConfig, previewCfg config.PreviewConfig) http.Handler {
	engine := rbi.NewEngine(st, st, st)
	previewer := rbi.NewPreviewer(engine, st,
		rbi.WithConcurrency(previewCfg.Concurrency),
		rbi.WithRateLimit(previewCfg.RateLimit, previewCfg.RateBurst),
	)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: serverCfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/compute", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tag    string `json:"tag"`
			Commit bool   `json:"commit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Tag == "" {
			writeError(w, http.StatusBadRequest, "tag is required")
			return
		}

		active, err := st.ActivePolicy(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if active == nil {
			writeError(w, http.StatusConflict, "no active policy")
			return
		}

		result, err := engine.Compute(r.Context(), req.Tag, active.Level, active)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}

		if req.Commit {
			if _, err := st.RecordSchedule(r.Context(), *result); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Post("/api/preview", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tags   []string                `json:"tags"`
			Config *model.RBIConfiguration `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Tags) == 0 {
			writeError(w, http.StatusBadRequest, "tags are required")
			return
		}

		entries, err := previewer.Preview(r.Context(), req.Tags, req.Config)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Post("/api/calibrations", func(w http.ResponseWriter, r *http.Request) {
		var rec model.CalibrationRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := st.AppendCalibration(r.Context(), rec)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	r.Get("/api/policies", func(w http.ResponseWriter, r *http.Request) {
		policies, err := st.ListPolicies(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, policies)
	})

	r.Post("/api/policies/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := st.ActivatePolicy(r.Context(), id); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "activated", "policy_id": id})
	})

	return r
}

// statusForError maps the engine's error taxonomy onto HTTP statuses so the
// admin UI can show operators which policy field to fix.
func statusForError(err error) int {
	var (
		confErr       *model.ConfigurationError
		insuffErr     *model.InsufficientDataError
		lookupErr     *model.LookupError
		validationErr *model.ValidationError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &lookupErr):
		return http.StatusNotFound
	case errors.As(err, &confErr), errors.As(err, &insuffErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
