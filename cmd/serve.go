package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crmboard/internal/analytics"
	"github.com/sells-group/crmboard/pkg/kommo"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analytics HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: newRouter(serverDeps{
				Leads:     e.Client,
				Analytics: e.Aggregator,
				Diags:     e.Client,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("serve: listening", zap.Int("port", port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	},
}

// serverDeps are the narrow interfaces the HTTP surface needs; tests stub
// them.
type serverDeps struct {
	Leads interface {
		FetchLeads(ctx context.Context, start, end time.Time) ([]kommo.Lead, error)
	}
	Analytics interface {
		GetComprehensiveAnalytics(ctx context.Context, periodDays int) (*analytics.Analytics, error)
		GetAnalytics(ctx context.Context, start, end time.Time) (*analytics.Analytics, error)
	}
	Diags interface {
		RunDiagnostics(ctx context.Context) (*kommo.DiagnosticReport, error)
	}
}

func newRouter(deps serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/leads", func(w http.ResponseWriter, r *http.Request) {
			start, end, err := parseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Detail: err.Error()})
				return
			}
			leads, err := deps.Leads.FetchLeads(r.Context(), start, end)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
		})

		r.Get("/analytics", func(w http.ResponseWriter, r *http.Request) {
			period := 15
			if p := r.URL.Query().Get("period_days"); p != "" {
				n, err := strconv.Atoi(p)
				if err != nil || n <= 0 {
					writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Field: "period_days", Detail: "must be a positive integer"})
					return
				}
				period = n
			}
			result, err := deps.Analytics.GetComprehensiveAnalytics(r.Context(), period)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Get("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
			report, err := deps.Diags.RunDiagnostics(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		})
	})

	return r
}

// requestLogger tags each request with an ID and logs its outcome.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		w.Header().Set("X-Request-Id", reqID)
		started := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Debug("serve: request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
}

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeError maps the client's error taxonomy onto HTTP responses. Expired
// authorization means "reconnect required"; a missing connection is a setup
// state, not a failure; transient errors are marked retryable.
func writeError(w http.ResponseWriter, err error) {
	var ve *kommo.ValidationError

	switch {
	case errors.Is(err, kommo.ErrNotConfigured):
		writeJSON(w, http.StatusPreconditionFailed, errorBody{Error: "setup_required", Detail: "no CRM connection configured"})
	case kommo.IsAuthExpired(err):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "reconnect_required", Detail: err.Error()})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Field: ve.Field, Detail: ve.Detail})
	case kommo.IsRateLimited(err):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Detail: err.Error(), Retryable: true})
	case kommo.IsTransient(err):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream_unavailable", Detail: err.Error(), Retryable: true})
	default:
		zap.L().Error("serve: request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Detail: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (defaults to server.port)")
	rootCmd.AddCommand(serveCmd)
}
