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
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/monitoring"
	"github.com/homereach/contact-cli/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job intake HTTP server",
	Long: `serve exposes the contact queue over HTTP so the acquisition pipeline can
push jobs directly: POST /api/jobs enqueues, GET /api/jobs lists, and
GET /api/stats reports queue health. A background checker samples the queue
and fires the failure webhook when failed jobs accumulate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.ValidateServe(); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		collector := monitoring.NewCollector(st)
		alerter := monitoring.NewAlerter(cfg.Alerting)
		checker := monitoring.NewChecker(collector, alerter, cfg.Contact.Tenant, 0)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(st, collector, cfg.Contact.Tenant),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("intake server listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "intake server")
			}
			return nil
		})
		g.Go(func() error {
			checker.Run(gCtx)
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the intake API. Kept separate from the serve command so
// tests can drive the handlers directly.
func newRouter(st store.Store, collector *monitoring.Collector, defaultTenant string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/jobs", handleCreateJob(st, defaultTenant))
	r.Get("/api/jobs", handleListJobs(st))
	r.Get("/api/stats", handleStats(collector, defaultTenant))
	return r
}

// jobRequest is the intake payload for one contact job.
type jobRequest struct {
	TenantID        string `json:"tenant_id"`
	LeadID          string `json:"lead_id"`
	Portal          string `json:"portal"`
	ListingURL      string `json:"listing_url"`
	Title           string `json:"title"`
	MessageTemplate string `json:"message_template"`
	Priority        int    `json:"priority"`
}

func handleCreateJob(st store.Store, defaultTenant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		tenant := req.TenantID
		if tenant == "" {
			tenant = defaultTenant
		}
		job, err := buildJob(tenant, req.LeadID, req.Portal, req.ListingURL, req.Title, req.MessageTemplate, req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		created, err := st.CreateJob(r.Context(), job)
		if err != nil {
			zap.L().Error("enqueue job over http", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not enqueue job")
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleListJobs(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 50
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		filter, err := buildJobFilter(q.Get("tenant"), q.Get("portal"), q.Get("state"), limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		jobs, err := st.ListJobs(r.Context(), filter)
		if err != nil {
			zap.L().Error("list jobs over http", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not list jobs")
			return
		}
		if jobs == nil {
			jobs = []model.ContactJob{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func handleStats(collector *monitoring.Collector, defaultTenant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := r.URL.Query().Get("tenant")
		if tenant == "" {
			tenant = defaultTenant
		}

		snapshot, err := collector.Collect(r.Context(), tenant)
		if err != nil {
			zap.L().Error("collect queue stats", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not collect stats")
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
