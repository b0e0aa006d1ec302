package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bqaudit-cli/internal/audit"
	"github.com/sells-group/bqaudit-cli/internal/model"
	"github.com/sells-group/bqaudit-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve audit runs and trigger audits over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		auditor := audit.New(initClient(), st)
		mux := newMux(ctx, st, auditor)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: withCORS(mux),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newMux wires the API routes. runCtx outlives individual requests so
// triggered audits keep running after the 202 is sent.
func newMux(runCtx context.Context, st store.Store, auditor *audit.Auditor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if q := r.URL.Query().Get("limit"); q != "" {
			if n, convErr := strconv.Atoi(q); convErr == nil {
				limit = n
			}
		}
		runs, listErr := st.ListRuns(r.Context(), limit)
		if listErr != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": listErr.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, getErr := st.GetRun(r.Context(), r.PathValue("id"))
		if getErr != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": getErr.Error()})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	mux.HandleFunc("POST /api/audit", func(w http.ResponseWriter, r *http.Request) {
		var req model.AuditRequest
		if decErr := json.NewDecoder(r.Body).Decode(&req); decErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		applyRequestDefaults(&req)
		if req.Project == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project is required"})
			return
		}

		// Run asynchronously; progress lands in the run history.
		go func() {
			if _, runErr := auditor.Run(runCtx, req); runErr != nil {
				zap.L().Error("triggered audit failed",
					zap.String("project", req.Project),
					zap.Error(runErr),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"project": req.Project,
		})
	})

	return mux
}

func applyRequestDefaults(req *model.AuditRequest) {
	if req.Project == "" {
		req.Project = cfg.Audit.Project
	}
	if len(req.Regions) == 0 {
		req.Regions = cfg.Audit.Regions
	}
	if req.LookbackDays <= 0 {
		req.LookbackDays = cfg.Audit.LookbackDays
	}
	if req.PerRegionLimit <= 0 {
		req.PerRegionLimit = cfg.Audit.PerRegionLimit
	}
	if req.TopN <= 0 {
		req.TopN = cfg.Audit.TopN
	}
	if req.Concurrency <= 0 {
		req.Concurrency = cfg.Audit.Concurrency
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// withCORS allows browser dashboards to call the API directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
