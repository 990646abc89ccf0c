package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"
	"github.com/flowrun/flowrun/internal/infrastructure/config"
	"github.com/flowrun/flowrun/internal/infrastructure/logger"
	"github.com/flowrun/flowrun/internal/infrastructure/monitoring"
	"github.com/flowrun/flowrun/internal/infrastructure/storage"
)

func main() {
	var (
		port = flag.String("port", "", "Server port (overrides config)")
	)
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("version", "1.0.0").Str("port", cfg.Port).Msg("starting flowrun server")

	store := storage.NewBunStore(cfg.DatabaseDSN)
	log.Info().Str("dsn", maskDSN(cfg.DatabaseDSN)).Msg("using BunStore (PostgreSQL)")

	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize database schema")
		os.Exit(1)
	}
	log.Info().Msg("database schema initialized")

	observerManager := monitoring.NewObserverManager()
	observerManager.AddObserver(monitoring.NewLogObserver(monitoring.NewExecutionLogger("flowrun", false)))

	engineConfig := executor.DefaultEngineConfig()
	engineConfig.MaxParallelNodes = cfg.MaxConcurrentNodes
	engineConfig.BudgetEnforcement = cfg.BudgetEnforcement
	if cfg.DefaultRunTimeoutMS > 0 {
		engineConfig.WorkflowExecutionTimeout = time.Duration(cfg.DefaultRunTimeoutMS) * time.Millisecond
	}

	engine := executor.NewWorkflowEngine(store, observerManager, engineConfig)
	engine.SetSuspensionRepository(store, executor.NewEngineResumeNotifier(engine, store))
	engine.SuspensionManager().SetScanInterval(time.Duration(cfg.ResumptionPollMS) * time.Millisecond)
	engine.SuspensionManager().Start(ctx)
	log.Info().Msg("engine and suspension resumption worker started")

	mux := http.NewServeMux()
	registerRoutes(mux, engine, store, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	engine.SuspensionManager().Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server exited gracefully")
}

// registerRoutes wires the minimal surface a wave-based engine needs exposed
// externally: triggering a run, reading one back, and the callback a
// suspended webhook/approval node resumes through. Workflow authoring
// (create/update/list) is out of scope here — it is expected to land
// through the same BunStore the engine already shares.
func registerRoutes(mux *http.ServeMux, engine *executor.WorkflowEngine, store *storage.BunStore, log zerolog.Logger) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	mux.HandleFunc("POST /api/v1/workflows/{id}/executions", func(w http.ResponseWriter, r *http.Request) {
		workflowID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		var body struct {
			Variables map[string]any `json:"variables"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}

		workflow, err := store.GetWorkflow(r.Context(), workflowID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		trigger := domain.NewTrigger(domain.TriggerTypeAPI, nil)
		execution, err := engine.ExecuteWorkflow(r.Context(), workflow, trigger, body.Variables)
		if execution == nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		status := http.StatusOK
		if err != nil {
			log.Error().Err(err).Str("execution_id", execution.ID().String()).Msg("execution finished with error")
		}
		writeJSON(w, status, executionView(execution))
	})

	mux.HandleFunc("GET /api/v1/executions/{id}", func(w http.ResponseWriter, r *http.Request) {
		executionID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		execution, err := store.GetExecution(r.Context(), executionID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, executionView(execution))
	})

	mux.HandleFunc("POST /api/webhooks/resume/{token}", func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")

		var payload map[string]any
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}

		suspension, err := store.GetSuspensionByToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		_, _, err = engine.SuspensionManager().Resume(r.Context(), suspension.ID, payload, suspension.Kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

func executionView(execution domain.Execution) map[string]any {
	return map[string]any{
		"id":          execution.ID(),
		"workflow_id": execution.WorkflowID(),
		"phase":       execution.Phase(),
		"variables":   execution.Variables().All(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// maskDSN masks the password in a DSN string for safe logging
func maskDSN(dsn string) string {
	if len(dsn) == 0 {
		return ""
	}

	start := -1
	end := -1
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == ':' && start == -1 {
			if i+1 < len(dsn) && dsn[i+1] != '/' {
				start = i + 1
			}
		}
		if dsn[i] == '@' && start != -1 {
			end = i
			break
		}
	}

	if start != -1 && end != -1 && end > start {
		return dsn[:start] + "***" + dsn[end:]
	}

	return dsn
}
