// Command dbcore-agent is a thin demo binary wiring the Orchestrator to
// an HTTP surface: health, audit search, and connection stats. It
// mirrors the teacher's cmd/appserver shape — flags, a composition-root
// constructor, Attach-then-Start, graceful signal-driven shutdown —
// generalized from one application object to the Orchestrator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbcore/agentcore/internal/config"
	"github.com/dbcore/agentcore/pkg/audit"
	"github.com/dbcore/agentcore/pkg/orchestrator"
	"github.com/dbcore/agentcore/pkg/tools"
	"github.com/dbcore/agentcore/pkg/version"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullVersion())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	passphrase := os.Getenv("VAULT_MASTER_PASSPHRASE")
	if passphrase == "" {
		passphrase = cfg.Vault.MasterPassphrase
	}
	if passphrase == "" {
		log.Fatal("VAULT_MASTER_PASSPHRASE must be set")
	}

	o, err := orchestrator.New(cfg, []byte(passphrase), nil)
	if err != nil {
		log.Fatalf("initialise orchestrator: %v", err)
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: newRouter(o, os.Getenv("JWT_SIGNING_SECRET")),
	}

	compactionScheduler := newAuditCompactionScheduler(o, 90*24*time.Hour)
	compactionScheduler.Start()

	go func() {
		log.Printf("dbcore-agent listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-compactionScheduler.Stop().Done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := o.Shutdown(shutdownCtx); err != nil {
		log.Printf("orchestrator shutdown: %v", err)
	}
}

func newRouter(o *orchestrator.Orchestrator, jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", handleHealth(o))
	r.Get("/audit/search", handleAuditSearch(o))
	r.Get("/connections", handleConnections(o))
	r.Handle("/metrics", promhttp.HandlerFor(o.MetricsReg, promhttp.HandlerOpts{}))
	r.Get("/version", handleVersion)
	r.Get("/events", handleEvents(o))

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(jwtSecret))
		r.Post("/tools/{name}/invoke", handleToolInvoke(o))
	})

	return r
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
		"buildTime": version.BuildTime,
		"goVersion": version.GoVersion,
	})
}

func handleHealth(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := o.CheckHealth(r.Context(), 5*time.Second)
		status := http.StatusOK
		if report.Status != "OK" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func handleAuditSearch(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := audit.Filter{
			Principal: q.Get("principal"),
			Action:    q.Get("action"),
			Resource:  q.Get("resource"),
		}
		writeJSON(w, http.StatusOK, o.SearchAudit(filter))
	}
}

func handleConnections(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"pooled":     o.Connections(),
			"structured": o.StructuredConnections(),
		})
	}
}

// handleToolInvoke runs a registered tool on behalf of the JWT-authenticated
// caller. The bearer token's "sub" claim becomes the CallContext principal
// the Safety Controller and audit log attribute the call to.
func handleToolInvoke(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		var params map[string]any
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil && err.Error() != "EOF" {
				http.Error(w, "invalid JSON body", http.StatusBadRequest)
				return
			}
		}

		callCtx := tools.CallContext{Principal: principalFrom(r.Context())}
		result, err := o.RunTool(r.Context(), name, params, callCtx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
