// pagelockd is the lock engine's admin daemon: it wires the store,
// cache and evaluator from a config file and exposes a small JSON API
// for evaluation and lock mutations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/pagelock/access"
	"github.com/GoCodeAlone/pagelock/audit"
	"github.com/GoCodeAlone/pagelock/cache"
	"github.com/GoCodeAlone/pagelock/capability"
	"github.com/GoCodeAlone/pagelock/config"
	"github.com/GoCodeAlone/pagelock/level"
	"github.com/GoCodeAlone/pagelock/resource"
	"github.com/GoCodeAlone/pagelock/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration YAML file")
	addr       = flag.String("addr", "", "Listen address (overrides config)")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = config.Default()
		logger.Info("No config file specified, using defaults")
	}
	if *addr != "" {
		cfg.Listen = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lockStore, auditStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	backend, err := buildCacheBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open cache backend: %v", err)
	}
	lockCache := cache.New(backend, cfg.Cache.TTL)

	groups := capability.NewGroups()
	for token, holders := range cfg.Groups {
		groups.Register(capability.Token(token), holders)
	}

	auditLog := audit.NewLogger(os.Stdout)
	evaluator := access.NewEvaluator(lockStore, lockCache, groups, logger)
	manager := access.NewManager(lockStore, lockCache, auditLog, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newAPI(evaluator, manager, auditStore),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("pagelockd listening", "addr", cfg.Listen, "storage", cfg.Storage.Driver, "cache", cfg.Cache.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (store.LockStore, store.AuditStore, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		s, err := store.NewPGStore(ctx, store.PGConfig{
			URL:      cfg.Storage.DSN,
			MaxConns: cfg.Storage.MaxConns,
			MinConns: cfg.Storage.MinConns,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s.Close, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { _ = s.Close() }, nil
	}
}

func buildCacheBackend(ctx context.Context, cfg *config.Config) (cache.Backend, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisBackend(ctx, cache.RedisConfig{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
		})
	}
	return cache.NewMemoryBackend(cfg.Cache.MaxSize), nil
}

// --- admin API ---

type api struct {
	evaluator *access.Evaluator
	manager   *access.Manager
	audit     store.AuditStore
}

func newAPI(ev *access.Evaluator, m *access.Manager, auditStore store.AuditStore) http.Handler {
	a := &api{evaluator: ev, manager: m, audit: auditStore}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", a.handleEvaluate)
	mux.HandleFunc("POST /v1/locks", a.handleSetLevel)
	mux.HandleFunc("POST /v1/revisions", a.handleSetRevisionHidden)
	mux.HandleFunc("DELETE /v1/resources/{id}", a.handleDeleteResource)
	mux.HandleFunc("GET /v1/audit", a.handleAuditQuery)
	return mux
}

// resourceRef identifies a resource in API payloads: either an id for
// an existing item or namespace+name for a pending one.
type resourceRef struct {
	ID        int64  `json:"id,omitempty"`
	Namespace int    `json:"namespace,omitempty"`
	Name      string `json:"name,omitempty"`
}

func (ref resourceRef) toResource() resource.Resource {
	if ref.ID != 0 {
		return resource.Existing(ref.ID)
	}
	return resource.Pending(ref.Namespace, ref.Name)
}

type evaluateRequest struct {
	Resource          resourceRef `json:"resource"`
	Actor             string      `json:"actor"`
	Capabilities      []string    `json:"capabilities,omitempty"`
	Operation         string      `json:"operation"`
	RevisionID        int64       `json:"revision_id,omitempty"`
	CurrentRevisionID int64       `json:"current_revision_id,omitempty"`
	HostSuppressed    bool        `json:"host_suppressed,omitempty"`
}

func (a *api) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	caps := make([]capability.Token, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps = append(caps, capability.Token(c))
	}

	result, err := a.evaluator.Evaluate(r.Context(), access.Request{
		Resource:          req.Resource.toResource(),
		Principal:         capability.NewPrincipal(req.Actor, caps...),
		Operation:         resource.Operation(req.Operation),
		RevisionID:        req.RevisionID,
		CurrentRevisionID: req.CurrentRevisionID,
		HostSuppressed:    req.HostSuppressed,
	})
	if err != nil {
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type setLevelRequest struct {
	Resource resourceRef `json:"resource"`
	Level    string      `json:"level"`
	Reason   string      `json:"reason"`
	Actor    string      `json:"actor"`
}

type changeResponse struct {
	Status     string `json:"status"`
	AuditLogID int64  `json:"audit_log_id,omitempty"`
}

func (a *api) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	var req setLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	lvl, err := level.Parse(req.Level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cr, err := a.manager.SetLevel(r.Context(), req.Resource.toResource(), lvl, req.Reason, req.Actor)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	status := "no-change"
	if cr.Changed {
		status = "ok"
	}
	writeJSON(w, http.StatusOK, changeResponse{Status: status, AuditLogID: cr.AuditLogID})
}

type setRevisionRequest struct {
	ResourceID int64  `json:"resource_id"`
	RevisionID int64  `json:"revision_id"`
	Hidden     bool   `json:"hidden"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor"`
}

func (a *api) handleSetRevisionHidden(w http.ResponseWriter, r *http.Request) {
	var req setRevisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cr, err := a.manager.SetRevisionHidden(r.Context(), req.ResourceID, req.RevisionID, req.Hidden, req.Reason, req.Actor)
	if err != nil {
		writeMutationError(w, err)
		return
	}
	status := "no-change"
	if cr.Changed {
		status = "ok"
	}
	writeJSON(w, http.StatusOK, changeResponse{Status: status, AuditLogID: cr.AuditLogID})
}

func (a *api) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid resource id", http.StatusBadRequest)
		return
	}
	if err := a.manager.DeleteResource(r.Context(), id); err != nil {
		writeMutationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.audit.Query(r.Context(), store.AuditFilter{
		Action:   store.AuditAction(q.Get("action")),
		Resource: q.Get("resource"),
		Actor:    q.Get("actor"),
	})
	if err != nil {
		http.Error(w, "audit query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidLevel):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrReadOnly):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, "storage failure", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
