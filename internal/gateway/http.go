package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stellarlinkco/pacebot/internal/domain"
	"github.com/stellarlinkco/pacebot/internal/social"
)

func (g *Gateway) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", g.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/users", g.handleListUsers)
	r.Get("/users/{id}", g.handleGetUser)
	return r
}

func (g *Gateway) startHTTP() error {
	ln, err := net.Listen("tcp", g.httpAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.httpAddr, err)
	}
	g.httpLn = ln
	g.http = &http.Server{
		Handler:           g.router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := g.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[gateway] http server error: %v", err)
		}
	}()
	return nil
}

func (g *Gateway) stopHTTP() {
	if g.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.http.Shutdown(ctx); err != nil {
		log.Printf("[gateway] http shutdown warning: %v", err)
	}
}

// HTTPAddr is the bound address of the admin endpoint once running.
func (g *Gateway) HTTPAddr() string {
	if g.httpLn == nil {
		return g.httpAddr
	}
	return g.httpLn.Addr().String()
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"bot":      g.botUsername(),
		"channels": g.channels.EnabledChannels(),
		"pacing":   g.cfg.Pacing.Enabled,
	})
}

func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := g.store.ListUsers(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := make([]social.Summary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user id must be an integer"})
		return
	}
	u, err := g.users.Get(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, u.Summary())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] write response: %v", err)
	}
}
