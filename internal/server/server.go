// Package server exposes the factory over an administrative HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/ledgermux/internal/factory"
	"github.com/rickgao/ledgermux/internal/proxy"
	"github.com/rickgao/ledgermux/internal/router"
)

// Service is the part of the factory the HTTP API drives.
type Service interface {
	IsConnected() bool
	Proxies() []string
	Degraded() []string
	Proxy(username string) (*proxy.Proxy, bool)
	Create(ctx context.Context, req factory.CreateRequest) (*proxy.Proxy, error)
	Remove(username string)
	Resync(ctx context.Context) error
	RouterStats() router.Stats
}

// Handler serves the admin API.
type Handler struct {
	svc     Service
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a Handler. timeout bounds create and resync requests.
func New(svc Service, logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{svc: svc, logger: logger.With("component", "server"), timeout: timeout}
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recoverer)
	r.Get("/health", h.handleHealth)
	r.Get("/stats", h.handleStats)
	r.Post("/resync", h.handleResync)

	r.Route("/proxies", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{username}", h.handleGet)
		r.Put("/{username}", h.handleCreateByName)
		r.Delete("/{username}", h.handleRemove)
	})
}

// Router returns a chi router with the admin routes registered.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// ProxyView is the JSON form of a proxy.
type ProxyView struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Account    string `json:"account"`
	Connected  bool   `json:"connected"`
	Subscribed bool   `json:"subscribed"`
	Error      string `json:"error,omitempty"`
}

func viewOf(p *proxy.Proxy) ProxyView {
	return ProxyView{
		ID:         p.ID().String(),
		Username:   p.Username(),
		Account:    p.Account(),
		Connected:  p.IsConnected(),
		Subscribed: p.Subscribed(),
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Proxies   int    `json:"proxies"`
	Degraded  int    `json:"degraded"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Connected: h.svc.IsConnected(),
		Proxies:   len(h.svc.Proxies()),
		Degraded:  len(h.svc.Degraded()),
	}

	status := http.StatusOK
	switch {
	case !resp.Connected:
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case resp.Degraded > 0:
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

type statsResponse struct {
	NotificationsReceived int64 `json:"notifications_received"`
	NotificationsIgnored  int64 `json:"notifications_ignored"`
	Dispatched            int64 `json:"dispatched"`
	Skipped               int64 `json:"skipped"`
	ProxyFailures         int64 `json:"proxy_failures"`
	GlobalFailures        int64 `json:"global_failures"`
	InFlight              int64 `json:"in_flight"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	s := h.svc.RouterStats()
	writeJSON(w, http.StatusOK, statsResponse{
		NotificationsReceived: s.NotificationsReceived,
		NotificationsIgnored:  s.NotificationsIgnored,
		Dispatched:            s.Dispatched,
		Skipped:               s.Skipped,
		ProxyFailures:         s.ProxyFailures,
		GlobalFailures:        s.GlobalFailures,
		InFlight:              s.InFlight,
	})
}

func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.svc.Resync(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	views := make([]ProxyView, 0)
	for _, name := range h.svc.Proxies() {
		// Removed between the two calls.
		if p, ok := h.svc.Proxy(name); ok {
			views = append(views, viewOf(p))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.svc.Proxy(chi.URLParam(r, "username"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "proxy not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

type createRequest struct {
	Username string `json:"username"`
	Account  string `json:"account"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	h.create(w, r, factory.CreateRequest{Username: req.Username, Account: req.Account})
}

func (h *Handler) handleCreateByName(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, factory.CreateRequest{Username: chi.URLParam(r, "username")})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, req factory.CreateRequest) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.svc.Create(ctx, req)

	var subErr *factory.SubscriptionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewOf(p))
	case errors.As(err, &subErr) && p != nil:
		h.logger.Warn("proxy registered degraded", "username", p.Username(), "error", err)
		view := viewOf(p)
		view.Error = err.Error()
		writeJSON(w, http.StatusAccepted, view)
	default:
		h.writeError(w, r, err)
	}
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	h.svc.Remove(chi.URLParam(r, "username"))
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	var (
		invalid     *factory.InvalidArgumentError
		unreachable *factory.UnreachableError
	)
	switch {
	case errors.Is(err, factory.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &unreachable):
		if unreachable.Status == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
