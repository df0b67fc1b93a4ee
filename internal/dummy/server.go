// Package dummy is a mock order gateway to aim load at.
package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Port int

	// ForceStatus answers every POST /orders with this status when set.
	ForceStatus int
	// FailRate is the fraction (0-1) of POST /orders answered with 500.
	FailRate float64
	// MinLatency and MaxLatency bound the injected delay per request.
	MinLatency time.Duration
	MaxLatency time.Duration

	// RedisAddr switches idempotency storage to Redis.
	RedisAddr string
	RedisTTL  time.Duration
}

// DefaultServerConfig answers in 10-50ms and never fails.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:       8080,
		MinLatency: 10 * time.Millisecond,
		MaxLatency: 50 * time.Millisecond,
		RedisTTL:   24 * time.Hour,
	}
}

// Validate rejects knob values that make no sense.
func (c ServerConfig) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.FailRate < 0 || c.FailRate > 1:
		return fmt.Errorf("fail rate %v not in [0,1]", c.FailRate)
	case c.MinLatency < 0 || c.MaxLatency < c.MinLatency:
		return fmt.Errorf("latency range %s-%s is invalid", c.MinLatency, c.MaxLatency)
	case c.ForceStatus != 0 && (c.ForceStatus < 100 || c.ForceStatus > 599):
		return fmt.Errorf("forced status %d is not an HTTP status", c.ForceStatus)
	}
	return nil
}

type createOrderRequest struct {
	UserID         string `json:"user_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Handler serves the order endpoints.
type Handler struct {
	cfg   ServerConfig
	store OrderStore
	log   *zap.Logger
	mux   *http.ServeMux

	float func() float64
	sleep func(ctx context.Context, d time.Duration)
}

// NewHandler builds the order API on store.
func NewHandler(cfg ServerConfig, store OrderStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		cfg:   cfg,
		store: store,
		log:   log,
		mux:   http.NewServeMux(),
		float: rand.Float64,
		sleep: sleepCtx,
	}

	h.mux.HandleFunc("POST /orders", h.handleCreateOrder)
	h.mux.HandleFunc("GET /orders/{id}", h.handleGetOrder)
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	h.delay(r.Context())

	if h.cfg.ForceStatus != 0 {
		writeJSON(w, h.cfg.ForceStatus, map[string]string{"error": "forced status"})
		return
	}
	if h.cfg.FailRate > 0 && h.float() < h.cfg.FailRate {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected failure"})
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.UserID == "" || req.AmountCents <= 0 || req.Currency == "" || req.IdempotencyKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid required fields: user_id, amount_cents (>0), currency, idempotency_key"})
		return
	}

	o, created, err := h.store.Create(r.Context(), Order{
		OrderID:        uuid.NewString(),
		UserID:         req.UserID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Status:         "CREATED",
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("create order", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create order"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, o)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	h.delay(r.Context())

	o, err := h.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		h.log.Error("get order", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get order"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) delay(ctx context.Context) {
	lo, hi := h.cfg.MinLatency, h.cfg.MaxLatency
	if hi <= 0 {
		return
	}
	d := lo
	if hi > lo {
		d += time.Duration(h.float() * float64(hi-lo))
	}
	h.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves the mock gateway until ctx is cancelled.
func Start(ctx context.Context, cfg ServerConfig, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if log == nil {
		log = zap.NewNop()
	}

	var store OrderStore = NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			return err
		}
		store = rs
	}
	defer store.Close()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}
	return Serve(ctx, ln, NewHandler(cfg, store, log), log)
}

// Serve runs handler on ln until ctx is cancelled, then shuts down.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, log *zap.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	log.Info("dummy server running",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("endpoints", []string{"POST /orders", "GET /orders/{id}", "GET /health"}),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("dummy server stopped")
	return nil
}
