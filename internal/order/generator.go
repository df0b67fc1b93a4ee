package order

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"orderload/internal/config"
	"orderload/internal/idempotency"
)

// CheckName is the check recorded once per iteration.
const CheckName = "status 200 or 201"

// Pause is the fixed delay after every iteration.
const Pause = 500 * time.Millisecond

// Doer sends HTTP requests. The harness's instrumented client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CheckRecorder records named check outcomes.
type CheckRecorder interface {
	RecordCheck(name string, passed bool)
}

// KeySource hands out idempotency keys.
type KeySource interface {
	Next() string
}

// Generator is the per-iteration body: one order, one check, one pause.
type Generator struct {
	endpoint string
	client   Doer
	checks   CheckRecorder
	keys     KeySource
	pause    time.Duration
	log      *zap.Logger
}

// Option customises a Generator.
type Option func(*Generator)

// WithKeySource replaces the default idempotency key generator.
func WithKeySource(k KeySource) Option {
	return func(g *Generator) { g.keys = k }
}

// WithPause replaces the fixed pause between iterations.
func WithPause(d time.Duration) Option {
	return func(g *Generator) { g.pause = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// NewGenerator builds a generator targeting cfg.OrdersURL().
func NewGenerator(cfg config.Config, client Doer, checks CheckRecorder, opts ...Option) *Generator {
	g := &Generator{
		endpoint: cfg.OrdersURL(),
		client:   client,
		checks:   checks,
		keys:     idempotency.NewGenerator(),
		pause:    Pause,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Endpoint is the URL every request is sent to.
func (g *Generator) Endpoint() string {
	return g.endpoint
}

// Iterate sends one order and records whether it was accepted. It never
// aborts early: a failed request still gets its check and its pause.
func (g *Generator) Iterate(ctx context.Context) {
	key := g.keys.Next()
	status, err := g.send(ctx, NewPayload(key))
	if err != nil {
		g.log.Debug("create order failed", zap.String("idempotency_key", key), zap.Error(err))
	}

	g.checks.RecordCheck(CheckName, err == nil && Accepted(status))

	sleep(ctx, g.pause)
}

func (g *Generator) send(ctx context.Context, p Payload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// Accepted reports whether the order service took the order.
func Accepted(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
