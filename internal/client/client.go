// Package client wraps the Ollama transport with the retry policy used by both
// pipeline phases: timeouts and refused connections are retried with an
// escalating backoff up to a fixed attempt count, everything else fails fast.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/shail0iri/smartdesk/internal/ollama"
)

// Kind classifies why a generation request failed.
type Kind int

const (
	KindOther Kind = iota
	KindTimeout
	KindConnection
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindEmpty:
		return "empty"
	default:
		return "other"
	}
}

// Transient reports whether a failure of this kind is worth retrying.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindConnection
}

// errEmptyResponse marks a 200 response whose text is blank.
var errEmptyResponse = errors.New("empty response from model")

// Failure is the designated failure signal returned once retries are exhausted
// or a non-retryable error occurs.
type Failure struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation failed (%s) after %d attempt(s): %v", f.Kind, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Sampling holds per-request sampling parameters. A zero Seed is replaced by a
// fresh random seed on every attempt.
type Sampling struct {
	Temperature float64
	TopP        float64
	Seed        int64
}

// Generator is the transport the client drives. *ollama.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, opts ollama.Options) (string, error)
	IsRunning(ctx context.Context) bool
}

// Config controls model selection, timeouts and the retry bound.
type Config struct {
	Model             string
	RequestTimeout    time.Duration
	MaxAttempts       int
	TimeoutBackoff    time.Duration
	ConnectionBackoff time.Duration
}

// Client issues generation requests with bounded retries.
type Client struct {
	gen    Generator
	cfg    Config
	logger *zap.Logger
	seed   func() int64
}

// New creates a Client. MaxAttempts below 1 is treated as 1.
func New(gen Generator, cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gen:    gen,
		cfg:    cfg,
		logger: logger,
		seed:   func() int64 { return rand.Int64N(100000) + 1 },
	}
}

// IsReachable probes the service once. Callers check it before starting a batch.
func (c *Client) IsReachable(ctx context.Context) bool {
	return c.gen.IsRunning(ctx)
}

// Generate sends the prompt and returns the raw response text. On failure the
// returned error is always a *Failure.
func (c *Client) Generate(ctx context.Context, prompt string, s Sampling) (string, error) {
	var (
		text     string
		attempts int
		lastKind Kind
	)

	err := retry.Do(
		func() error {
			attempts++
			out, err := c.attempt(ctx, prompt, s)
			if err != nil {
				lastKind = classify(err)
				return err
			}
			text = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		retry.RetryIf(func(err error) bool { return classify(err).Transient() }),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			return c.backoff(classify(err), attempts)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(_ uint, err error) {
			kind := classify(err)
			c.logger.Warn("generation request failed, retrying",
				zap.Stringer("kind", kind),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", c.backoff(kind, attempts)),
				zap.Error(err))
		}),
	)
	if err != nil {
		return "", &Failure{Kind: lastKind, Attempts: attempts, Err: err}
	}
	return text, nil
}

func (c *Client) attempt(ctx context.Context, prompt string, s Sampling) (string, error) {
	opts := ollama.Options{Temperature: s.Temperature, TopP: s.TopP, Seed: s.Seed}
	if opts.Seed == 0 {
		opts.Seed = c.seed()
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	out, err := c.gen.Generate(ctx, c.cfg.Model, prompt, opts)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", errEmptyResponse
	}
	return out, nil
}

// backoff escalates linearly with the attempt number; refused connections wait
// longer than timeouts.
func (c *Client) backoff(kind Kind, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.cfg.TimeoutBackoff
	if kind == KindConnection {
		base = c.cfg.ConnectionBackoff
	}
	return base * time.Duration(attempt)
}

func classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, errEmptyResponse) {
		return KindEmpty
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnection
	}
	return KindOther
}
