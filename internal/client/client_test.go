package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shail0iri/smartdesk/internal/ollama"
)

// fakeGenerator replays a scripted sequence of results.
type fakeGenerator struct {
	results []result
	calls   int
	seeds   []int64
	running bool
}

type result struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, model, prompt string, opts ollama.Options) (string, error) {
	f.seeds = append(f.seeds, opts.Seed)
	r := f.results[len(f.results)-1]
	if f.calls < len(f.results) {
		r = f.results[f.calls]
	}
	f.calls++
	return r.text, r.err
}

func (f *fakeGenerator) IsRunning(ctx context.Context) bool { return f.running }

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func testConfig(attempts int) Config {
	return Config{
		Model:             "test-model",
		MaxAttempts:       attempts,
		TimeoutBackoff:    time.Millisecond,
		ConnectionBackoff: 2 * time.Millisecond,
	}
}

func TestGenerate_Success(t *testing.T) {
	gen := &fakeGenerator{results: []result{{text: "hello"}}}
	c := New(gen, testConfig(3), nil)

	got, err := c.Generate(context.Background(), "prompt", Sampling{Temperature: 0.1, TopP: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, gen.calls)
}

func TestGenerate_AlwaysTransientIsBounded(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"timeout", fmt.Errorf("generate request: %w", context.DeadlineExceeded), KindTimeout},
		{"connection refused", fmt.Errorf("generate request: %w", refused()), KindConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{results: []result{{err: tt.err}}}
			c := New(gen, testConfig(3), nil)

			_, err := c.Generate(context.Background(), "prompt", Sampling{})

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, 3, f.Attempts)
			assert.Equal(t, 3, gen.calls)
		})
	}
}

func TestGenerate_RecoversAfterTransient(t *testing.T) {
	gen := &fakeGenerator{results: []result{
		{err: context.DeadlineExceeded},
		{err: refused()},
		{text: "finally"},
	}}
	c := New(gen, testConfig(3), nil)

	got, err := c.Generate(context.Background(), "prompt", Sampling{})
	require.NoError(t, err)
	assert.Equal(t, "finally", got)
	assert.Equal(t, 3, gen.calls)
}

func TestGenerate_NonTransientFailsFast(t *testing.T) {
	tests := []struct {
		name string
		res  result
		kind Kind
	}{
		{"status error", result{err: &ollama.StatusError{Endpoint: "generate", Code: 500}}, KindOther},
		{"empty response", result{text: "   \n"}, KindEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{results: []result{tt.res}}
			c := New(gen, testConfig(5), nil)

			_, err := c.Generate(context.Background(), "prompt", Sampling{})

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, 1, gen.calls)
		})
	}
}

func TestGenerate_FreshSeedPerAttempt(t *testing.T) {
	gen := &fakeGenerator{results: []result{{err: context.DeadlineExceeded}, {text: "ok"}}}
	c := New(gen, testConfig(3), nil)
	next := int64(0)
	c.seed = func() int64 { next++; return next }

	_, err := c.Generate(context.Background(), "prompt", Sampling{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, gen.seeds)
}

func TestGenerate_FixedSeedIsKept(t *testing.T) {
	gen := &fakeGenerator{results: []result{{text: "ok"}}}
	c := New(gen, testConfig(1), nil)

	_, err := c.Generate(context.Background(), "prompt", Sampling{Seed: 99})
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, gen.seeds)
}

func TestBackoff_Escalates(t *testing.T) {
	c := New(&fakeGenerator{}, Config{TimeoutBackoff: 5 * time.Second, ConnectionBackoff: 15 * time.Second}, nil)

	assert.Equal(t, 5*time.Second, c.backoff(KindTimeout, 1))
	assert.Equal(t, 10*time.Second, c.backoff(KindTimeout, 2))
	assert.Equal(t, 15*time.Second, c.backoff(KindConnection, 1))
	assert.Equal(t, 30*time.Second, c.backoff(KindConnection, 2))
	assert.Greater(t, c.backoff(KindConnection, 1), c.backoff(KindTimeout, 1))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindTimeout},
		{refused(), KindConnection},
		{errEmptyResponse, KindEmpty},
		{errors.New("boom"), KindOther},
		{&ollama.StatusError{Code: 404}, KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err), "classify(%v)", tt.err)
	}
}

func TestGenerate_RealTransport(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := New(ollama.New(srv.URL), testConfig(2), nil)
		_, err := c.Generate(context.Background(), "prompt", Sampling{})

		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, KindConnection, f.Kind)
		assert.Equal(t, 2, f.Attempts)
	})

	t.Run("request timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		cfg := testConfig(2)
		cfg.RequestTimeout = 20 * time.Millisecond
		c := New(ollama.New(srv.URL), cfg, nil)
		_, err := c.Generate(context.Background(), "prompt", Sampling{})

		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, KindTimeout, f.Kind)
		assert.Equal(t, 2, f.Attempts)
	})
}

func TestIsReachable(t *testing.T) {
	assert.True(t, New(&fakeGenerator{running: true}, testConfig(1), nil).IsReachable(context.Background()))
	assert.False(t, New(&fakeGenerator{}, testConfig(1), nil).IsReachable(context.Background()))
}
