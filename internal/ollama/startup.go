package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the server cannot be reached.
var ErrNotRunning = errors.New("Ollama is not running. Start it with: ollama serve")

// EnsureReady checks that Ollama is running and reports whether the model is
// available locally. A missing model is reported to w but is not an error:
// Ollama pulls models lazily on first use.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}

	if c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}
	fmt.Fprintf(w, "model %s: not found locally (run: ollama pull %s)\n", model, model)
	return nil
}
