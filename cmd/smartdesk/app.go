package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/shail0iri/smartdesk/internal/checkpoint"
	"github.com/shail0iri/smartdesk/internal/client"
	"github.com/shail0iri/smartdesk/internal/config"
	"github.com/shail0iri/smartdesk/internal/ollama"
	"github.com/shail0iri/smartdesk/internal/pipeline"
	"github.com/shail0iri/smartdesk/internal/storage"
)

func (c *cli) newClient(phase config.PhaseConfig) *client.Client {
	return client.New(ollama.New(c.cfg.Ollama.BaseURL), client.Config{
		Model:             c.cfg.Ollama.Model,
		RequestTimeout:    c.cfg.Ollama.RequestTimeout,
		MaxAttempts:       phase.MaxAttempts,
		TimeoutBackoff:    phase.TimeoutBackoff,
		ConnectionBackoff: phase.ConnectionBackoff,
	}, c.logger.Named("client"))
}

func (c *cli) settings(phase config.PhaseConfig) pipeline.Settings {
	return pipeline.Settings{
		ProgressEvery:   c.cfg.Batch.ProgressEvery,
		CheckpointEvery: c.cfg.Batch.CheckpointEvery,
		PauseMin:        phase.PauseMin,
		PauseMax:        phase.PauseMax,
	}
}

func sampling(phase config.PhaseConfig) client.Sampling {
	return client.Sampling{Temperature: phase.Temperature, TopP: phase.TopP}
}

func paths(phase config.PhaseConfig) checkpoint.Paths {
	return checkpoint.Paths{
		Checkpoint: phase.Checkpoint,
		Output:     phase.Output,
		BackupDir:  phase.BackupDir,
	}
}

// openLedger returns nil when the ledger is disabled.
func (c *cli) openLedger() (*storage.Store, error) {
	if !c.cfg.Storage.Ledger {
		return nil, nil
	}
	store, err := storage.Open(c.cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening run ledger: %w", err)
	}
	return store, nil
}

// pipelineOptions wires the logger and, when enabled, the ledger. The returned
// close function is always safe to call.
func (c *cli) pipelineOptions(phase string) ([]pipeline.Option, func(), error) {
	opts := []pipeline.Option{
		pipeline.WithLogger(c.logger.Named(phase)),
		pipeline.WithFS(afero.NewOsFs()),
	}
	ledger, err := c.openLedger()
	if err != nil {
		return nil, func() {}, err
	}
	if ledger == nil {
		return opts, func() {}, nil
	}
	opts = append(opts, pipeline.WithLedger(ledger))
	return opts, func() { ledger.Close() }, nil
}

// explain adds a hint to the errors a user can act on.
func (c *cli) explain(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrServiceUnavailable):
		return fmt.Errorf("%w at %s (start it with: ollama serve)", err, c.cfg.Ollama.BaseURL)
	case errors.Is(err, pipeline.ErrInputMissing):
		return fmt.Errorf("%w (run: smartdesk generate)", err)
	case errors.Is(err, pipeline.ErrCheckpointMismatch), errors.Is(err, checkpoint.ErrHeaderMismatch):
		return fmt.Errorf("%w (rerun with --fresh to start over)", err)
	}
	return err
}

func reportRun[T any](res *pipeline.Result[T], target int) {
	if res.Interrupted {
		printWarning("Interrupted: %d/%d rows saved, rerun the same command to resume", len(res.Rows), target)
	} else {
		printSuccess("Done: %d rows in %s", len(res.Rows), res.Elapsed.Round(time.Second))
	}
	if res.Resumed > 0 {
		printStatus("Resumed", "%d", res.Resumed)
	}
	printStatus("Processed", "%d (%d failed)", res.Processed, res.Failed)
	for _, o := range []pipeline.Outcome{
		pipeline.OutcomeSucceeded,
		pipeline.OutcomeRepairedDefault,
		pipeline.OutcomeFailedSentinel,
		pipeline.OutcomeSkipped,
	} {
		if n := res.Counts[o]; n > 0 {
			printStatus("  "+o.String(), "%d", n)
		}
	}
	printStatus("Output", "%s", res.Final.Output)
	printStatus("Backup", "%s", res.Final.Backup)
	if res.RunID != "" {
		printStatus("Run", "%s", res.RunID)
	}
}
