package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shail0iri/smartdesk/internal/checkpoint"
	"github.com/shail0iri/smartdesk/internal/client"
	"github.com/shail0iri/smartdesk/internal/dataset"
	"github.com/shail0iri/smartdesk/internal/generate"
)

// errBlankTicket marks a response that cleaned down to nothing.
var errBlankTicket = errors.New("response contained no ticket text")

// GenerateConfig controls the generate phase.
type GenerateConfig struct {
	Model    string
	Sampling client.Sampling
	Catalog  generate.Catalog
	Settings Settings
}

// TicketGenerator produces synthetic support tickets.
type TicketGenerator struct {
	gen   TextGenerator
	store *checkpoint.Store[dataset.SourceRecord]
	cfg   GenerateConfig
	deps
}

// NewTicketGenerator creates a TicketGenerator.
func NewTicketGenerator(gen TextGenerator, store *checkpoint.Store[dataset.SourceRecord], cfg GenerateConfig, opts ...Option) *TicketGenerator {
	return &TicketGenerator{gen: gen, store: store, cfg: cfg, deps: newDeps(opts)}
}

// GenerateOne draws a product, issue and tone and asks the model for one
// ticket. The returned record has no ID yet.
func (g *TicketGenerator) GenerateOne(ctx context.Context) (dataset.SourceRecord, error) {
	pick := g.cfg.Catalog.Pick(g.rng)

	raw, err := g.gen.Generate(ctx, pick.Prompt(), g.cfg.Sampling)
	if err != nil {
		return dataset.SourceRecord{}, err
	}
	text := generate.Clean(raw)
	if text == "" {
		return dataset.SourceRecord{}, errBlankTicket
	}
	return dataset.SourceRecord{Product: pick.Product, Text: text, CreatedAt: g.now()}, nil
}

// Run generates tickets until target rows exist, resuming from the
// checkpoint. Each missing row gets one attempt; failed attempts are skipped,
// so a run can end below target while ids stay contiguous.
func (g *TicketGenerator) Run(ctx context.Context, target int) (*Result[dataset.SourceRecord], error) {
	if err := g.cfg.Catalog.Validate(); err != nil {
		return nil, err
	}
	if !g.gen.IsReachable(ctx) {
		return nil, ErrServiceUnavailable
	}

	done, err := g.store.Load()
	if err != nil {
		return nil, err
	}
	for i, rec := range done {
		if rec.ID != i+1 {
			return nil, fmt.Errorf("%w: row %d has ticket id %d", ErrCheckpointMismatch, i+1, rec.ID)
		}
	}
	if len(done) > 0 {
		g.logger.Info("resuming from checkpoint", zap.Int("done", len(done)), zap.Int("target", target))
	}

	b := &batch[dataset.SourceRecord]{
		deps:     g.deps,
		phase:    "generate",
		model:    g.cfg.Model,
		store:    g.store,
		settings: g.cfg.Settings,
	}
	attempts := max(target-len(done), 0)
	next := len(done) + 1

	return b.run(ctx, done, target, attempts, func(ctx context.Context, _ int) step[dataset.SourceRecord] {
		rec, err := g.GenerateOne(ctx)
		if err != nil {
			g.logger.Warn("failed to generate ticket, skipping", zap.Error(err))
			st := step[dataset.SourceRecord]{outcome: OutcomeSkipped, attempts: 1, err: err}
			var f *client.Failure
			if errors.As(err, &f) {
				st.attempts = f.Attempts
			}
			return st
		}
		rec.ID = next
		next++
		return step[dataset.SourceRecord]{row: rec, produced: true, recordID: rec.ID, outcome: OutcomeSucceeded, attempts: 1}
	})
}
