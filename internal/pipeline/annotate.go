package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/shail0iri/smartdesk/internal/annotation"
	"github.com/shail0iri/smartdesk/internal/checkpoint"
	"github.com/shail0iri/smartdesk/internal/client"
	"github.com/shail0iri/smartdesk/internal/dataset"
	"github.com/shail0iri/smartdesk/internal/normalize"
	"github.com/shail0iri/smartdesk/internal/stats"
)

// AnnotateConfig controls the annotate phase.
type AnnotateConfig struct {
	Model            string
	Sampling         client.Sampling
	MaxParseAttempts int
	ParseRetryDelay  time.Duration
	Settings         Settings
}

// AnnotateResult is a finished or interrupted annotate run.
type AnnotateResult struct {
	*Result[dataset.AnnotatedRecord]
	Summary stats.Summary
}

// Annotator extracts one Annotation per source record.
type Annotator struct {
	gen       TextGenerator
	validator *annotation.Validator
	store     *checkpoint.Store[dataset.AnnotatedRecord]
	cfg       AnnotateConfig
	deps
}

// NewAnnotator creates an Annotator. MaxParseAttempts below 1 is treated as 1.
func NewAnnotator(gen TextGenerator, v *annotation.Validator, store *checkpoint.Store[dataset.AnnotatedRecord], cfg AnnotateConfig, opts ...Option) *Annotator {
	if cfg.MaxParseAttempts < 1 {
		cfg.MaxParseAttempts = 1
	}
	return &Annotator{
		gen:       gen,
		validator: v,
		store:     store,
		cfg:       cfg,
		deps:      newDeps(opts),
	}
}

// AnnotateOne asks the model to annotate text. It always returns a usable
// Annotation: transport failures, unrepairable responses and labels outside
// the vocabulary all yield the sentinel. Unrepairable responses are
// re-requested with a fresh seed up to MaxParseAttempts times; the other
// failures are terminal. The returned error explains a sentinel.
func (a *Annotator) AnnotateOne(ctx context.Context, text string) (annotation.Annotation, Outcome, int, error) {
	prompt := annotation.BuildPrompt(text, a.validator.Vocabulary())

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxParseAttempts; attempt++ {
		raw, err := a.gen.Generate(ctx, prompt, a.cfg.Sampling)
		if err != nil {
			return annotation.Failed(), OutcomeFailedSentinel, attempt, err
		}

		fields, err := normalize.Normalize(raw)
		if err != nil {
			lastErr = err
			a.logger.Warn("could not parse model response",
				zap.Int("attempt", attempt),
				zap.String("response", preview(raw)),
				zap.Error(err))
			if attempt < a.cfg.MaxParseAttempts {
				if err := a.sleep(ctx, a.cfg.ParseRetryDelay); err != nil {
					return annotation.Failed(), OutcomeFailedSentinel, attempt, err
				}
			}
			continue
		}

		ann, rep := a.validator.Check(fields)
		switch {
		case rep.Rejected:
			a.logger.Warn("labels outside vocabulary", zap.Error(rep.Reason))
			return ann, OutcomeFailedSentinel, attempt, rep.Reason
		case len(rep.Filled) > 0:
			a.logger.Warn("filled missing keys", zap.Strings("keys", rep.Filled))
			return ann, OutcomeRepairedDefault, attempt, nil
		default:
			return ann, OutcomeSucceeded, attempt, nil
		}
	}
	return annotation.Failed(), OutcomeFailedSentinel, a.cfg.MaxParseAttempts, lastErr
}

// Run annotates the records in the CSV file at input, resuming from the
// checkpoint. It fails before doing any work when the service is unreachable
// or the input is missing.
func (a *Annotator) Run(ctx context.Context, input string) (*AnnotateResult, error) {
	if !a.gen.IsReachable(ctx) {
		return nil, ErrServiceUnavailable
	}

	f, err := a.fs.Open(input)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, input)
	}
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	records, err := dataset.ReadSource(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", input, err)
	}

	a.logger.Info("loaded tickets", zap.String("input", input), zap.Int("count", len(records)))
	return a.Process(ctx, records)
}

// Process annotates records in order, skipping the prefix already present in
// the checkpoint.
func (a *Annotator) Process(ctx context.Context, records []dataset.SourceRecord) (*AnnotateResult, error) {
	done, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if err := checkPrefix(done, records); err != nil {
		return nil, err
	}
	if len(done) > 0 {
		a.logger.Info("resuming from checkpoint", zap.Int("done", len(done)), zap.Int("total", len(records)))
	}

	b := &batch[dataset.AnnotatedRecord]{
		deps:     a.deps,
		phase:    "annotate",
		model:    a.cfg.Model,
		store:    a.store,
		settings: a.cfg.Settings,
	}
	remaining := records[len(done):]

	res, err := b.run(ctx, done, len(records), len(remaining), func(ctx context.Context, i int) step[dataset.AnnotatedRecord] {
		rec := remaining[i]
		ann, outcome, attempts, err := a.AnnotateOne(ctx, rec.Text)
		a.logger.Info("annotated ticket",
			zap.Int("ticket_id", rec.ID),
			zap.String("sentiment", ann.Sentiment),
			zap.String("urgency", ann.Urgency),
			zap.String("category", ann.Category))
		return step[dataset.AnnotatedRecord]{
			row:      dataset.AnnotatedRecord{SourceRecord: rec, Annotation: ann},
			produced: true,
			recordID: rec.ID,
			outcome:  outcome,
			attempts: attempts,
			err:      err,
		}
	})
	if err != nil {
		return nil, err
	}

	return &AnnotateResult{Result: res, Summary: stats.Summarize(res.Rows)}, nil
}

// checkPrefix verifies that done is an ordered prefix of records by id.
func checkPrefix(done []dataset.AnnotatedRecord, records []dataset.SourceRecord) error {
	if len(done) > len(records) {
		return fmt.Errorf("%w: checkpoint has %d rows, input has %d", ErrCheckpointMismatch, len(done), len(records))
	}
	for i, d := range done {
		if d.ID != records[i].ID {
			return fmt.Errorf("%w: row %d is ticket %d, input has ticket %d", ErrCheckpointMismatch, i+1, d.ID, records[i].ID)
		}
	}
	return nil
}

func preview(s string) string {
	const n = 200
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
