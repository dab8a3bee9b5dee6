// Package pipeline drives the sequential per-record loop shared by the
// generate and annotate phases: resume from the checkpoint, one service call
// at a time, periodic snapshots, and a clean stop on interruption.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/shail0iri/smartdesk/internal/checkpoint"
	"github.com/shail0iri/smartdesk/internal/client"
	"github.com/shail0iri/smartdesk/internal/storage"
)

var (
	// ErrServiceUnavailable is returned before any work when the generation
	// service does not answer its health probe.
	ErrServiceUnavailable = errors.New("generation service is not reachable")
	// ErrInputMissing is returned when the annotate input file does not exist.
	ErrInputMissing = errors.New("input file not found")
	// ErrCheckpointMismatch is returned when a checkpoint is not a prefix of
	// the current input.
	ErrCheckpointMismatch = errors.New("checkpoint does not match input")
)

// Outcome is the terminal state of one record.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeRepairedDefault
	OutcomeFailedSentinel
	// OutcomeSkipped marks a generation attempt that produced no row.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRepairedDefault:
		return "repaired_default"
	case OutcomeFailedSentinel:
		return "failed_sentinel"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Failed reports whether the outcome counts against the run.
func (o Outcome) Failed() bool {
	return o == OutcomeFailedSentinel || o == OutcomeSkipped
}

// Settings controls pacing and snapshot frequency.
type Settings struct {
	ProgressEvery   int
	CheckpointEvery int
	PauseMin        time.Duration
	PauseMax        time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ProgressEvery < 1 {
		s.ProgressEvery = 10
	}
	if s.CheckpointEvery < 1 {
		s.CheckpointEvery = 50
	}
	if s.PauseMax < s.PauseMin {
		s.PauseMax = s.PauseMin
	}
	return s
}

// TextGenerator is the service client seen by the orchestrator.
// *client.Client satisfies it.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, s client.Sampling) (string, error)
	IsReachable(ctx context.Context) bool
}

// Ledger receives an audit trail of runs. *storage.Store satisfies it.
type Ledger interface {
	StartRun(run storage.Run) (storage.Run, error)
	RecordEvent(ev storage.Event) error
	FinishRun(id string, res storage.RunResult) error
}

// Result summarizes one run of a phase.
type Result[T any] struct {
	RunID       string
	Rows        []T
	Resumed     int
	Processed   int
	Failed      int
	Counts      map[Outcome]int
	Interrupted bool
	Final       checkpoint.Final
	Elapsed     time.Duration
}

// Option configures a phase runner.
type Option func(*deps)

type deps struct {
	logger *zap.Logger
	ledger Ledger
	fs     afero.Fs
	rng    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func newDeps(opts []Option) deps {
	d := deps{
		logger: zap.NewNop(),
		fs:     afero.NewOsFs(),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:  sleepCtx,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *deps) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithLedger records runs and per-record outcomes in l.
func WithLedger(l Ledger) Option {
	return func(d *deps) { d.ledger = l }
}

// WithFS sets the filesystem input files are read from.
func WithFS(fs afero.Fs) Option {
	return func(d *deps) { d.fs = fs }
}

// WithRand sets the source for pauses and catalog picks.
func WithRand(r *rand.Rand) Option {
	return func(d *deps) { d.rng = r }
}

// WithSleep replaces the pause implementation.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *deps) { d.sleep = fn }
}

// WithClock sets the clock used for timestamps and progress.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// step is what a phase reports for one record.
type step[T any] struct {
	row      T
	produced bool
	recordID int
	outcome  Outcome
	attempts int
	err      error
}

// batch runs one phase over a resumed result slice.
type batch[T any] struct {
	deps
	phase    string
	model    string
	store    *checkpoint.Store[T]
	settings Settings
}

// run performs n record steps after the resumed rows. total is the row count
// a complete run reaches, used for progress and the ledger.
func (b *batch[T]) run(ctx context.Context, rows []T, total, n int, process func(ctx context.Context, i int) step[T]) (*Result[T], error) {
	s := b.settings.withDefaults()
	res := &Result[T]{Rows: rows, Resumed: len(rows), Counts: map[Outcome]int{}}
	log := b.logger.With(zap.String("phase", b.phase))

	res.RunID = b.startRun(log, total, len(rows))

	start := b.now()
	// Calls are never cancelled mid-flight; interruption is seen between records.
	callCtx := context.WithoutCancel(ctx)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}

		began := b.now()
		st := process(callCtx, i)
		res.Processed++
		res.Counts[st.outcome]++
		if st.outcome.Failed() {
			res.Failed++
		}
		if st.produced {
			res.Rows = append(res.Rows, st.row)
		}
		b.recordEvent(log, res.RunID, i, st, b.now().Sub(began))

		if res.Processed%s.ProgressEvery == 0 {
			elapsed := b.now().Sub(start)
			avg := elapsed / time.Duration(res.Processed)
			log.Info("progress",
				zap.Int("done", len(res.Rows)),
				zap.Int("total", total),
				zap.Float64("avg_seconds", avg.Seconds()),
				zap.Duration("eta", avg*time.Duration(n-res.Processed)))
		}

		if st.produced && len(res.Rows)%s.CheckpointEvery == 0 {
			if err := b.store.Save(res.Rows); err != nil {
				b.finishRun(log, res, err)
				return nil, err
			}
			log.Info("checkpoint saved", zap.Int("rows", len(res.Rows)))
		}

		if i == n-1 {
			break
		}
		if err := b.sleep(ctx, b.pause(s)); err != nil {
			res.Interrupted = true
			break
		}
	}
	res.Elapsed = b.now().Sub(start)

	if res.Interrupted {
		log.Warn("interrupted, saving progress", zap.Int("rows", len(res.Rows)))
	}
	if err := b.store.Save(res.Rows); err != nil {
		b.finishRun(log, res, err)
		return nil, err
	}
	final, err := b.store.Finalize(res.Rows)
	if err != nil {
		b.finishRun(log, res, err)
		return nil, err
	}
	res.Final = final
	log.Info("results saved",
		zap.String("output", final.Output),
		zap.String("backup", final.Backup),
		zap.Int("rows", final.Rows),
		zap.Duration("elapsed", res.Elapsed))

	b.finishRun(log, res, nil)
	return res, nil
}

func (b *batch[T]) pause(s Settings) time.Duration {
	span := s.PauseMax - s.PauseMin
	if span <= 0 {
		return s.PauseMin
	}
	return s.PauseMin + time.Duration(b.rng.Int64N(int64(span)+1))
}

func (b *batch[T]) startRun(log *zap.Logger, total, resumed int) string {
	if b.ledger == nil {
		return ""
	}
	run, err := b.ledger.StartRun(storage.Run{
		Phase:     b.phase,
		Model:     b.model,
		Total:     total,
		Resumed:   resumed,
		StartedAt: b.now(),
	})
	if err != nil {
		log.Warn("ledger: could not start run", zap.Error(err))
		return ""
	}
	return run.ID
}

func (b *batch[T]) recordEvent(log *zap.Logger, runID string, i int, st step[T], took time.Duration) {
	log.Debug("record processed",
		zap.Int("index", i),
		zap.Int("record_id", st.recordID),
		zap.Stringer("outcome", st.outcome),
		zap.Int("attempts", st.attempts),
		zap.Error(st.err))

	if b.ledger == nil || runID == "" {
		return
	}
	ev := storage.Event{
		RunID:     runID,
		Index:     i,
		RecordID:  st.recordID,
		Outcome:   st.outcome.String(),
		Attempts:  st.attempts,
		Duration:  took,
		CreatedAt: b.now(),
	}
	if st.err != nil {
		ev.Error = st.err.Error()
	}
	if err := b.ledger.RecordEvent(ev); err != nil {
		log.Warn("ledger: could not record event", zap.Int("index", i), zap.Error(err))
	}
}

func (b *batch[T]) finishRun(log *zap.Logger, res *Result[T], runErr error) {
	if b.ledger == nil || res.RunID == "" {
		return
	}
	status := storage.StatusCompleted
	switch {
	case runErr != nil:
		status = storage.StatusFailed
	case res.Interrupted:
		status = storage.StatusInterrupted
	}
	err := b.ledger.FinishRun(res.RunID, storage.RunResult{
		Status:    status,
		Processed: res.Processed,
		Failed:    res.Failed,
		Output:    res.Final.Output,
		Backup:    res.Final.Backup,
		Err:       runErr,
	})
	if err != nil {
		log.Warn("ledger: could not finish run", zap.Error(err))
	}
}
