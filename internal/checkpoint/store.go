// Package checkpoint persists the ordered results of a batch as flat CSV
// snapshots. A snapshot is always replaced whole and atomically; its row count
// is the resume cursor of the next run.
package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/shail0iri/smartdesk/internal/dataset"
)

var (
	// ErrRegression is returned by Save when the snapshot would shrink.
	ErrRegression = errors.New("checkpoint would shrink")
	// ErrHeaderMismatch is returned by Load when the snapshot has another schema.
	ErrHeaderMismatch = errors.New("checkpoint header mismatch")
)

const backupStampLayout = "20060102_150405"

// Codec maps a result value to and from a CSV row.
type Codec[T any] interface {
	Header() []string
	Encode(T) []string
	Decode(header, row []string) (T, error)
}

// Paths locates the files a Store manages.
type Paths struct {
	Checkpoint string
	Output     string
	BackupDir  string
}

// Final describes the files written by Finalize.
type Final struct {
	Output string
	Backup string
	Rows   int
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for backup names.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Store snapshots []T for one pipeline phase.
type Store[T any] struct {
	fs    afero.Fs
	paths Paths
	codec Codec[T]
	now   func() time.Time
	saved int
}

// New creates a Store writing through fs.
func New[T any](fs afero.Fs, paths Paths, codec Codec[T], opts ...Option) *Store[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{fs: fs, paths: paths, codec: codec, now: o.now}
}

// Paths returns the configured file locations.
func (s *Store[T]) Paths() Paths {
	return s.paths
}

// Saved returns the row count of the last snapshot written or loaded.
func (s *Store[T]) Saved() int {
	return s.saved
}

// Save replaces the snapshot with results. A snapshot shorter than the
// previous one is rejected.
func (s *Store[T]) Save(results []T) error {
	if len(results) < s.saved {
		return fmt.Errorf("%w: %d rows after %d", ErrRegression, len(results), s.saved)
	}

	data, err := s.encode(results)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.fs, s.paths.Checkpoint, data); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	s.saved = len(results)
	return nil
}

// Load returns the rows of the last snapshot, or nil when none exists.
func (s *Store[T]) Load() ([]T, error) {
	f, err := s.fs.Open(s.paths.Checkpoint)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	header, rows, err := dataset.ReadCSV(f)
	if errors.Is(err, dataset.ErrEmptyFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", s.paths.Checkpoint, err)
	}
	if !slices.Equal(header, s.codec.Header()) {
		return nil, fmt.Errorf("%w: %s has columns %v", ErrHeaderMismatch, s.paths.Checkpoint, header)
	}

	out := make([]T, 0, len(rows))
	for i, row := range rows {
		v, err := s.codec.Decode(header, row)
		if err != nil {
			return nil, fmt.Errorf("checkpoint row %d: %w", i+1, err)
		}
		out = append(out, v)
	}
	s.saved = len(out)
	return out, nil
}

// Clear removes the snapshot so the next run starts from zero.
func (s *Store[T]) Clear() error {
	if err := s.fs.Remove(s.paths.Checkpoint); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	s.saved = 0
	return nil
}

// Finalize writes the permanent output file and a timestamped backup copy.
// Backups are created exclusively and never overwritten.
func (s *Store[T]) Finalize(results []T) (Final, error) {
	data, err := s.encode(results)
	if err != nil {
		return Final{}, err
	}

	if err := writeFileAtomic(s.fs, s.paths.Output, data); err != nil {
		return Final{}, fmt.Errorf("writing output: %w", err)
	}

	backup, err := s.writeBackup(data)
	if err != nil {
		return Final{}, err
	}

	return Final{Output: s.paths.Output, Backup: backup, Rows: len(results)}, nil
}

func (s *Store[T]) writeBackup(data []byte) (string, error) {
	if err := s.fs.MkdirAll(s.paths.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	base := filepath.Base(s.paths.Output)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".csv"
	}
	stamp := s.now().Format(backupStampLayout)

	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("%s_%s%s", stem, stamp, ext)
		if i > 0 {
			name = fmt.Sprintf("%s_%s_%d%s", stem, stamp, i, ext)
		}
		path := filepath.Join(s.paths.BackupDir, name)

		err := writeFileExclusive(s.fs, path, data)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("writing backup %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("writing backup: too many backups for %s", stamp)
}

func (s *Store[T]) encode(results []T) ([]byte, error) {
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = s.codec.Encode(r)
	}

	var buf bytes.Buffer
	if err := dataset.WriteCSV(&buf, s.codec.Header(), rows); err != nil {
		return nil, fmt.Errorf("encoding rows: %w", err)
	}
	return buf.Bytes(), nil
}
