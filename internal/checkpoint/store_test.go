package checkpoint

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shail0iri/smartdesk/internal/annotation"
	"github.com/shail0iri/smartdesk/internal/dataset"
)

var testPaths = Paths{
	Checkpoint: "work/analyzed_tickets_checkpoint.csv",
	Output:     "work/analyzed_tickets.csv",
	BackupDir:  "work/analysis_backups",
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
}

func annotated(n int) []dataset.AnnotatedRecord {
	out := make([]dataset.AnnotatedRecord, n)
	for i := range out {
		out[i] = dataset.AnnotatedRecord{
			SourceRecord: dataset.SourceRecord{ID: i + 1, Product: "CloudSync Pro", Text: "ticket, with comma"},
			Annotation:   annotation.Annotation{Sentiment: "Neutral", Urgency: "Low", Category: "Other", Summary: "s"},
		}
	}
	out[n-1].Annotation = annotation.Failed()
	return out
}

func newStore(fs afero.Fs) *Store[dataset.AnnotatedRecord] {
	return New[dataset.AnnotatedRecord](fs, testPaths, dataset.AnnotatedCodec{}, WithClock(fixedClock))
}

func TestLoad_NoSnapshot(t *testing.T) {
	s := newStore(afero.NewMemMapFs())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, s.Saved())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	recs := annotated(5)

	require.NoError(t, newStore(fs).Save(recs))

	got, err := newStore(fs).Load()
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range recs {
		assert.Equal(t, recs[i].Row(), got[i].Row())
	}
}

func TestSave_OverwritesWholeSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)
	recs := annotated(10)

	require.NoError(t, s.Save(recs[:3]))
	require.NoError(t, s.Save(recs[:7]))
	require.NoError(t, s.Save(recs[:7]))

	got, err := newStore(fs).Load()
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestSave_Monotonic(t *testing.T) {
	s := newStore(afero.NewMemMapFs())
	recs := annotated(4)

	require.NoError(t, s.Save(recs))
	err := s.Save(recs[:2])
	assert.ErrorIs(t, err, ErrRegression)
	assert.Equal(t, 4, s.Saved())
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, newStore(fs).Save(annotated(2)))

	entries, err := afero.ReadDir(fs, "work")
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestLoad_HeaderMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPaths.Checkpoint, []byte("a,b\n1,2\n"), 0o644))

	_, err := newStore(fs).Load()
	assert.ErrorIs(t, err, ErrHeaderMismatch)
}

func TestLoad_SetsMonotonicFloor(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, newStore(fs).Save(annotated(3)))

	s := newStore(fs)
	_, err := s.Load()
	require.NoError(t, err)
	assert.ErrorIs(t, s.Save(annotated(2)), ErrRegression)
}

func TestFinalize_WritesOutputAndBackup(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)
	recs := annotated(3)

	final, err := s.Finalize(recs)
	require.NoError(t, err)

	assert.Equal(t, testPaths.Output, final.Output)
	assert.Equal(t, filepath.Join(testPaths.BackupDir, "analyzed_tickets_20250304_050607.csv"), final.Backup)
	assert.Equal(t, 3, final.Rows)

	out, err := afero.ReadFile(fs, final.Output)
	require.NoError(t, err)
	bak, err := afero.ReadFile(fs, final.Backup)
	require.NoError(t, err)
	assert.Equal(t, out, bak)
	assert.True(t, strings.HasPrefix(string(out), strings.Join(dataset.AnnotatedHeader, ",")+"\n"))
}

func TestFinalize_NeverOverwritesBackup(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)

	first, err := s.Finalize(annotated(1))
	require.NoError(t, err)
	second, err := s.Finalize(annotated(2))
	require.NoError(t, err)

	assert.NotEqual(t, first.Backup, second.Backup)
	assert.Equal(t, filepath.Join(testPaths.BackupDir, "analyzed_tickets_20250304_050607_1.csv"), second.Backup)

	firstData, err := afero.ReadFile(fs, first.Backup)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(firstData), "\n"), "first backup was modified")
}

func TestClear(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(fs)
	require.NoError(t, s.Save(annotated(2)))

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, s.Saved())
}

func TestSourceStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := Paths{Checkpoint: "gen/cp.csv", Output: "gen/generated_tickets.csv", BackupDir: "gen/backups"}
	s := New[dataset.SourceRecord](fs, paths, dataset.SourceCodec{}, WithClock(fixedClock))

	recs := []dataset.SourceRecord{
		{ID: 1, Product: "GymFlow App", Text: "Class booking fails", CreatedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.Local)},
		{ID: 2, Product: "OfficeSuite 365", Text: "Cannot open docs"},
	}
	require.NoError(t, s.Save(recs))

	got, err := New[dataset.SourceRecord](fs, paths, dataset.SourceCodec{}).Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[0].Row(), got[0].Row())
	assert.Equal(t, recs[1].Row(), got[1].Row())
}

func TestSave_UnwritablePathFails(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	s := New[dataset.SourceRecord](fs, Paths{Checkpoint: "x/cp.csv"}, dataset.SourceCodec{})

	err := s.Save([]dataset.SourceRecord{{ID: 1}})
	require.Error(t, err)
	assert.Equal(t, 0, s.Saved())
}
