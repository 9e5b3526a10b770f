package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attempt struct {
	AccountID string `json:"account_id"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
}

func journalFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "governor-*.wal"))
	require.NoError(t, err)
	return files
}

func readAll(t *testing.T, path string) []*Entry {
	t.Helper()
	reader, err := NewReader(path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	var entries []*Entry
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return entries
		}
		require.NoError(t, err)
		entries = append(entries, entry)
	}
}

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	data := attempt{AccountID: "111111111111", Action: "block-s3-public-access"}
	require.NoError(t, w.Append(EntryRemediating, "my-bucket", data))
	require.NoError(t, w.Append(EntryRemediated, "my-bucket", data))
	require.NoError(t, w.Close())

	files := journalFiles(t, dir)
	require.Len(t, files, 1)
	entries := readAll(t, files[0])
	require.Len(t, entries, 2)

	for i, want := range []EntryType{EntryRemediating, EntryRemediated} {
		assert.Equal(t, want, entries[i].Type)
		assert.Equal(t, "my-bucket", entries[i].ResourceID)
		assert.Equal(t, int64(i+1), entries[i].Sequence)
	}

	var recovered attempt
	require.NoError(t, json.Unmarshal(entries[0].Data, &recovered))
	assert.Equal(t, data, recovered)
}

func TestWAL_AppendError(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	cause := fmt.Errorf("AccessDenied: not authorized")
	require.NoError(t, w.AppendError(EntryFailed, "sg-0123", attempt{Action: "revoke-open-ingress"}, cause))
	require.NoError(t, w.Close())

	entries := readAll(t, journalFiles(t, dir)[0])
	require.Len(t, entries, 1)
	assert.Equal(t, EntryFailed, entries[0].Type)
	assert.Equal(t, cause.Error(), entries[0].Error)
}

func TestWAL_PreservesSpecialCharacters(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	data := attempt{Reason: "quotes \" and \nnewlines"}
	require.NoError(t, w.Append(EntrySkipped, "db-1", data))
	require.NoError(t, w.Close())

	var recovered attempt
	require.NoError(t, json.Unmarshal(readAll(t, journalFiles(t, dir)[0])[0].Data, &recovered))
	assert.Equal(t, data.Reason, recovered.Reason)
}

func TestWAL_SequenceContinuesAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	w1, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w1.sequence)
	for i := 0; i < 3; i++ {
		require.NoError(t, w1.Append(EntryRemediating, fmt.Sprintf("r-%d", i), nil))
	}
	require.NoError(t, w1.Close())

	w2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = w2.Close() }()
	assert.Equal(t, int64(3), w2.sequence)

	require.NoError(t, w2.Append(EntryRemediated, "r-3", nil))
	assert.Equal(t, int64(4), w2.sequence)
}

func TestWAL_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.MaxFileSize = 500

	w, err := OpenWithConfig(dir, config)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, w.Append(EntryRemediating, "resource", attempt{Action: "apply-required-tags"}))
	}
	require.NoError(t, w.Close())

	files := journalFiles(t, dir)
	assert.Greater(t, len(files), 1)

	var seqs []int64
	for _, file := range files {
		for _, entry := range readAll(t, file) {
			seqs = append(seqs, entry.Sequence)
		}
	}
	require.Len(t, seqs, 20)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq, "files replay in write order")
	}
}

func TestWAL_NoRotationBelowLimit(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Append(EntryRemediating, "resource", nil))
	}
	require.NoError(t, w.Close())

	assert.Len(t, journalFiles(t, dir), 1)
}

func TestReplay_Since(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }
	require.NoError(t, w.Append(EntryRemediating, "old", nil))
	w.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, w.Append(EntryRemediating, "new-1", nil))
	require.NoError(t, w.Append(EntryRemediated, "new-2", nil))
	require.NoError(t, w.Close())

	var replayed []string
	err = Replay(dir, base.Add(time.Minute), func(entry *Entry) error {
		replayed = append(replayed, entry.ResourceID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"new-1", "new-2"}, replayed)
}

func TestReplay_HandlerErrorStops(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(EntryRemediating, "a", nil))
	require.NoError(t, w.Append(EntryRemediating, "b", nil))
	require.NoError(t, w.Close())

	calls := 0
	err = Replay(dir, time.Time{}, func(*Entry) error {
		calls++
		return errors.New("stop")
	})

	assert.EqualError(t, err, "stop")
	assert.Equal(t, 1, calls)
}

func TestCleanup_RemovesOnlyExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "governor-20200101-120000-000000001.wal")
	recentFile := filepath.Join(dir, "governor-20240101-120000-000000002.wal")
	unrelated := filepath.Join(dir, "other-20200101-120000-000000001.wal")
	for _, f := range []string{oldFile, recentFile, unrelated} {
		require.NoError(t, os.WriteFile(f, []byte("test data"), 0o600))
	}
	oldTime := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))
	require.NoError(t, os.Chtimes(unrelated, oldTime, oldTime))
	recentTime := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(recentFile, recentTime, recentTime))

	config := DefaultConfig()
	config.RetentionDays = 30
	stats, err := CleanupWithStats(dir, config)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, int64(len("test data")), stats.BytesFreed)
	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, recentFile)
	assert.FileExists(t, unrelated, "other prefixes are left alone")
}

func TestCleanup_EmptyDirectory(t *testing.T) {
	stats, err := CleanupWithStats(t.TempDir(), DefaultConfig())

	require.NoError(t, err)
	assert.Zero(t, stats.FilesRemoved)
	assert.NoError(t, Cleanup(t.TempDir(), DefaultConfig()))
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(EntryRemediating, "r", nil))
	require.NoError(t, w.Append(EntryRemediated, "r", nil))
	require.NoError(t, w.Append(EntryRemediating, "s", nil))
	require.NoError(t, w.AppendError(EntryFailed, "s", nil, errors.New("boom")))

	stats := w.GetStats()
	require.NoError(t, w.Close())

	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, int64(1), stats.FirstSequence)
	assert.Equal(t, int64(4), stats.LastSequence)
	assert.Equal(t, 2, stats.EntriesByType[EntryRemediating])
	assert.Equal(t, 1, stats.EntriesByType[EntryFailed])
	assert.Positive(t, stats.TotalSizeBytes)

	fromDir := GetStatsFromDir(dir, Config{})
	assert.Equal(t, stats.LastSequence, fromDir.LastSequence)
}

func TestStats_SkipsCorruptedLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"sequence":1,"type":"remediating"}
not json
{"sequence":7,"type":"remediated"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "governor-20240101-120000-000000001.wal"), []byte(content), 0o600))

	stats := GetStatsFromDir(dir, DefaultConfig())

	assert.Equal(t, int64(7), stats.LastSequence)
	assert.Equal(t, int64(1), stats.FirstSequence)

	w, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.Equal(t, int64(7), w.sequence)
}

func TestGetHealth(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.MaxFileSize = 100
	w, err := OpenWithConfig(dir, config)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.True(t, w.GetHealth().Healthy)

	require.NoError(t, w.Append(EntryRemediating, "resource-with-a-long-identifier", attempt{Action: "apply-required-tags"}))
	health := w.GetHealth()
	assert.False(t, health.Healthy)
	assert.True(t, health.NeedsRotation)
}
