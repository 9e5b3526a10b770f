package wal

import (
	"errors"
	"io"
	"path/filepath"
	"time"
)

// Stats summarizes a journal directory
type Stats struct {
	TotalFiles     int
	TotalSizeBytes int64
	OldestFile     time.Time
	NewestFile     time.Time

	FirstSequence int64
	LastSequence  int64
	EntriesByType map[EntryType]int
	WritesPerFile map[string]int
}

// GetStats returns statistics for the open journal
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return Stats{LastSequence: w.sequence}
	}
	stats := GetStatsFromDir(w.dir, w.config)
	stats.LastSequence = w.sequence
	return stats
}

// GetStatsFromDir returns statistics for a journal directory without opening it
func GetStatsFromDir(dir string, config Config) Stats {
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}
	stats := Stats{
		EntriesByType: make(map[EntryType]int),
		WritesPerFile: make(map[string]int),
	}

	files := findAllWALFiles(dir, config.FilePrefix)
	if len(files) == 0 {
		return stats
	}

	stats.TotalFiles = len(files)
	stats.TotalSizeBytes = calculateTotalSize(files)
	stats.OldestFile, stats.NewestFile = findTimeRange(files)

	for _, file := range files {
		count := scanFile(file, func(entry *Entry) {
			if stats.FirstSequence == 0 || entry.Sequence < stats.FirstSequence {
				stats.FirstSequence = entry.Sequence
			}
			if entry.Sequence > stats.LastSequence {
				stats.LastSequence = entry.Sequence
			}
			stats.EntriesByType[entry.Type]++
		})
		stats.WritesPerFile[filepath.Base(file)] = count
	}
	return stats
}

// findLastSequenceInFiles finds the highest sequence across files
func findLastSequenceInFiles(files []string) int64 {
	var maxSeq int64
	for _, file := range files {
		scanFile(file, func(entry *Entry) {
			if entry.Sequence > maxSeq {
				maxSeq = entry.Sequence
			}
		})
	}
	return maxSeq
}

// scanFile visits every readable entry in path, skipping corrupted lines,
// and returns how many it visited.
func scanFile(path string, visit func(*Entry)) int {
	reader, err := NewReader(path)
	if err != nil {
		return 0
	}
	defer func() { _ = reader.Close() }()

	count := 0
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return count
		}
		if err != nil {
			// bufio errors are sticky; unmarshal errors are per line
			if reader.scanner.Err() != nil {
				return count
			}
			continue
		}
		visit(entry)
		count++
	}
}

// HealthStatus reports whether the journal needs attention
type HealthStatus struct {
	Healthy          bool
	DiskUsagePercent float64
	OldestFileAge    time.Duration
	NeedsRotation    bool
	NeedsCleanup     bool
	Issues           []string
}

// GetHealth returns the journal health
func (w *WAL) GetHealth() HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	health := HealthStatus{Issues: []string{}}

	health.DiskUsagePercent = float64(w.size) / float64(w.config.MaxFileSize) * 100
	if health.DiskUsagePercent > 90 {
		health.Issues = append(health.Issues, "current file >90% of max size")
	}

	if files := w.listWALFiles(); len(files) > 0 {
		oldest, _ := findTimeRange(files)
		health.OldestFileAge = w.now().Sub(oldest)
		if health.OldestFileAge > time.Duration(w.config.RetentionDays)*24*time.Hour {
			health.NeedsCleanup = true
			health.Issues = append(health.Issues, "old files exceed retention period")
		}
	}

	if w.shouldRotate() {
		health.NeedsRotation = true
		health.Issues = append(health.Issues, "file rotation needed")
	}

	health.Healthy = len(health.Issues) == 0
	return health
}
