package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/system"
)

const (
	StatsFile       = "backup_statistics.json"
	MaxStatsEntries = 100
)

// StatsEntry summarises one backup run.
type StatsEntry struct {
	RunID               string           `json:"run_id"`
	Timestamp           time.Time        `json:"timestamp"`
	DurationSeconds     float64          `json:"duration_seconds"`
	DatabasesDiscovered int              `json:"databases_discovered"`
	BackupsAttempted    int              `json:"backups_attempted"`
	BackupsCreated      int              `json:"backups_created"`
	FailedBackups       []string         `json:"failed_backups"`
	SuccessRate         float64          `json:"success_rate"`
	FilesRemoved        int              `json:"files_removed"`
	Host                *system.Snapshot `json:"host,omitempty"`
}

// SuccessRate is created/attempted as a percentage; zero when nothing ran.
func SuccessRate(created, attempted int) float64 {
	if attempted == 0 {
		return 0
	}
	return float64(created) / float64(attempted) * 100
}

// AppendStats adds entry to the statistics file in dir, keeping the most
// recent MaxStatsEntries.
func AppendStats(dir string, entry StatsEntry) error {
	path := filepath.Join(dir, StatsFile)

	// a missing or corrupt file starts a new history
	entries, _ := ReadStats(dir)

	entries = append(entries, entry)
	if len(entries) > MaxStatsEntries {
		entries = entries[len(entries)-MaxStatsEntries:]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create statistics directory: %w", err)
	}
	return writeFileAtomic(path, data)
}

func ReadStats(dir string) ([]StatsEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, StatsFile))
	if err != nil {
		return nil, err
	}

	var entries []StatsEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse statistics: %w", err)
	}
	return entries, nil
}
