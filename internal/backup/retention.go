package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// keptPrefixes are bookkeeping files retention never touches.
var keptPrefixes = []string{"discovery_report_", "backup_statistics"}

// Cleanup deletes regular files in dir last modified more than keepDays
// before now. It returns the number of files removed.
func Cleanup(dir string, keepDays int, now time.Time) (int, error) {
	if keepDays <= 0 {
		return 0, fmt.Errorf("retention must be at least one day, got %d", keepDays)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	cutoff := now.Add(-time.Duration(keepDays) * 24 * time.Hour)
	removed := 0

	for _, e := range entries {
		if !e.Type().IsRegular() || kept(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove old backup")
			continue
		}
		log.Info().Str("path", path).Time("modified", info.ModTime()).Msg("Removed old backup")
		removed++
	}
	return removed, nil
}

func kept(name string) bool {
	for _, p := range keptPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
