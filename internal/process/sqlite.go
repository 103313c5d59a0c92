package process

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

var sqliteHeader = []byte("SQLite format 3\x00")

var sqliteExtensions = []string{".db", ".sqlite", ".sqlite3"}

// IsSQLite reports whether the file starts with the SQLite format header.
func IsSQLite(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, sqliteHeader)
}

// FindSQLite walks roots for SQLite files. Unreadable directories and files
// are skipped. Symlinked directories are not followed.
func FindSQLite(ctx context.Context, roots []string) []models.DatabaseInstance {
	var found []models.DatabaseInstance
	seen := make(map[string]bool)

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() || seen[path] {
				return nil
			}
			if !hasSQLiteExtension(path) || !IsSQLite(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			seen[path] = true
			found = append(found, models.NewSQLiteInstance(path, filepath.Base(path), info.Size()))
			return nil
		})
		if err != nil {
			log.Debug().Err(err).Str("root", root).Msg("SQLite walk stopped")
			break
		}
	}

	log.Info().Int("count", len(found)).Msg("SQLite scan complete")
	return found
}

func hasSQLiteExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range sqliteExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
