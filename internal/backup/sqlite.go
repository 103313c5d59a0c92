package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// dumpSQLite takes a consistent snapshot with VACUUM INTO and falls back to a
// plain file copy when the file cannot be opened as a database.
func (d *Dispatcher) dumpSQLite(ctx context.Context, j job) error {
	src := j.inst.SQLite.FilePath

	err := vacuumInto(ctx, src, j.path)
	if err == nil {
		return nil
	}
	log.Debug().Err(err).Str("file", src).Msg("VACUUM INTO failed, copying file")

	os.Remove(j.path)
	return copyFile(src, j.path)
}

func vacuumInto(ctx context.Context, src, dst string) error {
	db, err := sql.Open("sqlite", src+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
