package backup

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/toolrun"
)

// dumpCommand is a dump tool invocation. When toStdout is set the artifact
// is the tool's standard output; otherwise the tool writes it itself.
type dumpCommand struct {
	binaries []string
	args     []string
	env      []string
	toStdout bool
}

func hostDumpCommand(kind engine.Kind, host string, port int, db, path string, creds models.ResolvedCredentials) (dumpCommand, error) {
	p := strconv.Itoa(port)

	switch kind {
	case engine.PostgreSQL:
		cmd := dumpCommand{
			binaries: []string{"pg_dump"},
			args:     []string{"-h", host, "-p", p, "-U", creds.User, "--format=custom", "--no-password", "--file", path, db},
		}
		if creds.Password != "" {
			cmd.env = []string{"PGPASSWORD=" + creds.Password}
		}
		return cmd, nil

	case engine.MySQL:
		cmd := dumpCommand{
			binaries: []string{"mysqldump", "mariadb-dump"},
			args:     []string{"-h", host, "-P", p, "-u", creds.User, "--single-transaction", "--routines", "--triggers", db},
			toStdout: true,
		}
		if creds.Password != "" {
			cmd.env = []string{"MYSQL_PWD=" + creds.Password}
		}
		return cmd, nil

	case engine.MongoDB:
		args := []string{"--host", host, "--port", p, "--db", db, "--archive=" + path}
		if creds.Password != "" {
			// mongodump has no password environment variable
			args = append(args, "--username", creds.User, "--password", creds.Password, "--authenticationDatabase", "admin")
		}
		return dumpCommand{binaries: []string{"mongodump"}, args: args}, nil

	case engine.Redis:
		cmd := dumpCommand{
			binaries: []string{"redis-cli"},
			args:     []string{"-h", host, "-p", p, "--rdb", path},
		}
		if creds.Password != "" {
			cmd.env = []string{"REDISCLI_AUTH=" + creds.Password}
		}
		return cmd, nil
	}
	return dumpCommand{}, fmt.Errorf("%w: %s", ErrUnsupported, kind)
}

func (d *Dispatcher) dumpWithTool(ctx context.Context, j job) error {
	cmd, err := hostDumpCommand(j.inst.Kind, j.inst.Host, j.inst.Port, j.database, j.path, j.creds)
	if err != nil {
		return err
	}

	run := toolrun.Command{Args: cmd.args, Env: cmd.env, Timeout: d.opts.DumpTimeout}
	if cmd.toStdout {
		f, err := os.Create(j.path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", j.path, err)
		}
		defer f.Close()
		run.Stdout = f
	}

	res, err := toolrun.RunFirst(ctx, d.opts.Runner, cmd.binaries, run)
	if err != nil {
		return err
	}
	return exitError(cmd.binaries[0], res.ExitCode, res.Stderr)
}

func exitError(tool string, code int, stderr string) error {
	if code == 0 {
		return nil
	}
	msg := strings.TrimSpace(stderr)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return fmt.Errorf("%s exited with code %d: %s", tool, code, msg)
}
