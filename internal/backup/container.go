package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// containerDumpers build in-container commands that write the artifact to
// standard output.
var containerDumpers = map[engine.Kind]func(db string, creds models.ResolvedCredentials) (argv, env []string){
	engine.PostgreSQL: func(db string, creds models.ResolvedCredentials) ([]string, []string) {
		argv := []string{"pg_dump", "-U", creds.User, "--format=custom", "--no-password", db}
		return argv, passwordEnv("PGPASSWORD", creds)
	},
	engine.MySQL: func(db string, creds models.ResolvedCredentials) ([]string, []string) {
		argv := []string{"mysqldump", "-u", creds.User, "--single-transaction", "--routines", "--triggers", db}
		return argv, passwordEnv("MYSQL_PWD", creds)
	},
	engine.MongoDB: func(db string, creds models.ResolvedCredentials) ([]string, []string) {
		argv := []string{"mongodump", "--db", db, "--archive"}
		if creds.Password != "" {
			argv = append(argv, "--username", creds.User, "--password", creds.Password, "--authenticationDatabase", "admin")
		}
		return argv, nil
	},
	engine.Redis: func(_ string, creds models.ResolvedCredentials) ([]string, []string) {
		return []string{"redis-cli", "--rdb", "-"}, passwordEnv("REDISCLI_AUTH", creds)
	},
}

func passwordEnv(key string, creds models.ResolvedCredentials) []string {
	if creds.Password == "" {
		return nil
	}
	return []string{key + "=" + creds.Password}
}

func (d *Dispatcher) dumpInContainer(ctx context.Context, j job) error {
	build, ok := containerDumpers[j.inst.Kind]
	if !ok {
		return fmt.Errorf("%w: %s in container", ErrUnsupported, j.inst.Kind)
	}
	argv, env := build(j.database, j.creds)

	f, err := os.Create(j.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", j.path, err)
	}
	defer f.Close()

	res, err := d.opts.Containers.Exec(ctx, j.inst.Container.ID, argv, env, f)
	if err != nil {
		return fmt.Errorf("exec in %s failed: %w", j.inst.Container.Name, err)
	}
	return exitError(argv[0], res.ExitCode, res.Stderr)
}
