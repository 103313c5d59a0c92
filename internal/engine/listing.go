package engine

import (
	"strconv"
	"strings"
)

// ListTarget is where and as whom a listing command connects.
// An empty Host means the tool runs next to the server (inside a container)
// and uses its default socket or loopback address.
type ListTarget struct {
	Host     string
	Port     int
	User     string
	Password string
}

// ToolCommand is an engine client invocation. Binaries are tried in order
// until one is found. Env holds per-call overrides only.
type ToolCommand struct {
	Binaries []string
	Args     []string
	Env      map[string]string
}

// Argv returns the command line for the given binary.
func (c ToolCommand) Argv(binary string) []string {
	return append([]string{binary}, c.Args...)
}

// EnvList renders Env as KEY=value pairs.
func (c ToolCommand) EnvList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	return out
}

func hostArgs(t ListTarget, hostFlag, portFlag string) []string {
	var args []string
	if t.Host != "" {
		args = append(args, hostFlag, t.Host)
	}
	if t.Host != "" && t.Port > 0 {
		args = append(args, portFlag, strconv.Itoa(t.Port))
	}
	return args
}

func postgresListCommand(t ListTarget) ToolCommand {
	args := hostArgs(t, "-h", "-p")
	args = append(args, "-U", t.User, "-d", "template1", "-l", "-t", "--no-password")

	env := map[string]string{}
	if t.Password != "" {
		env["PGPASSWORD"] = t.Password
	}
	return ToolCommand{Binaries: []string{"psql"}, Args: args, Env: env}
}

func mysqlListCommand(t ListTarget) ToolCommand {
	args := hostArgs(t, "-h", "-P")
	args = append(args, "-u", t.User, "-N", "-B", "-e", "SHOW DATABASES;")

	env := map[string]string{}
	if t.Password != "" {
		env["MYSQL_PWD"] = t.Password
	}
	return ToolCommand{Binaries: []string{"mysql", "mariadb"}, Args: args, Env: env}
}

const mongoListScript = "db.adminCommand({listDatabases: 1, nameOnly: true}).databases.forEach(function(d) { print(d.name) })"

func mongoListCommand(t ListTarget) ToolCommand {
	args := []string{"--quiet"}
	args = append(args, hostArgs(t, "--host", "--port")...)
	if t.Password != "" {
		args = append(args, "-u", t.User, "-p", t.Password, "--authenticationDatabase", "admin")
	}
	args = append(args, "--eval", mongoListScript)
	return ToolCommand{Binaries: []string{"mongosh", "mongo"}, Args: args}
}

func redisListCommand(t ListTarget) ToolCommand {
	args := hostArgs(t, "-h", "-p")
	args = append(args, "INFO", "keyspace")

	env := map[string]string{}
	if t.Password != "" {
		env["REDISCLI_AUTH"] = t.Password
	}
	return ToolCommand{Binaries: []string{"redis-cli"}, Args: args, Env: env}
}

// parsePsqlListing reads `psql -l -t` output: the first pipe-separated
// column of each row. Privilege continuation rows have an empty first column.
func parsePsqlListing(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "|") {
			continue
		}
		name := strings.TrimSpace(strings.SplitN(line, "|", 2)[0])
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func parseLines(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names
}

// ParseRedisKeyspace reads `INFO keyspace` output ("db0:keys=12,...").
// A server with no keys still has db0.
func ParseRedisKeyspace(output string) []string {
	var names []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "db") {
			continue
		}
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimPrefix(name, "db")); err == nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return []string{"db0"}
	}
	return names
}

// ListDatabases runs ParseListing and FilterDatabases for kind.
func ListDatabases(kind Kind, output string) []string {
	s, ok := byKind[kind]
	if !ok || s.ParseListing == nil {
		return nil
	}
	return FilterDatabases(kind, s.ParseListing(output))
}
