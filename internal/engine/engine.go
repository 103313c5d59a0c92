// Package engine holds the static per-engine table every discovery stage
// dispatches through: default ports, process and image matchers, banner
// markers, reserved schemas and the database-listing command.
package engine

import (
	"errors"
	"slices"
	"strings"
)

type Kind string

const (
	PostgreSQL    Kind = "postgresql"
	MySQL         Kind = "mysql"
	MongoDB       Kind = "mongodb"
	Redis         Kind = "redis"
	SQLite        Kind = "sqlite"
	Elasticsearch Kind = "elasticsearch"
	CouchDB       Kind = "couchdb"
	Oracle        Kind = "oracle"
	MSSQL         Kind = "mssql"
)

var ErrUnknownKind = errors.New("engine: unknown engine kind")

// Spec is the static description of one engine kind.
type Spec struct {
	Kind          Kind
	DefaultPorts  []int
	BannerMarkers []string
	DataDirFlags  []string
	DumpTool      string
	DefaultUser   string

	// ProcessNames are executable names, matched whole with an optional
	// version suffix. ImageNames are repository names: a bare name matches
	// the last path segment, a name with a slash matches the path tail.
	ProcessNames []string
	ImageNames   []string

	// ReservedNames and ReservedPrefix identify system schemas that are never
	// reported as user databases.
	ReservedNames  []string
	ReservedPrefix string

	// ListCommand builds the client-tool invocation that lists databases.
	// Nil when the engine has no client-tool listing.
	ListCommand func(t ListTarget) ToolCommand

	// ParseListing extracts raw database names from ListCommand output.
	ParseListing func(output string) []string
}

// ordered is the dispatch order used by every matcher.
var ordered = []Spec{
	{
		Kind:          PostgreSQL,
		DefaultPorts:  []int{5432},
		ProcessNames:  []string{"postgres", "postgresql"},
		ImageNames:    []string{"postgres", "postgresql", "postgis/postgis", "timescale/timescaledb", "timescale/timescaledb-ha", "pgvector/pgvector"},
		BannerMarkers: []string{"postgres"},
		DataDirFlags:  []string{"-D", "--data-directory"},
		DumpTool:      "pg_dump",
		DefaultUser:   "postgres",
		ReservedNames: []string{"template0", "template1"},
		ListCommand:   postgresListCommand,
		ParseListing:  parsePsqlListing,
	},
	{
		Kind:          MySQL,
		DefaultPorts:  []int{3306},
		ProcessNames:  []string{"mysqld", "mariadbd", "mysql"},
		ImageNames:    []string{"mysql", "mysql-server", "mariadb", "percona", "percona-server"},
		BannerMarkers: []string{"mysql", "mariadb"},
		DataDirFlags:  []string{"--datadir"},
		DumpTool:      "mysqldump",
		DefaultUser:   "root",
		ReservedNames: []string{"Database", "information_schema", "performance_schema", "mysql", "sys"},
		ListCommand:   mysqlListCommand,
		ParseListing:  parseLines,
	},
	{
		Kind:          MongoDB,
		DefaultPorts:  []int{27017},
		ProcessNames:  []string{"mongod"},
		ImageNames:    []string{"mongo", "mongodb", "mongodb/mongodb-community-server", "mongodb/mongodb-enterprise-server"},
		BannerMarkers: []string{"mongo"},
		DataDirFlags:  []string{"--dbpath"},
		DumpTool:      "mongodump",
		DefaultUser:   "admin",
		ReservedNames: []string{"admin", "local", "config"},
		ListCommand:   mongoListCommand,
		ParseListing:  parseLines,
	},
	{
		Kind:          Redis,
		DefaultPorts:  []int{6379},
		ProcessNames:  []string{"redis-server"},
		ImageNames:    []string{"redis", "redis-stack", "redis-stack-server"},
		BannerMarkers: []string{"+pong", "redis"},
		DataDirFlags:  []string{"--dir"},
		DumpTool:      "redis-cli",
		ListCommand:   redisListCommand,
		ParseListing:  ParseRedisKeyspace,
	},
	{
		Kind:           Elasticsearch,
		DefaultPorts:   []int{9200},
		ImageNames:     []string{"elasticsearch", "opensearch"},
		BannerMarkers:  []string{"elasticsearch"},
		DumpTool:       "http-export",
		ReservedPrefix: ".",
	},
	{
		Kind:           CouchDB,
		DefaultPorts:   []int{5984},
		ImageNames:     []string{"couchdb"},
		BannerMarkers:  []string{"couchdb"},
		DumpTool:       "http-export",
		ReservedPrefix: "_",
	},
	{
		Kind:         Oracle,
		DefaultPorts: []int{1521},
		ProcessNames: []string{"tnslsnr"},
		ImageNames:   []string{"gvenzl/oracle-xe", "gvenzl/oracle-free", "oracle/database", "database/enterprise", "database/express", "database/free"},
		DumpTool:     "expdp",
		DefaultUser:  "system",
	},
	{
		Kind:         MSSQL,
		DefaultPorts: []int{1433},
		ProcessNames: []string{"sqlservr"},
		ImageNames:   []string{"mssql/server", "azure-sql-edge"},
		DumpTool:     "sqlcmd",
		DefaultUser:  "sa",
	},
	{
		Kind:     SQLite,
		DumpTool: "sqlite-copy",
	},
}

var byKind = func() map[Kind]Spec {
	m := make(map[Kind]Spec, len(ordered))
	for _, s := range ordered {
		m[s.Kind] = s
	}
	return m
}()

// Lookup returns the table record for kind.
func Lookup(kind Kind) (Spec, error) {
	s, ok := byKind[kind]
	if !ok {
		return Spec{}, ErrUnknownKind
	}
	return s, nil
}

// Kinds returns every engine kind in dispatch order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(ordered))
	for _, s := range ordered {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

// ForPort returns the engine whose default port list contains port.
func ForPort(port int) (Kind, bool) {
	for _, s := range ordered {
		if slices.Contains(s.DefaultPorts, port) {
			return s.Kind, true
		}
	}
	return "", false
}

// MatchProcess returns the engine whose executable name is name. A trailing
// version ("postgres15", "mysqld-8.0") is accepted, other suffixes are not.
func MatchProcess(name string) (Kind, bool) {
	name = strings.TrimSuffix(strings.ToLower(name), ".exe")
	for _, s := range ordered {
		for _, p := range s.ProcessNames {
			if rest, ok := strings.CutPrefix(name, p); ok && isVersionSuffix(rest) {
				return s.Kind, true
			}
		}
	}
	return "", false
}

func isVersionSuffix(s string) bool {
	s = strings.TrimLeft(s, "-_")
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// MatchImage returns every engine whose repository name matches image.
// Registry, tag and digest are ignored.
func MatchImage(image string) []Kind {
	repo := imageRepository(image)
	last := repo[strings.LastIndex(repo, "/")+1:]

	var kinds []Kind
	for _, s := range ordered {
		for _, p := range s.ImageNames {
			var ok bool
			if strings.Contains(p, "/") {
				ok = repo == p || strings.HasSuffix(repo, "/"+p)
			} else {
				ok = last == p
			}
			if ok {
				kinds = append(kinds, s.Kind)
				break
			}
		}
	}
	return kinds
}

func imageRepository(image string) string {
	image = strings.ToLower(image)
	if i := strings.Index(image, "@"); i >= 0 {
		image = image[:i]
	}
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		image = image[:i]
	}
	return image
}

// MatchBanner routes an unsolicited server response to an engine.
func MatchBanner(banner string) (Kind, bool) {
	banner = strings.ToLower(banner)
	for _, s := range ordered {
		for _, m := range s.BannerMarkers {
			if strings.Contains(banner, m) {
				return s.Kind, true
			}
		}
	}
	return "", false
}

// IsReserved reports whether name is a system schema of kind.
func IsReserved(kind Kind, name string) bool {
	s, ok := byKind[kind]
	if !ok {
		return false
	}
	if s.ReservedPrefix != "" && strings.HasPrefix(name, s.ReservedPrefix) {
		return true
	}
	return slices.Contains(s.ReservedNames, name)
}

// FilterDatabases drops reserved, empty and repeated names, keeping order.
func FilterDatabases(kind Kind, names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || IsReserved(kind, n) || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// DefaultPort is the first default port of kind, or 0.
func DefaultPort(kind Kind) int {
	if s, ok := byKind[kind]; ok && len(s.DefaultPorts) > 0 {
		return s.DefaultPorts[0]
	}
	return 0
}
