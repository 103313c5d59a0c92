package configscan

import (
	"strings"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

type fieldKeys map[models.Field][]string

// envKeys lists the recognised variable names per engine and field, most
// specific first. Generic DB_* names are shared by the SQL engines and Mongo.
var envKeys = map[engine.Kind]fieldKeys{
	engine.PostgreSQL: {
		models.FieldPassword: {"POSTGRES_PASSWORD", "PGPASSWORD", "PG_PASSWORD", "POSTGRESQL_PASSWORD", "PG_PASS", "DB_PASSWORD", "DATABASE_PASSWORD", "DB_PASS"},
		models.FieldUser:     {"POSTGRES_USER", "PGUSER", "PG_USER", "POSTGRESQL_USER", "DB_USER", "DATABASE_USER", "DB_USERNAME"},
		models.FieldHost:     {"POSTGRES_HOST", "PGHOST", "PG_HOST", "POSTGRESQL_HOST", "DB_HOST", "DATABASE_HOST"},
		models.FieldPort:     {"POSTGRES_PORT", "PGPORT", "PG_PORT", "POSTGRESQL_PORT", "DB_PORT", "DATABASE_PORT"},
		models.FieldDatabase: {"POSTGRES_DB", "PGDATABASE", "PG_DATABASE", "POSTGRESQL_DATABASE", "DB_NAME", "DATABASE_NAME"},
	},
	engine.MySQL: {
		models.FieldPassword: {"MYSQL_PASSWORD", "MYSQL_ROOT_PASSWORD", "MYSQL_PASS", "MYSQL_PWD", "MARIADB_PASSWORD", "MARIADB_ROOT_PASSWORD", "DB_PASSWORD", "DATABASE_PASSWORD"},
		models.FieldUser:     {"MYSQL_USER", "MYSQL_ROOT_USER", "MYSQL_USERNAME", "MARIADB_USER", "DB_USER", "DATABASE_USER"},
		models.FieldHost:     {"MYSQL_HOST", "MARIADB_HOST", "DB_HOST", "DATABASE_HOST"},
		models.FieldPort:     {"MYSQL_PORT", "MARIADB_PORT", "DB_PORT", "DATABASE_PORT"},
		models.FieldDatabase: {"MYSQL_DATABASE", "MARIADB_DATABASE", "DB_NAME", "DATABASE_NAME"},
	},
	engine.MongoDB: {
		models.FieldPassword: {"MONGO_PASSWORD", "MONGODB_PASSWORD", "MONGO_PASS", "MONGO_INITDB_ROOT_PASSWORD", "MONGODB_ROOT_PASSWORD", "DB_PASSWORD", "DATABASE_PASSWORD"},
		models.FieldUser:     {"MONGO_USER", "MONGODB_USER", "MONGO_USERNAME", "MONGO_INITDB_ROOT_USERNAME", "MONGODB_ROOT_USER", "DB_USER", "DATABASE_USER"},
		models.FieldHost:     {"MONGO_HOST", "MONGODB_HOST", "MONGO_URL", "MONGODB_URL", "DB_HOST", "DATABASE_HOST"},
		models.FieldPort:     {"MONGO_PORT", "MONGODB_PORT", "DB_PORT", "DATABASE_PORT"},
		models.FieldDatabase: {"MONGO_DB", "MONGODB_DB", "MONGO_DATABASE", "MONGODB_DATABASE", "DB_NAME", "DATABASE_NAME"},
	},
	engine.Redis: {
		models.FieldPassword: {"REDIS_PASSWORD", "REDIS_PASS", "REDIS_AUTH", "REDIS_REQUIREPASS", "CACHE_PASSWORD"},
		models.FieldHost:     {"REDIS_HOST", "REDIS_URL", "CACHE_HOST"},
		models.FieldPort:     {"REDIS_PORT", "CACHE_PORT"},
	},
}

// containerKeys is the narrower table applied to a container's own env.
var containerKeys = map[engine.Kind]fieldKeys{
	engine.PostgreSQL: {
		models.FieldUser:     {"POSTGRES_USER", "POSTGRESQL_USER", "POSTGRESQL_USERNAME"},
		models.FieldPassword: {"POSTGRES_PASSWORD", "POSTGRESQL_PASSWORD"},
		models.FieldDatabase: {"POSTGRES_DB", "POSTGRESQL_DATABASE"},
	},
	engine.MySQL: {
		models.FieldUser:     {"MYSQL_USER", "MARIADB_USER"},
		models.FieldPassword: {"MYSQL_PASSWORD", "MARIADB_PASSWORD", "MYSQL_ROOT_PASSWORD", "MARIADB_ROOT_PASSWORD"},
		models.FieldDatabase: {"MYSQL_DATABASE", "MARIADB_DATABASE"},
	},
	engine.MongoDB: {
		models.FieldUser:     {"MONGO_INITDB_ROOT_USERNAME"},
		models.FieldPassword: {"MONGO_INITDB_ROOT_PASSWORD"},
		models.FieldDatabase: {"MONGO_INITDB_DATABASE"},
	},
	engine.Redis: {
		models.FieldPassword: {"REDIS_PASSWORD"},
	},
	engine.MSSQL: {
		models.FieldPassword: {"MSSQL_SA_PASSWORD", "SA_PASSWORD"},
	},
	engine.Oracle: {
		models.FieldPassword: {"ORACLE_PASSWORD", "ORACLE_PWD"},
	},
}

// keyMatch is one table hit for an env key.
type keyMatch struct {
	kind  engine.Kind
	field models.Field
	rank  int
}

func lookupKey(table map[engine.Kind]fieldKeys, key string) []keyMatch {
	var matches []keyMatch
	for _, kind := range engine.Kinds() {
		fields, ok := table[kind]
		if !ok {
			continue
		}
		for _, field := range fieldOrder {
			for rank, k := range fields[field] {
				if k == key {
					matches = append(matches, keyMatch{kind: kind, field: field, rank: rank})
				}
			}
		}
	}
	return matches
}

var fieldOrder = []models.Field{
	models.FieldUser, models.FieldPassword, models.FieldHost, models.FieldPort, models.FieldDatabase,
}

// isConnectionStringKey reports keys whose value is parsed as a URL.
func isConnectionStringKey(key string) bool {
	return strings.Contains(key, "DATABASE_URL") ||
		strings.Contains(key, "DB_URL") ||
		strings.Contains(key, "CONNECTION_STRING")
}

// engineFromName infers an engine from a section name, key path or driver
// string. The "pg" abbreviation only counts as a whole token.
func engineFromName(s string) (engine.Kind, bool) {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "postgres") || hasPgToken(s):
		return engine.PostgreSQL, true
	case strings.Contains(s, "mysql") || strings.Contains(s, "maria"):
		return engine.MySQL, true
	case strings.Contains(s, "mongo"):
		return engine.MongoDB, true
	case strings.Contains(s, "redis"):
		return engine.Redis, true
	}
	return "", false
}

func hasPgToken(s string) bool {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	for _, tok := range tokens {
		switch tok {
		case "pg", "pgsql", "pgx":
			return true
		}
	}
	return false
}

// optionKeys maps structured-config option names (INI, YAML) to fields.
var optionKeys = []struct {
	field models.Field
	keys  []string
}{
	{models.FieldPassword, []string{"password", "pass", "pwd", "secret"}},
	{models.FieldUser, []string{"user", "username", "login", "uid"}},
	{models.FieldHost, []string{"host", "hostname", "server", "address"}},
	{models.FieldPort, []string{"port"}},
	{models.FieldDatabase, []string{"database", "db", "dbname", "name"}},
}

// ContainerCredentials resolves credentials from a container's environment.
func ContainerCredentials(kind engine.Kind, env []string, containerName string) models.ResolvedCredentials {
	values := envMap(env)

	var creds models.ResolvedCredentials
	fields, ok := containerKeys[kind]
	if !ok {
		return creds
	}
	for _, field := range fieldOrder {
		for _, key := range fields[field] {
			if v := values[key]; v != "" {
				creds.Set(field, v, "container:"+containerName+":"+key)
				break
			}
		}
	}

	// The root password image variables authenticate the superuser.
	if kind == engine.MySQL && creds.User == "" && creds.Password != "" {
		creds.Set(models.FieldUser, "root", "container:"+containerName+":default")
	}
	return creds
}

func envMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := out[k]; !seen {
			out[k] = v
		}
	}
	return out
}
