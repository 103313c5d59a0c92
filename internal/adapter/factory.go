package adapter

import (
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
)

// probers is the probe strategy column of the engine dispatch table.
var probers = map[engine.Kind]Prober{
	engine.PostgreSQL:    &PostgresProber{},
	engine.MySQL:         &MySQLProber{},
	engine.MongoDB:       &MongoProber{},
	engine.Redis:         &RedisProber{},
	engine.Elasticsearch: &ElasticsearchProber{},
	engine.CouchDB:       &CouchDBProber{},
	engine.Oracle:        &ManualProber{Product: "Oracle"},
	engine.MSSQL:         &ManualProber{Product: "Microsoft SQL Server"},
}

// Registry maps engine kinds to probers. Tests substitute their own.
type Registry map[engine.Kind]Prober

// DefaultRegistry returns a copy of the built-in probe table.
func DefaultRegistry() Registry {
	r := make(Registry, len(probers))
	for k, p := range probers {
		r[k] = p
	}
	return r
}

func (r Registry) Get(kind engine.Kind) (Prober, error) {
	p, ok := r[kind]
	if !ok {
		return nil, ErrUnsupportedEngine
	}
	return p, nil
}
