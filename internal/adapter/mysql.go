package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
)

// ER_ACCESS_DENIED_ERROR
const mysqlAccessDenied = 1045

type MySQLProber struct{}

func (p *MySQLProber) Probe(ctx context.Context, t Target) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cfg := mysql.NewConfig()
	cfg.User = t.Credentials.User
	cfg.Passwd = t.Credentials.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	cfg.Timeout = t.Timeout
	cfg.ReadTimeout = t.Timeout

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return failedResult(false, false), fmt.Errorf("failed to build connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		var myErr *mysql.MySQLError
		identified := errors.As(err, &myErr)
		return failedResult(identified, identified && myErr.Number == mysqlAccessDenied), fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return failedResult(true, false), fmt.Errorf("failed to scan database name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return failedResult(true, false), fmt.Errorf("failed to read databases: %w", err)
	}

	return &Result{
		Identified:       true,
		Databases:        engine.FilterDatabases(engine.MySQL, names),
		ConnectionTested: true,
		AuthMethod:       successAuth(engine.MySQL, t.Credentials),
	}, nil
}
