package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
)

type PostgresProber struct{}

func (p *PostgresProber) Probe(ctx context.Context, t Target) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, postgresDSN(t))
	if err != nil {
		var pgErr *pgconn.PgError
		identified := errors.As(err, &pgErr)
		rejected := identified && (pgErr.Code == "28P01" || pgErr.Code == "28000")
		return failedResult(identified, rejected), fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, "SELECT datname FROM pg_database ORDER BY oid")
	if err != nil {
		return failedResult(true, false), fmt.Errorf("failed to list databases: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return failedResult(true, false), fmt.Errorf("failed to read databases: %w", err)
	}

	return &Result{
		Identified:       true,
		Databases:        engine.FilterDatabases(engine.PostgreSQL, names),
		ConnectionTested: true,
		AuthMethod:       successAuth(engine.PostgreSQL, t.Credentials),
	}, nil
}

func postgresDSN(t Target) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:   "/template1",
	}
	if t.Credentials.Password != "" {
		u.User = url.UserPassword(t.Credentials.User, t.Credentials.Password)
	} else {
		u.User = url.User(t.Credentials.User)
	}

	q := url.Values{}
	q.Set("connect_timeout", strconv.Itoa(timeoutSeconds(t.Timeout)))
	u.RawQuery = q.Encode()
	return u.String()
}

func timeoutSeconds(d time.Duration) int {
	if s := int(d.Seconds()); s > 0 {
		return s
	}
	return 1
}
