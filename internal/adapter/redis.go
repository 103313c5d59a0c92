package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
)

type RedisProber struct{}

func (p *RedisProber) Probe(ctx context.Context, t Target) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Password:     t.Credentials.Password,
		DialTimeout:  t.Timeout,
		ReadTimeout:  t.Timeout,
		WriteTimeout: t.Timeout,
		MaxRetries:   -1,
	})
	defer client.Close()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		rejected := isRedisAuthError(err)
		return failedResult(rejected, rejected), fmt.Errorf("ping failed: %w", err)
	}
	if !strings.EqualFold(pong, "PONG") {
		return failedResult(false, false), ErrNotIdentified
	}

	info, err := client.Info(ctx, "keyspace").Result()
	if err != nil {
		return failedResult(true, false), fmt.Errorf("failed to read keyspace: %w", err)
	}

	return &Result{
		Identified:       true,
		Databases:        engine.FilterDatabases(engine.Redis, engine.ParseRedisKeyspace(info)),
		ConnectionTested: true,
		AuthMethod:       successAuth(engine.Redis, t.Credentials),
	}, nil
}

func isRedisAuthError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "NOAUTH") ||
		strings.HasPrefix(msg, "WRONGPASS") ||
		strings.Contains(msg, "invalid password")
}
