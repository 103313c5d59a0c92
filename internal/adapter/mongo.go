package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
)

const (
	mongoUnauthorized         = 13
	mongoAuthenticationFailed = 18
)

type MongoProber struct{}

func (p *MongoProber) Probe(ctx context.Context, t Target) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	opts := options.Client().
		SetHosts([]string{net.JoinHostPort(t.Host, strconv.Itoa(t.Port))}).
		SetDirect(true).
		SetConnectTimeout(t.Timeout).
		SetServerSelectionTimeout(t.Timeout)
	if t.Credentials.Password != "" {
		opts.SetAuth(options.Credential{
			Username:   t.Credentials.User,
			Password:   t.Credentials.Password,
			AuthSource: "admin",
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return failedResult(false, false), fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect(context.Background())

	names, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		identified, rejected := classifyMongoError(err)
		return failedResult(identified, rejected), fmt.Errorf("failed to list databases: %w", err)
	}

	return &Result{
		Identified:       true,
		Databases:        engine.FilterDatabases(engine.MongoDB, names),
		ConnectionTested: true,
		AuthMethod:       successAuth(engine.MongoDB, t.Credentials),
	}, nil
}

// classifyMongoError reports whether the server answered at all and whether
// it rejected our credentials.
func classifyMongoError(err error) (identified, rejected bool) {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return true, cmdErr.Code == mongoUnauthorized || cmdErr.Code == mongoAuthenticationFailed
	}
	if strings.Contains(strings.ToLower(err.Error()), "authentication failed") {
		return true, true
	}
	return false, false
}
