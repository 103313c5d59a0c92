// Package adapter talks to running database servers through their native
// drivers to confirm what is listening on a port and list its databases.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// Prober checks a single host:port for one engine kind.
type Prober interface {
	// Probe never hangs past t.Timeout. A non-nil error means the server
	// could not be queried; the result still carries what was learned.
	Probe(ctx context.Context, t Target) (*Result, error)
}

type Target struct {
	Host        string
	Port        int
	Credentials models.ResolvedCredentials
	Timeout     time.Duration
}

type Result struct {
	// Identified is true when the server answered in this engine's protocol.
	Identified       bool
	Databases        []string
	ConnectionTested bool
	AuthMethod       models.AuthMethod
	Note             string
}

var (
	// ErrUnsupportedEngine - no prober is registered for the kind
	ErrUnsupportedEngine = errors.New("adapter: unsupported engine kind")

	// ErrNotIdentified - the server did not answer like the expected engine
	ErrNotIdentified = errors.New("adapter: server not identified")
)

// successAuth is the auth method reported after a successful login.
func successAuth(kind engine.Kind, creds models.ResolvedCredentials) models.AuthMethod {
	if creds.Password != "" {
		return models.AuthPassword
	}
	if kind == engine.PostgreSQL {
		return models.AuthTrust
	}
	return models.AuthNone
}

func failedResult(identified bool, authRejected bool) *Result {
	res := &Result{Identified: identified, AuthMethod: models.AuthUnknown}
	if authRejected {
		res.AuthMethod = models.AuthRequired
	}
	return res
}
