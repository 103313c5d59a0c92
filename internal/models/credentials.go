package models

import "github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"

// Field is a credential attribute.
type Field string

const (
	FieldUser     Field = "user"
	FieldPassword Field = "password"
	FieldHost     Field = "host"
	FieldPort     Field = "port"
	FieldDatabase Field = "database"
)

// Origin is the priority tier a fragment came from.
type Origin string

const (
	OriginFile             Origin = "file"
	OriginConnectionString Origin = "connection_string"
	OriginProcessEnv       Origin = "process_env"
	OriginContainerEnv     Origin = "container_env"
	OriginDefault          Origin = "default"
)

// CredentialFragment is one credential value observed somewhere.
type CredentialFragment struct {
	Engine     engine.Kind
	Field      Field
	Value      string
	Provenance string
	Origin     Origin
}

// ResolvedCredentials is the credential set chosen for one engine kind.
type ResolvedCredentials struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string

	// Provenance records where each populated field came from.
	Provenance map[Field]string
}

// Anonymous reports whether no password is available.
func (c ResolvedCredentials) Anonymous() bool {
	return c.Password == ""
}

// Get returns the value of f.
func (c ResolvedCredentials) Get(f Field) string {
	switch f {
	case FieldUser:
		return c.User
	case FieldPassword:
		return c.Password
	case FieldHost:
		return c.Host
	case FieldPort:
		return c.Port
	case FieldDatabase:
		return c.Database
	}
	return ""
}

// Set stores value for f and records where it came from.
func (c *ResolvedCredentials) Set(f Field, value, provenance string) {
	switch f {
	case FieldUser:
		c.User = value
	case FieldPassword:
		c.Password = value
	case FieldHost:
		c.Host = value
	case FieldPort:
		c.Port = value
	case FieldDatabase:
		c.Database = value
	default:
		return
	}
	if c.Provenance == nil {
		c.Provenance = make(map[Field]string)
	}
	c.Provenance[f] = provenance
}

// WithFallback fills empty fields of c from fallback.
func (c ResolvedCredentials) WithFallback(fallback ResolvedCredentials) ResolvedCredentials {
	out := ResolvedCredentials{}
	for _, f := range []Field{FieldUser, FieldPassword, FieldHost, FieldPort, FieldDatabase} {
		if v := c.Get(f); v != "" {
			out.Set(f, v, c.Provenance[f])
		} else if v := fallback.Get(f); v != "" {
			out.Set(f, v, fallback.Provenance[f])
		}
	}
	return out
}
