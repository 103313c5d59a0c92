// Package credentials picks one credential set per engine kind from the
// fragments harvested by configscan.
package credentials

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// tiers in priority order. File and connection-string fragments share the
// top tier.
var tiers = [][]models.Origin{
	{models.OriginFile, models.OriginConnectionString},
	{models.OriginProcessEnv},
}

var fields = []models.Field{
	models.FieldUser, models.FieldPassword, models.FieldHost, models.FieldPort, models.FieldDatabase,
}

// Set holds the resolved credentials of a single discovery run.
type Set struct {
	byKind map[engine.Kind]models.ResolvedCredentials
}

// Resolve builds a Set from fragments. Within a tier the first fragment seen
// for a field wins.
func Resolve(frags []models.CredentialFragment) *Set {
	s := &Set{byKind: make(map[engine.Kind]models.ResolvedCredentials)}

	for _, kind := range engine.Kinds() {
		creds := resolveKind(kind, frags)
		s.byKind[kind] = creds

		if s.Found(kind) {
			log.Info().
				Str("engine", string(kind)).
				Str("user", creds.User).
				Str("password", mask(creds.Password)).
				Str("host", creds.Host).
				Str("port", creds.Port).
				Str("user_source", creds.Provenance[models.FieldUser]).
				Str("password_source", creds.Provenance[models.FieldPassword]).
				Msg("Credentials resolved")
		}
	}
	return s
}

// mask hides a secret, keeping only a hint of its length.
func mask(secret string) string {
	switch n := len(secret); {
	case n == 0:
		return ""
	case n > 8:
		return strings.Repeat("*", 8) + "+"
	default:
		return strings.Repeat("*", n)
	}
}

func resolveKind(kind engine.Kind, frags []models.CredentialFragment) models.ResolvedCredentials {
	var creds models.ResolvedCredentials

	for _, field := range fields {
		if frag, ok := pick(kind, field, frags); ok {
			creds.Set(field, frag.Value, frag.Provenance)
		}
	}

	if creds.User == "" {
		if spec, err := engine.Lookup(kind); err == nil && spec.DefaultUser != "" {
			creds.Set(models.FieldUser, spec.DefaultUser, string(models.OriginDefault))
		}
	}
	return creds
}

func pick(kind engine.Kind, field models.Field, frags []models.CredentialFragment) (models.CredentialFragment, bool) {
	for _, tier := range tiers {
		for _, f := range frags {
			if f.Engine != kind || f.Field != field || f.Value == "" {
				continue
			}
			for _, origin := range tier {
				if f.Origin == origin {
					return f, true
				}
			}
		}
	}
	return models.CredentialFragment{}, false
}

// For returns the credentials of kind. It never fails: unknown kinds get an
// empty set.
func (s *Set) For(kind engine.Kind) models.ResolvedCredentials {
	if s == nil {
		return models.ResolvedCredentials{}
	}
	return s.byKind[kind]
}

// Found reports whether any non-default field was resolved for kind.
func (s *Set) Found(kind engine.Kind) bool {
	for f, p := range s.For(kind).Provenance {
		if f != models.FieldUser || p != string(models.OriginDefault) {
			return true
		}
	}
	return false
}

// Kinds lists the engine kinds with non-default credentials.
func (s *Set) Kinds() []engine.Kind {
	var kinds []engine.Kind
	for _, k := range engine.Kinds() {
		if s.Found(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// ForInstance prefers the instance's container-scoped credentials and falls
// back to the run-wide set for its kind.
func (s *Set) ForInstance(inst models.DatabaseInstance) models.ResolvedCredentials {
	base := s.For(inst.Kind)
	if inst.Container == nil {
		return base
	}
	return inst.Container.Credentials.WithFallback(base)
}
