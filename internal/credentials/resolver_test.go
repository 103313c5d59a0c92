package credentials

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

func frag(kind engine.Kind, field models.Field, value string, origin models.Origin) models.CredentialFragment {
	return models.CredentialFragment{Engine: kind, Field: field, Value: value, Provenance: string(origin) + ":" + value, Origin: origin}
}

func TestResolve_FileBeatsProcessEnv(t *testing.T) {
	frags := []models.CredentialFragment{
		frag(engine.PostgreSQL, models.FieldPassword, "from-env", models.OriginProcessEnv),
		frag(engine.PostgreSQL, models.FieldPassword, "from-file", models.OriginFile),
	}

	creds := Resolve(frags).For(engine.PostgreSQL)

	assert.Equal(t, "from-file", creds.Password)
	assert.Equal(t, "file:from-file", creds.Provenance[models.FieldPassword])
}

func TestResolve_ProcessEnvBeatsDefault(t *testing.T) {
	frags := []models.CredentialFragment{
		frag(engine.MySQL, models.FieldUser, "envuser", models.OriginProcessEnv),
	}

	creds := Resolve(frags).For(engine.MySQL)

	assert.Equal(t, "envuser", creds.User)
	assert.Empty(t, creds.Password)
}

func TestResolve_DefaultUserWithEmptyPassword(t *testing.T) {
	s := Resolve(nil)

	assert.Equal(t, "postgres", s.For(engine.PostgreSQL).User)
	assert.Equal(t, "root", s.For(engine.MySQL).User)
	assert.Equal(t, "admin", s.For(engine.MongoDB).User)
	assert.Empty(t, s.For(engine.Redis).User)
	assert.True(t, s.For(engine.PostgreSQL).Anonymous())
	assert.False(t, s.Found(engine.PostgreSQL))
	assert.Empty(t, s.Kinds())
}

func TestResolve_ConnectionStringSharesFileTier(t *testing.T) {
	frags := []models.CredentialFragment{
		frag(engine.PostgreSQL, models.FieldUser, "url-user", models.OriginConnectionString),
		frag(engine.PostgreSQL, models.FieldUser, "file-user", models.OriginFile),
		frag(engine.PostgreSQL, models.FieldUser, "env-user", models.OriginProcessEnv),
	}

	assert.Equal(t, "url-user", Resolve(frags).For(engine.PostgreSQL).User)
}

func TestResolve_PerFieldAcrossTiers(t *testing.T) {
	frags := []models.CredentialFragment{
		frag(engine.PostgreSQL, models.FieldUser, "alice", models.OriginFile),
		frag(engine.PostgreSQL, models.FieldPassword, "envpw", models.OriginProcessEnv),
	}

	s := Resolve(frags)
	creds := s.For(engine.PostgreSQL)

	assert.Equal(t, "alice", creds.User)
	assert.Equal(t, "envpw", creds.Password)
	assert.True(t, s.Found(engine.PostgreSQL))
	assert.Equal(t, []engine.Kind{engine.PostgreSQL}, s.Kinds())
}

func TestSet_NilAndUnknownKind(t *testing.T) {
	var s *Set
	assert.Equal(t, models.ResolvedCredentials{}, s.For(engine.PostgreSQL))
	assert.Equal(t, models.ResolvedCredentials{}, Resolve(nil).For("db2"))
}

func TestForInstance_ContainerCredentialsFirst(t *testing.T) {
	s := Resolve([]models.CredentialFragment{
		frag(engine.PostgreSQL, models.FieldUser, "alice", models.OriginFile),
		frag(engine.PostgreSQL, models.FieldPassword, "hostpw", models.OriginFile),
	})

	var inner models.ResolvedCredentials
	inner.Set(models.FieldPassword, "containerpw", "container:pg:POSTGRES_PASSWORD")
	inst := models.NewContainerInstance(engine.PostgreSQL, "localhost", 15432, nil, models.ContainerDetails{ID: "c1", Credentials: inner})

	creds := s.ForInstance(inst)
	assert.Equal(t, "alice", creds.User)
	assert.Equal(t, "containerpw", creds.Password)

	plain := models.NewNetworkInstance(engine.PostgreSQL, "localhost", 5432, nil, models.NetworkDetails{})
	assert.Equal(t, "hostpw", s.ForInstance(plain).Password)
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := log.Logger
	log.Logger = zerolog.New(buf).Level(zerolog.InfoLevel)
	t.Cleanup(func() { log.Logger = prev })
	return buf
}

func TestResolve_LogsMaskedSummary(t *testing.T) {
	buf := captureLog(t)

	Resolve([]models.CredentialFragment{
		{Engine: engine.PostgreSQL, Field: models.FieldUser, Value: "alice", Provenance: "/srv/app/.env:DB_USER", Origin: models.OriginFile},
		{Engine: engine.PostgreSQL, Field: models.FieldPassword, Value: "hunter2", Provenance: "/srv/app/.env:DB_PASSWORD", Origin: models.OriginFile},
	})

	out := buf.String()
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"engine":"postgresql"`)
	assert.Contains(t, out, `"user":"alice"`)
	assert.Contains(t, out, `"password":"*******"`)
	assert.Contains(t, out, `"password_source":"/srv/app/.env:DB_PASSWORD"`)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, `"engine":"mysql"`)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "***", mask("abc"))
	assert.Equal(t, "********+", mask("a-very-long-password"))
}
