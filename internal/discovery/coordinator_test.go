package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/configscan"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/credentials"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/docker"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/process"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/toolrun"
)

type stubPorts struct {
	found []models.DatabaseInstance
	err   error
	creds *credentials.Set
}

func (s *stubPorts) Scan(_ context.Context, creds *credentials.Set) ([]models.DatabaseInstance, error) {
	s.creds = creds
	return s.found, s.err
}

type stubContainers struct {
	found []models.DatabaseInstance
	err   error
	panic bool
}

func (s *stubContainers) Inspect(context.Context) ([]models.DatabaseInstance, error) {
	if s.panic {
		panic("nil pointer in runtime")
	}
	return s.found, s.err
}

type stubReporter struct {
	got Context
	err error
}

func (s *stubReporter) Write(dc Context) (string, error) {
	s.got = dc
	return "/tmp/report.json", s.err
}

type psqlRunner struct {
	stdout string
	env    []string
}

func (r *psqlRunner) Run(_ context.Context, cmd toolrun.Command) (toolrun.Result, error) {
	if cmd.Name != "psql" {
		return toolrun.Result{ExitCode: -1}, toolrun.ErrNotFound
	}
	r.env = cmd.Env
	return toolrun.Result{Stdout: r.stdout}, nil
}

type fixedProcesses []process.Info

func (f fixedProcesses) Processes(context.Context) ([]process.Info, error) {
	return f, nil
}

func pgNetwork(dbs ...string) models.DatabaseInstance {
	return models.NewNetworkInstance(engine.PostgreSQL, "localhost", 5432, dbs, models.NetworkDetails{
		ConnectionTested: true, AuthMethod: models.AuthPassword,
	})
}

func pgProcess(dbs ...string) models.DatabaseInstance {
	return models.NewProcessInstance(engine.PostgreSQL, "localhost", 5432, dbs, models.ProcessDetails{PID: 42, Name: "postgres"})
}

func TestDeduplicate_DuplicateSourceMerge(t *testing.T) {
	out := Deduplicate([]models.DatabaseInstance{pgNetwork("app_db"), pgProcess("reports_db")})

	require.Len(t, out, 1)
	assert.Equal(t, []string{"app_db", "reports_db"}, out[0].Databases)
	assert.Equal(t, []models.Source{models.SourceNetworkScan, models.SourceProcess}, out[0].Sources)
	assert.NotNil(t, out[0].Network)
	assert.NotNil(t, out[0].Process)
}

func TestDeduplicate_Idempotent(t *testing.T) {
	in := []models.DatabaseInstance{
		pgNetwork("a"),
		models.NewSQLiteInstance("/srv/app.db", "app.db", 10),
		pgProcess("b", "a"),
		models.NewSQLiteInstance("/srv/other.db", "other.db", 20),
		models.NewContainerInstance(engine.Redis, "localhost", 0, []string{"db0"}, models.ContainerDetails{ID: "r1"}),
		models.NewContainerInstance(engine.Redis, "localhost", 0, []string{"db1"}, models.ContainerDetails{ID: "r2"}),
		pgProcess("c"),
	}

	once := Deduplicate(in)
	twice := Deduplicate(once)

	assert.Equal(t, once, twice)
	assert.Len(t, once, 5)
}

func TestDeduplicate_UnionMonotonic(t *testing.T) {
	cases := [][2][]string{
		{{"a", "b"}, {"b", "c"}},
		{{}, {"x"}},
		{{"x"}, {}},
		{{"a", "a"}, {"a"}},
	}
	for _, tc := range cases {
		merged := Deduplicate([]models.DatabaseInstance{pgNetwork(tc[0]...), pgProcess(tc[1]...)})

		require.Len(t, merged, 1)
		for _, name := range append(append([]string{}, tc[0]...), tc[1]...) {
			assert.Contains(t, merged[0].Databases, name)
		}
	}
}

func TestDeduplicate_DoesNotMutateInput(t *testing.T) {
	first := pgNetwork("a")
	Deduplicate([]models.DatabaseInstance{first, pgProcess("b")})

	assert.Equal(t, []string{"a"}, first.Databases)
	assert.Equal(t, []models.Source{models.SourceNetworkScan}, first.Sources)
}

func TestRun_ContainerRuntimeUnavailable(t *testing.T) {
	reporter := &stubReporter{}
	c := NewCoordinator(Stages{
		Ports:      &stubPorts{found: []models.DatabaseInstance{pgNetwork("app_db")}},
		Containers: &stubContainers{err: docker.ErrUnavailable},
		Reporter:   reporter,
		Environ:    func() []string { return nil },
	})

	dc := c.Run(context.Background())

	assert.Equal(t, StateReported, dc.State)
	assert.Equal(t, stateOrder, dc.Transitions)
	assert.Zero(t, dc.CountBySource(models.SourceContainer))
	assert.Len(t, dc.Instances, 1)
	assert.Contains(t, dc.StageErrors, StateContainersScanned)
	assert.Equal(t, "/tmp/report.json", dc.ReportPath)
	assert.Equal(t, StateReported, reporter.got.State)
}

func TestRun_PanickingStageDegrades(t *testing.T) {
	c := NewCoordinator(Stages{
		Containers: &stubContainers{panic: true},
		Environ:    func() []string { return nil },
	})

	dc := c.Run(context.Background())

	assert.Equal(t, StateReported, dc.State)
	assert.Empty(t, dc.Instances)
	assert.Contains(t, dc.StageErrors[StateContainersScanned], "panicked")
}

func TestRun_ReporterFailureStillReported(t *testing.T) {
	c := NewCoordinator(Stages{
		Reporter: &stubReporter{err: errors.New("disk full")},
		Environ:  func() []string { return nil },
	})

	dc := c.Run(context.Background())

	assert.Equal(t, StateReported, dc.State)
	assert.Empty(t, dc.ReportPath)
	assert.Equal(t, "disk full", dc.StageErrors[StateReported])
}

func TestRun_EmptyInventory(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewCoordinator(Stages{Environ: func() []string { return nil }})
	c.now = func() time.Time { return start }

	dc := c.Run(context.Background())

	assert.Equal(t, StateReported, dc.State)
	assert.Empty(t, dc.Instances)
	assert.Empty(t, dc.StageErrors)
	assert.Equal(t, start, dc.StartedAt)
	assert.NotEqual(t, uuid.Nil, dc.RunID)
}

func TestRun_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("POSTGRES_USER=alice\nPOSTGRES_PASSWORD=s3cret\n"), 0o600))

	runner := &psqlRunner{stdout: " app_db    | alice    | UTF8\n template0 | postgres | UTF8\n"}
	ports := &stubPorts{}
	c := NewCoordinator(Stages{
		Configs:    configscan.NewScanner([]string{dir}, []string{".env"}),
		Environ:    func() []string { return []string{"POSTGRES_PASSWORD=from-env"} },
		EnvScanner: configscan.ScanEnviron,
		Ports:      ports,
		Processes: process.NewInspector(process.Options{
			Source:      fixedProcesses{{PID: 7, Name: "postgres", ListenPorts: []int{5432}}},
			Runner:      runner,
			ToolTimeout: time.Second,
		}),
	})

	dc := c.Run(context.Background())

	require.Len(t, dc.Instances, 1)
	inst := dc.Instances[0]
	assert.Equal(t, engine.PostgreSQL, inst.Kind)
	assert.Equal(t, "localhost", inst.Host)
	assert.Equal(t, 5432, inst.Port)
	assert.Equal(t, []string{"app_db"}, inst.Databases)

	creds := dc.Credentials.For(engine.PostgreSQL)
	assert.Equal(t, "alice", creds.User)
	assert.Equal(t, "s3cret", creds.Password)
	assert.Contains(t, runner.env, "PGPASSWORD=s3cret")
	assert.Same(t, dc.Credentials, ports.creds)
}

func TestAdvance_RejectsSkippedState(t *testing.T) {
	dc := newContext(time.Now())

	assert.Panics(t, func() { dc.advance(StatePortsScanned) })
	assert.NotPanics(t, func() { dc.advance(StateCredentialsResolved) })
}
