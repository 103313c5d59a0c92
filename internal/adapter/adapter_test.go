package adapter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

func targetFor(t *testing.T, rawURL string) Target {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Target{Host: u.Hostname(), Port: port, Timeout: 2 * time.Second}
}

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestDefaultRegistry_CoversNetworkEngines(t *testing.T) {
	r := DefaultRegistry()

	for _, kind := range engine.Kinds() {
		_, err := r.Get(kind)
		if kind == engine.SQLite {
			assert.ErrorIs(t, err, ErrUnsupportedEngine)
			continue
		}
		assert.NoError(t, err, kind)
	}
}

func TestElasticsearchProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `{"name":"node-1","version":{"number":"8.13.0"},"tagline":"You Know, for Search"}`)
		case "/_cat/indices":
			fmt.Fprint(w, `[{"index":"logs-2024"},{"index":".security-7"},{"index":"orders"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := (&ElasticsearchProber{}).Probe(context.Background(), targetFor(t, srv.URL))

	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.True(t, res.ConnectionTested)
	assert.Equal(t, models.AuthNone, res.AuthMethod)
	assert.Equal(t, []string{"logs-2024", "orders"}, res.Databases)
}

func TestElasticsearchProber_NotElasticsearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>nginx</html>")
	}))
	defer srv.Close()

	res, err := (&ElasticsearchProber{}).Probe(context.Background(), targetFor(t, srv.URL))

	assert.ErrorIs(t, err, ErrNotIdentified)
	assert.False(t, res.Identified)
}

func TestCouchDBProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `{"couchdb":"Welcome","version":"3.3.3"}`)
		case "/_all_dbs":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "admin" || pass != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `["_replicator","_users","orders"]`)
		}
	}))
	defer srv.Close()

	target := targetFor(t, srv.URL)
	res, err := (&CouchDBProber{}).Probe(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.Equal(t, models.AuthRequired, res.AuthMethod)
	assert.Empty(t, res.Databases)

	target.Credentials = models.ResolvedCredentials{User: "admin", Password: "pw"}
	res, err = (&CouchDBProber{}).Probe(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, models.AuthPassword, res.AuthMethod)
	assert.Equal(t, []string{"orders"}, res.Databases)
}

func TestManualProber(t *testing.T) {
	res, err := (&ManualProber{Product: "Oracle"}).Probe(context.Background(), Target{Host: "localhost", Port: 1521})

	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.False(t, res.ConnectionTested)
	assert.Equal(t, models.AuthUnknown, res.AuthMethod)
	assert.Contains(t, res.Note, "manual configuration required")
}

func TestDriverProbers_ClosedPortNotIdentified(t *testing.T) {
	port := closedPort(t)
	target := Target{Host: "127.0.0.1", Port: port, Timeout: time.Second, Credentials: models.ResolvedCredentials{User: "postgres"}}

	for _, p := range []Prober{&PostgresProber{}, &MySQLProber{}, &RedisProber{}, &MongoProber{}} {
		start := time.Now()
		res, err := p.Probe(context.Background(), target)

		assert.Error(t, err, "%T", p)
		require.NotNil(t, res, "%T", p)
		assert.False(t, res.Identified, "%T", p)
		assert.False(t, res.ConnectionTested, "%T", p)
		assert.Less(t, time.Since(start), 5*time.Second, "%T", p)
	}
}

func TestPostgresDSN_EscapesCredentials(t *testing.T) {
	dsn := postgresDSN(Target{
		Host: "localhost", Port: 5432, Timeout: 500 * time.Millisecond,
		Credentials: models.ResolvedCredentials{User: "alice", Password: "p@ss:w/rd"},
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss:w/rd", pw)
	assert.Equal(t, "/template1", u.Path)
	assert.Equal(t, "1", u.Query().Get("connect_timeout"))
}

func TestSuccessAuth(t *testing.T) {
	assert.Equal(t, models.AuthTrust, successAuth(engine.PostgreSQL, models.ResolvedCredentials{}))
	assert.Equal(t, models.AuthNone, successAuth(engine.MySQL, models.ResolvedCredentials{}))
	assert.Equal(t, models.AuthPassword, successAuth(engine.MongoDB, models.ResolvedCredentials{Password: "x"}))
}

// fakeRedis answers just enough RESP for a handshake, PING and INFO.
func fakeRedis(t *testing.T, password string) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go serveRedis(conn, password)
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func serveRedis(conn net.Conn, password string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := password == ""

	for {
		args, err := readRESPArray(r)
		if err != nil {
			return
		}
		cmd := strings.ToUpper(args[0])

		var reply string
		switch {
		case cmd == "HELLO":
			reply = "-ERR unknown command 'HELLO'\r\n"
		case cmd == "AUTH":
			if args[len(args)-1] == password {
				authed = true
				reply = "+OK\r\n"
			} else {
				reply = "-WRONGPASS invalid username-password pair or user is disabled.\r\n"
			}
		case cmd == "CLIENT" || cmd == "SELECT":
			reply = "+OK\r\n"
		case !authed:
			reply = "-NOAUTH Authentication required.\r\n"
		case cmd == "PING":
			reply = "+PONG\r\n"
		case cmd == "INFO":
			body := "# Keyspace\r\ndb0:keys=3,expires=0,avg_ttl=0\r\ndb4:keys=1,expires=0,avg_ttl=0\r\n"
			reply = fmt.Sprintf("$%d\r\n%s\r\n", len(body), body)
		default:
			reply = "-ERR unknown command\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func readRESPArray(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array header %q", line)
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}
		arg, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		args = append(args, strings.TrimRight(arg, "\r\n"))
	}
	return args, nil
}

func TestRedisProber(t *testing.T) {
	port := fakeRedis(t, "")

	res, err := (&RedisProber{}).Probe(context.Background(), Target{Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second})

	require.NoError(t, err)
	assert.True(t, res.Identified)
	assert.True(t, res.ConnectionTested)
	assert.Equal(t, models.AuthNone, res.AuthMethod)
	assert.Equal(t, []string{"db0", "db4"}, res.Databases)
}

func TestRedisProber_AuthRequired(t *testing.T) {
	port := fakeRedis(t, "sekrit")

	res, err := (&RedisProber{}).Probe(context.Background(), Target{Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second})

	assert.Error(t, err)
	assert.True(t, res.Identified)
	assert.Equal(t, models.AuthRequired, res.AuthMethod)
}

func TestRedisProber_WithPassword(t *testing.T) {
	port := fakeRedis(t, "sekrit")

	res, err := (&RedisProber{}).Probe(context.Background(), Target{
		Host: "127.0.0.1", Port: port, Timeout: 2 * time.Second,
		Credentials: models.ResolvedCredentials{Password: "sekrit"},
	})

	require.NoError(t, err)
	assert.Equal(t, models.AuthPassword, res.AuthMethod)
}
