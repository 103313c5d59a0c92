// Package portscan finds database servers by their listening TCP ports.
package portscan

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/adapter"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/credentials"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

const (
	bannerProbe   = "\n"
	bannerMaxRead = 1024
	bannerTimeout = 5 * time.Second
)

// WellKnownPort is a port connected to even when not seen listening. Kind is
// empty for engines without a probe (DB2, InfluxDB).
type WellKnownPort struct {
	Port int
	Kind engine.Kind
}

var DefaultWellKnownPorts = []WellKnownPort{
	{5432, engine.PostgreSQL},
	{3306, engine.MySQL},
	{27017, engine.MongoDB},
	{6379, engine.Redis},
	{1521, engine.Oracle},
	{1433, engine.MSSQL},
	{50000, ""},
	{8086, ""},
	{9200, engine.Elasticsearch},
	{5984, engine.CouchDB},
}

// assumedOnPort are engines reported on their well-known port (or after a
// banner match) even when the probe could not log in.
var assumedOnPort = map[engine.Kind]bool{
	engine.PostgreSQL: true,
	engine.MySQL:      true,
	engine.MongoDB:    true,
}

// ListenerSource lists locally listening TCP ports.
type ListenerSource interface {
	ListeningPorts(ctx context.Context) ([]int, error)
}

// SystemListeners reads the socket table through gopsutil.
type SystemListeners struct{}

func (SystemListeners) ListeningPorts(ctx context.Context) ([]int, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to read socket table: %w", err)
	}

	var ports []int
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		port := int(c.Laddr.Port)
		if !slices.Contains(ports, port) {
			ports = append(ports, port)
		}
	}
	slices.Sort(ports)
	return ports, nil
}

type Options struct {
	Host           string
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	Listeners      ListenerSource
	Registry       adapter.Registry
	WellKnownPorts []WellKnownPort
}

type Scanner struct {
	opts Options
}

func NewScanner(opts Options) *Scanner {
	if opts.Listeners == nil {
		opts.Listeners = SystemListeners{}
	}
	if opts.Registry == nil {
		opts.Registry = adapter.DefaultRegistry()
	}
	if opts.WellKnownPorts == nil {
		opts.WellKnownPorts = DefaultWellKnownPorts
	}
	return &Scanner{opts: opts}
}

// Scan probes every candidate port one at a time.
func (s *Scanner) Scan(ctx context.Context, creds *credentials.Set) ([]models.DatabaseInstance, error) {
	ports := s.candidatePorts(ctx)
	log.Info().Ints("ports", ports).Msg("Probing open ports")

	var found []models.DatabaseInstance
	for _, port := range ports {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if inst, ok := s.probePort(ctx, port, creds); ok {
			log.Info().
				Str("engine", string(inst.Kind)).
				Int("port", port).
				Int("databases", len(inst.Databases)).
				Msg("Database found on port")
			found = append(found, inst)
		}
	}
	return found, nil
}

// candidatePorts merges system listeners (>= 1024, or well-known) with
// well-known ports that accept a connection. Well-known ports come first.
func (s *Scanner) candidatePorts(ctx context.Context) []int {
	listening, err := s.opts.Listeners.ListeningPorts(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Listening socket table unavailable")
	}

	var ports []int
	for _, wk := range s.opts.WellKnownPorts {
		if slices.Contains(listening, wk.Port) || s.isOpen(ctx, wk.Port) {
			ports = append(ports, wk.Port)
		}
	}
	for _, port := range listening {
		if port < 1024 && !s.isWellKnown(port) {
			continue
		}
		if !slices.Contains(ports, port) {
			ports = append(ports, port)
		}
	}
	return ports
}

func (s *Scanner) isWellKnown(port int) bool {
	_, ok := s.wellKnown(port)
	return ok
}

func (s *Scanner) wellKnown(port int) (WellKnownPort, bool) {
	for _, wk := range s.opts.WellKnownPorts {
		if wk.Port == port {
			return wk, true
		}
	}
	return WellKnownPort{}, false
}

func (s *Scanner) address(port int) string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
}

func (s *Scanner) isOpen(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: s.opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.address(port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *Scanner) probePort(ctx context.Context, port int, creds *credentials.Set) (models.DatabaseInstance, bool) {
	var kind engine.Kind
	if wk, ok := s.wellKnown(port); ok {
		if wk.Kind == "" {
			log.Debug().Int("port", port).Msg("Well-known port has no supported engine")
			return models.DatabaseInstance{}, false
		}
		kind = wk.Kind
	} else {
		banner, err := s.readBanner(ctx, port)
		if err != nil {
			log.Debug().Err(err).Int("port", port).Msg("No banner")
			return models.DatabaseInstance{}, false
		}
		var ok bool
		if kind, ok = engine.MatchBanner(banner); !ok {
			return models.DatabaseInstance{}, false
		}
	}

	prober, err := s.opts.Registry.Get(kind)
	if err != nil {
		return models.DatabaseInstance{}, false
	}

	res, err := prober.Probe(ctx, adapter.Target{
		Host:        s.opts.Host,
		Port:        port,
		Credentials: creds.For(kind),
		Timeout:     s.opts.ProbeTimeout,
	})
	if err != nil {
		log.Debug().Err(err).Str("engine", string(kind)).Int("port", port).Msg("Probe failed")
	}
	if res == nil || !(res.Identified || assumedOnPort[kind]) {
		return models.DatabaseInstance{}, false
	}

	return models.NewNetworkInstance(kind, s.opts.Host, port, res.Databases, models.NetworkDetails{
		ConnectionTested: res.ConnectionTested,
		AuthMethod:       res.AuthMethod,
		Note:             res.Note,
	}), true
}

// readBanner sends a newline and returns whatever the server answers.
func (s *Scanner) readBanner(ctx context.Context, port int) (string, error) {
	d := net.Dialer{Timeout: s.opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.address(port))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	timeout := min(bannerTimeout, s.opts.ProbeTimeout)
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte(bannerProbe)); err != nil {
		return "", err
	}

	buf := make([]byte, bannerMaxRead)
	n, err := conn.Read(buf)
	if n == 0 && err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
