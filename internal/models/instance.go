package models

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
)

// Source is the signal that produced an observation.
type Source string

const (
	SourceProcess     Source = "process"
	SourceContainer   Source = "container"
	SourceNetworkScan Source = "network_scan"
)

// AuthMethod describes how a probed server accepted (or refused) us.
type AuthMethod string

const (
	AuthTrust    AuthMethod = "trust"
	AuthPassword AuthMethod = "password"
	AuthNone     AuthMethod = "no_auth"
	AuthRequired AuthMethod = "required"
	AuthUnknown  AuthMethod = "unknown"
)

type ProcessDetails struct {
	PID     int32
	Name    string
	DataDir string
	Cmdline string
}

type Mount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Type        string `json:"type"`
}

type ContainerDetails struct {
	ID     string
	Name   string
	Image  string
	Ports  []int
	Mounts []Mount

	// Credentials extracted from the container's own environment.
	Credentials ResolvedCredentials
}

type NetworkDetails struct {
	ConnectionTested bool
	AuthMethod       AuthMethod
	Note             string
}

type SQLiteDetails struct {
	FilePath  string
	SizeBytes int64
}

// DatabaseInstance is one discovered server (or SQLite file). Exactly one of
// the detail pointers is set when a stage creates it; de-duplication may
// attach the others.
type DatabaseInstance struct {
	Kind      engine.Kind
	Host      string
	Port      int // 0 means unknown
	Databases []string
	Sources   []Source

	Process   *ProcessDetails
	Container *ContainerDetails
	Network   *NetworkDetails
	SQLite    *SQLiteDetails
}

func NewProcessInstance(kind engine.Kind, host string, port int, databases []string, d ProcessDetails) DatabaseInstance {
	return DatabaseInstance{
		Kind:      kind,
		Host:      host,
		Port:      port,
		Databases: AppendUnique(nil, databases...),
		Sources:   []Source{SourceProcess},
		Process:   &d,
	}
}

func NewContainerInstance(kind engine.Kind, host string, port int, databases []string, d ContainerDetails) DatabaseInstance {
	return DatabaseInstance{
		Kind:      kind,
		Host:      host,
		Port:      port,
		Databases: AppendUnique(nil, databases...),
		Sources:   []Source{SourceContainer},
		Container: &d,
	}
}

func NewNetworkInstance(kind engine.Kind, host string, port int, databases []string, d NetworkDetails) DatabaseInstance {
	return DatabaseInstance{
		Kind:      kind,
		Host:      host,
		Port:      port,
		Databases: AppendUnique(nil, databases...),
		Sources:   []Source{SourceNetworkScan},
		Network:   &d,
	}
}

// NewSQLiteInstance reports a SQLite file. It is attributed to the process
// stage, which performs the filesystem walk.
func NewSQLiteInstance(path, name string, size int64) DatabaseInstance {
	return DatabaseInstance{
		Kind:      engine.SQLite,
		Host:      "localhost",
		Databases: []string{name},
		Sources:   []Source{SourceProcess},
		SQLite:    &SQLiteDetails{FilePath: path, SizeBytes: size},
	}
}

// Key is the identity used for de-duplication. SQLite files key by path and
// containers without a published port key by container id.
func (i DatabaseInstance) Key() string {
	if i.SQLite != nil {
		return fmt.Sprintf("%s:%s", i.Kind, i.SQLite.FilePath)
	}
	if i.Port == 0 && i.Container != nil {
		return fmt.Sprintf("%s:container:%s", i.Kind, i.Container.ID)
	}
	return fmt.Sprintf("%s:%s:%s", i.Kind, i.Host, i.PortString())
}

func (i DatabaseInstance) PortString() string {
	if i.Port == 0 {
		return "unknown"
	}
	return strconv.Itoa(i.Port)
}

// PrimarySource is the source of the first observation.
func (i DatabaseInstance) PrimarySource() Source {
	if len(i.Sources) == 0 {
		return ""
	}
	return i.Sources[0]
}

func (i DatabaseInstance) HasSource(s Source) bool {
	return slices.Contains(i.Sources, s)
}

// Merge folds other into i: databases and sources are unioned with existing
// entries first, missing details are attached, identity fields never change.
func (i DatabaseInstance) Merge(other DatabaseInstance) DatabaseInstance {
	out := i.Clone()
	out.Databases = AppendUnique(out.Databases, other.Databases...)
	out.Sources = AppendUnique(out.Sources, other.Sources...)

	if out.Process == nil && other.Process != nil {
		p := *other.Process
		out.Process = &p
	}
	if out.Container == nil && other.Container != nil {
		c := *other.Container
		out.Container = &c
	}
	if out.Network == nil && other.Network != nil {
		n := *other.Network
		out.Network = &n
	}
	if out.SQLite == nil && other.SQLite != nil {
		s := *other.SQLite
		out.SQLite = &s
	}
	return out
}

// Clone copies the slices so the result can be extended independently.
func (i DatabaseInstance) Clone() DatabaseInstance {
	out := i
	out.Databases = slices.Clone(i.Databases)
	out.Sources = slices.Clone(i.Sources)
	return out
}

// AppendUnique appends values not already present, keeping order.
func AppendUnique[T comparable](dst []T, values ...T) []T {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
