// Package discovery runs the discovery stages in order and merges their
// output into one de-duplicated inventory.
package discovery

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/credentials"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// State is a step of a discovery run.
type State string

const (
	StateIdle                State = "idle"
	StateCredentialsResolved State = "credentials_resolved"
	StatePortsScanned        State = "ports_scanned"
	StateProcessesScanned    State = "processes_scanned"
	StateContainersScanned   State = "containers_scanned"
	StateDeduplicated        State = "deduplicated"
	StateReported            State = "reported"
)

// stateOrder is the only path a run may take.
var stateOrder = []State{
	StateIdle,
	StateCredentialsResolved,
	StatePortsScanned,
	StateProcessesScanned,
	StateContainersScanned,
	StateDeduplicated,
	StateReported,
}

// Context carries everything one run has learned. Stages receive a Context
// and return a new one; nothing is shared between runs.
type Context struct {
	RunID       uuid.UUID
	StartedAt   time.Time
	FinishedAt  time.Time
	State       State
	Transitions []State

	Credentials *credentials.Set
	Instances   []models.DatabaseInstance

	// StageErrors maps the state a failed stage led to onto its error text.
	StageErrors map[State]string

	// ReportPath is set once the report file is written.
	ReportPath string
}

func newContext(now time.Time) Context {
	return Context{
		RunID:       uuid.New(),
		StartedAt:   now,
		State:       StateIdle,
		Transitions: []State{StateIdle},
		StageErrors: map[State]string{},
	}
}

// advance moves to the next state. It panics on an out-of-order transition,
// which is a programming error.
func (c Context) advance(next State) Context {
	idx := slices.Index(stateOrder, c.State)
	if idx < 0 || idx+1 >= len(stateOrder) || stateOrder[idx+1] != next {
		panic("discovery: invalid transition " + string(c.State) + " -> " + string(next))
	}
	out := c.clone()
	out.State = next
	out.Transitions = append(out.Transitions, next)
	return out
}

func (c Context) withInstances(found []models.DatabaseInstance) Context {
	out := c.clone()
	for _, inst := range found {
		out.Instances = append(out.Instances, inst.Clone())
	}
	return out
}

func (c Context) withError(state State, err error) Context {
	out := c.clone()
	out.StageErrors[state] = err.Error()
	return out
}

func (c Context) clone() Context {
	out := c
	out.Transitions = slices.Clone(c.Transitions)
	out.Instances = slices.Clone(c.Instances)
	out.StageErrors = make(map[State]string, len(c.StageErrors))
	for k, v := range c.StageErrors {
		out.StageErrors[k] = v
	}
	return out
}

// Duration is the wall time of a finished run.
func (c Context) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// CountBySource counts instances that source observed.
func (c Context) CountBySource(source models.Source) int {
	n := 0
	for _, inst := range c.Instances {
		if inst.HasSource(source) {
			n++
		}
	}
	return n
}
