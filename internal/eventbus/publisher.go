// Package eventbus publishes discovery and backup outcomes to NATS and
// listens for on-demand run requests.
package eventbus

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/backup"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/discovery"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/report"
)

const (
	SubjectInventory    = "dumpitall.inventory"
	SubjectBackups      = "dumpitall.backups"
	SubjectRunRequested = "dumpitall.run.requested"
)

type InventoryEvent struct {
	RunID      string            `json:"run_id"`
	Host       string            `json:"host"`
	StartedAt  int64             `json:"started_at"`
	FinishedAt int64             `json:"finished_at"`
	Instances  []report.Record   `json:"instances"`
	Summary    report.Summary    `json:"summary"`
	Errors     map[string]string `json:"stage_errors,omitempty"`
}

type BackupEvent struct {
	RunID     string          `json:"run_id"`
	Host      string          `json:"host"`
	Artifact  backup.Artifact `json:"artifact"`
	Succeeded bool            `json:"succeeded"`
	Timestamp int64           `json:"timestamp"`
}

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Close()
}

type Publisher struct {
	conn conn
	host string
	now  func() time.Time
}

func connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}
	return nc, nil
}

// NewPublisher connects to natsURL. host identifies this machine in events.
func NewPublisher(natsURL, host string) (*Publisher, error) {
	nc, err := connect(natsURL, "dumpitall-publisher")
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", natsURL).Msg("Publisher connected to NATS")

	return newPublisher(nc, host), nil
}

func newPublisher(c conn, host string) *Publisher {
	return &Publisher{conn: c, host: host, now: time.Now}
}

func (p *Publisher) PublishInventory(dc discovery.Context) error {
	event := InventoryEvent{
		RunID:      dc.RunID.String(),
		Host:       p.host,
		StartedAt:  dc.StartedAt.Unix(),
		FinishedAt: dc.FinishedAt.Unix(),
		Instances:  report.Records(dc.Instances),
		Summary:    report.Summarize(dc.Instances),
	}
	if len(dc.StageErrors) > 0 {
		event.Errors = make(map[string]string, len(dc.StageErrors))
		for state, msg := range dc.StageErrors {
			event.Errors[string(state)] = msg
		}
	}

	if err := p.publish(SubjectInventory, event); err != nil {
		return err
	}

	log.Debug().Str("run_id", event.RunID).Int("instances", len(event.Instances)).Msg("Published inventory to event bus")
	return nil
}

func (p *Publisher) PublishBackup(runID uuid.UUID, a backup.Artifact) error {
	event := BackupEvent{
		RunID:     runID.String(),
		Host:      p.host,
		Artifact:  a,
		Succeeded: a.OK(),
		Timestamp: p.now().Unix(),
	}
	if err := p.publish(SubjectBackups, event); err != nil {
		return err
	}

	log.Debug().Str("instance", a.Instance).Str("database", a.Database).Msg("Published backup outcome to event bus")
	return nil
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		log.Info().Msg("Publisher disconnected from NATS")
	}
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
