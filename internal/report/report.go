// Package report persists and prints discovery results.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/discovery"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

const timestampLayout = "20060102_150405"

// Record is the serialized form of one instance. Credentials are reduced to
// the user name; passwords are never written.
type Record struct {
	Engine    string   `json:"type"`
	Host      string   `json:"host"`
	Port      *int     `json:"port"`
	Source    string   `json:"source"`
	Sources   []string `json:"sources"`
	Databases []string `json:"databases"`

	// Process
	PID     int32  `json:"pid,omitempty"`
	DataDir string `json:"data_dir,omitempty"`
	Cmdline string `json:"cmdline,omitempty"`

	// Container
	ContainerID   string         `json:"container_id,omitempty"`
	ContainerName string         `json:"container_name,omitempty"`
	Image         string         `json:"image,omitempty"`
	Ports         []int          `json:"ports,omitempty"`
	Volumes       []models.Mount `json:"volumes,omitempty"`
	User          string         `json:"user,omitempty"`

	// Network
	ConnectionTested *bool  `json:"connection_tested,omitempty"`
	AuthMethod       string `json:"auth_method,omitempty"`
	Note             string `json:"note,omitempty"`

	// SQLite
	FilePath  string `json:"file_path,omitempty"`
	SizeBytes int64  `json:"size,omitempty"`
}

func NewRecord(inst models.DatabaseInstance) Record {
	r := Record{
		Engine:    string(inst.Kind),
		Host:      inst.Host,
		Source:    string(inst.PrimarySource()),
		Databases: append([]string{}, inst.Databases...),
	}
	if inst.Port != 0 {
		port := inst.Port
		r.Port = &port
	}
	for _, s := range inst.Sources {
		r.Sources = append(r.Sources, string(s))
	}

	if p := inst.Process; p != nil {
		r.PID = p.PID
		r.DataDir = p.DataDir
		r.Cmdline = p.Cmdline
	}
	if c := inst.Container; c != nil {
		r.ContainerID = c.ID
		r.ContainerName = c.Name
		r.Image = c.Image
		r.Ports = c.Ports
		r.Volumes = c.Mounts
		r.User = c.Credentials.User
	}
	if n := inst.Network; n != nil {
		tested := n.ConnectionTested
		r.ConnectionTested = &tested
		r.AuthMethod = string(n.AuthMethod)
		r.Note = n.Note
	}
	if s := inst.SQLite; s != nil {
		r.FilePath = s.FilePath
		r.SizeBytes = s.SizeBytes
	}
	return r
}

func Records(instances []models.DatabaseInstance) []Record {
	out := make([]Record, 0, len(instances))
	for _, inst := range instances {
		out = append(out, NewRecord(inst))
	}
	return out
}

// Writer stores discovery reports as discovery_report_<timestamp>.json.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write implements discovery.Reporter.
func (w *Writer) Write(dc discovery.Context) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	at := dc.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	path := filepath.Join(w.dir, "discovery_report_"+at.Format(timestampLayout)+".json")

	data, err := json.MarshalIndent(Records(dc.Instances), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}

	log.Info().Str("path", path).Int("instances", len(dc.Instances)).Msg("Discovery report saved")
	return path, nil
}

// writeFileAtomic writes a uniquely named temp file next to path and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
