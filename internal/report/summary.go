package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

type Summary struct {
	Instances int                   `json:"instances"`
	Databases int                   `json:"databases"`
	ByEngine  map[engine.Kind]int   `json:"by_engine"`
	BySource  map[models.Source]int `json:"by_source"`
}

// Summarize counts instances per engine and per source. An instance merged
// from several sources counts once for each.
func Summarize(instances []models.DatabaseInstance) Summary {
	s := Summary{
		Instances: len(instances),
		ByEngine:  make(map[engine.Kind]int),
		BySource:  make(map[models.Source]int),
	}
	for _, inst := range instances {
		s.ByEngine[inst.Kind]++
		s.Databases += len(inst.Databases)
		for _, src := range inst.Sources {
			s.BySource[src]++
		}
	}
	return s
}

func (s Summary) Log() {
	log.Info().Int("instances", s.Instances).Int("databases", s.Databases).Msg("Discovery summary")

	for _, k := range sortedKeys(s.ByEngine) {
		log.Info().Str("engine", string(k)).Int("count", s.ByEngine[k]).Msg("By engine")
	}
	for _, k := range sortedKeys(s.BySource) {
		log.Info().Str("source", string(k)).Int("count", s.BySource[k]).Msg("By source")
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PrintDetailed writes a human-readable listing of every instance.
func PrintDetailed(w io.Writer, instances []models.DatabaseInstance) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "DISCOVERED DATABASES")
	fmt.Fprintln(w, rule)

	if len(instances) == 0 {
		fmt.Fprintln(w, "No databases found")
		return
	}

	for i, inst := range instances {
		fmt.Fprintf(w, "\n[%d] %s\n", i+1, strings.ToUpper(string(inst.Kind)))
		fmt.Fprintf(w, "    Location:  %s:%s\n", inst.Host, inst.PortString())

		sources := make([]string, 0, len(inst.Sources))
		for _, s := range inst.Sources {
			sources = append(sources, string(s))
		}
		fmt.Fprintf(w, "    Sources:   %s\n", strings.Join(sources, ", "))

		if n := inst.Network; n != nil {
			status := "connection failed"
			if n.ConnectionTested {
				status = "connection ok"
			}
			fmt.Fprintf(w, "    Status:    %s\n", status)
			if n.AuthMethod != "" {
				fmt.Fprintf(w, "    Auth:      %s\n", n.AuthMethod)
			}
		} else {
			fmt.Fprintln(w, "    Status:    not tested")
		}

		if len(inst.Databases) == 0 {
			fmt.Fprintln(w, "    Databases: none found")
		} else {
			fmt.Fprintf(w, "    Databases (%d):\n", len(inst.Databases))
			for _, db := range inst.Databases {
				fmt.Fprintf(w, "      - %s\n", db)
			}
		}

		if inst.Network != nil && inst.Network.Note != "" {
			fmt.Fprintf(w, "    Note:      %s\n", inst.Network.Note)
		}
		if c := inst.Container; c != nil {
			fmt.Fprintf(w, "    Container: %s\n", c.Name)
			fmt.Fprintf(w, "    Image:     %s\n", c.Image)
		}
		if s := inst.SQLite; s != nil {
			fmt.Fprintf(w, "    File:      %s\n", s.FilePath)
			fmt.Fprintf(w, "    Size:      %.2f MB\n", float64(s.SizeBytes)/1024/1024)
		}
	}
	fmt.Fprintln(w, rule)
}
