// Package configscan harvests database credential fragments from
// configuration files and environment variables.
package configscan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// maxFileSize bounds how much of a candidate file is read.
const maxFileSize = 4 << 20

// Extractor turns one decoded file into fragments.
type Extractor interface {
	Extract(path, text string) ([]models.CredentialFragment, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(path, text string) ([]models.CredentialFragment, error)

func (f ExtractorFunc) Extract(path, text string) ([]models.CredentialFragment, error) {
	return f(path, text)
}

var (
	composeExtractor = ExtractorFunc(parseCompose)
	yamlExtractor    = ExtractorFunc(parseYAMLConfig)
	phpExtractor     = ExtractorFunc(parsePHP)
	pythonExtractor  = ExtractorFunc(parsePython)
	iniExtractor     = ExtractorFunc(parseINI)
	dotenvExtractor  = ExtractorFunc(func(path, text string) ([]models.CredentialFragment, error) {
		return parseDotenv(path, text, models.OriginFile), nil
	})
)

// ExtractorFor picks the parser for a file by name and extension.
func ExtractorFor(path string) Extractor {
	name := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(name)

	switch {
	case strings.Contains(name, "docker-compose") && (ext == ".yml" || ext == ".yaml"):
		return composeExtractor
	case ext == ".yml" || ext == ".yaml":
		return yamlExtractor
	case ext == ".php":
		return phpExtractor
	case ext == ".py":
		return pythonExtractor
	case ext == ".ini" || ext == ".cfg" || ext == ".conf":
		return iniExtractor
	default:
		return dotenvExtractor
	}
}

type Scanner struct {
	roots    []string
	patterns []string
}

func NewScanner(roots, patterns []string) *Scanner {
	return &Scanner{roots: roots, patterns: patterns}
}

// Candidates expands every root glob and filename pattern into a list of
// regular files, de-duplicated in discovery order.
func (s *Scanner) Candidates() []string {
	seen := make(map[string]struct{})
	var files []string

	for _, root := range s.roots {
		dirs, err := filepath.Glob(root)
		if err != nil {
			continue
		}
		for _, dir := range dirs {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				continue
			}
			for _, pattern := range s.patterns {
				matches, err := filepath.Glob(filepath.Join(dir, pattern))
				if err != nil {
					continue
				}
				for _, m := range matches {
					abs, err := filepath.Abs(m)
					if err != nil {
						abs = m
					}
					if _, ok := seen[abs]; ok {
						continue
					}
					if info, err := os.Stat(abs); err != nil || !info.Mode().IsRegular() {
						continue
					}
					seen[abs] = struct{}{}
					files = append(files, abs)
				}
			}
		}
	}
	return files
}

// Scan reads every candidate file. Unreadable or unparsable files are logged
// and skipped.
func (s *Scanner) Scan(ctx context.Context) []models.CredentialFragment {
	files := s.Candidates()
	log.Debug().Int("files", len(files)).Msg("Scanning configuration files")

	var frags []models.CredentialFragment
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}

		found, err := ScanFile(path)
		if err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Skipping config file")
			continue
		}
		if len(found) > 0 {
			log.Debug().Str("file", path).Int("fragments", len(found)).Msg("Found credentials")
		}
		frags = append(frags, found...)
	}
	return frags
}

// ScanFile decodes and parses a single file.
func ScanFile(path string) ([]models.CredentialFragment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, maxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	text, err := decode(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return ExtractorFor(path).Extract(path, text)
}

// ScanEnviron reads KEY=value pairs from a process environment.
func ScanEnviron(environ []string) []models.CredentialFragment {
	lines := make([]string, 0, len(environ))
	for _, kv := range environ {
		// multi-line values would split into bogus assignments
		if !strings.Contains(kv, "\n") {
			lines = append(lines, kv)
		}
	}
	return parseDotenv("env", strings.Join(lines, "\n"), models.OriginProcessEnv)
}
