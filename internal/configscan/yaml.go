package configscan

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// parseCompose flattens every service's environment block (list or map form)
// into KEY=value text and reads it like a dotenv file.
func parseCompose(path, text string) ([]models.CredentialFragment, error) {
	var doc struct {
		Services yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}
	if doc.Services.Kind != yaml.MappingNode {
		return nil, nil
	}

	var frags []models.CredentialFragment
	for i := 0; i+1 < len(doc.Services.Content); i += 2 {
		name := doc.Services.Content[i].Value
		service := doc.Services.Content[i+1]

		env := mappingValue(service, "environment")
		if env == nil {
			continue
		}

		var lines []string
		switch env.Kind {
		case yaml.SequenceNode:
			for _, item := range env.Content {
				if strings.Contains(item.Value, "=") {
					lines = append(lines, item.Value)
				}
			}
		case yaml.MappingNode:
			for j := 0; j+1 < len(env.Content); j += 2 {
				lines = append(lines, env.Content[j].Value+"="+env.Content[j+1].Value)
			}
		}

		frags = append(frags, parseDotenv(path+"#"+name, strings.Join(lines, "\n"), models.OriginFile)...)
	}
	return frags, nil
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// parseYAMLConfig walks any YAML document. Password-like keys are attributed
// to an engine named on their key path; a mapping that carries an
// adapter/driver/engine value also yields its user, host, port and database.
func parseYAMLConfig(path, text string) ([]models.CredentialFragment, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	var frags []models.CredentialFragment
	var walk func(n *yaml.Node, keyPath string)
	walk = func(n *yaml.Node, keyPath string) {
		switch n.Kind {
		case yaml.DocumentNode, yaml.SequenceNode:
			for _, c := range n.Content {
				walk(c, keyPath)
			}
		case yaml.MappingNode:
			kind, declared := mappingEngine(n)
			if !declared {
				kind, declared = engineFromName(keyPath)
			}

			for i := 0; i+1 < len(n.Content); i += 2 {
				key, value := n.Content[i].Value, n.Content[i+1]
				if value.Kind == yaml.ScalarNode && value.Value != "" && declared {
					if field, ok := yamlField(key); ok {
						frags = append(frags, models.CredentialFragment{
							Engine:     kind,
							Field:      field,
							Value:      value.Value,
							Provenance: path + ":" + strings.TrimPrefix(keyPath+"/"+key, "/"),
							Origin:     models.OriginFile,
						})
					}
				}
				walk(value, keyPath+"/"+key)
			}
		}
	}
	walk(&root, "")
	return frags, nil
}

func mappingEngine(n *yaml.Node) (engine.Kind, bool) {
	for _, key := range []string{"adapter", "driver", "engine"} {
		if v := mappingValue(n, key); v != nil && v.Kind == yaml.ScalarNode {
			if kind, ok := engineFromName(v.Value); ok {
				return kind, true
			}
		}
	}
	return "", false
}

// yamlField classifies a key. Password-like keys match by substring, the
// rest must match exactly.
func yamlField(key string) (models.Field, bool) {
	lower := strings.ToLower(key)
	for _, word := range optionKeys[0].keys {
		if strings.Contains(lower, word) {
			return models.FieldPassword, true
		}
	}
	for _, opt := range optionKeys[1:] {
		for _, k := range opt.keys {
			if lower == k {
				return opt.field, true
			}
		}
	}
	return "", false
}
