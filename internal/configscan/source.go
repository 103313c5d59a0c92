package configscan

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

var phpPatterns = []struct {
	field models.Field
	re    *regexp.Regexp
}{
	{models.FieldPassword, regexp.MustCompile(`(?i)define\s*\(\s*['"]DB_PASSWORD['"]\s*,\s*['"]([^'"]+)['"]\s*\)`)},
	{models.FieldUser, regexp.MustCompile(`(?i)define\s*\(\s*['"]DB_USER['"]\s*,\s*['"]([^'"]+)['"]\s*\)`)},
	{models.FieldHost, regexp.MustCompile(`(?i)define\s*\(\s*['"]DB_HOST['"]\s*,\s*['"]([^'"]+)['"]\s*\)`)},
	{models.FieldDatabase, regexp.MustCompile(`(?i)define\s*\(\s*['"]DB_NAME['"]\s*,\s*['"]([^'"]+)['"]\s*\)`)},
	{models.FieldPassword, regexp.MustCompile(`(?i)\$db\s*(?:\[\s*['"]\w+['"]\s*\]\s*)?\[\s*['"]password['"]\s*\]\s*=\s*['"]([^'"]+)['"]`)},
	{models.FieldUser, regexp.MustCompile(`(?i)\$db\s*(?:\[\s*['"]\w+['"]\s*\]\s*)?\[\s*['"]user(?:name)?['"]\s*\]\s*=\s*['"]([^'"]+)['"]`)},
	{models.FieldHost, regexp.MustCompile(`(?i)\$db\s*(?:\[\s*['"]\w+['"]\s*\]\s*)?\[\s*['"]host(?:name)?['"]\s*\]\s*=\s*['"]([^'"]+)['"]`)},
	{models.FieldDatabase, regexp.MustCompile(`(?i)\$db\s*(?:\[\s*['"]\w+['"]\s*\]\s*)?\[\s*['"]database['"]\s*\]\s*=\s*['"]([^'"]+)['"]`)},
}

// parsePHP reads WordPress-style define() constants and $db[...] arrays,
// attributed to MySQL. The first match of each pattern wins.
func parsePHP(path, text string) ([]models.CredentialFragment, error) {
	var frags []models.CredentialFragment
	for _, p := range phpPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		frags = append(frags, models.CredentialFragment{
			Engine:     engine.MySQL,
			Field:      p.field,
			Value:      m[1],
			Provenance: path,
			Origin:     models.OriginFile,
		})
	}
	return frags, nil
}

var (
	djangoBlock  = regexp.MustCompile(`(?s)DATABASES\s*=\s*\{[^}]+\}`)
	djangoEngine = regexp.MustCompile(`['"]ENGINE['"]\s*:\s*['"][^'"]*\.([^'".]+)['"]`)
	djangoFields = []struct {
		field models.Field
		re    *regexp.Regexp
	}{
		{models.FieldPassword, regexp.MustCompile(`['"]PASSWORD['"]\s*:\s*['"]([^'"]+)['"]`)},
		{models.FieldUser, regexp.MustCompile(`['"]USER['"]\s*:\s*['"]([^'"]+)['"]`)},
		{models.FieldHost, regexp.MustCompile(`['"]HOST['"]\s*:\s*['"]([^'"]+)['"]`)},
		{models.FieldPort, regexp.MustCompile(`['"]PORT['"]\s*:\s*['"]?(\d+)['"]?`)},
		{models.FieldDatabase, regexp.MustCompile(`['"]NAME['"]\s*:\s*['"]([^'"]+)['"]`)},
	}
)

// parsePython reads the first DATABASES = {...} block of a Django settings
// module. The engine comes from the last dotted component of ENGINE.
func parsePython(path, text string) ([]models.CredentialFragment, error) {
	block := djangoBlock.FindString(text)
	if block == "" {
		return nil, nil
	}

	m := djangoEngine.FindStringSubmatch(block)
	if m == nil {
		return nil, nil
	}

	var kind engine.Kind
	name := strings.ToLower(m[1])
	switch {
	case strings.Contains(name, "postgres"):
		kind = engine.PostgreSQL
	case strings.Contains(name, "mysql"):
		kind = engine.MySQL
	case strings.Contains(name, "mongo"):
		kind = engine.MongoDB
	default:
		return nil, nil
	}

	var frags []models.CredentialFragment
	for _, f := range djangoFields {
		if v := f.re.FindStringSubmatch(block); v != nil {
			frags = append(frags, models.CredentialFragment{
				Engine:     kind,
				Field:      f.field,
				Value:      v[1],
				Provenance: path,
				Origin:     models.OriginFile,
			})
		}
	}
	return frags, nil
}

// parseINI reads sections named after an engine, or generic database
// sections that declare a driver.
func parseINI(path, text string) ([]models.CredentialFragment, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:             true,
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: true,
	}, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ini: %w", err)
	}

	var frags []models.CredentialFragment
	for _, section := range f.Sections() {
		if strings.EqualFold(section.Name(), ini.DefaultSection) {
			continue
		}

		kind, ok := iniSectionEngine(section)
		if !ok {
			continue
		}

		for _, opt := range optionKeys {
			for _, key := range opt.keys {
				if !section.HasKey(key) {
					continue
				}
				if v := section.Key(key).String(); v != "" {
					frags = append(frags, models.CredentialFragment{
						Engine:     kind,
						Field:      opt.field,
						Value:      v,
						Provenance: path + ":[" + section.Name() + "]." + key,
						Origin:     models.OriginFile,
					})
					break
				}
			}
		}
	}
	return frags, nil
}

func iniSectionEngine(section *ini.Section) (engine.Kind, bool) {
	name := strings.ToLower(section.Name())
	if kind, ok := engineFromName(name); ok {
		return kind, true
	}
	if strings.Contains(name, "database") || strings.Contains(name, "db") {
		if section.HasKey("driver") {
			switch driver := strings.ToLower(section.Key("driver").String()); {
			case strings.Contains(driver, "postgres"):
				return engine.PostgreSQL, true
			case strings.Contains(driver, "mysql"):
				return engine.MySQL, true
			case strings.Contains(driver, "mongo"):
				return engine.MongoDB, true
			}
		}
	}
	return "", false
}
