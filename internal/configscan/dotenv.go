package configscan

import (
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// parseDotenv extracts fragments from KEY=value text. Lines are read one at a
// time so a malformed line never hides the rest of the file. Within one
// source, more specific keys sort ahead of generic ones (POSTGRES_PASSWORD
// before DB_PASSWORD).
func parseDotenv(provenance, text string, origin models.Origin) []models.CredentialFragment {
	type ranked struct {
		frag models.CredentialFragment
		rank int
	}
	var out []ranked
	var conn []models.CredentialFragment

	for _, line := range strings.Split(text, "\n") {
		key, value, ok := parseDotenvLine(line)
		if !ok {
			continue
		}

		for _, m := range lookupKey(envKeys, key) {
			out = append(out, ranked{
				frag: models.CredentialFragment{
					Engine:     m.kind,
					Field:      m.field,
					Value:      value,
					Provenance: provenance + ":" + key,
					Origin:     origin,
				},
				rank: m.rank,
			})
		}

		if isConnectionStringKey(key) {
			conn = append(conn, parseConnectionString(value, provenance+":"+key, origin)...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].rank < out[j].rank })

	frags := make([]models.CredentialFragment, 0, len(out)+len(conn))
	frags = append(frags, conn...)
	for _, r := range out {
		frags = append(frags, r.frag)
	}
	return frags
}

// parseDotenvLine returns the upper-cased key and unquoted value of one
// assignment. Comments, blank lines and empty values are skipped.
func parseDotenvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return "", "", false
	}
	if !strings.Contains(line, "=") {
		return "", "", false
	}

	rawKey, rawValue, _ := strings.Cut(line, "=")
	key := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rawKey), "export ")))
	if key == "" {
		return "", "", false
	}

	rawValue = strings.TrimSpace(rawValue)
	value := strings.Trim(rawValue, "\"'`")

	// godotenv handles inline comments and escapes, but it also expands $VAR,
	// which would mangle passwords containing '$' outside single quotes.
	if !strings.Contains(rawValue, "$") || strings.HasPrefix(rawValue, "'") {
		if parsed, err := godotenv.Unmarshal(line); err == nil {
			for k, v := range parsed {
				if strings.EqualFold(k, key) {
					value = strings.Trim(v, "\"'`")
				}
			}
		}
	}

	if value == "" {
		return "", "", false
	}
	return key, value, true
}
