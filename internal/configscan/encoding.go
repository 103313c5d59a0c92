package configscan

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var errUndecodable = errors.New("configscan: undecodable content")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decode tries UTF-8 (BOM stripped), then Windows-1251, then ISO-8859-1.
// Content with NUL bytes is treated as binary.
func decode(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	if bytes.IndexByte(content, 0) >= 0 {
		return "", errUndecodable
	}

	if utf8.Valid(content) {
		return string(content), nil
	}

	for _, cm := range []*charmap.Charmap{charmap.Windows1251, charmap.ISO8859_1} {
		out, err := cm.NewDecoder().Bytes(content)
		if err != nil {
			continue
		}
		if s := string(out); !strings.ContainsRune(s, utf8.RuneError) {
			return s, nil
		}
	}

	return "", errUndecodable
}
