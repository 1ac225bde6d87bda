package attend

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnstructuredFilename means a drop-folder filename did not follow the
// "<Display_Name>_<handle@domain>.<ext>" convention.
var ErrUnstructuredFilename = errors.New("filename does not contain a display name and contact handle")

// placeholderName is used when nothing usable can be salvaged from a filename.
const placeholderName = "Unknown"

// FilenameFields are the identity fields derived from an ingested filename.
type FilenameFields struct {
	DisplayName   string
	ContactHandle string
	Placeholder   bool
}

// ParseFilename extracts a display name and contact handle from names such
// as "Jane_Doe_jane@example.com.jpg". The handle is the last
// underscore-separated segment that looks like an address; the segments
// before it form the display name. Segments after the handle are ignored.
func ParseFilename(name string) (FilenameFields, error) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	parts := strings.Split(base, "_")
	handleIdx := -1
	for i := len(parts) - 1; i >= 0; i-- {
		if looksLikeHandle(parts[i]) {
			handleIdx = i
			break
		}
	}
	if handleIdx <= 0 {
		return FilenameFields{}, ErrUnstructuredFilename
	}

	display := joinWords(parts[:handleIdx])
	if display == "" {
		return FilenameFields{}, ErrUnstructuredFilename
	}
	return FilenameFields{
		DisplayName:   display,
		ContactHandle: normalizeHandle(parts[handleIdx]),
	}, nil
}

// PlaceholderFields builds fields for a file whose name could not be parsed.
// The handle is unique per call so that placeholder identities never collide.
func PlaceholderFields(name string, idgen IDGenerator) FilenameFields {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	display := joinWords(strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	}))
	if display == "" {
		display = placeholderName
	}
	return FilenameFields{
		DisplayName:   display,
		ContactHandle: "unknown-" + idgen.New() + "@ingest.invalid",
		Placeholder:   true,
	}
}

func looksLikeHandle(s string) bool {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	return !strings.ContainsAny(s, " \t") && strings.Count(s, "@") == 1
}

func joinWords(parts []string) string {
	var words []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			words = append(words, p)
		}
	}
	return strings.Join(words, " ")
}
