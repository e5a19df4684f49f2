package script

import (
	"strings"

	"github.com/getpup/pupsourcing-migrator"
)

const (
	versionedPrefix  = "V"
	repeatablePrefix = "R"
	separator        = "__"
	suffix           = ".sql"
)

// Name is the parsed form of a script file name.
type Name struct {
	Version     migrator.Version
	Description string
	Type        migrator.MigrationType
}

// ParseName parses V<version>__<description>.sql and R__<description>.sql.
// ok is false for names that follow neither convention.
func ParseName(filename string) (n Name, ok bool) {
	if !strings.HasSuffix(strings.ToLower(filename), suffix) {
		return Name{}, false
	}
	base := filename[:len(filename)-len(suffix)]

	head, desc, found := strings.Cut(base, separator)
	if !found {
		return Name{}, false
	}
	desc = strings.TrimSpace(strings.ReplaceAll(desc, "_", " "))

	switch {
	case head == repeatablePrefix:
		if desc == "" {
			return Name{}, false
		}
		return Name{Description: desc, Type: migrator.MigrationTypeRepeatable}, true

	case strings.HasPrefix(head, versionedPrefix) && len(head) > 1:
		v, err := migrator.ParseVersion(head[1:])
		if err != nil {
			return Name{}, false
		}
		return Name{Version: v, Description: desc, Type: migrator.MigrationTypeSQL}, true
	}

	return Name{}, false
}

// FileName builds the versioned file name for version and description.
func FileName(version migrator.Version, description string) string {
	desc := strings.Join(strings.Fields(description), "_")
	return versionedPrefix + strings.ReplaceAll(version.String(), ".", "_") + separator + desc + suffix
}
