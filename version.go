package migrator

import (
	"fmt"
	"strings"
)

// MaxVersionLength is the longest version, in its dotted form, the ledger stores.
const MaxVersionLength = 50

// Version is a dotted numeric schema version such as "1", "1.2" or "2024.01.15".
// Underscores are accepted as separators in script names ("1_2" equals "1.2").
// Trailing zero parts are not significant. The zero Version means "no version".
type Version struct {
	parts []string
}

// ParseVersion parses s into a Version.
func ParseVersion(s string) (Version, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", ".")
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	raw := strings.Split(s, ".")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty part", s)
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return Version{}, fmt.Errorf("invalid version %q: non-numeric part %q", s, p)
			}
		}
		trimmed := strings.TrimLeft(p, "0")
		if trimmed == "" {
			trimmed = "0"
		}
		parts = append(parts, trimmed)
	}

	return Version{parts: parts}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v is the absent version.
func (v Version) IsZero() bool {
	return len(v.parts) == 0
}

// String returns the dotted form, or "" for the zero Version.
func (v Version) String() string {
	return strings.Join(v.parts, ".")
}

// Compare returns -1, 0 or 1. The zero Version sorts before every other version.
func (v Version) Compare(o Version) int {
	if v.IsZero() || o.IsZero() {
		switch {
		case v.IsZero() && o.IsZero():
			return 0
		case v.IsZero():
			return -1
		default:
			return 1
		}
	}

	n := max(len(v.parts), len(o.parts))
	for i := 0; i < n; i++ {
		a, b := partAt(v.parts, i), partAt(o.parts, i)
		if c := compareDigits(a, b); c != 0 {
			return c
		}
	}
	return 0
}

// Equal reports whether v and o denote the same version.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

func partAt(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return "0"
}

// compareDigits compares two digit strings without leading zeros, so arbitrarily
// long timestamp versions never overflow.
func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
