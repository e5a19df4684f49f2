package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
)

// NextVersion returns the version following the highest versioned script:
// the first part incremented, or "1" when there are none.
func NextVersion(scripts []migrator.MigrationScript) migrator.Version {
	var highest migrator.Version
	for _, s := range scripts {
		if s.Type == migrator.MigrationTypeSQL && highest.Less(s.Version) {
			highest = s.Version
		}
	}
	if highest.IsZero() {
		return migrator.MustParseVersion("1")
	}

	major, _, _ := strings.Cut(highest.String(), ".")
	n, err := strconv.ParseUint(major, 10, 64)
	if err != nil {
		// Timestamp-style versions that overflow fall back to appending a part.
		return migrator.MustParseVersion(highest.String() + ".1")
	}
	return migrator.MustParseVersion(strconv.FormatUint(n+1, 10))
}

// Scaffold writes an empty versioned script into dir and returns its path.
// An existing file is never overwritten.
func Scaffold(dir string, version migrator.Version, description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", fmt.Errorf("description cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create migrations folder: %w", err)
	}

	p := filepath.Join(dir, FileName(version, description))
	content := fmt.Sprintf("-- %s\n-- Version: %s\n\n", strings.TrimSpace(description), version)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write migration file: %w", err)
	}

	return p, nil
}

// LocationDir returns the filesystem directory of a location, or false for
// locations that are not on the filesystem.
func LocationDir(loc string) (string, bool) {
	if strings.HasPrefix(loc, embeddedScheme) || strings.HasPrefix(loc, classpathScheme) {
		return "", false
	}
	return strings.TrimPrefix(loc, filesystemScheme), true
}
