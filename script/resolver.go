// Package script discovers migration scripts in their locations and prepares
// them for execution.
package script

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
)

const (
	filesystemScheme = "filesystem:"
	embeddedScheme   = "embedded:"
	classpathScheme  = "classpath:"
)

// Config configures a Resolver.
type Config struct {
	// Embedded backs "embedded:" (and "classpath:") locations, typically an embed.FS
	// compiled into the binary (optional).
	Embedded fs.FS

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// Resolution is the outcome of resolving a set of locations.
type Resolution struct {
	// Scripts holds versioned scripts in ascending version order followed by
	// repeatable scripts ordered by description.
	Scripts []migrator.MigrationScript

	// Warnings lists locations that could not be read and files that were skipped.
	Warnings []string
}

// Versioned returns the versioned scripts.
func (r Resolution) Versioned() []migrator.MigrationScript {
	var out []migrator.MigrationScript
	for _, s := range r.Scripts {
		if s.Type == migrator.MigrationTypeSQL {
			out = append(out, s)
		}
	}
	return out
}

// Repeatable returns the repeatable scripts.
func (r Resolution) Repeatable() []migrator.MigrationScript {
	var out []migrator.MigrationScript
	for _, s := range r.Scripts {
		if s.Type == migrator.MigrationTypeRepeatable {
			out = append(out, s)
		}
	}
	return out
}

// Resolver loads scripts from filesystem and embedded locations.
type Resolver struct {
	config Config
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{config: cfg}
}

// Resolve reads every location and returns the scripts found.
// Two scripts with the same version, or two repeatable scripts with the same
// description, yield a *migrator.IntegrityError.
func (r *Resolver) Resolve(ctx context.Context, locations []string) (Resolution, error) {
	var res Resolution
	var versioned []migrator.MigrationScript
	byDescription := map[string]migrator.MigrationScript{}

	for _, loc := range locations {
		fsys, root, err := r.open(loc)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Unable to resolve location %s: %v", loc, err))
			continue
		}

		scripts, warnings, err := r.scan(fsys, root, strings.TrimSuffix(loc, "/"))
		if err != nil {
			return Resolution{}, err
		}
		res.Warnings = append(res.Warnings, warnings...)

		for _, s := range scripts {
			if s.Type == migrator.MigrationTypeRepeatable {
				if other, ok := byDescription[s.Description]; ok {
					return Resolution{}, &migrator.IntegrityError{
						Path:   s.Path,
						Reason: fmt.Sprintf("found more than one repeatable migration with description %q (%s and %s)", s.Description, other.Path, s.Path),
					}
				}
				byDescription[s.Description] = s
				continue
			}

			for _, other := range versioned {
				if other.Version.Equal(s.Version) {
					return Resolution{}, &migrator.IntegrityError{
						Version: s.Version,
						Path:    s.Path,
						Reason:  fmt.Sprintf("found more than one migration with this version (%s and %s)", other.Path, s.Path),
					}
				}
			}
			versioned = append(versioned, s)
		}
	}

	sort.Slice(versioned, func(i, j int) bool { return versioned[i].Version.Less(versioned[j].Version) })

	repeatable := make([]migrator.MigrationScript, 0, len(byDescription))
	for _, s := range byDescription {
		repeatable = append(repeatable, s)
	}
	sort.Slice(repeatable, func(i, j int) bool { return repeatable[i].Description < repeatable[j].Description })

	res.Scripts = append(versioned, repeatable...)

	if r.config.Logger != nil {
		r.config.Logger.Debug(ctx, "scripts resolved",
			"versioned", len(versioned), "repeatable", len(repeatable), "warnings", len(res.Warnings))
	}

	return res, nil
}

// open maps a location to a filesystem and the directory inside it.
func (r *Resolver) open(loc string) (fs.FS, string, error) {
	switch {
	case strings.HasPrefix(loc, embeddedScheme), strings.HasPrefix(loc, classpathScheme):
		if r.config.Embedded == nil {
			return nil, "", errors.New("no embedded filesystem configured")
		}
		dir := strings.TrimPrefix(strings.TrimPrefix(loc, embeddedScheme), classpathScheme)
		dir = path.Clean(strings.Trim(dir, "/"))
		if dir == "" {
			dir = "."
		}
		if _, err := fs.Stat(r.config.Embedded, dir); err != nil {
			return nil, "", err
		}
		return r.config.Embedded, dir, nil

	default:
		dir := strings.TrimPrefix(loc, filesystemScheme)
		info, err := os.Stat(dir)
		if err != nil {
			return nil, "", err
		}
		if !info.IsDir() {
			return nil, "", fmt.Errorf("%s is not a directory", dir)
		}
		return os.DirFS(dir), ".", nil
	}
}

func (r *Resolver) scan(fsys fs.FS, root, loc string) ([]migrator.MigrationScript, []string, error) {
	var scripts []migrator.MigrationScript
	var warnings []string

	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(p), suffix) {
			return nil
		}

		rel := p
		if root != "." {
			rel = strings.TrimPrefix(p, root+"/")
		}
		display := loc + "/" + rel

		name, ok := ParseName(d.Name())
		if !ok {
			warnings = append(warnings, fmt.Sprintf("Skipping file with unrecognised name: %s", display))
			return nil
		}

		if v := name.Version.String(); len(v) > migrator.MaxVersionLength {
			return fmt.Errorf("migration %s: version %s is longer than %d characters", display, v, migrator.MaxVersionLength)
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", display, err)
		}

		scripts = append(scripts, migrator.MigrationScript{
			Version:     name.Version,
			Description: name.Description,
			Type:        name.Type,
			Checksum:    Checksum(string(data)),
			Path:        display,
			SQL:         string(data),
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan location %s: %w", loc, err)
	}

	return scripts, warnings, nil
}
