package orchestrator

import (
	"fmt"
	"sort"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/ledger"
)

// analysis compares resolved scripts with the ledger.
type analysis struct {
	infos       []migrator.MigrationInfo
	diagnostics []migrator.InvalidMigration
	pending     []migrator.MigrationScript
	warnings    []string

	// integrity is the first violation that must stop a migration.
	integrity error
}

func (a *analysis) diagnose(p migrator.Policy, typ migrator.MigrationType, state migrator.MigrationState, d migrator.InvalidMigration) {
	switch d.ErrorCode {
	case migrator.ValidationChecksumMismatch, migrator.ValidationDescriptionMismatch, migrator.ValidationTypeMismatch:
	default:
		if p.Ignores(typ, state) {
			return
		}
	}
	a.diagnostics = append(a.diagnostics, d)
}

func (a *analysis) fail(err error) {
	if a.integrity == nil {
		a.integrity = err
	}
}

// analyze classifies every script and ledger row. scripts must be ordered as
// returned by the resolver.
func analyze(scripts []migrator.MigrationScript, applied []migrator.MigrationRecord, p migrator.Policy) analysis {
	var a analysis

	current := ledger.SchemaVersion(applied)
	var baseline migrator.Version
	if rec, ok := ledger.Baseline(applied); ok {
		baseline = rec.Version
		a.infos = append(a.infos, migrator.MigrationInfo{
			Version:     rec.Version,
			Description: rec.Description,
			Type:        migrator.MigrationTypeBaseline,
			State:       migrator.StateBaseline,
			Path:        rec.Script,
			InstalledOn: rec.InstalledOn,
		})
	}

	// Latest row per version and per repeatable description.
	versionRows := map[string]migrator.MigrationRecord{}
	repeatRows := map[string]migrator.MigrationRecord{}
	for _, r := range applied {
		switch r.Type {
		case migrator.MigrationTypeSQL:
			versionRows[canonical(r.Version)] = r
		case migrator.MigrationTypeRepeatable:
			repeatRows[r.Description] = r
		}
	}

	var highestResolved migrator.Version
	resolvedVersions := map[string]bool{}
	resolvedRepeatables := map[string]bool{}

	for _, s := range scripts {
		info := migrator.MigrationInfo{
			Version:     s.Version,
			Description: s.Description,
			Type:        s.Type,
			Path:        s.Path,
			Checksum:    s.Checksum,
		}

		if s.Type == migrator.MigrationTypeRepeatable {
			resolvedRepeatables[s.Description] = true
			rec, ok := repeatRows[s.Description]
			switch {
			case !ok || !rec.Success:
				info.State = migrator.StatePending
				a.pending = append(a.pending, s)
				a.diagnose(p, s.Type, migrator.StatePending, invalid(s, migrator.ValidationPending,
					"Detected resolved repeatable migration not applied to database: "+s.Description))
			case rec.Checksum != s.Checksum:
				info.State = migrator.StateOutdated
				info.InstalledOn = rec.InstalledOn
				a.pending = append(a.pending, s)
				a.diagnose(p, s.Type, migrator.StatePending, invalid(s, migrator.ValidationOutdated,
					"Detected outdated resolved repeatable migration that should be re-applied to database: "+s.Description))
			default:
				info.State = migrator.StateSuccess
				info.InstalledOn = rec.InstalledOn
			}
			a.infos = append(a.infos, info)
			continue
		}

		resolvedVersions[canonical(s.Version)] = true
		if highestResolved.Less(s.Version) {
			highestResolved = s.Version
		}

		rec, ok := versionRows[canonical(s.Version)]
		switch {
		case ok && !rec.Success:
			info.State = migrator.StateFailed
			info.InstalledOn = rec.InstalledOn
			msg := fmt.Sprintf("Detected failed migration to version %s (%s). Please remove any half-completed changes then repair the ledger.", s.Version, s.Description)
			a.diagnose(p, s.Type, migrator.StateFailed, invalid(s, migrator.ValidationFailed, msg))
			a.fail(&migrator.IntegrityError{Version: s.Version, Path: s.Path, Reason: "ledger records a failed migration for this version"})

		case ok:
			info.State = migrator.StateSuccess
			info.InstalledOn = rec.InstalledOn
			if rec.Checksum != s.Checksum {
				msg := fmt.Sprintf("Migration checksum mismatch for migration version %s\n-> Applied to database : %s\n-> Resolved locally    : %s", s.Version, rec.Checksum, s.Checksum)
				a.diagnose(p, s.Type, migrator.StateSuccess, invalid(s, migrator.ValidationChecksumMismatch, msg))
				a.fail(&migrator.IntegrityError{Version: s.Version, Path: s.Path, Reason: "checksum of applied migration changed"})
			}
			if rec.Description != s.Description {
				msg := fmt.Sprintf("Migration description mismatch for migration version %s\n-> Applied to database : %s\n-> Resolved locally    : %s", s.Version, rec.Description, s.Description)
				a.diagnose(p, s.Type, migrator.StateSuccess, invalid(s, migrator.ValidationDescriptionMismatch, msg))
			}

		case !baseline.IsZero() && !baseline.Less(s.Version):
			info.State = migrator.StateBelowBaseline

		case !current.IsZero() && s.Version.Less(current) && !p.OutOfOrder:
			info.State = migrator.StateIgnored
			msg := fmt.Sprintf("Detected resolved migration not applied to database: %s. Its version is lower than the current schema version %s and out-of-order migrations are disabled.", s.Version, current)
			a.warnings = append(a.warnings, fmt.Sprintf("Skipping out-of-order migration %s (%s): current schema version is %s", s.Version, s.Path, current))
			a.diagnose(p, s.Type, migrator.StateIgnored, invalid(s, migrator.ValidationIgnored, msg))

		default:
			info.State = migrator.StatePending
			a.pending = append(a.pending, s)
			a.diagnose(p, s.Type, migrator.StatePending, invalid(s, migrator.ValidationPending,
				"Detected resolved migration not applied to database: "+s.Version.String()))
		}
		a.infos = append(a.infos, info)
	}

	// Ledger rows without a script, in rank order.
	seen := map[string]bool{}
	for _, r := range applied {
		switch r.Type {
		case migrator.MigrationTypeSQL:
			key := canonical(r.Version)
			if resolvedVersions[key] || seen[key] {
				continue
			}
			seen[key] = true
			latest := versionRows[key]

			state := migrator.StateMissing
			if highestResolved.Less(latest.Version) {
				state = migrator.StateFuture
			}
			d := migrator.InvalidMigration{
				Version:      latest.Version,
				Path:         latest.Script,
				Description:  latest.Description,
				ErrorCode:    migrator.ValidationMissing,
				ErrorMessage: "Detected applied migration not resolved locally: " + latest.Version.String(),
			}
			if !latest.Success {
				state = migrator.StateFailed
				d.ErrorCode = migrator.ValidationFailed
				d.ErrorMessage = fmt.Sprintf("Detected failed migration to version %s (%s) that is no longer resolved locally.", latest.Version, latest.Description)
				a.fail(&migrator.IntegrityError{Version: latest.Version, Path: latest.Script, Reason: "ledger records a failed migration for this version"})
			}
			a.diagnose(p, r.Type, state, d)
			a.infos = append(a.infos, migrator.MigrationInfo{
				Version:     latest.Version,
				Description: latest.Description,
				Type:        latest.Type,
				State:       state,
				Path:        latest.Script,
				Checksum:    latest.Checksum,
				InstalledOn: latest.InstalledOn,
			})

		case migrator.MigrationTypeRepeatable:
			if resolvedRepeatables[r.Description] || seen["R:"+r.Description] {
				continue
			}
			seen["R:"+r.Description] = true
			latest := repeatRows[r.Description]
			a.diagnose(p, r.Type, migrator.StateMissing, migrator.InvalidMigration{
				Path:         latest.Script,
				Description:  latest.Description,
				ErrorCode:    migrator.ValidationAppliedNotResolved,
				ErrorMessage: "Detected applied repeatable migration not resolved locally: " + latest.Description,
			})
			a.infos = append(a.infos, migrator.MigrationInfo{
				Description: latest.Description,
				Type:        latest.Type,
				State:       migrator.StateMissing,
				Path:        latest.Script,
				Checksum:    latest.Checksum,
				InstalledOn: latest.InstalledOn,
			})
		}
	}

	sort.SliceStable(a.infos, func(i, j int) bool {
		ri := a.infos[i].Type == migrator.MigrationTypeRepeatable
		rj := a.infos[j].Type == migrator.MigrationTypeRepeatable
		if ri != rj {
			return !ri
		}
		if ri {
			return a.infos[i].Description < a.infos[j].Description
		}
		return a.infos[i].Version.Less(a.infos[j].Version)
	})

	return a
}

func invalid(s migrator.MigrationScript, code migrator.ValidationCode, msg string) migrator.InvalidMigration {
	return migrator.InvalidMigration{
		Version:      s.Version,
		Path:         s.Path,
		Description:  s.Description,
		ErrorCode:    code,
		ErrorMessage: msg,
	}
}

// canonical maps equal versions ("1" and "1.0") to the same key.
func canonical(v migrator.Version) string {
	s := v.String()
	for len(s) > 2 && s[len(s)-2:] == ".0" {
		s = s[:len(s)-2]
	}
	return s
}
