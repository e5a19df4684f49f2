package orchestrator

import (
	"maps"
	"path"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
)

// Placeholder names provided without configuration.
const (
	PlaceholderDBUsername = "dbUsername"
	PlaceholderDBPassword = "dbPassword"

	PlaceholderTable     = "migrator:table"
	PlaceholderUser      = "migrator:user"
	PlaceholderFilename  = "migrator:filename"
	PlaceholderTimestamp = "migrator:timestamp"
)

// EffectivePlaceholders returns the placeholder map for cfg: dbUsername and
// dbPassword derived from the configured application credentials, overlaid by
// the explicitly configured placeholders. dbPassword is omitted when the
// password is empty. Explicit entries win.
func EffectivePlaceholders(cfg migrator.ConnectionConfig) map[string]string {
	out := map[string]string{
		PlaceholderDBUsername: cfg.Username(),
	}
	if cfg.Password() != "" {
		out[PlaceholderDBPassword] = cfg.Password()
	}
	maps.Copy(out, cfg.MigrationsPlaceholders())
	return out
}

// scriptPlaceholders adds the per-script built-ins to base. Configured values
// for the built-in names are kept.
func scriptPlaceholders(base map[string]string, table, user string, s migrator.MigrationScript, now time.Time) map[string]string {
	out := map[string]string{
		PlaceholderTable:     table,
		PlaceholderUser:      user,
		PlaceholderFilename:  path.Base(strings.ReplaceAll(s.Path, ":", "/")),
		PlaceholderTimestamp: now.UTC().Format("2006-01-02 15:04:05"),
	}
	maps.Copy(out, base)
	return out
}
