package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestParseName(t *testing.T) {
	t.Run("versioned", func(t *testing.T) {
		n, ok := ParseName("V1_2__create_users_table.sql")
		require.True(t, ok)
		assert.Equal(t, "1.2", n.Version.String())
		assert.Equal(t, "create users table", n.Description)
		assert.Equal(t, migrator.MigrationTypeSQL, n.Type)
	})

	t.Run("repeatable", func(t *testing.T) {
		n, ok := ParseName("R__refresh_views.sql")
		require.True(t, ok)
		assert.True(t, n.Version.IsZero())
		assert.Equal(t, "refresh views", n.Description)
		assert.Equal(t, migrator.MigrationTypeRepeatable, n.Type)
	})

	t.Run("rejects unconventional names", func(t *testing.T) {
		for _, name := range []string{"init.sql", "V1_init.sql", "Vx__init.sql", "V__init.sql", "R__.sql", "V1__init.txt"} {
			_, ok := ParseName(name)
			assert.False(t, ok, name)
		}
	})
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "V3_1__add_orders.sql", FileName(migrator.MustParseVersion("3.1"), " add   orders "))
}

func TestChecksum_NormalisesLineEndings(t *testing.T) {
	lf := Checksum("CREATE TABLE a (id int);\nCREATE TABLE b (id int);\n")
	crlf := Checksum("CREATE TABLE a (id int);\r\nCREATE TABLE b (id int);\r\n")
	bom := Checksum("\ufeffCREATE TABLE a (id int);\nCREATE TABLE b (id int);\n")

	assert.Equal(t, lf, crlf)
	assert.Equal(t, lf, bom)
	assert.Len(t, lf, 64)
	assert.NotEqual(t, lf, Checksum("CREATE TABLE a (id int);"))
}

func TestSubstitute(t *testing.T) {
	t.Run("replaces known placeholders", func(t *testing.T) {
		out, err := Substitute("GRANT ALL ON ${schema}.t TO ${dbUsername}; -- ${migrator:table}", map[string]string{
			"schema":         "public",
			"dbUsername":     "app",
			"migrator:table": "schema_history",
		})
		require.NoError(t, err)
		assert.Equal(t, "GRANT ALL ON public.t TO app; -- schema_history", out)
	})

	t.Run("names are case sensitive", func(t *testing.T) {
		_, err := Substitute("${Schema}", map[string]string{"schema": "public"})
		assert.Error(t, err)
	})

	t.Run("reports every missing name", func(t *testing.T) {
		_, err := Substitute("${b} ${a} ${b}", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a, b")
	})

	t.Run("text without placeholders is unchanged", func(t *testing.T) {
		out, err := Substitute("SELECT '$1', '${'", nil)
		require.NoError(t, err)
		assert.Equal(t, "SELECT '$1', '${'", out)
	})
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Placeholders("${a} ${b} ${a}"))
}

func TestResolver_ResolveFilesystem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "V10__ten.sql", "SELECT 10;")
	writeFile(t, dir, "V2__two.sql", "SELECT 2;")
	writeFile(t, dir, "nested/V1_1__one_one.sql", "SELECT 11;")
	writeFile(t, dir, "R__views.sql", "SELECT 'views';")
	writeFile(t, dir, "README.md", "ignored")
	writeFile(t, dir, "notes.sql", "ignored with warning")

	res, err := NewResolver(Config{}).Resolve(context.Background(), []string{"filesystem:" + dir})

	require.NoError(t, err)
	require.Len(t, res.Scripts, 4)
	assert.Equal(t, "1.1", res.Scripts[0].Version.String())
	assert.Equal(t, "2", res.Scripts[1].Version.String())
	assert.Equal(t, "10", res.Scripts[2].Version.String())
	assert.Equal(t, migrator.MigrationTypeRepeatable, res.Scripts[3].Type)
	assert.Equal(t, "filesystem:"+dir+"/nested/V1_1__one_one.sql", res.Scripts[0].Path)
	assert.Equal(t, Checksum("SELECT 2;"), res.Scripts[1].Checksum)
	assert.Len(t, res.Versioned(), 3)
	assert.Len(t, res.Repeatable(), 1)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "notes.sql")
}

func TestResolver_MissingLocationIsWarning(t *testing.T) {
	res, err := NewResolver(Config{}).Resolve(context.Background(), []string{filepath.Join(t.TempDir(), "nope")})

	require.NoError(t, err)
	assert.Empty(t, res.Scripts)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Unable to resolve location")
}

func TestResolver_DuplicateVersionIsIntegrityError(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "V1__first.sql", "SELECT 1;")
	writeFile(t, b, "V1_0__again.sql", "SELECT 1;")

	_, err := NewResolver(Config{}).Resolve(context.Background(), []string{a, b})

	require.Error(t, err)
	assert.True(t, errors.Is(err, migrator.ErrIntegrity))
}

func TestResolver_DuplicateRepeatableIsIntegrityError(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "R__views.sql", "SELECT 1;")
	writeFile(t, b, "R__views.sql", "SELECT 2;")

	_, err := NewResolver(Config{}).Resolve(context.Background(), []string{a, b})

	assert.True(t, errors.Is(err, migrator.ErrIntegrity))
}

func TestResolver_ResolveEmbedded(t *testing.T) {
	fsys := fstest.MapFS{
		"db/migration/V1__init.sql":  {Data: []byte("CREATE TABLE t (id int);")},
		"db/migration/V2__seed.sql":  {Data: []byte("INSERT INTO t VALUES (1);")},
		"db/other/V9__unrelated.sql": {Data: []byte("SELECT 9;")},
	}

	_, err := NewResolver(Config{Embedded: fsys}).Resolve(context.Background(), []string{"embedded:db/migration", "classpath:/db/migration/"})

	// The same scripts listed twice under two schemes collide.
	require.Error(t, err)
	assert.True(t, errors.Is(err, migrator.ErrIntegrity))

	res, err := NewResolver(Config{Embedded: fsys}).Resolve(context.Background(), []string{"embedded:db/migration"})
	require.NoError(t, err)
	require.Len(t, res.Scripts, 2)
	assert.Equal(t, "embedded:db/migration/V1__init.sql", res.Scripts[0].Path)
}

func TestResolver_EmbeddedWithoutFilesystemIsWarning(t *testing.T) {
	res, err := NewResolver(Config{}).Resolve(context.Background(), []string{"embedded:db/migration"})

	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, "1", NextVersion(nil).String())

	scripts := []migrator.MigrationScript{
		{Version: migrator.MustParseVersion("1"), Type: migrator.MigrationTypeSQL},
		{Version: migrator.MustParseVersion("3.2"), Type: migrator.MigrationTypeSQL},
		{Type: migrator.MigrationTypeRepeatable},
	}
	assert.Equal(t, "4", NextVersion(scripts).String())
}

func TestScaffold(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")

	p, err := Scaffold(dir, migrator.MustParseVersion("4"), "add orders")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "V4__add_orders.sql"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- add orders")

	_, err = Scaffold(dir, migrator.MustParseVersion("4"), "add orders")
	assert.Error(t, err, "existing file must not be overwritten")

	_, err = Scaffold(dir, migrator.MustParseVersion("5"), "  ")
	assert.Error(t, err)
}

func TestLocationDir(t *testing.T) {
	dir, ok := LocationDir("filesystem:db/migration")
	assert.True(t, ok)
	assert.Equal(t, "db/migration", dir)

	_, ok = LocationDir("embedded:db/migration")
	assert.False(t, ok)
}

func TestResolver_VersionLongerThanLedgerColumnIsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "V"+strings.Repeat("1", migrator.MaxVersionLength+1)+"__too_long.sql", "SELECT 1;")

	_, err := NewResolver(Config{}).Resolve(context.Background(), []string{"filesystem:" + dir})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "longer than 50 characters")

	ok := t.TempDir()
	writeFile(t, ok, "V"+strings.Repeat("1_", 24)+"12__fits.sql", "SELECT 1;")

	res, err := NewResolver(Config{}).Resolve(context.Background(), []string{"filesystem:" + ok})

	require.NoError(t, err)
	require.Len(t, res.Scripts, 1)
	assert.Len(t, res.Scripts[0].Version.String(), migrator.MaxVersionLength)
}
