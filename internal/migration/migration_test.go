package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/cloudkitty/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_SQLite(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, Apply(conn, "sqlite"))

	for _, table := range []string{
		"storage_states",
		"storage_scope_reprocessing_schedule",
		"rating_modules",
		"hashmap_mappings",
		"rated_data_points",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)

	for v := range ups {
		assert.True(t, downs[v], "missing down migration for %s", v)
	}
	assert.Equal(t, len(ups), len(downs))
}
