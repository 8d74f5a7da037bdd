package main

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var migrationName = regexp.MustCompile(`^(\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// The migration set is part of the deploy contract: golang-migrate
// refuses gaps and unpaired files at runtime, so catch them here first.
func TestMigrationFiles(t *testing.T) {
	dir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := make(map[int]string)
	downs := make(map[int]string)
	for _, entry := range entries {
		match := migrationName.FindStringSubmatch(entry.Name())
		require.NotNil(t, match, "unexpected file %s in migrations", entry.Name())

		version, err := strconv.Atoi(match[1])
		require.NoError(t, err)

		switch match[3] {
		case "up":
			ups[version] = entry.Name()
		case "down":
			downs[version] = entry.Name()
		}
	}

	require.Equal(t, len(ups), len(downs), "every up migration needs a down")

	versions := make([]int, 0, len(ups))
	for v := range ups {
		_, ok := downs[v]
		require.True(t, ok, "migration %06d has no down file", v)
		versions = append(versions, v)
	}
	sort.Ints(versions)
	for i, v := range versions {
		assert.Equal(t, i+1, v, "migration versions must be sequential from 1")
	}
}

func TestMigrationsCreateGovernanceTables(t *testing.T) {
	dir := filepath.Join("..", "..", "migrations")

	var all strings.Builder
	matches, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	require.NoError(t, err)
	for _, path := range matches {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NotEmpty(t, data, "%s is empty", path)
		all.Write(data)
	}

	schema := all.String()
	for _, table := range []string{
		"audit_entries",
		"consent_records",
		"retention_policies",
		"sensitive_records",
		"deletion_requests",
		"export_requests",
		"propagation_obligations",
		"payment_instruments",
		"payment_transactions",
		"payment_refunds",
	} {
		assert.Contains(t, schema, "CREATE TABLE "+table, "schema must create %s", table)
	}

	for _, path := range matches {
		down := strings.Replace(path, ".up.sql", ".down.sql", 1)
		data, err := os.ReadFile(down)
		require.NoError(t, err)
		assert.Contains(t, string(data), "DROP", "%s must undo its up file", down)
	}
}
