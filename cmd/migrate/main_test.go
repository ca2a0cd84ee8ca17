package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateThenValidate(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--dir", dir, "create", "add refunds")
	require.NoError(t, err)
	assert.Contains(t, out, "created migration:")

	files, err := filepath.Glob(filepath.Join(dir, "*_add_refunds.sql"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	out, err = execute(t, "--dir", dir, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "migration validation passed")
}

func TestCreateNoTransaction(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "--dir", dir, "create", "--no-tx", "outbox_status_index")
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "*_outbox_status_index.sql"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	body, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose NO TRANSACTION")
}

func TestValidateShippedMigrations(t *testing.T) {
	_, err := execute(t, "--dir", filepath.Join("..", "..", "pkg", "migrate", "migrations"), "validate")
	require.NoError(t, err)
}

func TestValidateRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oops.sql"), []byte("SELECT 1;"), 0o644))

	_, err := execute(t, "--dir", dir, "validate")
	require.Error(t, err)
}

func TestArgumentChecks(t *testing.T) {
	_, err := execute(t, "create")
	require.Error(t, err)

	_, err = execute(t, "version")
	require.Error(t, err)
}
