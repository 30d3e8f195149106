package preflight_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/preflight"
	"docflow/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	assert.True(t, preflight.CheckDirectoryAccess("test", t.TempDir()).Passed)

	missing := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	assert.False(t, missing.Passed)
	assert.Contains(t, missing.Detail, "does not exist")

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	notDir := preflight.CheckDirectoryAccess("test", file)
	assert.False(t, notDir.Passed)
	assert.Contains(t, notDir.Detail, "is not a directory")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCheckDatabase(t *testing.T) {
	ctx := context.Background()

	ok := preflight.CheckDatabase(ctx, "db", "x.db", func(string) (io.Closer, error) {
		return closerFunc(func() error { return nil }), nil
	})
	assert.True(t, ok.Passed)

	broken := preflight.CheckDatabase(ctx, "db", "x.db", func(string) (io.Closer, error) {
		return nil, errors.New("file is not a database")
	})
	assert.False(t, broken.Passed)
	assert.Contains(t, broken.Detail, "file is not a database")
}

func TestRunAllOnFreshConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLogDir())
	require.NoError(t, cfg.EnsureDirectories())

	results := preflight.RunAll(context.Background(), cfg)
	require.Len(t, results, 4)
	assert.Empty(t, preflight.Failed(results))
	assert.FileExists(t, cfg.TaskDBPath())
	assert.FileExists(t, cfg.JobDBPath())
}

func TestRunAllReportsMissingDataDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.DataDir = filepath.Join(testsupport.BaseDir(cfg), "file")
	require.NoError(t, os.WriteFile(cfg.Paths.DataDir, []byte("x"), 0o644))

	failed := preflight.Failed(preflight.RunAll(context.Background(), cfg))
	require.NotEmpty(t, failed)
	assert.Equal(t, "Data directory", failed[0].Name)
}
