package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/backup"
	"github.com/fenilsonani/conserve/internal/excludes"
	"github.com/fenilsonani/conserve/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestBackupThenRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "b.txt"), []byte("beta"), 0o644))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(srcDir, "link")))

	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)

	_, err = backup.Backup(ctx, a, srcDir, backup.Options{
		Now:      func() time.Time { return time.Unix(1, 0) },
		Excludes: excludes.Nothing(),
	})
	require.NoError(t, err)

	destDir := t.TempDir()
	stats, err := Restore(ctx, a, destDir, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Files)
	require.EqualValues(t, 1, stats.Directories) // sub (the source root itself is implicit)
	require.EqualValues(t, 1, stats.Symlinks)

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(got))

	got, err = os.ReadFile(filepath.Join(destDir, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(got))

	target, err := os.Readlink(filepath.Join(destDir, "link"))
	require.NoError(t, err)
	require.Equal(t, "a.txt", target)
}

func TestRestoreRefusesOverwriteWithoutForce(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("alpha"), 0o644))

	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)
	_, err = backup.Backup(ctx, a, srcDir, backup.Options{
		Now: func() time.Time { return time.Unix(1, 0) }, Excludes: excludes.Nothing(),
	})
	require.NoError(t, err)

	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "a.txt"), []byte("existing"), 0o644))

	stats, err := Restore(ctx, a, destDir, Options{})
	require.NoError(t, err) // per-entry errors don't fail the whole restore
	require.EqualValues(t, 1, stats.Errors)

	content, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "existing", string(content))
}

func TestRestoreEmptyArchiveErrors(t *testing.T) {
	ctx := context.Background()
	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)
	_, err = Restore(ctx, a, t.TempDir(), Options{})
	require.Error(t, err)
}
