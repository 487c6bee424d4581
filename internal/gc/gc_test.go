package gc_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/backup"
	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/excludes"
	"github.com/fenilsonani/conserve/internal/gc"
	"github.com/fenilsonani/conserve/internal/transport"
	"github.com/stretchr/testify/require"
)

func fixedNow(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestDeleteBandsRemovesEverythingWhenOnlyBandDeleted(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"hello": "hello!"})

	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)
	_, err = backup.Backup(ctx, a, srcDir, backup.Options{Now: fixedNow(1), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	names, err := a.BlockDir().BlockNames(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)

	stats, err := gc.DeleteBands(ctx, a, []band.ID{{0}}, gc.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeletedBandCount)
	require.Equal(t, 1, stats.UnreferencedBlockCount)
	require.Equal(t, 1, stats.DeletedBlockCount)
	require.Equal(t, 0, stats.DeletionErrors)

	names, err = a.BlockDir().BlockNames(ctx)
	require.NoError(t, err)
	require.Len(t, names, 0)

	locked, err := gc.IsLocked(ctx, a)
	require.NoError(t, err)
	require.False(t, locked)

	ids, err := a.ListBandIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 0)
}

// TestDeleteBandsOnLocalTransportRemovesBandDirectory drives the same
// scenario as TestDeleteBandsRemovesEverythingWhenOnlyBandDeleted against
// a real filesystem transport, where a deleted band directory must not
// linger as an empty directory that a later ListBandIDs scan would
// mistake for a live band.
func TestDeleteBandsOnLocalTransportRemovesBandDirectory(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"hello": "hello!"})

	archiveDir := t.TempDir()
	a, err := archive.Create(ctx, transport.NewLocal(archiveDir), nil)
	require.NoError(t, err)
	_, err = backup.Backup(ctx, a, srcDir, backup.Options{Now: fixedNow(1), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	stats, err := gc.DeleteBands(ctx, a, []band.ID{{0}}, gc.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeletedBandCount)

	ids, err := a.ListBandIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 0)

	_, err = os.Stat(filepath.Join(archiveDir, "b0000"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteBandsKeepsBlocksStillReferenced(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"shared": "shared-bytes"})

	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)
	_, err = backup.Backup(ctx, a, srcDir, backup.Options{Now: fixedNow(1), Excludes: excludes.Nothing()})
	require.NoError(t, err)
	_, err = backup.Backup(ctx, a, srcDir, backup.Options{Now: fixedNow(2), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	stats, err := gc.DeleteBands(ctx, a, []band.ID{{0}}, gc.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeletedBandCount)
	require.Equal(t, 0, stats.UnreferencedBlockCount)

	names, err := a.BlockDir().BlockNames(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)
}

func TestDeleteBandsDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"hello": "hello!"})

	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)
	_, err = backup.Backup(ctx, a, srcDir, backup.Options{Now: fixedNow(1), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	stats, err := gc.DeleteBands(ctx, a, []band.ID{{0}}, gc.Options{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, stats.UnreferencedBlockCount)
	require.Equal(t, 0, stats.DeletedBandCount)
	require.Equal(t, 0, stats.DeletedBlockCount)

	ids, err := a.ListBandIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	locked, err := gc.IsLocked(ctx, a)
	require.NoError(t, err)
	require.False(t, locked)
}

func TestLockHeldBlocksSecondGCAndBackup(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"hello": "hello!"})

	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)
	_, err = backup.Backup(ctx, a, srcDir, backup.Options{Now: fixedNow(1), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	require.NoError(t, gc.Lock(ctx, a, false))

	_, err = backup.Backup(ctx, a, srcDir, backup.Options{Now: fixedNow(2), Excludes: excludes.Nothing()})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindGCLockHeld))

	_, err = gc.DeleteBands(ctx, a, nil, gc.Options{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindGCLockHeld))

	_, err = gc.DeleteBands(ctx, a, nil, gc.Options{BreakLock: true})
	require.NoError(t, err)

	locked, err := gc.IsLocked(ctx, a)
	require.NoError(t, err)
	require.False(t, locked)
}
