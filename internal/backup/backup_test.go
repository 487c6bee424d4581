package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/excludes"
	"github.com/fenilsonani/conserve/internal/index"
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

func openTestArchive(t *testing.T) *archive.Archive {
	t.Helper()
	ctx := context.Background()
	a, err := archive.Create(ctx, transport.NewMemory(), nil)
	require.NoError(t, err)
	return a
}

func TestBackupFirstRunIsAllNew(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{
		"a.txt":       "alpha",
		"sub/b.txt":   "beta",
		"sub/c.txt":   "gamma",
	})
	a := openTestArchive(t)

	stats, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(1000), Excludes: excludes.Nothing()})
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Files)
	require.EqualValues(t, 3, stats.NewFiles)
	require.EqualValues(t, 1, stats.Directories)
	require.EqualValues(t, 0, stats.UnchangedFiles)

	last, ok, err := a.LastCompleteBand(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	tail, err := last.ReadTail(ctx)
	require.NoError(t, err)
	require.Greater(t, int(tail.IndexHunkCount), 0)
}

func TestBackupSecondRunDetectsUnchanged(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"a.txt": "alpha"})
	a := openTestArchive(t)

	_, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(1000), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	// mtime must match exactly for the unchanged short-circuit; force it.
	require.NoError(t, os.Chtimes(filepath.Join(srcDir, "a.txt"), time.Unix(500, 0), time.Unix(500, 0)))
	_, err = Backup(ctx, a, srcDir, Options{Now: fixedNow(500), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	stats, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(500), Excludes: excludes.Nothing()})
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.UnchangedFiles)
	require.EqualValues(t, 0, stats.NewFiles)
}

func TestBackupShortCircuitComparesNanoseconds(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{"a.txt": "alpha"})
	a := openTestArchive(t)

	mtime := time.Unix(500, 111)
	require.NoError(t, os.Chtimes(filepath.Join(srcDir, "a.txt"), mtime, mtime))
	_, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(500), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	// Same whole second, different nanosecond: must NOT be treated as
	// unchanged, even though the content happens to be identical too.
	mtime2 := time.Unix(500, 222)
	require.NoError(t, os.Chtimes(filepath.Join(srcDir, "a.txt"), mtime2, mtime2))
	stats, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(500), Excludes: excludes.Nothing()})
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.UnchangedFiles)
	require.EqualValues(t, 1, stats.ChangedFiles)
}

func TestBackupRespectsExcludes(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{
		"keep.txt":    "keep",
		"skip.tmp":    "skip",
		"sub/skip.tmp": "skip",
	})
	a := openTestArchive(t)
	ex, err := excludes.NewSet([]string{"*.tmp"})
	require.NoError(t, err)

	stats, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(1), Excludes: ex})
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Files)
}

func TestBackupDeduplicatesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir, map[string]string{
		"a.txt": "hello!",
		"b.txt": "hello!",
	})
	a := openTestArchive(t)
	stats, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(1), Excludes: excludes.Nothing()})
	require.NoError(t, err)
	_ = stats

	names, err := a.BlockDir().BlockNames(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)
}

func TestBackupLargeFileIsChunked(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	big := make([]byte, MaxBlockSize+100)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "big.bin"), big, 0o644))
	a := openTestArchive(t)

	_, err := Backup(ctx, a, srcDir, Options{Now: fixedNow(1), Excludes: excludes.Nothing()})
	require.NoError(t, err)

	last, ok, err := a.LastCompleteBand(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	tail, err := last.ReadTail(ctx)
	require.NoError(t, err)
	r := index.NewReader(last.Transport(), codec.NewSnappyCodec(), int(tail.IndexHunkCount))
	var found index.Entry
	for {
		e, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		if e.Apath == "big.bin" {
			found = e
		}
	}
	require.Len(t, found.Addrs, 2)
}
