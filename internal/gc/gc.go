// Package gc implements garbage collection: deleting bands the caller
// no longer wants to retain and reclaiming any block that ends up
// unreferenced by the bands that remain.
//
// It follows the usual lock-trace-delete sequence for a mark-and-sweep
// collector: a sentinel file whose presence reserves the archive for
// the duration of the pass, generalized here into a whole-archive lock
// rather than a lock scoped to one ref or one band.
package gc

import (
	"context"
	"runtime"
	"time"

	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/hash"
	"golang.org/x/sync/errgroup"
)

// lockFile is the sentinel whose presence at the archive root reserves
// the archive for garbage collection.
const lockFile = "GC_LOCK"

// Options configures a single DeleteBands call.
type Options struct {
	// DryRun computes and reports what would be deleted without
	// deleting anything.
	DryRun bool
	// BreakLock steals an existing GC_LOCK instead of failing when one
	// is already present.
	BreakLock bool
}

// Stats summarizes one completed (or dry-run) garbage collection.
type Stats struct {
	DeletedBandCount       int
	UnreferencedBlockCount int
	DeletedBlockCount      int
	UnreferencedBlockBytes uint64
	DeletionErrors         int
	Elapsed                time.Duration
}

// Lock acquires the archive's GC_LOCK, creating it if absent. If the
// lock is already held and breakLock is false, it fails with
// errs.KindGCLockHeld.
func Lock(ctx context.Context, a *archive.Archive, breakLock bool) error {
	t := a.Transport()
	exists, err := t.Exists(ctx, lockFile)
	if err != nil {
		return errs.New(errs.KindIO, "gc.Lock", lockFile, err)
	}
	if exists && !breakLock {
		return errs.New(errs.KindGCLockHeld, "gc.Lock", "", nil)
	}
	if err := t.WriteFileAtomic(ctx, lockFile, []byte{}); err != nil {
		return errs.New(errs.KindIO, "gc.Lock", lockFile, err)
	}
	return nil
}

// Unlock releases the archive's GC_LOCK.
func Unlock(ctx context.Context, a *archive.Archive) error {
	if err := a.Transport().Delete(ctx, lockFile); err != nil {
		return errs.New(errs.KindIO, "gc.Unlock", lockFile, err)
	}
	return nil
}

// IsLocked reports whether the archive's GC_LOCK is currently present.
func IsLocked(ctx context.Context, a *archive.Archive) (bool, error) {
	ok, err := a.Transport().Exists(ctx, lockFile)
	if err != nil {
		return false, errs.New(errs.KindIO, "gc.IsLocked", lockFile, err)
	}
	return ok, nil
}

// DeleteBands runs one garbage collection pass: it deletes the bands
// named in deleteIDs, then deletes every block no longer referenced by
// any retained band. deleteIDs may be empty, in which case only
// unreferenced blocks are reclaimed.
//
// The lock is held for the whole trace so a concurrent backup cannot
// add references the trace has already decided to ignore; a concurrent
// backup instead fails fast with errs.KindGCLockHeld (see
// backup.Backup's precondition check).
func DeleteBands(ctx context.Context, a *archive.Archive, deleteIDs []band.ID, opts Options) (Stats, error) {
	start := time.Now()
	var stats Stats

	if err := Lock(ctx, a, opts.BreakLock); err != nil {
		return stats, err
	}
	defer Unlock(ctx, a)

	allIDs, err := a.ListBandIDs(ctx)
	if err != nil {
		return stats, err
	}
	deleteSet := make(map[string]struct{}, len(deleteIDs))
	for _, id := range deleteIDs {
		deleteSet[id.String()] = struct{}{}
	}
	var keep []band.ID
	for _, id := range allIDs {
		if _, del := deleteSet[id.String()]; !del {
			keep = append(keep, id)
		}
	}

	referenced, err := a.ReferencedBlocks(ctx, keep)
	if err != nil {
		return stats, err
	}

	names, err := a.BlockDir().BlockNames(ctx)
	if err != nil {
		return stats, err
	}
	var unref []hash.BlockHash
	for _, h := range names {
		if _, ok := referenced[h]; !ok {
			unref = append(unref, h)
		}
	}
	stats.UnreferencedBlockCount = len(unref)

	sizes := make([]uint64, len(unref))
	{
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, h := range unref {
			i, h := i, h
			g.Go(func() error {
				sz, err := a.BlockDir().CompressedSize(gctx, h)
				if err != nil {
					// Missing or unreadable: count its contribution
					// to the reclaimable total as zero and continue.
					sizes[i] = 0
					return nil
				}
				sizes[i] = sz
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, sz := range sizes {
		stats.UnreferencedBlockBytes += sz
	}

	if opts.DryRun {
		stats.Elapsed = time.Since(start)
		return stats, nil
	}

	locked, err := IsLocked(ctx, a)
	if err != nil {
		return stats, err
	}
	if !locked {
		return stats, errs.New(errs.KindGCLockHeld, "gc.DeleteBands", "", nil)
	}

	for _, id := range deleteIDs {
		if err := band.Delete(ctx, a.Transport(), id); err != nil {
			stats.DeletionErrors++
			continue
		}
		stats.DeletedBandCount++
	}

	deleteErrs := make([]bool, len(unref))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, h := range unref {
		i, h := i, h
		g.Go(func() error {
			if err := a.BlockDir().DeleteBlock(gctx, h); err != nil {
				deleteErrs[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()
	var blockDeleteErrors int
	for _, failed := range deleteErrs {
		if failed {
			blockDeleteErrors++
		}
	}
	stats.DeletionErrors += blockDeleteErrors
	stats.DeletedBlockCount = len(unref) - blockDeleteErrors

	stats.Elapsed = time.Since(start)
	return stats, nil
}
