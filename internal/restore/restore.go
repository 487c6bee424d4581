// Package restore writes a stored tree back out to a real filesystem
// directory: the mirror image of package backup.
//
// It picks between two read paths depending on whether the target band
// is closed: a closed band's own index can be read directly, while an
// incomplete one needs the stitched reconstruction, and otherwise walks
// and recreates a filesystem tree the same way this codebase already
// walks one for other purposes.
package restore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/backup"
	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/index"
	"github.com/fenilsonani/conserve/internal/stitch"
)

// Options configures a single Restore call.
type Options struct {
	BandID         *band.ID // nil = latest complete band
	Only           *apath.Apath
	ForceOverwrite bool
	Monitor        backup.Monitor
}

// Stats summarizes one completed restore.
type Stats struct {
	Files, Directories, Symlinks int64
	Errors                       int64
}

// Restore reconstructs the tree named by opts.BandID (or the latest
// complete band) under destRoot.
func Restore(ctx context.Context, a *archive.Archive, destRoot string, opts Options) (Stats, error) {
	var stats Stats
	log := a.Logger().With("component", "restore", "dest", destRoot)

	id, closed, b, err := resolveBand(ctx, a, opts.BandID)
	if err != nil {
		return stats, err
	}

	var it stitch.EntryIter
	if closed {
		tail, err := b.ReadTail(ctx)
		if err != nil {
			return stats, err
		}
		it = index.NewReader(b.Transport(), codec.NewSnappyCodec(), int(tail.IndexHunkCount))
	} else {
		it, err = a.IterStitchedIndexHunks(ctx, id)
		if err != nil {
			return stats, err
		}
	}

	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return stats, errs.New(errs.KindIO, "restore.Restore", destRoot, err)
	}

	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return stats, err
		}
		if !ok {
			break
		}
		if opts.Only != nil && !underSubtree(e.Apath, *opts.Only) {
			continue
		}
		if err := restoreEntry(ctx, a, destRoot, e, opts, &stats, log); err != nil {
			stats.Errors++
			if opts.Monitor != nil {
				opts.Monitor.CopyError(backup.LiveEntry{Apath: e.Apath}, err)
			}
			log.Warn("error restoring entry", "apath", e.Apath, "error", err)
		}
	}
	log.Info("restore complete", "files", stats.Files, "dirs", stats.Directories,
		"symlinks", stats.Symlinks, "errors", stats.Errors)
	return stats, nil
}

func underSubtree(p, root apath.Apath) bool {
	if root == "" {
		return true
	}
	if p == root {
		return true
	}
	return len(p) > len(root) && p[:len(root)] == root && p[len(root)] == '/'
}

func resolveBand(ctx context.Context, a *archive.Archive, want *band.ID) (band.ID, bool, *band.Band, error) {
	var id band.ID
	if want != nil {
		id = *want
	} else {
		last, ok, err := a.LastCompleteBand(ctx)
		if err != nil {
			return nil, false, nil, err
		}
		if !ok {
			return nil, false, nil, errs.New(errs.KindArchiveEmpty, "restore.resolveBand", "", nil)
		}
		return last.ID(), true, last, nil
	}
	b, err := a.OpenBand(ctx, id)
	if err != nil {
		return nil, false, nil, err
	}
	closed, err := b.IsClosed(ctx)
	if err != nil {
		return nil, false, nil, err
	}
	return id, closed, b, nil
}

func restoreEntry(ctx context.Context, a *archive.Archive, destRoot string, e index.Entry, opts Options, stats *Stats, log *slog.Logger) error {
	full := filepath.Join(destRoot, filepath.FromSlash(string(e.Apath)))
	switch e.Kind {
	case index.KindDir:
		stats.Directories++
		return os.MkdirAll(full, 0o755)
	case index.KindSymlink:
		if err := prepareTarget(full, opts.ForceOverwrite); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return errs.New(errs.KindIO, "restore.restoreEntry", full, err)
		}
		if err := os.Symlink(e.Target, full); err != nil {
			return errs.New(errs.KindIO, "restore.restoreEntry", full, err)
		}
		stats.Symlinks++
		return nil
	case index.KindFile:
		if err := prepareTarget(full, opts.ForceOverwrite); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return errs.New(errs.KindIO, "restore.restoreEntry", full, err)
		}
		f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return errs.New(errs.KindIO, "restore.restoreEntry", full, err)
		}
		defer f.Close()
		for _, addr := range e.Addrs {
			data, err := a.BlockDir().Get(ctx, addr)
			if err != nil {
				return err
			}
			if _, err := f.Write(data); err != nil {
				return errs.New(errs.KindIO, "restore.restoreEntry", full, err)
			}
		}
		stats.Files++
		return nil
	default:
		log.Debug("skipping entry of unknown kind", "apath", e.Apath)
		return nil
	}
}

func prepareTarget(full string, force bool) error {
	_, err := os.Lstat(full)
	if err == nil {
		if !force {
			return errs.New(errs.KindInvalidInput, "restore.prepareTarget", full, fs.ErrExist)
		}
		if err := os.RemoveAll(full); err != nil {
			return errs.New(errs.KindIO, "restore.prepareTarget", full, err)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return errs.New(errs.KindIO, "restore.prepareTarget", full, err)
	}
	return nil
}
