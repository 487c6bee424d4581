// Package backup walks a live source tree and records it into a new
// band, deduplicating content against the archive's block store and
// short-circuiting files that are unchanged from the basis band.
//
// Tree walking is an apath-ordered recursion over os.ReadDir with
// symlink handling via os.Lstat, generalized from scanning a
// version-controlled working copy into scanning an arbitrary backup
// source. The basis-band short-circuit and fileCombiner batching follow
// the same shape as a typical incremental-backup writer: reuse an
// unchanged file's stored addresses without re-reading it, and batch
// small files into shared blocks. Every directory is still walked.
package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/blockdir"
	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/excludes"
	"github.com/fenilsonani/conserve/internal/gc"
	"github.com/fenilsonani/conserve/internal/index"
)

// MaxBlockSize is the largest chunk a single file's content is split
// into before being stored as its own block.
const MaxBlockSize = 1 << 20 // 1 MiB

// SmallFileCap is the largest a file may be to be eligible for combining
// with other small files into a single shared block.
const SmallFileCap = 100 << 10 // 100 KiB

// TargetCombinedBlockSize is the size the FileCombiner tries to fill
// before flushing a combined block.
const TargetCombinedBlockSize = 1 << 20 // 1 MiB

// DiffKind classifies how a copied entry compares to the basis tree.
type DiffKind int

const (
	DiffNew DiffKind = iota
	DiffChanged
	DiffUnchanged
)

// LiveEntry describes a source-tree entry as BackupWriter observed it.
type LiveEntry struct {
	Apath apath.Apath
	Path  string // absolute filesystem path
	Info  os.FileInfo
}

// Monitor receives progress callbacks during a backup. A nil Monitor
// disables progress reporting.
type Monitor interface {
	Copy(e LiveEntry)
	CopyResult(e LiveEntry, kind DiffKind)
	CopyError(e LiveEntry, err error)
}

// Options configures a single Backup call.
type Options struct {
	Excludes          *excludes.Set
	MaxEntriesPerHunk int
	Monitor           Monitor
	// Now stamps the band's start/end time; when zero, time.Now is used.
	Now func() time.Time
}

// Stats summarizes one completed backup.
type Stats struct {
	Files, Directories, Symlinks, Unknown int64
	NewFiles, ChangedFiles, UnchangedFiles int64
	Errors                                 int64
	blockdir.Stats
}

// Backup walks sourceRoot, recording it as a new band in a, reusing
// content from the archive's previous complete band wherever a file is
// unchanged.
func Backup(ctx context.Context, a *archive.Archive, sourceRoot string, opts Options) (Stats, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := a.Logger().With("component", "backup", "source", sourceRoot)

	locked, err := gc.IsLocked(ctx, a)
	if err != nil {
		return Stats{}, err
	}
	if locked {
		return Stats{}, errs.New(errs.KindGCLockHeld, "backup.Backup", "", nil)
	}

	b, err := a.CreateBand(ctx, now().Unix())
	if err != nil {
		return Stats{}, err
	}
	iw := index.NewWriter(b.Transport(), archiveCodec(a), opts.MaxEntriesPerHunk)

	basis, hasBasis, err := a.LastCompleteBand(ctx)
	if err != nil {
		return Stats{}, err
	}
	var basisReader *index.Reader
	if hasBasis {
		tail, err := basis.ReadTail(ctx)
		if err != nil {
			return Stats{}, err
		}
		r := index.NewReader(basis.Transport(), archiveCodec(a), int(tail.IndexHunkCount))
		basisReader = r
	}

	w := &writer{
		ctx:     ctx,
		a:       a,
		log:     log,
		root:    sourceRoot,
		opts:    opts,
		iw:      iw,
		basis:   basisReader,
		combiner: newFileCombiner(),
	}
	if err := w.walk(); err != nil {
		return w.stats, err
	}
	if err := w.combiner.flush(ctx, w); err != nil {
		return w.stats, err
	}
	hunkCount, err := iw.Finish(ctx)
	if err != nil {
		return w.stats, err
	}
	if err := b.Close(ctx, now().Unix(), uint64(hunkCount)); err != nil {
		return w.stats, err
	}
	log.Info("backup complete", "files", w.stats.Files, "new", w.stats.NewFiles,
		"changed", w.stats.ChangedFiles, "unchanged", w.stats.UnchangedFiles, "errors", w.stats.Errors)
	return w.stats, nil
}

func archiveCodec(a *archive.Archive) codec.Codec {
	return codec.NewSnappyCodec()
}

type writer struct {
	ctx      context.Context
	a        *archive.Archive
	log      *slog.Logger
	root     string
	opts     Options
	iw       *index.Writer
	basis    *index.Reader
	combiner *fileCombiner
	stats    Stats
}

type dirEnt struct {
	apath apath.Apath
	path  string
}

// walk performs an apath-ordered traversal of the source tree. The
// apath order puts every direct child of a directory before anything
// one level deeper, so each directory's full child list is emitted
// first and its subdirectories are only descended into afterwards;
// interleaving the recursion with the sibling loop would emit a
// subtree's grandchildren ahead of a later sibling and break the
// index's strictly-increasing invariant.
func (w *writer) walk() error {
	return w.walkDir(dirEnt{apath: "", path: w.root})
}

func (w *writer) walkDir(d dirEnt) error {
	ents, err := os.ReadDir(d.path)
	if err != nil {
		w.reportError(LiveEntry{Apath: d.apath, Path: d.path}, err)
		return nil
	}
	children := make([]dirEnt, 0, len(ents))
	for _, e := range ents {
		childApath := joinApath(d.apath, e.Name())
		if w.opts.Excludes.Match(childApath) {
			continue
		}
		children = append(children, dirEnt{apath: childApath, path: filepath.Join(d.path, e.Name())})
	}
	sort.Slice(children, func(i, j int) bool { return apath.Less(children[i].apath, children[j].apath) })

	var subdirs []dirEnt
	for _, c := range children {
		info, err := os.Lstat(c.path)
		if err != nil {
			w.reportError(LiveEntry{Apath: c.apath, Path: c.path}, err)
			continue
		}
		live := LiveEntry{Apath: c.apath, Path: c.path, Info: info}
		if w.opts.Monitor != nil {
			w.opts.Monitor.Copy(live)
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if err := w.combiner.flush(w.ctx, w); err != nil {
				return err
			}
			if err := w.copySymlink(live); err != nil {
				w.reportError(live, err)
			}
		case info.IsDir():
			if err := w.combiner.flush(w.ctx, w); err != nil {
				return err
			}
			if err := w.copyDir(live); err != nil {
				w.reportError(live, err)
				continue
			}
			subdirs = append(subdirs, c)
		case info.Mode().IsRegular():
			if err := w.copyFile(live); err != nil {
				w.reportError(live, err)
			}
		default:
			if err := w.combiner.flush(w.ctx, w); err != nil {
				return err
			}
			w.stats.Unknown++
			if err := w.pushEntry(index.Entry{Apath: c.apath, Kind: index.KindUnknown}); err != nil {
				return err
			}
		}
	}
	// Queued small files belong to this directory and must land in the
	// index ahead of anything from the subdirectories below.
	if err := w.combiner.flush(w.ctx, w); err != nil {
		return err
	}
	for _, sd := range subdirs {
		if err := w.walkDir(sd); err != nil {
			return err
		}
	}
	return nil
}

func joinApath(parent apath.Apath, name string) apath.Apath {
	if parent == "" {
		return apath.Apath(name)
	}
	return apath.Apath(string(parent) + "/" + name)
}

func (w *writer) reportError(e LiveEntry, err error) {
	w.stats.Errors++
	if w.opts.Monitor != nil {
		w.opts.Monitor.CopyError(e, err)
	}
	w.log.Warn("error copying entry", "apath", e.Apath, "error", err)
}

func (w *writer) pushEntry(e index.Entry) error {
	return w.iw.PushEntry(w.ctx, e)
}

func (w *writer) copyDir(live LiveEntry) error {
	w.stats.Directories++
	return w.pushEntry(index.Entry{
		Apath: live.Apath, Kind: index.KindDir,
		MTime: live.Info.ModTime().Unix(), MTimeNanos: uint32(live.Info.ModTime().Nanosecond()),
	})
}

func (w *writer) copySymlink(live LiveEntry) error {
	w.stats.Symlinks++
	target, err := os.Readlink(live.Path)
	if err != nil {
		return errs.New(errs.KindStoreFile, "backup.copySymlink", live.Path, err)
	}
	return w.pushEntry(index.Entry{
		Apath: live.Apath, Kind: index.KindSymlink, Target: target,
		MTime: live.Info.ModTime().Unix(), MTimeNanos: uint32(live.Info.ModTime().Nanosecond()),
	})
}

// isUnchangedFrom reports whether live matches the basis entry at the
// same apath: same kind, size, and modification time down to the
// nanosecond. When true, the backup reuses the basis entry's addresses
// instead of re-reading and re-hashing the file's content.
func isUnchangedFrom(live LiveEntry, basisEntry index.Entry) bool {
	if basisEntry.Kind != index.KindFile {
		return false
	}
	if basisEntry.Size == nil || uint64(live.Info.Size()) != *basisEntry.Size {
		return false
	}
	if basisEntry.MTime != live.Info.ModTime().Unix() {
		return false
	}
	return basisEntry.MTimeNanos == uint32(live.Info.ModTime().Nanosecond())
}

func (w *writer) copyFile(live LiveEntry) error {
	w.stats.Files++
	size := uint64(live.Info.Size())

	kind := DiffNew
	if w.basis != nil {
		basisEntry, ok, err := w.basis.AdvanceTo(w.ctx, live.Apath)
		if err != nil {
			return err
		}
		if ok && basisEntry.Apath == live.Apath && isUnchangedFrom(live, basisEntry) {
			if err := w.combiner.flush(w.ctx, w); err != nil {
				return err
			}
			w.stats.UnchangedFiles++
			entry := basisEntry
			entry.MTime = live.Info.ModTime().Unix()
			entry.MTimeNanos = uint32(live.Info.ModTime().Nanosecond())
			if w.opts.Monitor != nil {
				w.opts.Monitor.CopyResult(live, DiffUnchanged)
			}
			return w.pushEntry(entry)
		}
		if ok && basisEntry.Apath == live.Apath {
			kind = DiffChanged
		}
	}

	if size <= SmallFileCap {
		data, err := os.ReadFile(live.Path)
		if err != nil {
			return errs.New(errs.KindStoreFile, "backup.copyFile", live.Path, err)
		}
		if err := w.combiner.pushFile(w.ctx, w, live, data); err != nil {
			return err
		}
	} else {
		if err := w.combiner.flush(w.ctx, w); err != nil {
			return err
		}
		addrs, err := w.storeFileContent(live.Path)
		if err != nil {
			return err
		}
		if err := w.pushEntry(index.Entry{
			Apath: live.Apath, Kind: index.KindFile,
			MTime: live.Info.ModTime().Unix(), MTimeNanos: uint32(live.Info.ModTime().Nanosecond()),
			Size: &size, Addrs: addrs,
		}); err != nil {
			return err
		}
	}
	if kind == DiffNew {
		w.stats.NewFiles++
	} else {
		w.stats.ChangedFiles++
	}
	if w.opts.Monitor != nil {
		w.opts.Monitor.CopyResult(live, kind)
	}
	return nil
}

// storeFileContent reads path in MaxBlockSize chunks, storing (or
// deduplicating) each as its own block.
func (w *writer) storeFileContent(path string) ([]blockdir.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.KindStoreFile, "backup.storeFileContent", path, err)
	}
	defer f.Close()

	var addrs []blockdir.Address
	buf := make([]byte, MaxBlockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			h, serr := w.a.BlockDir().StoreOrDeduplicate(w.ctx, buf[:n], &w.stats.Stats)
			if serr != nil {
				return nil, serr
			}
			addrs = append(addrs, blockdir.Address{Hash: h, Start: 0, Len: uint64(n)})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errs.New(errs.KindStoreFile, "backup.storeFileContent", path, err)
		}
	}
	return addrs, nil
}
