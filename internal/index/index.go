// Package index implements the per-band index: an apath-ordered,
// hunked, compressed-JSON record of every entry a backup observed.
//
// Entries are kept sorted and written atomically through the
// transport's temp-file-then-rename write (no checksum is stored), the
// same discipline a single binary index file would use, but split into
// many small numbered "hunks" under
// i/<shard>/<hunkid>, each independently compressed, so a long-running
// backup can flush a hunk without having buffered the entire tree in
// memory.
package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/blockdir"
	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/excludes"
	"github.com/fenilsonani/conserve/internal/transport"
)

// Kind identifies the type of filesystem entry an Entry records.
type Kind string

const (
	KindDir     Kind = "Dir"
	KindFile    Kind = "File"
	KindSymlink Kind = "Symlink"
	KindUnknown Kind = "Unknown"
)

// Owner records the user/group that owned an entry's source file, when
// available.
type Owner struct {
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

// Entry is one record in the index: a file, directory, symlink, or
// unreadable-kind placeholder.
type Entry struct {
	Apath      apath.Apath         `json:"apath"`
	Kind       Kind                `json:"kind"`
	MTime      int64               `json:"mtime"`
	MTimeNanos uint32              `json:"mtime_nanos,omitempty"`
	Size       *uint64             `json:"size,omitempty"`
	Addrs      []blockdir.Address  `json:"addrs,omitempty"`
	Target     string              `json:"target,omitempty"`
	UnixMode   *uint32             `json:"unix_mode,omitempty"`
	Owner      *Owner              `json:"owner,omitempty"`
}

// MaxEntriesPerHunk bounds how many entries are buffered before a hunk
// is flushed.
const MaxEntriesPerHunk = 1000

func hunkPath(hunkID int) string {
	shard := hunkID / 10000
	return fmt.Sprintf("i/%05d/%09d", shard, hunkID)
}

// Writer accumulates Entry values in apath order and flushes them as
// compressed JSON-array hunks.
type Writer struct {
	t                 transport.Transport
	codec             codec.Codec
	maxEntriesPerHunk int

	pending  []Entry
	hunkID   int
	lastPath apath.Apath
	hasLast  bool
}

// NewWriter returns a Writer that writes hunks under t using c for
// compression. maxEntriesPerHunk <= 0 uses MaxEntriesPerHunk.
func NewWriter(t transport.Transport, c codec.Codec, maxEntriesPerHunk int) *Writer {
	if maxEntriesPerHunk <= 0 {
		maxEntriesPerHunk = MaxEntriesPerHunk
	}
	return &Writer{t: t, codec: c, maxEntriesPerHunk: maxEntriesPerHunk}
}

// PushEntry appends e. Entries must be pushed in strictly increasing
// apath order; PushEntry returns an error otherwise.
func (w *Writer) PushEntry(ctx context.Context, e Entry) error {
	if w.hasLast && apath.Compare(e.Apath, w.lastPath) <= 0 {
		return errs.New(errs.KindInvalidInput, "index.Writer.PushEntry", string(e.Apath),
			fmt.Errorf("entry out of order: %q after %q", e.Apath, w.lastPath))
	}
	w.lastPath = e.Apath
	w.hasLast = true
	w.pending = append(w.pending, e)
	if len(w.pending) >= w.maxEntriesPerHunk {
		return w.FinishHunk(ctx)
	}
	return nil
}

// FinishHunk flushes any buffered entries as a new hunk. With nothing
// buffered it is a no-op, so no empty hunk is ever written.
func (w *Writer) FinishHunk(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	raw, err := json.Marshal(w.pending)
	if err != nil {
		return errs.New(errs.KindDeserialize, "index.Writer.FinishHunk", "", err)
	}
	compressed := w.codec.Compress(nil, raw)
	if err := w.t.WriteFileAtomic(ctx, hunkPath(w.hunkID), compressed); err != nil {
		return errs.New(errs.KindIO, "index.Writer.FinishHunk", hunkPath(w.hunkID), err)
	}
	w.hunkID++
	w.pending = w.pending[:0]
	return nil
}

// Finish flushes any remaining buffered entries and returns the total
// number of hunks written.
func (w *Writer) Finish(ctx context.Context) (int, error) {
	if err := w.FinishHunk(ctx); err != nil {
		return 0, err
	}
	return w.hunkID, nil
}

// Reader iterates entries in apath order across all hunks of an index,
// pulling one hunk's worth into memory at a time.
type Reader struct {
	t         transport.Transport
	codec     codec.Codec
	hunkCount int
	excludes  *excludes.Set

	nextHunk int
	current  []Entry
	pos      int

	peeked   *Entry
	peekedOK bool
}

// NewReader returns a Reader over hunkCount hunks written under t.
func NewReader(t transport.Transport, c codec.Codec, hunkCount int) *Reader {
	return &Reader{t: t, codec: c, hunkCount: hunkCount}
}

// WithExcludes returns r configured to silently drop entries matching
// ex. A nil ex drops nothing.
func (r *Reader) WithExcludes(ex *excludes.Set) *Reader {
	r.excludes = ex
	return r
}

func (r *Reader) loadNextHunk(ctx context.Context) error {
	for r.pos >= len(r.current) {
		if r.nextHunk >= r.hunkCount {
			r.current = nil
			return nil
		}
		compressed, err := r.t.ReadAll(ctx, hunkPath(r.nextHunk))
		if err != nil {
			return errs.New(errs.KindIO, "index.Reader", hunkPath(r.nextHunk), err)
		}
		raw, err := r.codec.Decompress(nil, compressed)
		if err != nil {
			return errs.New(errs.KindCompression, "index.Reader", hunkPath(r.nextHunk), err)
		}
		var entries []Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return errs.New(errs.KindDeserialize, "index.Reader", hunkPath(r.nextHunk), err)
		}
		r.current = entries
		r.pos = 0
		r.nextHunk++
	}
	return nil
}

// Next returns the next entry in apath order, or ok=false when the
// index is exhausted. Entries matching the reader's exclude set are
// skipped.
func (r *Reader) Next(ctx context.Context) (Entry, bool, error) {
	if r.peekedSet() {
		e := *r.peeked
		ok := r.peekedOK
		r.peeked = nil
		return e, ok, nil
	}
	for {
		if err := r.loadNextHunk(ctx); err != nil {
			return Entry{}, false, err
		}
		if r.pos >= len(r.current) {
			return Entry{}, false, nil
		}
		e := r.current[r.pos]
		r.pos++
		if r.excludes.Match(e.Apath) {
			continue
		}
		return e, true, nil
	}
}

func (r *Reader) peekedSet() bool {
	return r.peeked != nil
}

// Peek returns the next entry without consuming it.
func (r *Reader) Peek(ctx context.Context) (Entry, bool, error) {
	if r.peekedSet() {
		return *r.peeked, r.peekedOK, nil
	}
	e, ok, err := r.Next(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	r.peeked = &e
	r.peekedOK = ok
	return e, ok, nil
}

// AdvanceTo skips forward until it finds an entry whose apath is >=
// target, leaving that entry unconsumed so the next Next/Peek call
// returns it, or exhausts the index. This is the mechanism BackupWriter
// uses to short-circuit unchanged files against the basis band's index.
func (r *Reader) AdvanceTo(ctx context.Context, target apath.Apath) (Entry, bool, error) {
	for {
		e, ok, err := r.Peek(ctx)
		if err != nil || !ok {
			return e, ok, err
		}
		if !apath.Less(e.Apath, target) {
			return e, true, nil
		}
		// consume and discard
		if _, _, err := r.Next(ctx); err != nil {
			return Entry{}, false, err
		}
	}
}
