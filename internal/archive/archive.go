// Package archive ties together a transport, its block directory, and
// its bands into the top-level Conserve archive.
//
// Create builds the on-disk layout and writes a marker header file; Open
// validates the marker exists before trusting the rest of the tree —
// the same repository-initialization shape used across this codebase,
// generalized to a block-dir-plus-bands layout.
package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/blockdir"
	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/hash"
	"github.com/fenilsonani/conserve/internal/index"
	"github.com/fenilsonani/conserve/internal/stitch"
	"github.com/fenilsonani/conserve/internal/transport"
)

// Version is the archive format version this package reads and writes.
const Version = "0.6"

const headerFile = "CONSERVE"

type header struct {
	ArchiveVersion string `json:"conserve_archive_version"`
}

// ValidateStats accumulates counters from Validate.
type ValidateStats struct {
	blockdir.ValidateStats
	BandCount               int
	UnreferencedBlocks      int
	MissingReferencedBlocks int
}

// HasProblems reports whether Validate found anything wrong: a block
// that could not be read, a corrupt block, or a band that references a
// block the block-dir no longer has. An unreferenced block is not a problem by itself (it is normal
// until the next garbage collection).
func (s ValidateStats) HasProblems() bool {
	return s.IOErrors > 0 || s.BlockErrors > 0 || s.MissingReferencedBlocks > 0
}

// Archive is an open Conserve archive.
type Archive struct {
	t      transport.Transport
	blocks *blockdir.BlockDir
	log    *slog.Logger
}

// Create initializes a brand new, empty archive at t. t's root must not
// already contain any files.
func Create(ctx context.Context, t transport.Transport, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archive")

	entries, err := t.List(ctx, "")
	if err == nil && len(entries) > 0 {
		return nil, errs.New(errs.KindNewArchiveDirectoryNotEmpty, "archive.Create", "", nil)
	}
	if err != nil && !transport.IsNotExist(err) {
		return nil, errs.New(errs.KindIO, "archive.Create", "", err)
	}

	if err := t.CreateDir(ctx, ""); err != nil {
		return nil, errs.New(errs.KindIO, "archive.Create", "", err)
	}
	h := header{ArchiveVersion: Version}
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, errs.New(errs.KindDeserialize, "archive.Create", "", err)
	}
	raw = append(raw, '\n')
	if err := t.WriteFileAtomic(ctx, headerFile, raw); err != nil {
		return nil, errs.New(errs.KindIO, "archive.Create", "", err)
	}
	blocks, err := blockdir.Create(ctx, t.Sub("d"), codec.NewSnappyCodec())
	if err != nil {
		return nil, err
	}
	logger.Info("created archive")
	return &Archive{t: t, blocks: blocks, log: logger}, nil
}

// Open opens an existing archive at t, validating its header.
func Open(ctx context.Context, t transport.Transport, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "archive")

	raw, err := t.ReadAll(ctx, headerFile)
	if err != nil {
		if transport.IsNotExist(err) {
			return nil, errs.New(errs.KindNotAnArchive, "archive.Open", "", err)
		}
		return nil, errs.New(errs.KindIO, "archive.Open", "", err)
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, errs.New(errs.KindNotAnArchive, "archive.Open", "", err)
	}
	if h.ArchiveVersion != Version {
		return nil, errs.New(errs.KindUnsupportedArchiveVersion, "archive.Open", h.ArchiveVersion, nil)
	}
	blocks := blockdir.New(t.Sub("d"), codec.NewSnappyCodec())
	return &Archive{t: t, blocks: blocks, log: logger}, nil
}

// Transport returns the archive's root transport.
func (a *Archive) Transport() transport.Transport { return a.t }

// BlockDir returns the archive's block store.
func (a *Archive) BlockDir() *blockdir.BlockDir { return a.blocks }

// Logger returns the archive's scoped logger.
func (a *Archive) Logger() *slog.Logger { return a.log }

// ListBandIDs returns every band ID present in the archive, in
// ascending order.
func (a *Archive) ListBandIDs(ctx context.Context) ([]band.ID, error) {
	entries, err := a.t.List(ctx, "")
	if err != nil {
		if transport.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.KindIO, "archive.ListBandIDs", "", err)
	}
	var ids []band.ID
	for _, e := range entries {
		if !e.IsDir || len(e.Name) == 0 || e.Name[0] != 'b' {
			continue
		}
		id, err := band.ParseID(e.Name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids, nil
}

// LastBandID returns the most recent band ID, regardless of whether it
// is complete.
func (a *Archive) LastBandID(ctx context.Context) (band.ID, bool, error) {
	ids, err := a.ListBandIDs(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	return ids[len(ids)-1], true, nil
}

// OpenBand opens the band with the given id.
func (a *Archive) OpenBand(ctx context.Context, id band.ID) (*band.Band, error) {
	return band.Open(ctx, a.t, id)
}

// CreateBand creates and opens a new top-level band, one past the
// current last band (or b0000 if the archive is empty).
func (a *Archive) CreateBand(ctx context.Context, startUnixTime int64) (*band.Band, error) {
	last, ok, err := a.LastBandID(ctx)
	if err != nil {
		return nil, err
	}
	var next band.ID
	if !ok {
		next = band.ID{0}
	} else {
		next = band.Next(last)
	}
	return band.Create(ctx, a.t, next, startUnixTime)
}

// LastCompleteBand returns the most recent closed band, if any.
func (a *Archive) LastCompleteBand(ctx context.Context) (*band.Band, bool, error) {
	ids, err := a.ListBandIDs(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		b, err := band.Open(ctx, a.t, ids[i])
		if err != nil {
			continue
		}
		closed, err := b.IsClosed(ctx)
		if err != nil {
			return nil, false, err
		}
		if closed {
			return b, true, nil
		}
	}
	return nil, false, nil
}

// ResolveBandID resolves a CLI-supplied band identifier (a literal ID
// string, or "" for the latest complete band) into a concrete band.ID.
func (a *Archive) ResolveBandID(ctx context.Context, literal string) (band.ID, error) {
	if literal != "" {
		return band.ParseID(literal)
	}
	b, ok, err := a.LastCompleteBand(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.KindArchiveEmpty, "archive.ResolveBandID", "", nil)
	}
	return b.ID(), nil
}

// IterStitchedIndexHunks returns a lazily-evaluated, apath-ordered
// iterator over the complete tree as of band id. A closed band is read
// from its own index alone; an open (interrupted) band is continued
// from its predecessors for every apath past its last committed entry.
func (a *Archive) IterStitchedIndexHunks(ctx context.Context, id band.ID) (stitch.EntryIter, error) {
	return stitch.New(ctx, stitchArchive{a}, id)
}

// stitchArchive adapts Archive to stitch.Archive without exposing the
// stitch package's narrower interface on Archive's own API.
type stitchArchive struct{ a *Archive }

func (s stitchArchive) OpenBand(ctx context.Context, id band.ID) (*band.Band, error) {
	return s.a.OpenBand(ctx, id)
}

func (s stitchArchive) PreviousBandID(ctx context.Context, id band.ID) (band.ID, bool, error) {
	ids, err := s.a.ListBandIDs(ctx)
	if err != nil {
		return nil, false, err
	}
	var prev band.ID
	found := false
	for _, candidate := range ids {
		if candidate.Compare(id) >= 0 {
			break
		}
		prev = candidate
		found = true
	}
	return prev, found, nil
}

// ReferencedBlocks returns the set of block hashes referenced by the
// committed index hunks of every band in bandIDs. Each band's own index
// is read directly, not stitched: an open (interrupted) band still
// contributes whatever hunks it committed before the interruption, so
// blocks those hunks reference stay protected from garbage collection.
func (a *Archive) ReferencedBlocks(ctx context.Context, bandIDs []band.ID) (map[hash.BlockHash]struct{}, error) {
	refs := make(map[hash.BlockHash]struct{})
	for _, id := range bandIDs {
		b, err := a.OpenBand(ctx, id)
		if err != nil {
			return nil, err
		}
		hunkCount, err := b.CountIndexHunks(ctx)
		if err != nil {
			return nil, err
		}
		r := index.NewReader(b.Transport(), codec.NewSnappyCodec(), hunkCount)
		for {
			e, ok, err := r.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			for _, addr := range e.Addrs {
				refs[addr.Hash] = struct{}{}
			}
		}
	}
	return refs, nil
}

// Validate checks archive-wide structural invariants plus every stored
// block's integrity.
func (a *Archive) Validate(ctx context.Context) (ValidateStats, error) {
	var stats ValidateStats
	blockSizes, err := a.blocks.Validate(ctx, &stats.ValidateStats)
	if err != nil {
		return stats, err
	}
	ids, err := a.ListBandIDs(ctx)
	if err != nil {
		return stats, err
	}
	stats.BandCount = len(ids)

	referenced, err := a.ReferencedBlocks(ctx, ids)
	if err != nil {
		return stats, err
	}
	for h := range blockSizes {
		if _, ok := referenced[h]; !ok {
			stats.UnreferencedBlocks++
		}
	}
	for h := range referenced {
		if _, ok := blockSizes[h]; !ok {
			stats.MissingReferencedBlocks++
		}
	}
	return stats, nil
}
