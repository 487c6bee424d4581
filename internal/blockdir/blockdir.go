// Package blockdir implements Conserve's content-addressed block store:
// every unique (uncompressed) byte sequence written to an archive is
// stored exactly once, named by its hash.BlockHash, compressed with a
// single fixed codec, and fanned out into subdirectories to keep any
// one directory from growing unmanageably large.
//
// It follows the familiar shape of a content-addressed object store —
// temp-file-then-rename writes, a hex fan-out directory layout, a read
// path that decompresses before returning to the caller — generalized
// from a 2-hex-character, zlib-compressed, type-tagged object store to
// this block store's 3-hex-character, Snappy-compressed, untyped form.
package blockdir

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/hash"
	"github.com/fenilsonani/conserve/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Address locates a byte range within a stored block's uncompressed
// content, letting many small files share one block.
type Address struct {
	Hash  hash.BlockHash
	Start uint64
	Len   uint64
}

// Stats accumulates counters across one or more StoreOrDeduplicate
// calls, for a backup's summary statistics.
type Stats struct {
	WrittenBlocks      int64
	DeduplicatedBlocks int64
	UncompressedBytes  int64
	CompressedBytes    int64
}

// ValidateStats accumulates counters produced by Validate. A block
// that fails to read off the transport counts against IOErrors, while
// a block that reads but
// fails to decompress or whose decompressed content does not hash to
// its filename (the "hash equals the filename" check) counts against
// BlockErrors — the latter is actual content corruption, the former is
// a transport-layer failure.
type ValidateStats struct {
	BlockCount  int64
	IOErrors    int64
	BlockErrors int64
}

// BlockDir is the block store rooted at a transport.
type BlockDir struct {
	t     transport.Transport
	codec codec.Codec
}

// New wraps an existing block directory.
func New(t transport.Transport, c codec.Codec) *BlockDir {
	return &BlockDir{t: t, codec: c}
}

// Create initializes a new, empty block directory.
func Create(ctx context.Context, t transport.Transport, c codec.Codec) (*BlockDir, error) {
	if err := t.CreateDir(ctx, ""); err != nil {
		return nil, errs.New(errs.KindIO, "blockdir.Create", "", err)
	}
	return New(t, c), nil
}

func blockPath(h hash.BlockHash) string {
	return fmt.Sprintf("%s/%s", h.FanOut(), h)
}

// Contains reports whether a block with the given hash is already
// stored.
func (b *BlockDir) Contains(ctx context.Context, h hash.BlockHash) (bool, error) {
	ok, err := b.t.Exists(ctx, blockPath(h))
	if err != nil {
		return false, errs.New(errs.KindIO, "blockdir.Contains", string(h), err)
	}
	return ok, nil
}

// StoreOrDeduplicate computes data's hash, and writes it to the block
// store unless a block with that hash already exists. It returns the
// hash either way.
func (b *BlockDir) StoreOrDeduplicate(ctx context.Context, data []byte, stats *Stats) (hash.BlockHash, error) {
	h := hash.Compute(data)
	exists, err := b.Contains(ctx, h)
	if err != nil {
		return "", err
	}
	if exists {
		if stats != nil {
			stats.DeduplicatedBlocks++
		}
		return h, nil
	}
	compressed := b.codec.Compress(nil, data)
	if err := b.t.WriteFileAtomic(ctx, blockPath(h), compressed); err != nil {
		return "", errs.New(errs.KindIO, "blockdir.StoreOrDeduplicate", string(h), err)
	}
	if stats != nil {
		stats.WrittenBlocks++
		stats.UncompressedBytes += int64(len(data))
		stats.CompressedBytes += int64(len(compressed))
	}
	return h, nil
}

// Get reads and decompresses the block addr.Hash refers to, returning
// the slice of its content addr describes.
func (b *BlockDir) Get(ctx context.Context, addr Address) ([]byte, error) {
	compressed, err := b.t.ReadAll(ctx, blockPath(addr.Hash))
	if err != nil {
		if transport.IsNotExist(err) {
			return nil, errs.New(errs.KindBlockCorrupt, "blockdir.Get", string(addr.Hash), err)
		}
		return nil, errs.New(errs.KindIO, "blockdir.Get", string(addr.Hash), err)
	}
	data, err := b.codec.Decompress(nil, compressed)
	if err != nil {
		return nil, errs.New(errs.KindCompression, "blockdir.Get", string(addr.Hash), err)
	}
	end := addr.Start + addr.Len
	if end > uint64(len(data)) {
		return nil, errs.New(errs.KindBlockCorrupt, "blockdir.Get", string(addr.Hash),
			fmt.Errorf("address range [%d,%d) exceeds block length %d", addr.Start, end, len(data)))
	}
	return data[addr.Start:end], nil
}

// CompressedSize returns the on-disk (compressed) size of a stored
// block.
func (b *BlockDir) CompressedSize(ctx context.Context, h hash.BlockHash) (uint64, error) {
	data, err := b.t.ReadAll(ctx, blockPath(h))
	if err != nil {
		return 0, errs.New(errs.KindIO, "blockdir.CompressedSize", string(h), err)
	}
	return uint64(len(data)), nil
}

// DeleteBlock removes a stored block. Used only by garbage collection.
func (b *BlockDir) DeleteBlock(ctx context.Context, h hash.BlockHash) error {
	if err := b.t.Delete(ctx, blockPath(h)); err != nil {
		return errs.New(errs.KindIO, "blockdir.DeleteBlock", string(h), err)
	}
	return nil
}

// BlockNames lists every block hash currently stored, walking the
// fan-out subdirectories. It is not ordered.
func (b *BlockDir) BlockNames(ctx context.Context) ([]hash.BlockHash, error) {
	fanouts, err := b.t.List(ctx, "")
	if err != nil {
		if transport.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.KindIO, "blockdir.BlockNames", "", err)
	}
	var names []hash.BlockHash
	for _, fo := range fanouts {
		if !fo.IsDir {
			continue
		}
		entries, err := b.t.List(ctx, fo.Name)
		if err != nil {
			return nil, errs.New(errs.KindIO, "blockdir.BlockNames", fo.Name, err)
		}
		for _, e := range entries {
			if e.IsDir {
				continue
			}
			h := hash.BlockHash(e.Name)
			if !h.Valid() {
				continue
			}
			names = append(names, h)
		}
	}
	return names, nil
}

// Validate reads and decompresses every stored block to verify it is
// not corrupt, fanning the work out across GOMAXPROCS workers, and
// returns each valid block's uncompressed length keyed by hash so
// callers (referenced-block accounting, garbage collection) do not have
// to re-read every block themselves.
func (b *BlockDir) Validate(ctx context.Context, stats *ValidateStats) (map[hash.BlockHash]uint64, error) {
	names, err := b.BlockNames(ctx)
	if err != nil {
		return nil, err
	}
	type result struct {
		h   hash.BlockHash
		len uint64
	}
	results := make([]result, len(names))
	var ioErrors, blockErrors int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))
	for i, h := range names {
		i, h := i, h
		g.Go(func() error {
			compressed, err := b.t.ReadAll(ctx, blockPath(h))
			if err != nil {
				atomic.AddInt64(&ioErrors, 1)
				return nil
			}
			data, err := b.codec.Decompress(nil, compressed)
			if err != nil {
				atomic.AddInt64(&blockErrors, 1)
				return nil
			}
			if hash.Compute(data) != h {
				atomic.AddInt64(&blockErrors, 1)
				return nil
			}
			results[i] = result{h: h, len: uint64(len(data))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.New(errs.KindIO, "blockdir.Validate", "", err)
	}

	sizes := make(map[hash.BlockHash]uint64, len(names))
	for _, r := range results {
		if r.h == "" {
			continue
		}
		sizes[r.h] = r.len
		if stats != nil {
			stats.BlockCount++
		}
	}
	if stats != nil {
		stats.IOErrors += ioErrors
		stats.BlockErrors += blockErrors
	}
	return sizes, nil
}
