package backup

import (
	"context"

	"github.com/fenilsonani/conserve/internal/blockdir"
	"github.com/fenilsonani/conserve/internal/index"
)

// queuedFile is one small file waiting to be combined into a shared
// block.
type queuedFile struct {
	live LiveEntry
	data []byte
}

// fileCombiner batches files at or under SmallFileCap into blocks
// around TargetCombinedBlockSize, so a tree of many tiny files does not
// produce one block per file: pushFile queues an entry's bytes, and
// flush writes the queued bytes as one combined block, emits their
// index entries, and resets the queue. pushFile flushes on its own when
// the next file would overflow the target; the writer also flushes
// before any entry that must follow the queued files in apath order,
// and when the backup finishes.
type fileCombiner struct {
	queue    []queuedFile
	totalLen int
}

func newFileCombiner() *fileCombiner {
	return &fileCombiner{}
}

// pushFile queues data for live, flushing the combiner first if adding
// data to a non-empty queue would exceed TargetCombinedBlockSize.
func (c *fileCombiner) pushFile(ctx context.Context, w *writer, live LiveEntry, data []byte) error {
	if c.totalLen > 0 && c.totalLen+len(data) > TargetCombinedBlockSize {
		if err := c.flush(ctx, w); err != nil {
			return err
		}
	}
	c.queue = append(c.queue, queuedFile{live: live, data: data})
	c.totalLen += len(data)
	return nil
}

// flush writes every queued file's bytes as one combined block and
// emits an index entry per file. With a single queued file the
// combined block is just that file's bytes; it takes the same path.
func (c *fileCombiner) flush(ctx context.Context, w *writer) error {
	if len(c.queue) == 0 {
		return nil
	}
	combined := make([]byte, 0, c.totalLen)
	for _, qf := range c.queue {
		combined = append(combined, qf.data...)
	}
	h, err := w.a.BlockDir().StoreOrDeduplicate(ctx, combined, &w.stats.Stats)
	if err != nil {
		return err
	}
	offset := uint64(0)
	for _, qf := range c.queue {
		size := uint64(len(qf.data))
		addr := blockdir.Address{Hash: h, Start: offset, Len: size}
		offset += size
		if err := w.pushEntry(index.Entry{
			Apath: qf.live.Apath, Kind: index.KindFile,
			MTime: qf.live.Info.ModTime().Unix(), MTimeNanos: uint32(qf.live.Info.ModTime().Nanosecond()),
			Size: &size, Addrs: []blockdir.Address{addr},
		}); err != nil {
			return err
		}
	}
	c.queue = c.queue[:0]
	c.totalLen = 0
	return nil
}
