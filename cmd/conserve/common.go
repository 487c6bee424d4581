package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/backup"
	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/excludes"
	"github.com/fenilsonani/conserve/internal/index"
	"github.com/fenilsonani/conserve/internal/transport"
)

// openArchive opens an existing archive rooted at the given filesystem
// path.
func openArchive(ctx context.Context, path string) (*archive.Archive, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve archive path: %w", err)
	}
	return archive.Open(ctx, transport.NewLocal(abs), nil)
}

// newIndexReader returns an unstitched index.Reader over a closed
// band's own hunks, for commands that deliberately want the raw
// per-band index rather than a stitched reconstruction.
func newIndexReader(b *band.Band, hunkCount uint64) *index.Reader {
	return index.NewReader(b.Transport(), codec.NewSnappyCodec(), int(hunkCount))
}

// buildExcludes compiles the --exclude flag's patterns into an
// excludes.Set.
func buildExcludes(patterns []string) (*excludes.Set, error) {
	if len(patterns) == 0 {
		return excludes.Nothing(), nil
	}
	return excludes.NewSet(patterns)
}

// printingMonitor prints one line per copied/restored entry when
// --verbose is set, writing straight to stdout rather than through a
// separate progress-bar library.
type printingMonitor struct{ verbose bool }

func (m printingMonitor) Copy(e backup.LiveEntry) {}

func (m printingMonitor) CopyResult(e backup.LiveEntry, kind backup.DiffKind) {
	if !m.verbose {
		return
	}
	var tag string
	switch kind {
	case backup.DiffNew:
		tag = "+"
	case backup.DiffChanged:
		tag = "M"
	case backup.DiffUnchanged:
		tag = "."
	}
	fmt.Printf("%s %s\n", tag, e.Apath)
}

func (m printingMonitor) CopyError(e backup.LiveEntry, err error) {
	fmt.Printf("! %s: %v\n", e.Apath, err)
}
