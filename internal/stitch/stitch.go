// Package stitch reconstructs a complete, apath-ordered view of a tree
// from an incomplete (interrupted) band plus however many of its
// predecessors are needed to cover the subtrees that band never got to.
//
// A complete band's own index already lists every entry in the tree as
// of that backup; an incomplete band's index only covers entries
// written before the backup was interrupted. StitchedIndex is a pull-
// based state machine: it never buffers more than the current band's
// trailing edge in memory, and it recurses into the previous band only
// lazily, the first time the current band's own entries run out.
package stitch

import (
	"context"

	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/index"
)

// Archive is the narrow slice of archive.Archive this package needs, so
// it does not import the archive package (which itself depends on
// stitch) and create a cycle.
type Archive interface {
	OpenBand(ctx context.Context, id band.ID) (*band.Band, error)
	PreviousBandID(ctx context.Context, id band.ID) (band.ID, bool, error)
}

// EntryIter is a pull-based iterator over index.Entry values in apath
// order.
type EntryIter interface {
	Next(ctx context.Context) (index.Entry, bool, error)
}

type stitchedIndex struct {
	a Archive

	primary   *index.Reader
	secondary EntryIter
	lastPath  apath.Apath
	haveLast  bool
	bandID    band.ID
	closed    bool
}

// New returns an EntryIter over the complete tree as of band id.
func New(ctx context.Context, a Archive, id band.ID) (EntryIter, error) {
	b, err := a.OpenBand(ctx, id)
	if err != nil {
		return nil, err
	}
	closed, err := b.IsClosed(ctx)
	if err != nil {
		return nil, err
	}
	hunkCount, err := b.CountIndexHunks(ctx)
	if err != nil {
		return nil, err
	}
	r := index.NewReader(b.Transport(), codec.NewSnappyCodec(), hunkCount)
	return &stitchedIndex{a: a, primary: r, bandID: id, closed: closed}, nil
}

func (s *stitchedIndex) Next(ctx context.Context) (index.Entry, bool, error) {
	if e, ok, err := s.primary.Next(ctx); ok || err != nil {
		if ok {
			s.lastPath = e.Apath
			s.haveLast = true
		}
		return e, ok, err
	}
	if s.closed {
		// A closed band's own index is already the complete tree as of
		// that backup; there is nothing to stitch in from a predecessor.
		return index.Entry{}, false, nil
	}
	if s.secondary == nil {
		if err := s.openSecondary(ctx); err != nil {
			return index.Entry{}, false, err
		}
	}
	if s.secondary == nil {
		return index.Entry{}, false, nil
	}
	for {
		e, ok, err := s.secondary.Next(ctx)
		if err != nil || !ok {
			return index.Entry{}, false, err
		}
		if s.haveLast && !apath.Less(s.lastPath, e.Apath) {
			continue // already covered by the primary band's own entries
		}
		s.lastPath = e.Apath
		s.haveLast = true
		return e, true, nil
	}
}

func (s *stitchedIndex) openSecondary(ctx context.Context) error {
	prevID, ok, err := s.a.PreviousBandID(ctx, s.bandID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	sub, err := New(ctx, s.a, prevID)
	if err != nil {
		return err
	}
	s.secondary = sub
	return nil
}
