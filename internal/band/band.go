// Package band implements the unit of one backup run: a numbered Band
// directory holding a BANDHEAD (written when the band is opened), a
// BANDTAIL (written when it is closed), and an index of entries.
//
// The head/tail-file discipline follows the usual write-new-content,
// atomically-rename-into-place pattern for a single marker file (no
// check is made for a concurrent writer of the same band), generalized
// into a directory-scoped open/close
// lifecycle: BANDHEAD existing with no BANDTAIL means a backup is (or
// was) in progress; BANDTAIL existing means the band is complete and
// durable.
package band

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/fenilsonani/conserve/internal/transport"
)

// ID identifies a band, e.g. b0000 or a backup-of-a-backup b0000-0001.
// Each element is one generation's sequence number.
type ID []int

// ParseID parses a band directory name of the form "bNNNN[-MMMM...]".
func ParseID(s string) (ID, error) {
	if !strings.HasPrefix(s, "b") {
		return nil, errs.New(errs.KindInvalidInput, "band.ParseID", s, fmt.Errorf("missing 'b' prefix"))
	}
	parts := strings.Split(s[1:], "-")
	id := make(ID, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, errs.New(errs.KindInvalidInput, "band.ParseID", s, fmt.Errorf("bad segment %q", p))
		}
		id = append(id, n)
	}
	return id, nil
}

// String renders an ID back to its directory-name form.
func (id ID) String() string {
	segs := make([]string, len(id))
	for i, n := range id {
		segs[i] = fmt.Sprintf("%04d", n)
	}
	return "b" + strings.Join(segs, "-")
}

// Compare returns -1, 0, or 1 as id sorts before, equal to, or after
// other, comparing segment by segment and treating a shorter prefix as
// smaller.
func (id ID) Compare(other ID) int {
	for i := 0; i < len(id) || i < len(other); i++ {
		switch {
		case i >= len(id):
			return -1
		case i >= len(other):
			return 1
		case id[i] != other[i]:
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Next returns the ID of the first top-level band after id (id must be
// a single-segment top-level ID; Conserve only ever creates new
// top-level bands).
func Next(id ID) ID {
	if len(id) == 0 {
		return ID{0}
	}
	return ID{id[0] + 1}
}

// FormatVersion is the band format version written into every new
// band's head. Older heads may carry no version at all; those are
// accepted as the same generation.
const FormatVersion = "0.6.3"

// Head is the content of BANDHEAD, written when a band is opened.
type Head struct {
	StartUnixTime     int64   `json:"start_time"`
	BandFormatVersion *string `json:"band_format_version,omitempty"`
}

// Tail is the content of BANDTAIL, written when a band is closed.
type Tail struct {
	EndUnixTime    int64  `json:"end_time"`
	IndexHunkCount uint64 `json:"index_hunk_count"`
}

const (
	headFile = "BANDHEAD"
	tailFile = "BANDTAIL"
)

// Band is one band directory within an archive's transport.
type Band struct {
	t  transport.Transport
	id ID
}

func dirName(id ID) string { return id.String() }

// Create creates and opens a brand new band under root, writing its
// BANDHEAD.
func Create(ctx context.Context, root transport.Transport, id ID, startUnixTime int64) (*Band, error) {
	sub := root.Sub(dirName(id))
	if err := sub.CreateDir(ctx, ""); err != nil {
		return nil, errs.New(errs.KindIO, "band.Create", dirName(id), err)
	}
	version := FormatVersion
	head := Head{StartUnixTime: startUnixTime, BandFormatVersion: &version}
	raw, err := json.Marshal(head)
	if err != nil {
		return nil, errs.New(errs.KindDeserialize, "band.Create", dirName(id), err)
	}
	if err := sub.WriteFileAtomic(ctx, headFile, raw); err != nil {
		return nil, errs.New(errs.KindIO, "band.Create", dirName(id), err)
	}
	return &Band{t: sub, id: id}, nil
}

// Open opens an existing band, which may or may not yet be closed. The
// head's format version, when present, must be from the same 0.6
// generation as this implementation writes.
func Open(ctx context.Context, root transport.Transport, id ID) (*Band, error) {
	sub := root.Sub(dirName(id))
	ok, err := sub.Exists(ctx, headFile)
	if err != nil {
		return nil, errs.New(errs.KindIO, "band.Open", dirName(id), err)
	}
	if !ok {
		return nil, errs.New(errs.KindBandHeadMissing, "band.Open", dirName(id), nil)
	}
	b := &Band{t: sub, id: id}
	head, err := b.ReadHead(ctx)
	if err != nil {
		return nil, err
	}
	if v := head.BandFormatVersion; v != nil && !strings.HasPrefix(*v, "0.6") {
		return nil, errs.New(errs.KindUnsupportedArchiveVersion, "band.Open", dirName(id),
			fmt.Errorf("band format version %q", *v))
	}
	return b, nil
}

// ID returns the band's identifier.
func (b *Band) ID() ID { return b.id }

// Transport returns the transport rooted at this band's directory, for
// use by an index Writer/Reader.
func (b *Band) Transport() transport.Transport { return b.t }

// IsClosed reports whether BANDTAIL has been written.
func (b *Band) IsClosed(ctx context.Context) (bool, error) {
	ok, err := b.t.Exists(ctx, tailFile)
	if err != nil {
		return false, errs.New(errs.KindIO, "band.IsClosed", b.id.String(), err)
	}
	return ok, nil
}

// ReadTail reads and parses BANDTAIL. It is an error to call this
// before the band is closed.
func (b *Band) ReadTail(ctx context.Context) (Tail, error) {
	raw, err := b.t.ReadAll(ctx, tailFile)
	if err != nil {
		if transport.IsNotExist(err) {
			return Tail{}, errs.New(errs.KindBandIncomplete, "band.ReadTail", b.id.String(), err)
		}
		return Tail{}, errs.New(errs.KindIO, "band.ReadTail", b.id.String(), err)
	}
	var tail Tail
	if err := json.Unmarshal(raw, &tail); err != nil {
		return Tail{}, errs.New(errs.KindDeserialize, "band.ReadTail", b.id.String(), err)
	}
	return tail, nil
}

// ReadHead reads and parses BANDHEAD.
func (b *Band) ReadHead(ctx context.Context) (Head, error) {
	raw, err := b.t.ReadAll(ctx, headFile)
	if err != nil {
		return Head{}, errs.New(errs.KindIO, "band.ReadHead", b.id.String(), err)
	}
	var head Head
	if err := json.Unmarshal(raw, &head); err != nil {
		return Head{}, errs.New(errs.KindDeserialize, "band.ReadHead", b.id.String(), err)
	}
	return head, nil
}

// Close writes BANDTAIL, marking the band complete. hunkCount is the
// total number of index hunks the band's writer produced.
func (b *Band) Close(ctx context.Context, endUnixTime int64, hunkCount uint64) error {
	tail := Tail{EndUnixTime: endUnixTime, IndexHunkCount: hunkCount}
	raw, err := json.Marshal(tail)
	if err != nil {
		return errs.New(errs.KindDeserialize, "band.Close", b.id.String(), err)
	}
	if err := b.t.WriteFileAtomic(ctx, tailFile, raw); err != nil {
		return errs.New(errs.KindIO, "band.Close", b.id.String(), err)
	}
	return nil
}

// CountIndexHunks reports how many index hunks the band has committed.
// A closed band's tail records the count; an open (possibly
// interrupted) band has no tail, so the hunk files actually present
// under i/ are counted instead.
func (b *Band) CountIndexHunks(ctx context.Context) (int, error) {
	closed, err := b.IsClosed(ctx)
	if err != nil {
		return 0, err
	}
	if closed {
		tail, err := b.ReadTail(ctx)
		if err != nil {
			return 0, err
		}
		return int(tail.IndexHunkCount), nil
	}
	shards, err := b.t.List(ctx, "i")
	if err != nil {
		if transport.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.New(errs.KindIO, "band.CountIndexHunks", b.id.String(), err)
	}
	count := 0
	for _, shard := range shards {
		if !shard.IsDir {
			continue
		}
		files, err := b.t.List(ctx, "i/"+shard.Name)
		if err != nil {
			return 0, errs.New(errs.KindIO, "band.CountIndexHunks", b.id.String(), err)
		}
		count += len(files)
	}
	return count, nil
}

// Delete removes an entire band directory and its contents, including
// the directory entry itself, so a deleted band never lingers as an
// empty directory that a later ListBandIDs scan would mistake for a
// live band. Used only by garbage collection.
func Delete(ctx context.Context, root transport.Transport, id ID) error {
	if err := root.RemoveDirAll(ctx, dirName(id)); err != nil {
		return errs.New(errs.KindIO, "band.Delete", dirName(id), err)
	}
	return nil
}
