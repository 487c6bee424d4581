// Package codec wraps the single, fixed block compression format used
// throughout an archive: raw (unframed) Snappy, via
// github.com/golang/snappy. Every block written to an archive uses the
// same codec, so a reader never has to guess which compressor produced
// a given file.
package codec

import (
	"fmt"

	"github.com/golang/snappy"
)

// Codec compresses and decompresses block content. Implementations may
// reuse the dst buffer passed in when its length is large enough, the
// same contract golang/snappy's Encode/Decode already provide.
type Codec interface {
	// Compress returns the compressed form of src, written over the
	// start of dst when len(dst) is large enough and into a fresh
	// slice otherwise (dst may be nil). dst's prior content is not kept.
	Compress(dst, src []byte) []byte
	// Decompress returns the decompressed form of src, reusing dst's
	// backing array when len(dst) is large enough.
	Decompress(dst, src []byte) ([]byte, error)
}

type snappyCodec struct{}

// NewSnappyCodec returns the raw-Snappy Codec used by Conserve archives.
func NewSnappyCodec() Codec { return snappyCodec{} }

func (snappyCodec) Compress(dst, src []byte) []byte {
	return snappy.Encode(dst, src)
}

func (snappyCodec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}
