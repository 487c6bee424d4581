package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnappyRoundTrip(t *testing.T) {
	c := NewSnappyCodec()
	src := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	compressed := c.Compress(nil, src)
	require.NotEmpty(t, compressed)

	got, err := c.Decompress(nil, compressed)
	require.NoError(t, err)
	require.Equal(t, src, got)
}

func TestSnappyReusesBuffers(t *testing.T) {
	c := NewSnappyCodec()
	src := []byte("reusable buffer contents")
	scratch := make([]byte, 256)
	compressed := c.Compress(scratch, src)

	outScratch := make([]byte, 256)
	got, err := c.Decompress(outScratch, compressed)
	require.NoError(t, err)
	require.Equal(t, src, got)
}

func TestDecompressCorrupt(t *testing.T) {
	c := NewSnappyCodec()
	_, err := c.Decompress(nil, []byte("not a valid snappy stream"))
	require.Error(t, err)
}
