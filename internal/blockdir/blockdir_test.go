package blockdir

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/fenilsonani/conserve/internal/codec"
	"github.com/fenilsonani/conserve/internal/hash"
	"github.com/fenilsonani/conserve/internal/transport"
	"github.com/stretchr/testify/require"
)

func newTestBlockDir(t *testing.T) *BlockDir {
	t.Helper()
	ctx := context.Background()
	bd, err := Create(ctx, transport.NewMemory(), codec.NewSnappyCodec())
	require.NoError(t, err)
	return bd
}

func TestStoreOrDeduplicate(t *testing.T) {
	ctx := context.Background()
	bd := newTestBlockDir(t)
	var stats Stats

	h1, err := bd.StoreOrDeduplicate(ctx, []byte("hello!"), &stats)
	require.NoError(t, err)
	require.Equal(t, hash.BlockHash("66ad1939a9289aa9f1f1d9ad7bcee694293c7623affb5979bd3f844ab4adcf2145b117b7811b3cee31e130efd760e9685f208c2b2fb1d67e28262168013ba63c"), h1)
	require.EqualValues(t, 1, stats.WrittenBlocks)
	require.EqualValues(t, 0, stats.DeduplicatedBlocks)

	h2, err := bd.StoreOrDeduplicate(ctx, []byte("hello!"), &stats)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.EqualValues(t, 1, stats.WrittenBlocks)
	require.EqualValues(t, 1, stats.DeduplicatedBlocks)
}

func TestGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	bd := newTestBlockDir(t)
	content := []byte("one two three four five")
	h, err := bd.StoreOrDeduplicate(ctx, content, nil)
	require.NoError(t, err)

	got, err := bd.Get(ctx, Address{Hash: h, Start: 4, Len: 3})
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got)
}

func TestGetAddressOutOfRange(t *testing.T) {
	ctx := context.Background()
	bd := newTestBlockDir(t)
	h, err := bd.StoreOrDeduplicate(ctx, []byte("short"), nil)
	require.NoError(t, err)

	_, err = bd.Get(ctx, Address{Hash: h, Start: 0, Len: 100})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	bd := newTestBlockDir(t)
	_, err := bd.StoreOrDeduplicate(ctx, []byte("alpha"), nil)
	require.NoError(t, err)
	_, err = bd.StoreOrDeduplicate(ctx, []byte("beta"), nil)
	require.NoError(t, err)

	var stats ValidateStats
	sizes, err := bd.Validate(ctx, &stats)
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	require.EqualValues(t, 2, stats.BlockCount)
	require.EqualValues(t, 0, stats.IOErrors)
	require.EqualValues(t, 0, stats.BlockErrors)
}

// TestValidateDetectsHashMismatch writes a block whose decompressed
// content does not hash to its filename (as if it had been corrupted
// or tampered with on disk) and checks Validate reports it via
// BlockErrors.
func TestValidateDetectsHashMismatch(t *testing.T) {
	ctx := context.Background()
	bd := newTestBlockDir(t)
	h, err := bd.StoreOrDeduplicate(ctx, []byte("alpha"), nil)
	require.NoError(t, err)

	tampered := bd.codec.Compress(nil, []byte("not alpha at all"))
	require.NoError(t, bd.t.WriteFileAtomic(ctx, blockPath(h), tampered))

	var stats ValidateStats
	sizes, err := bd.Validate(ctx, &stats)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.BlockCount)
	require.EqualValues(t, 0, stats.IOErrors)
	require.EqualValues(t, 1, stats.BlockErrors)
	require.Empty(t, sizes)
}

// failReadTransport wraps a Transport and fails ReadAll for one exact
// path, leaving List/Exists untouched, so a block can be enumerated by
// BlockNames yet fail to read during Validate — a transport-level
// failure distinct from a hash mismatch.
type failReadTransport struct {
	transport.Transport
	failPath string
}

func (f failReadTransport) ReadAll(ctx context.Context, p string) ([]byte, error) {
	if p == f.failPath {
		return nil, fmt.Errorf("read %q: %w", p, os.ErrPermission)
	}
	return f.Transport.ReadAll(ctx, p)
}

func (f failReadTransport) Sub(p string) transport.Transport {
	return failReadTransport{Transport: f.Transport.Sub(p), failPath: f.failPath}
}

// TestValidateDetectsReadFailure simulates a transport-level read
// failure and checks Validate counts it under IOErrors rather than
// BlockErrors, keeping the two error classes distinct.
func TestValidateDetectsReadFailure(t *testing.T) {
	ctx := context.Background()
	mem := transport.NewMemory()
	bd, err := Create(ctx, mem, codec.NewSnappyCodec())
	require.NoError(t, err)
	h, err := bd.StoreOrDeduplicate(ctx, []byte("alpha"), nil)
	require.NoError(t, err)

	failing := New(failReadTransport{Transport: mem, failPath: blockPath(h)}, codec.NewSnappyCodec())

	var stats ValidateStats
	sizes, err := failing.Validate(ctx, &stats)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.BlockCount)
	require.EqualValues(t, 1, stats.IOErrors)
	require.EqualValues(t, 0, stats.BlockErrors)
	require.Empty(t, sizes)
}

func TestBlockNamesEmpty(t *testing.T) {
	ctx := context.Background()
	bd := newTestBlockDir(t)
	names, err := bd.BlockNames(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}
