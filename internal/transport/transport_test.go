package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTransportRoundTrip(t *testing.T, tr Transport) {
	ctx := context.Background()
	require.NoError(t, tr.CreateDir(ctx, "a/b"))
	require.NoError(t, tr.WriteFileAtomic(ctx, "a/b/f.txt", []byte("hello")))

	ok, err := tr.Exists(ctx, "a/b/f.txt")
	require.NoError(t, err)
	require.True(t, ok)

	data, err := tr.ReadAll(ctx, "a/b/f.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	entries, err := tr.List(ctx, "a/b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "f.txt", entries[0].Name)

	require.NoError(t, tr.Delete(ctx, "a/b/f.txt"))
	ok, err = tr.Exists(ctx, "a/b/f.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalTransport(t *testing.T) {
	testTransportRoundTrip(t, NewLocal(t.TempDir()))
}

func TestMemoryTransport(t *testing.T) {
	testTransportRoundTrip(t, NewMemory())
}

func TestMemorySub(t *testing.T) {
	ctx := context.Background()
	root := NewMemory()
	sub := root.Sub("bands/b0000")
	require.NoError(t, sub.WriteFileAtomic(ctx, "BANDHEAD", []byte("{}")))

	data, err := root.ReadAll(ctx, "bands/b0000/BANDHEAD")
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), data)
}

func TestLocalListMissingDir(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir())
	_, err := l.List(ctx, "missing")
	require.Error(t, err)
	require.True(t, IsNotExist(err))
}

func testRemoveDirAllLeavesNoTrace(t *testing.T, tr Transport) {
	ctx := context.Background()
	require.NoError(t, tr.WriteFileAtomic(ctx, "b0000/i/00000/000000000", []byte("x")))
	require.NoError(t, tr.WriteFileAtomic(ctx, "b0000/BANDHEAD", []byte("{}")))
	require.NoError(t, tr.WriteFileAtomic(ctx, "b0001/BANDHEAD", []byte("{}")))

	require.NoError(t, tr.RemoveDirAll(ctx, "b0000"))

	entries, err := tr.List(ctx, "")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.NotContains(t, names, "b0000")
	require.Contains(t, names, "b0001")

	ok, err := tr.Exists(ctx, "b0000/BANDHEAD")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalRemoveDirAll(t *testing.T) {
	testRemoveDirAllLeavesNoTrace(t, NewLocal(t.TempDir()))
}

func TestMemoryRemoveDirAll(t *testing.T) {
	testRemoveDirAllLeavesNoTrace(t, NewMemory())
}

func TestLocalRemoveDirAllMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir())
	require.NoError(t, l.RemoveDirAll(ctx, "never-existed"))
}
