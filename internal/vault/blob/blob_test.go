package blob_test

import (
	"context"
	"testing"

	"github.com/quollsec/strongbox/internal/vault/blob"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s blob.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "obj-1", []byte("sealed bytes")))

	got, err := s.Get(ctx, "obj-1")
	require.NoError(t, err)
	require.Equal(t, []byte("sealed bytes"), got)

	// Overwrite replaces the previous content.
	require.NoError(t, s.Put(ctx, "obj-1", []byte("v2")))
	got, err = s.Get(ctx, "obj-1")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	// Delete is idempotent.
	require.NoError(t, s.Delete(ctx, "obj-1"))
	require.NoError(t, s.Delete(ctx, "obj-1"))

	_, err = s.Get(ctx, "obj-1")
	require.ErrorIs(t, err, blob.ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	testStore(t, blob.NewMemory())
}

func TestFSStore(t *testing.T) {
	t.Parallel()

	s, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)
}

func TestFSRejectsPathEscapes(t *testing.T) {
	t.Parallel()

	s, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../x", "a/b", `a\b`} {
		require.Error(t, s.Put(context.Background(), id, []byte("x")), "id %q", id)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := blob.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "obj", []byte{1, 2, 3}))
	got, err := s.Get(ctx, "obj")
	require.NoError(t, err)

	got[0] = 0xFF
	again, err := s.Get(ctx, "obj")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, again)
}
