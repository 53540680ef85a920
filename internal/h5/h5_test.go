package h5

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newContainer(t *testing.T) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "scan.h5")
	c, err := Create(name)
	require.NoError(t, err)

	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, c.WriteMatrix("/run/frames/f0", m))
	require.NoError(t, c.WriteMatrix("/run/frames/f1", m))
	require.NoError(t, c.WriteBytes("/run/notes", []byte("hello")))
	require.NoError(t, c.EnsureGroup("/run/sub"))
	require.NoError(t, c.SetFlag("/run/sub", LeafAttr))
	require.NoError(t, c.Close())
	return name
}

func TestList_SortedAndClassified(t *testing.T) {
	name := newContainer(t)
	require.True(t, IsContainer(name))

	c, err := Open(name)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	entries, err := c.List("/run")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "frames", entries[0].Name)
	assert.Equal(t, EntryGroup, entries[0].Kind)
	assert.False(t, entries[0].Leaf)

	assert.Equal(t, "notes", entries[1].Name)
	assert.Equal(t, EntryDataset, entries[1].Kind)
	assert.False(t, entries[1].IsMatrix())

	assert.Equal(t, "sub", entries[2].Name)
	assert.True(t, entries[2].Leaf)

	frames, err := c.List("run/frames")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, []uint{2, 3}, frames[0].Dims)
	assert.True(t, frames[0].IsMatrix())
}

func TestReadMatrix_RoundTrip(t *testing.T) {
	name := newContainer(t)
	c, err := Open(name)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	m, err := c.ReadMatrix("/run/frames/f1")
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})))

	_, err = c.ReadMatrix("/run/notes")
	assert.ErrorIs(t, err, ErrShape)

	_, err = c.ReadMatrix("/run/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	b, err := c.ReadBytes("/run/notes")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestStat(t *testing.T) {
	name := newContainer(t)
	c, err := Open(name)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	e, err := c.Stat("/")
	require.NoError(t, err)
	assert.Equal(t, EntryGroup, e.Kind)

	e, err = c.Stat("/run/sub")
	require.NoError(t, err)
	assert.True(t, e.Leaf)

	_, err = c.Stat("/run/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	name := newContainer(t)
	c, err := OpenRW(name)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.True(t, c.Exists("/run/frames/f0"))
	require.NoError(t, c.Delete("/run/frames/f0"))
	assert.False(t, c.Exists("/run/frames/f0"))
	require.NoError(t, c.Delete("/run/frames/f0"))
	assert.False(t, c.Exists("/nope/deeper"))
}

func TestWriteMatrix_Replaces(t *testing.T) {
	name := newContainer(t)
	c, err := OpenRW(name)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.WriteMatrix("/run/frames/f0", mat.NewDense(1, 1, []float64{42})))
	m, err := c.ReadMatrix("/run/frames/f0")
	require.NoError(t, err)
	assert.Equal(t, 42.0, m.At(0, 0))
}

func TestFlag(t *testing.T) {
	name := newContainer(t)
	c, err := OpenRW(name)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.False(t, c.Flag("/", ProjectAttr))
	require.NoError(t, c.SetFlag("/", ProjectAttr))
	require.NoError(t, c.SetFlag("/", ProjectAttr))
	assert.True(t, c.Flag("/", ProjectAttr))
	assert.False(t, c.Flag("/missing", LeafAttr))
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"":       "/",
		"/":      "/",
		"a/b":    "/a/b",
		"/a/b/":  "/a/b",
		"//a//b": "/a/b",
	}
	for in, want := range tests {
		assert.Equal(t, want, Clean(in), "Clean(%q)", in)
	}
}
