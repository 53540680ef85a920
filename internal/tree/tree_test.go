package tree

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/arcscope/arcscope/internal/h5"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// newTestSources builds an in-memory disk:
//
//	/data/run/a.tif
//	/data/run/b.tif
//	/data/run/notes.txt
//	/data/run/.hidden.tif
//	/data/run/sub/c.png
//	/data/other/d.tif
func newTestSources(t *testing.T) (*Sources, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	for _, name := range []string{
		"/data/run/a.tif",
		"/data/run/b.tif",
		"/data/run/notes.txt",
		"/data/run/.hidden.tif",
		"/data/other/d.tif",
	} {
		require.NoError(t, util.WriteFile(fs, name, []byte("x"), 0o644))
	}
	require.NoError(t, util.WriteFile(fs, "/data/run/sub/c.png", pngBytes(t), 0o644))
	return NewSources(fs), fs
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(10*y + x)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type recordingPurger struct {
	purged   []Address
	prefixes []string
}

func (p *recordingPurger) Purge(k Key) error {
	p.purged = append(p.purged, k.Address())
	return nil
}

func (p *recordingPurger) PurgePrefix(prefix string) error {
	p.prefixes = append(p.prefixes, prefix)
	return nil
}

func newTestTree(t *testing.T) (*Tree, *recordingPurger, billy.Filesystem) {
	t.Helper()
	src, fs := newTestSources(t)
	p := &recordingPurger{}
	return New(NewRoot("/proj", src), WithPurger(p)), p, fs
}

func TestAddress_Identity(t *testing.T) {
	src, _ := newTestSources(t)
	a := NewLeaf(PathAddress("/data/run/a.tif"), src)
	b := NewLeaf(PathAddress("/data/run/../run/a.tif"), src)

	assert.True(t, Equal(a, b))
	assert.Equal(t, a.FileName(""), b.FileName(""))
	assert.Equal(t, a.FileName("fit1"), b.FileName("fit1"))
	assert.NotEqual(t, a.FileName(""), a.FileName("fit1"))

	// usable as a map key across instances
	seen := map[Address]bool{a.Address(): true}
	assert.True(t, seen[b.Address()])
}

func TestAddress_FileNameNeverCollides(t *testing.T) {
	addrs := []Address{
		PathAddress("/data/scan.h5"),
		H5Address("/data/scan.h5", "/"),
		PathAddress("/a/b_c"),
		PathAddress("/a_b/c"),
		PathAddress("/a/b~c"),
		PathAddress("/a/b/c"),
		PathAddress("/a/b=c"),
		H5Address("/a", "/b=c"),
		H5Address("/a=", "/bc"),
		ProjectAddress("/proj"),
	}
	seen := map[string]Address{}
	for _, a := range addrs {
		name := a.FileName("")
		if prev, dup := seen[name]; dup {
			t.Fatalf("FileName collision %q for %v and %v", name, prev, a)
		}
		seen[name] = a
		assert.Regexp(t, `^[A-Za-z0-9._~=@%-]+$`, name)
	}
}

func TestAddress_FileNameReadable(t *testing.T) {
	assert.Equal(t, "p~data~run_1~a.tif", PathAddress("/data/run_1/a.tif").FileName(""))
	assert.Equal(t, "h~d~s.h5=~entry~f0", H5Address("/d/s.h5", "entry/f0").FileName(""))
	assert.Equal(t, "p~x%20y@fit%3A1", PathAddress("/x y").FileName("fit:1"))
	assert.Equal(t, "project", ProjectAddress("/anything").FileName(""))
}

func TestAddress_Within(t *testing.T) {
	data := PathAddress("/data")
	scan := H5Address("/data/scan.h5", "/")
	tests := []struct {
		a, b Address
		want bool
	}{
		{data, data, true},
		{PathAddress("/data/run/a.tif"), data, true},
		{H5Address("/data/scan.h5", "/entry"), data, true},
		{PathAddress("/data2/a.tif"), data, false},
		{PathAddress("/"), data, false},
		{H5Address("/data", "/x"), data, false},
		{data, PathAddress("/"), true},
		{H5Address("/data/scan.h5", "/entry/f0"), scan, true},
		{H5Address("/data/scan2.h5", "/entry"), scan, false},
		{PathAddress("/data/scan.h5"), scan, false},
		{H5Address("/data/scan.h5", "/entry2"), H5Address("/data/scan.h5", "/entry"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Within(tt.b), "%s within %s", tt.a, tt.b)
	}
	assert.Equal(t, []string{"p~data~", "h~data~"}, data.DescendantPrefixes())
	assert.Equal(t, []string{"h~data~scan.h5=~"}, scan.DescendantPrefixes())
	assert.Empty(t, ProjectAddress("/proj").DescendantPrefixes())
}

func TestUnescapeName(t *testing.T) {
	for _, s := range []string{"fit 2024-01-01T10:00", "a/b", "plain", "100%"} {
		enc := PathAddress("/x").FileName(s)
		sub := enc[len("p~x@"):]
		got, err := UnescapeName(sub)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := UnescapeName("%4")
	assert.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("/data/scan.h5::/entry/data")
	require.NoError(t, err)
	assert.Equal(t, H5Address("/data/scan.h5", "/entry/data"), a)
	assert.Equal(t, "/data/scan.h5::/entry/data", a.String())

	a, err = ParseAddress("/data/run/")
	require.NoError(t, err)
	assert.Equal(t, PathAddress("/data/run"), a)

	_, err = ParseAddress("")
	assert.Error(t, err)
}

func TestFolder_ExpandLexicographic(t *testing.T) {
	tr, _, _ := newTestTree(t)

	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	run := k.(*Folder)
	assert.False(t, run.Expanded())

	folders, leaves, err := run.Children(false)
	require.NoError(t, err)
	assert.Empty(t, folders)
	assert.Empty(t, leaves)

	folders, leaves, err = run.Children(true)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	require.Len(t, leaves, 2)
	assert.Equal(t, "sub", folders[0].Name())
	assert.Equal(t, "a.tif", leaves[0].Name())
	assert.Equal(t, 0, leaves[0].Index())
	assert.Equal(t, "b.tif", leaves[1].Name())
	assert.Equal(t, 1, leaves[1].Index())
	assert.Same(t, run, leaves[0].Parent())
}

func TestScenario_RemoveRenumbers(t *testing.T) {
	tr, _, _ := newTestTree(t)

	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	run := k.(*Folder)
	_, leaves, err := run.Children(true)
	require.NoError(t, err)
	require.Len(t, leaves, 2)

	require.NoError(t, tr.RemoveEntry(leaves[0]))

	_, leaves, err = run.Children(true)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, "b.tif", leaves[0].Name())
	assert.Equal(t, 0, leaves[0].Index())
}

func TestRemoveEntry_Idempotent(t *testing.T) {
	tr, purger, _ := newTestTree(t)
	var events []Event
	tr.Subscribe(func(e Event) { events = append(events, e) })

	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)

	require.NoError(t, tr.RemoveEntry(k))
	require.NoError(t, tr.RemoveEntry(k))

	assert.False(t, tr.Contains(k))
	assert.Len(t, purger.purged, 1)
	require.Len(t, events, 2)
	assert.Equal(t, EventAdded, events[0].Op)
	assert.Equal(t, EventRemoved, events[1].Op)
	assert.Nil(t, k.Parent())
}

func TestRemoveEntry_PurgesDescendants(t *testing.T) {
	tr, purger, _ := newTestTree(t)

	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	failed := tr.Expand(k.(*Folder), -1)
	require.Empty(t, failed)

	require.NoError(t, tr.RemoveEntry(k))
	assert.ElementsMatch(t, []Address{
		PathAddress("/data/run"),
		PathAddress("/data/run/sub"),
		PathAddress("/data/run/sub/c.png"),
		PathAddress("/data/run/a.tif"),
		PathAddress("/data/run/b.tif"),
	}, purger.purged)
}

func TestRemoveEntry_DuplicateAddress(t *testing.T) {
	tr, purger, _ := newTestTree(t)

	data, err := tr.AddRootEntry(PathAddress("/data"))
	require.NoError(t, err)
	require.Empty(t, tr.Expand(data.(*Folder), -1))
	top, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	require.Empty(t, tr.Expand(top.(*Folder), -1))
	nested := data.(*Folder).Child(PathAddress("/data/run"))
	require.NotNil(t, nested)
	require.NotSame(t, top, nested)

	require.NoError(t, tr.RemoveEntry(top))
	folders, _, err := tr.Root().Children(false)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, PathAddress("/data"), folders[0].Address())
	assert.Same(t, nested, data.(*Folder).Child(PathAddress("/data/run")))
	assert.True(t, tr.Contains(NewLeaf(PathAddress("/data/run/sub/c.png"), nil)))
	// everything removed is still loaded below /data
	assert.Empty(t, purger.purged)
	assert.Empty(t, purger.prefixes)

	require.NoError(t, tr.RemoveEntry(nested))
	assert.Nil(t, data.(*Folder).Child(PathAddress("/data/run")))
	assert.Contains(t, purger.purged, PathAddress("/data/run/sub/c.png"))
	assert.Equal(t, PathAddress("/data/run").DescendantPrefixes(), purger.prefixes)
}

func TestRemoveEntry_PurgesUnloadedDescendants(t *testing.T) {
	tests := []struct {
		name   string
		unload func(t *testing.T, tr *Tree, f *Folder, fs billy.Filesystem)
	}{
		{"reset", func(t *testing.T, _ *Tree, f *Folder, _ billy.Filesystem) {
			f.Reset()
		}},
		{"vanished on refresh", func(t *testing.T, tr *Tree, _ *Folder, fs billy.Filesystem) {
			require.NoError(t, util.RemoveAll(fs, "/data/run/sub"))
			require.True(t, tr.Refresh("/data/run"))
		}},
		{"never expanded", func(*testing.T, *Tree, *Folder, billy.Filesystem) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, purger, fs := newTestTree(t)
			k, err := tr.AddRootEntry(PathAddress("/data/run"))
			require.NoError(t, err)
			run := k.(*Folder)
			if tt.name != "never expanded" {
				require.Empty(t, tr.Expand(run, -1))
			}
			tt.unload(t, tr, run, fs)

			require.NoError(t, tr.RemoveEntry(k))
			assert.NotContains(t, purger.purged, PathAddress("/data/run/sub/c.png"))
			assert.Equal(t, []string{"p~data~run~", "h~data~run~"}, purger.prefixes)
		})
	}
}

func TestRemoveEntry_Root(t *testing.T) {
	tr, _, _ := newTestTree(t)
	assert.ErrorIs(t, tr.RemoveEntry(tr.Root()), ErrRoot)
}

func TestAddRootEntry_EventsAndDuplicates(t *testing.T) {
	tr, _, _ := newTestTree(t)
	var events []Event
	tr.Subscribe(func(e Event) { events = append(events, e) })

	a, err := tr.AddRootEntry(PathAddress("/data/run/a.tif"))
	require.NoError(t, err)
	assert.Equal(t, KindLeaf, a.Kind())

	again, err := tr.AddRootEntry(PathAddress("/data/run/a.tif"))
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Len(t, events, 1)

	_, err = tr.AddRootEntry(PathAddress("/data/run/notes.txt"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = tr.AddRootEntry(PathAddress("/data/missing"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Len(t, events, 1)
}

func TestContains_ByAddress(t *testing.T) {
	tr, _, _ := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	tr.Expand(k.(*Folder), -1)

	stranger := NewLeaf(PathAddress("/data/run/sub/c.png"), tr.Root().Sources())
	assert.True(t, tr.Contains(stranger))
	assert.False(t, tr.Contains(NewLeaf(PathAddress("/data/other/d.tif"), nil)))
	assert.Equal(t, PathAddress("/data/run/sub"), tr.Find(stranger.Address()).Parent().Address())
}

func TestExpand_FailureIsContained(t *testing.T) {
	tr, _, fs := newTestTree(t)
	var invalidated []Key
	tr.Subscribe(func(e Event) {
		if e.Op == EventInvalidated {
			invalidated = append(invalidated, e.Key)
		}
	})

	run, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	other, err := tr.AddRootEntry(PathAddress("/data/other"))
	require.NoError(t, err)

	require.NoError(t, util.RemoveAll(fs, "/data/run"))

	failed := tr.Expand(tr.Root(), -1)
	require.Len(t, failed, 1)
	assert.Equal(t, run.Address(), failed[0].Address())
	assert.True(t, run.Invalid())
	assert.False(t, other.Invalid())

	_, leaves, err := other.(*Folder).Children(false)
	require.NoError(t, err)
	assert.Len(t, leaves, 1)
	assert.Len(t, invalidated, 1)

	_, _, err = run.(*Folder).Children(true)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestValidate_Prune(t *testing.T) {
	tr, purger, fs := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	tr.Expand(k.(*Folder), -1)

	require.NoError(t, fs.Remove("/data/run/a.tif"))

	bad, err := tr.Validate(false)
	require.NoError(t, err)
	require.Len(t, bad, 1)
	assert.True(t, bad[0].Invalid())
	assert.True(t, tr.Contains(bad[0]))

	bad, err = tr.Validate(true)
	require.NoError(t, err)
	require.Len(t, bad, 1)
	assert.False(t, tr.Contains(bad[0]))
	assert.Contains(t, purger.purged, PathAddress("/data/run/a.tif"))

	_, leaves, err := k.(*Folder).Children(false)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, 0, leaves[0].Index())
}

func TestRefresh(t *testing.T) {
	tr, _, fs := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	run := k.(*Folder)
	require.Empty(t, tr.Expand(run, -1))
	folders, leaves, err := run.Children(false)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	require.Len(t, leaves, 2)
	sub := folders[0]
	var events []Event
	tr.Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, util.WriteFile(fs, "/data/run/c.tif", []byte("x"), 0o644))
	require.NoError(t, fs.Remove("/data/run/a.tif"))
	assert.True(t, tr.Refresh("/data/run"))
	assert.False(t, tr.Refresh("/data/elsewhere"))
	require.Len(t, events, 1)
	assert.Equal(t, EventInvalidated, events[0].Op)

	// the expanded subfolder survives with its children
	folders, now, err := run.Children(false)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Same(t, sub, folders[0])
	assert.True(t, sub.Expanded())
	assert.Len(t, sub.Leaves(), 1)

	require.Len(t, now, 2)
	assert.Same(t, leaves[1], now[0])
	assert.Equal(t, 0, now[0].Index())
	assert.Equal(t, "c.tif", now[1].Name())
	assert.Equal(t, 1, now[1].Index())
	assert.Same(t, run, now[1].Parent())
	assert.Nil(t, leaves[0].Parent())
	assert.Equal(t, -1, leaves[0].Index())

	require.NoError(t, util.RemoveAll(fs, "/data/run"))
	assert.True(t, tr.Refresh("/data/run"))
	assert.True(t, run.Invalid())
	assert.Len(t, run.Leaves(), 2)
}

func TestGuard_DetachReattach(t *testing.T) {
	tr, _, _ := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	tr.Expand(tr.Root(), -1)

	before := map[Address]Address{}
	require.NoError(t, tr.Walk(func(k Key, _ int) error {
		if p := k.Parent(); p != nil {
			before[k.Address()] = p.Address()
		}
		return nil
	}))
	require.NotEmpty(t, before)

	func() {
		g := Detach(tr.Root())
		defer g.Release()
		require.NoError(t, tr.Walk(func(k Key, _ int) error {
			assert.Nil(t, k.Parent(), "parent of %s", k.Address())
			return nil
		}))
	}()

	after := map[Address]Address{}
	require.NoError(t, tr.Walk(func(k Key, _ int) error {
		if p := k.Parent(); p != nil {
			after[k.Address()] = p.Address()
		}
		return nil
	}))
	assert.Equal(t, before, after)
	assert.Same(t, tr.Root(), k.Parent())
}

func TestGuard_SubtreeKeepsOuterParent(t *testing.T) {
	tr, _, _ := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	run := k.(*Folder)
	tr.Expand(run, -1)

	g := Detach(run)
	assert.Nil(t, run.Parent())
	g.Release()
	g.Release()
	assert.Same(t, tr.Root(), run.Parent())

	g = Detach(run)
	g.Keep()
	g.Release()
	assert.Nil(t, run.Parent())
}

func TestGuard_ReleasesOnPanic(t *testing.T) {
	tr, _, _ := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)

	assert.Panics(t, func() {
		g := Detach(tr.Root())
		defer g.Release()
		panic("serializer exploded")
	})
	assert.Same(t, tr.Root(), k.Parent())
}

func TestLeafData_Path(t *testing.T) {
	tr, _, _ := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run/sub/c.png"))
	require.NoError(t, err)

	m, err := k.(*Leaf).LeafData()
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, mat.NewDense(2, 3, []float64{0, 1, 2, 10, 11, 12})))

	bad, err := tr.AddRootEntry(PathAddress("/data/run/a.tif"))
	require.NoError(t, err)
	_, err = bad.(*Leaf).LeafData()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSegments(t *testing.T) {
	tr, _, _ := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	tr.Expand(k.(*Folder), -1)

	c := tr.Find(PathAddress("/data/run/sub/c.png"))
	require.NotNil(t, c)
	assert.Equal(t, []string{"p~data~run", "sub", "c.png"}, Segments(c))
	assert.Empty(t, Segments(tr.Root()))
}

func TestDump(t *testing.T) {
	tr, _, _ := newTestTree(t)
	k, err := tr.AddRootEntry(PathAddress("/data/run"))
	require.NoError(t, err)
	tr.Expand(k.(*Folder), 0)

	d := Dump(tr.Root())
	folders := d["folders"].([]any)
	require.Len(t, folders, 1)
	run := folders[0].(map[string]any)
	assert.Equal(t, "run", run["name"])
	leaves := run["leaves"].([]any)
	require.Len(t, leaves, 2)
	assert.Equal(t, int64(1), leaves[1].(map[string]any)["index"])
}

func TestH5Backend(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "scan.h5")
	c, err := h5.Create(name)
	require.NoError(t, err)
	frame := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	require.NoError(t, c.WriteMatrix("/entry/frames/f1", frame))
	require.NoError(t, c.WriteMatrix("/entry/frames/f0", frame))
	require.NoError(t, c.WriteBytes("/entry/meta", []byte("m")))
	require.NoError(t, c.WriteMatrix("/entry/point/image", frame))
	require.NoError(t, c.SetFlag("/entry/point", h5.LeafAttr))
	require.NoError(t, c.Close())

	src := NewSources(nil)
	tr := New(NewRoot(filepath.Join(dir, "proj"), src))

	k, err := tr.AddRootEntry(PathAddress(dir))
	require.NoError(t, err)
	folders, leaves, err := k.(*Folder).Children(true)
	require.NoError(t, err)
	assert.Empty(t, leaves)
	require.Len(t, folders, 1)
	scan := folders[0]
	assert.Equal(t, H5Address(name, "/"), scan.Address())

	folders, _, err = scan.Children(true)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	entry := folders[0]

	folders, leaves, err = entry.Children(true)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	require.Len(t, leaves, 1)
	assert.Equal(t, "point", leaves[0].Name())

	m, err := leaves[0].LeafData()
	require.NoError(t, err)
	assert.True(t, mat.Equal(frame, m))

	_, leaves, err = folders[0].Children(true)
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	assert.Equal(t, "f0", leaves[0].Name())
	assert.True(t, leaves[1].IsValid())
	assert.True(t, scan.IsValid())
	assert.False(t, NewLeaf(H5Address(name, "/entry/meta"), src).IsValid())
	assert.False(t, NewFolder(H5Address(filepath.Join(dir, "gone.h5"), "/"), src).IsValid())

	direct, err := tr.AddRootEntry(H5Address(name, "/entry/frames/f1"))
	require.NoError(t, err)
	assert.Equal(t, KindLeaf, direct.Kind())
}

func TestH5Backend_MarkedRootIsFolder(t *testing.T) {
	name := filepath.Join(t.TempDir(), "point.h5")
	c, err := h5.Create(name)
	require.NoError(t, err)
	require.NoError(t, c.WriteMatrix("/image", mat.NewDense(1, 1, []float64{1})))
	require.NoError(t, c.SetFlag("/", h5.LeafAttr))
	require.NoError(t, c.Close())

	src := NewSources(nil)
	tr := New(NewRoot(filepath.Join(t.TempDir(), "proj"), src))

	k, err := tr.AddRootEntry(H5Address(name, "/"))
	require.NoError(t, err)
	assert.Equal(t, KindFolder, k.Kind())
	assert.True(t, k.IsValid())
	assert.False(t, NewLeaf(H5Address(name, "/"), src).IsValid())

	bad, err := tr.Validate(false)
	require.NoError(t, err)
	assert.Empty(t, bad)

	viaPath, err := tr.AddRootEntry(PathAddress(name))
	require.NoError(t, err)
	assert.Same(t, k, viaPath)
}
