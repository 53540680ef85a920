package fs

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/arcscope/arcscope/internal/artifact"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/winfsp/cgofuse/fuse"
	"gonum.org/v1/gonum/mat"
)

// newTestFS loads /data/run with two images and an unexpanded sub folder,
// and stores one polar image for a.tif.
func newTestFS(t *testing.T) *ProjectFS {
	t.Helper()
	disk := memfs.New()
	for _, name := range []string{"/data/run/a.tif", "/data/run/b.tif", "/data/run/sub/c.tif"} {
		if err := util.WriteFile(disk, name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tr := tree.New(tree.NewRoot("/proj", tree.NewSources(disk)))
	k, err := tr.AddRootEntry(tree.PathAddress("/data/run"))
	if err != nil {
		t.Fatal(err)
	}
	if failed := tr.Expand(k.(*tree.Folder), 0); len(failed) != 0 {
		t.Fatalf("expand failed: %v", failed)
	}

	arts := artifact.NewSet(memfs.New())
	a := tr.Find(tree.PathAddress("/data/run/a.tif"))
	if a == nil {
		t.Fatal("a.tif not loaded")
	}
	if err := arts.PolarImages.Set(a, mat.NewDense(1, 2, []float64{1, 2})); err != nil {
		t.Fatal(err)
	}
	return NewProjectFS(tr, arts)
}

func readAll(t *testing.T, fs *ProjectFS, path string) string {
	t.Helper()
	var st fuse.Stat_t
	if rc := fs.Getattr(path, &st, 0); rc != 0 {
		t.Fatalf("Getattr(%s) = %d", path, rc)
	}
	buf := make([]byte, st.Size+16)
	n := fs.Read(path, buf, 0, 0)
	if n < 0 {
		t.Fatalf("Read(%s) = %d", path, n)
	}
	if int64(n) != st.Size {
		t.Errorf("Read(%s) returned %d bytes, Getattr said %d", path, n, st.Size)
	}
	return string(buf[:n])
}

func list(t *testing.T, fs *ProjectFS, path string) []string {
	t.Helper()
	var names []string
	rc := fs.Readdir(path, func(name string, _ *fuse.Stat_t, _ int64) bool {
		if name != "." && name != ".." {
			names = append(names, name)
		}
		return true
	}, 0, 0)
	if rc != 0 {
		t.Fatalf("Readdir(%s) = %d", path, rc)
	}
	sort.Strings(names)
	return names
}

func TestGetattr(t *testing.T) {
	fs := newTestFS(t)
	tests := []struct {
		path string
		rc   int
		dir  bool
	}{
		{"/", 0, true},
		{"/tree", 0, true},
		{"/tree/p~data~run", 0, true},
		{"/tree/p~data~run/sub", 0, true},
		{"/tree/p~data~run/a.tif", 0, false},
		{"/tree.json", 0, false},
		{"/artifacts", 0, true},
		{"/artifacts/polar_images", 0, true},
		{"/artifacts/polar_images/p~data~run~a.tif.arcs", 0, false},
		{"/tree/run", -fuse.ENOENT, false},
		{"/tree/p~data~run/sub/c.tif", -fuse.ENOENT, false}, // never expanded
		{"/tree/p~data~run/a.tif/x", -fuse.ENOENT, false},
		{"/artifacts/nope", -fuse.ENOENT, false},
		{"/artifacts/fits/p~data~run~a.tif.json", -fuse.ENOENT, false},
		{"/tree.json/x", -fuse.ENOENT, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var st fuse.Stat_t
			rc := fs.Getattr(tt.path, &st, 0)
			if rc != tt.rc {
				t.Fatalf("Getattr(%s) = %d, want %d", tt.path, rc, tt.rc)
			}
			if rc != 0 {
				return
			}
			if got := st.Mode&fuse.S_IFDIR != 0; got != tt.dir {
				t.Errorf("dir = %v, want %v", got, tt.dir)
			}
			if st.Mode&0o222 != 0 {
				t.Errorf("mode %o is writable", st.Mode)
			}
		})
	}
}

func TestReaddir(t *testing.T) {
	fs := newTestFS(t)
	tests := []struct {
		path string
		want []string
	}{
		{"/", []string{"artifacts", "tree", "tree.json"}},
		{"/tree", []string{"p~data~run"}},
		{"/tree/p~data~run", []string{"a.tif", "b.tif", "sub"}},
		{"/tree/p~data~run/sub", nil},
		{"/artifacts/polar_images", []string{"p~data~run~a.tif.arcs"}},
		{"/artifacts/fits", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := list(t, fs, tt.path)
			if len(got) != len(tt.want) {
				t.Fatalf("Readdir(%s) = %v, want %v", tt.path, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Readdir(%s)[%d] = %q, want %q", tt.path, i, got[i], tt.want[i])
				}
			}
		})
	}

	kinds := list(t, fs, "/artifacts")
	if len(kinds) != len(artifact.Kinds) {
		t.Errorf("/artifacts lists %v", kinds)
	}

	noop := func(string, *fuse.Stat_t, int64) bool { return true }
	if rc := fs.Readdir("/tree.json", noop, 0, 0); rc != -fuse.ENOTDIR {
		t.Errorf("Readdir(file) = %d, want ENOTDIR", rc)
	}
	if rc := fs.Readdir("/missing", noop, 0, 0); rc != -fuse.ENOENT {
		t.Errorf("Readdir(missing) = %d, want ENOENT", rc)
	}
}

func TestRead_LeafAddress(t *testing.T) {
	fs := newTestFS(t)
	if got := readAll(t, fs, "/tree/p~data~run/b.tif"); got != "/data/run/b.tif\n" {
		t.Errorf("content = %q", got)
	}
}

func TestRead_Artifact(t *testing.T) {
	fs := newTestFS(t)
	got := readAll(t, fs, "/artifacts/polar_images/p~data~run~a.tif.arcs")
	m, err := artifact.MatrixCodec{}.Unmarshal([]byte(got))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !mat.Equal(m, mat.NewDense(1, 2, []float64{1, 2})) {
		t.Errorf("matrix = %v", mat.Formatted(m))
	}
}

func TestRead_Dump(t *testing.T) {
	fs := newTestFS(t)
	var dump map[string]any
	if err := json.Unmarshal([]byte(readAll(t, fs, "/tree.json")), &dump); err != nil {
		t.Fatalf("tree.json: %v", err)
	}
	if dump["kind"] != "folder" || dump["name"] != "project" {
		t.Errorf("root = %v/%v", dump["kind"], dump["name"])
	}
	folders, _ := dump["folders"].([]any)
	if len(folders) != 1 {
		t.Fatalf("folders = %v", folders)
	}
}

func TestRead_Offsets(t *testing.T) {
	fs := newTestFS(t)
	path := "/tree/p~data~run/a.tif"
	buf := make([]byte, 4)
	if n := fs.Read(path, buf, 5, 0); n != 4 || string(buf) != "/run" {
		t.Errorf("Read at 5 = %d %q", n, buf[:max(n, 0)])
	}
	if n := fs.Read(path, buf, 1000, 0); n != 0 {
		t.Errorf("Read past end = %d", n)
	}
	if n := fs.Read("/tree", buf, 0, 0); n != -fuse.EISDIR {
		t.Errorf("Read(dir) = %d, want EISDIR", n)
	}
	if n := fs.Read("/tree/nope", buf, 0, 0); n != -fuse.ENOENT {
		t.Errorf("Read(missing) = %d, want ENOENT", n)
	}
}

func TestOpen(t *testing.T) {
	fs := newTestFS(t)
	tests := []struct {
		path  string
		flags int
		rc    int
	}{
		{"/tree.json", fuse.O_RDONLY, 0},
		{"/tree/p~data~run/a.tif", fuse.O_RDONLY, 0},
		{"/tree/p~data~run", fuse.O_RDONLY, -fuse.EISDIR},
		{"/tree/missing", fuse.O_RDONLY, -fuse.ENOENT},
		{"/tree.json", fuse.O_WRONLY, -fuse.EROFS},
		{"/tree/p~data~run/a.tif", fuse.O_RDWR, -fuse.EROFS},
	}
	for _, tt := range tests {
		if rc, _ := fs.Open(tt.path, tt.flags); rc != tt.rc {
			t.Errorf("Open(%s, %d) = %d, want %d", tt.path, tt.flags, rc, tt.rc)
		}
	}
}

func TestTopLevelNamesStayDistinct(t *testing.T) {
	disk := memfs.New()
	for _, name := range []string{"/a/run/x.tif", "/b/run/y.tif"} {
		if err := util.WriteFile(disk, name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tr := tree.New(tree.NewRoot("/proj", tree.NewSources(disk)))
	for _, p := range []string{"/a/run", "/b/run"} {
		if _, err := tr.AddRootEntry(tree.PathAddress(p)); err != nil {
			t.Fatal(err)
		}
	}
	tr.Expand(tr.Root(), -1)
	fs := NewProjectFS(tr, artifact.NewSet(memfs.New()))

	got := list(t, fs, "/tree")
	want := []string{"p~a~run", "p~b~run"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("/tree = %v, want %v", got, want)
	}
	if got := list(t, fs, "/tree/p~b~run"); len(got) != 1 || got[0] != "y.tif" {
		t.Errorf("/tree/p~b~run = %v", got)
	}
}
