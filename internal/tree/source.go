package tree

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png" // register decoder
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arcscope/arcscope/internal/h5"
	"github.com/bmatcuk/doublestar/v4"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	_ "golang.org/x/image/tiff" // register decoder
	"gonum.org/v1/gonum/mat"
)

// Allow-lists matched case-insensitively against the base name.
var (
	DefaultImagePatterns     = []string{"*.{tif,tiff,png}"}
	DefaultContainerPatterns = []string{"*.{h5,hdf5,nxs}"}
)

// Sources holds everything keys need to reach their physical backend.
// The path backend goes through FS; HDF5 containers are opened by OS path.
type Sources struct {
	FS                billy.Filesystem
	ImagePatterns     []string
	ContainerPatterns []string
}

// NewSources returns Sources over fsys with the default allow-lists.
// A nil fsys means the host filesystem.
func NewSources(fsys billy.Filesystem) *Sources {
	if fsys == nil {
		fsys = osfs.New("/")
	}
	return &Sources{
		FS:                fsys,
		ImagePatterns:     DefaultImagePatterns,
		ContainerPatterns: DefaultContainerPatterns,
	}
}

func matchAny(patterns []string, name string) bool {
	name = strings.ToLower(path.Base(filepath.ToSlash(name)))
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// IsImage reports whether name passes the image allow-list.
func (s *Sources) IsImage(name string) bool { return matchAny(s.ImagePatterns, name) }

// IsContainer reports whether name passes the HDF5 allow-list.
func (s *Sources) IsContainer(name string) bool { return matchAny(s.ContainerPatterns, name) }

// classify decides what kind of key an address becomes, exactly as
// enumeration would. A container file on the path backend is turned into
// the address of its root group.
func (s *Sources) classify(a Address) (Kind, Address, error) {
	switch a.Backend {
	case BackendPath:
		fi, err := s.FS.Stat(a.Path)
		if err != nil {
			return 0, a, invalid(a, err)
		}
		switch {
		case fi.IsDir():
			return KindFolder, a, nil
		case s.IsImage(a.Path):
			return KindLeaf, a, nil
		case s.IsContainer(a.Path):
			return KindFolder, H5Address(a.Path, "/"), nil
		}
		return 0, a, fmt.Errorf("%s: %w", a, ErrUnsupported)
	case BackendH5:
		e, err := s.statH5(a)
		if err != nil {
			return 0, a, err
		}
		if kind := h5Kind(a.Internal, e); kind != 0 {
			return kind, a, nil
		}
		return 0, a, fmt.Errorf("%s: %w", a, ErrUnsupported)
	default:
		panic(fmt.Sprintf("tree: classify %v: %v", a.Backend, ErrBackendMismatch))
	}
}

// h5Kind decides the key kind of a container object, or 0 when it is
// not browsable. The root group is always a folder, as it is when the
// container is reached from its directory, even if it carries the leaf
// marker.
func h5Kind(internal string, e h5.Entry) Kind {
	switch {
	case e.Kind == h5.EntryGroup && (!e.Leaf || internal == "/"):
		return KindFolder
	case e.Kind == h5.EntryGroup || e.IsMatrix():
		return KindLeaf
	}
	return 0
}

func (s *Sources) statH5(a Address) (h5.Entry, error) {
	c, err := h5.Open(a.Path)
	if err != nil {
		return h5.Entry{}, invalid(a, err)
	}
	defer func() { _ = c.Close() }()
	e, err := c.Stat(a.Internal)
	if err != nil {
		return h5.Entry{}, invalid(a, err)
	}
	return e, nil
}

// enumerate lists the children of a folder address in lexicographic order.
func (s *Sources) enumerate(a Address) (folders, leaves []Address, err error) {
	switch a.Backend {
	case BackendPath:
		return s.enumeratePath(a)
	case BackendH5:
		return s.enumerateH5(a)
	default:
		panic(fmt.Sprintf("tree: enumerate %v: %v", a.Backend, ErrBackendMismatch))
	}
}

func (s *Sources) enumeratePath(a Address) (folders, leaves []Address, err error) {
	infos, err := s.FS.ReadDir(a.Path)
	if err != nil {
		return nil, nil, invalid(a, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	for _, fi := range infos {
		name := fi.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := s.FS.Join(a.Path, name)
		if fi.Mode()&os.ModeSymlink != 0 {
			target, serr := s.FS.Stat(full)
			if serr != nil {
				continue
			}
			fi = target
		}
		switch {
		case fi.IsDir():
			folders = append(folders, PathAddress(full))
		case s.IsImage(name):
			leaves = append(leaves, PathAddress(full))
		case s.IsContainer(name):
			folders = append(folders, H5Address(full, "/"))
		}
	}
	return folders, leaves, nil
}

func (s *Sources) enumerateH5(a Address) (folders, leaves []Address, err error) {
	c, err := h5.Open(a.Path)
	if err != nil {
		return nil, nil, invalid(a, err)
	}
	defer func() { _ = c.Close() }()

	entries, err := c.List(a.Internal)
	if err != nil {
		return nil, nil, invalid(a, err)
	}
	for _, e := range entries {
		child := H5Address(a.Path, path.Join(a.Internal, e.Name))
		switch h5Kind(child.Internal, e) {
		case KindFolder:
			folders = append(folders, child)
		case KindLeaf:
			leaves = append(leaves, child)
		}
	}
	return folders, leaves, nil
}

// valid re-checks the backend without touching tree state.
func (s *Sources) valid(a Address, k Kind) bool {
	switch a.Backend {
	case BackendProject:
		return true
	case BackendPath:
		fi, err := s.FS.Stat(a.Path)
		if err != nil {
			return false
		}
		if k == KindFolder {
			return fi.IsDir()
		}
		return !fi.IsDir() && s.IsImage(a.Path)
	case BackendH5:
		e, err := s.statH5(a)
		if err != nil {
			return false
		}
		return h5Kind(a.Internal, e) == k
	}
	return false
}

// readLeaf loads the raw 2-D image behind a leaf address.
func (s *Sources) readLeaf(a Address) (*mat.Dense, error) {
	switch a.Backend {
	case BackendPath:
		f, err := s.FS.Open(a.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", a, ErrNoData, err)
		}
		defer func() { _ = f.Close() }()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", a, ErrNoData, err)
		}
		return imageMatrix(a, img)
	case BackendH5:
		c, err := h5.Open(a.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", a, ErrNoData, err)
		}
		defer func() { _ = c.Close() }()
		e, err := c.Stat(a.Internal)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", a, ErrNoData, err)
		}
		p := a.Internal
		if e.Kind == h5.EntryGroup {
			p = path.Join(p, h5.ImageName)
		}
		m, err := c.ReadMatrix(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", a, ErrNoData, err)
		}
		return m, nil
	default:
		panic(fmt.Sprintf("tree: read leaf %v: %v", a.Backend, ErrBackendMismatch))
	}
}

// imageMatrix converts a decoded image to grey intensities, row = y.
func imageMatrix(a Address, img image.Image) (*mat.Dense, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%s: %w: empty image", a, ErrNoData)
	}
	m := mat.NewDense(b.Dy(), b.Dx(), nil)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v float64
			switch im := img.(type) {
			case *image.Gray16:
				v = float64(im.Gray16At(x, y).Y)
			case *image.Gray:
				v = float64(im.GrayAt(x, y).Y)
			default:
				v = float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			}
			m.Set(y-b.Min.Y, x-b.Min.X, v)
		}
	}
	return m, nil
}
