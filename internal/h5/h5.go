// Package h5 is the thin HDF5 layer used by the tree's container backend,
// the embedded artifact representation and project export.
//
// Every File is a scoped acquisition: open, do the work, Close. Nothing in
// the tree keeps a container open between operations.
package h5

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/hdf5"
)

// Attribute and dataset names understood by the project layer.
const (
	// LeafAttr marks a group that represents one image node.
	LeafAttr = "arcscope_leaf"
	// ProjectAttr on "/" marks a file written by a project export.
	ProjectAttr = "arcscope_project"
	// ImageName is the dataset holding the raw image inside a leaf group.
	ImageName = "image"
)

var (
	ErrNotFound = errors.New("h5: object not found")
	ErrShape    = errors.New("h5: unexpected dataset shape")
)

// EntryKind distinguishes the two object kinds we care about.
type EntryKind int

const (
	EntryGroup EntryKind = iota
	EntryDataset
)

// Entry describes one child object of a group.
type Entry struct {
	Name string
	Kind EntryKind
	// Leaf is set for groups carrying LeafAttr.
	Leaf bool
	// Dims is the dataset extent (nil for groups).
	Dims []uint
}

// IsMatrix reports whether the entry is a non-empty 2-D dataset.
func (e Entry) IsMatrix() bool {
	return e.Kind == EntryDataset && len(e.Dims) == 2 && e.Dims[0] > 0 && e.Dims[1] > 0
}

// File is an open HDF5 container.
type File struct {
	f    *hdf5.File
	path string
}

// Open opens an existing container read-only.
func Open(name string) (*File, error) {
	f, err := hdf5.OpenFile(name, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &File{f: f, path: name}, nil
}

// OpenRW opens an existing container for writing.
func OpenRW(name string) (*File, error) {
	f, err := hdf5.OpenFile(name, hdf5.F_ACC_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &File{f: f, path: name}, nil
}

// Create creates a container, truncating any existing file.
func Create(name string) (*File, error) {
	f, err := hdf5.CreateFile(name, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return &File{f: f, path: name}, nil
}

// IsContainer reports whether name is a readable HDF5 file.
func IsContainer(name string) bool {
	return hdf5.IsHDF5(name)
}

// Path returns the file name the container was opened with.
func (c *File) Path() string { return c.path }

// Close releases the underlying handle.
func (c *File) Close() error {
	return c.f.Close()
}

// Clean normalises an internal path to "/"-rooted form.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// Stat describes the object at p. The root group always exists.
func (c *File) Stat(p string) (Entry, error) {
	p = Clean(p)
	if p == "/" {
		return Entry{Name: "/", Kind: EntryGroup, Leaf: c.Flag("/", LeafAttr)}, nil
	}
	dir, base := path.Split(p)
	entries, err := c.List(dir)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Name == base {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%s:%s: %w", c.path, p, ErrNotFound)
}

// List returns the groups and datasets directly under group, sorted by name.
// Named datatypes and soft links to nowhere are skipped.
func (c *File) List(group string) ([]Entry, error) {
	group = Clean(group)
	g, err := c.f.OpenGroup(group)
	if err != nil {
		return nil, fmt.Errorf("%s:%s: %w", c.path, group, ErrNotFound)
	}
	defer func() { _ = g.Close() }()

	n, err := g.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("count %s:%s: %w", c.path, group, err)
	}
	entries := make([]Entry, 0, n)
	for i := uint(0); i < n; i++ {
		name, err := g.ObjectNameByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("name %d in %s: %w", i, group, err)
		}
		typ, err := g.ObjectTypeByIndex(i)
		if err != nil {
			return nil, fmt.Errorf("type of %s: %w", name, err)
		}
		full := path.Join(group, name)
		switch typ {
		case hdf5.H5G_GROUP:
			entries = append(entries, Entry{Name: name, Kind: EntryGroup, Leaf: c.Flag(full, LeafAttr)})
		case hdf5.H5G_DATASET:
			dims, err := c.dims(full)
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Name: name, Kind: EntryDataset, Dims: dims})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (c *File) dims(p string) ([]uint, error) {
	ds, err := c.f.OpenDataset(p)
	if err != nil {
		return nil, fmt.Errorf("%s:%s: %w", c.path, p, ErrNotFound)
	}
	defer func() { _ = ds.Close() }()
	space := ds.Space()
	defer func() { _ = space.Close() }()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, fmt.Errorf("extent of %s: %w", p, err)
	}
	return dims, nil
}

// ReadMatrix reads a 2-D dataset as float64 values.
func (c *File) ReadMatrix(p string) (*mat.Dense, error) {
	p = Clean(p)
	dims, err := c.dims(p)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 || dims[0] == 0 || dims[1] == 0 {
		return nil, fmt.Errorf("%s:%s has dims %v: %w", c.path, p, dims, ErrShape)
	}
	ds, err := c.f.OpenDataset(p)
	if err != nil {
		return nil, fmt.Errorf("%s:%s: %w", c.path, p, ErrNotFound)
	}
	defer func() { _ = ds.Close() }()

	data := make([]float64, dims[0]*dims[1])
	if err := ds.Read(&data); err != nil {
		return nil, fmt.Errorf("read %s:%s: %w", c.path, p, err)
	}
	return mat.NewDense(int(dims[0]), int(dims[1]), data), nil
}

// WriteMatrix stores m as a 2-D float64 dataset at p, replacing any
// existing object and creating missing parent groups.
func (c *File) WriteMatrix(p string, m mat.Matrix) error {
	p = Clean(p)
	r, cols := m.Dims()
	dense := mat.DenseCopyOf(m)
	data := dense.RawMatrix().Data
	return c.writeDataset(p, []uint{uint(r), uint(cols)}, hdf5.T_NATIVE_DOUBLE, &data)
}

// ReadBytes reads a 1-D uint8 dataset.
func (c *File) ReadBytes(p string) ([]byte, error) {
	p = Clean(p)
	dims, err := c.dims(p)
	if err != nil {
		return nil, err
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("%s:%s has dims %v: %w", c.path, p, dims, ErrShape)
	}
	if dims[0] == 0 {
		return []byte{}, nil
	}
	ds, err := c.f.OpenDataset(p)
	if err != nil {
		return nil, fmt.Errorf("%s:%s: %w", c.path, p, ErrNotFound)
	}
	defer func() { _ = ds.Close() }()

	data := make([]uint8, dims[0])
	if err := ds.Read(&data); err != nil {
		return nil, fmt.Errorf("read %s:%s: %w", c.path, p, err)
	}
	return data, nil
}

// WriteBytes stores b as a 1-D uint8 dataset at p.
func (c *File) WriteBytes(p string, b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("write %s: empty payload", p)
	}
	data := append([]uint8(nil), b...)
	return c.writeDataset(Clean(p), []uint{uint(len(data))}, hdf5.T_NATIVE_UINT8, &data)
}

func (c *File) writeDataset(p string, dims []uint, dtype *hdf5.Datatype, data any) error {
	if err := c.Delete(p); err != nil {
		return err
	}
	if err := c.EnsureGroup(path.Dir(p)); err != nil {
		return err
	}
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("dataspace for %s: %w", p, err)
	}
	defer func() { _ = space.Close() }()

	ds, err := c.f.CreateDataset(p, dtype, space)
	if err != nil {
		return fmt.Errorf("create dataset %s:%s: %w", c.path, p, err)
	}
	defer func() { _ = ds.Close() }()
	if err := ds.Write(data); err != nil {
		return fmt.Errorf("write %s:%s: %w", c.path, p, err)
	}
	return nil
}

// EnsureGroup creates p and any missing ancestors.
func (c *File) EnsureGroup(p string) error {
	p = Clean(p)
	if p == "/" {
		return nil
	}
	cur := "/"
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		parent, err := c.f.OpenGroup(cur)
		if err != nil {
			return fmt.Errorf("open group %s: %w", cur, err)
		}
		if !parent.LinkExists(part) {
			g, err := parent.CreateGroup(part)
			if err != nil {
				_ = parent.Close()
				return fmt.Errorf("create group %s: %w", path.Join(cur, part), err)
			}
			_ = g.Close()
		}
		_ = parent.Close()
		cur = path.Join(cur, part)
	}
	return nil
}

// Exists reports whether a link named by p is present.
func (c *File) Exists(p string) bool {
	p = Clean(p)
	if p == "/" {
		return true
	}
	dir, base := path.Split(p)
	if dir != "/" && !c.Exists(dir) {
		return false
	}
	g, err := c.f.OpenGroup(Clean(dir))
	if err != nil {
		return false
	}
	defer func() { _ = g.Close() }()
	return g.LinkExists(base)
}

// Delete unlinks the object at p. Deleting a missing object is a no-op.
func (c *File) Delete(p string) error {
	p = Clean(p)
	if p == "/" {
		return fmt.Errorf("delete %s: refusing to unlink root", c.path)
	}
	if !c.Exists(p) {
		return nil
	}
	dir, base := path.Split(p)
	g, err := c.f.OpenGroup(Clean(dir))
	if err != nil {
		return fmt.Errorf("open group %s: %w", dir, err)
	}
	defer func() { _ = g.Close() }()
	if err := unlink(g.ID(), base); err != nil {
		return fmt.Errorf("delete %s:%s: %w", c.path, p, err)
	}
	return nil
}

// SetFlag writes a scalar uint8 attribute with value 1 on group p.
func (c *File) SetFlag(p, name string) error {
	p = Clean(p)
	if c.Flag(p, name) {
		return nil
	}
	if err := c.EnsureGroup(p); err != nil {
		return err
	}
	g, err := c.f.OpenGroup(p)
	if err != nil {
		return fmt.Errorf("open group %s: %w", p, err)
	}
	defer func() { _ = g.Close() }()

	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return fmt.Errorf("scalar dataspace: %w", err)
	}
	defer func() { _ = space.Close() }()

	attr, err := g.CreateAttribute(name, hdf5.T_NATIVE_UINT8, space)
	if err != nil {
		return fmt.Errorf("create attribute %s on %s: %w", name, p, err)
	}
	defer func() { _ = attr.Close() }()
	v := uint8(1)
	if err := attr.Write(&v, hdf5.T_NATIVE_UINT8); err != nil {
		return fmt.Errorf("write attribute %s on %s: %w", name, p, err)
	}
	return nil
}

// Flag reports whether group p carries a non-zero attribute called name.
// Missing groups and attributes read as false.
func (c *File) Flag(p, name string) bool {
	g, err := c.f.OpenGroup(Clean(p))
	if err != nil {
		return false
	}
	defer func() { _ = g.Close() }()
	attr, err := g.OpenAttribute(name)
	if err != nil {
		return false
	}
	defer func() { _ = attr.Close() }()
	var v uint8
	if err := attr.Read(&v, hdf5.T_NATIVE_UINT8); err != nil {
		return false
	}
	return v != 0
}
