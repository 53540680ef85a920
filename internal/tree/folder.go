package tree

import (
	"fmt"
	"slices"
)

// Folder is an internal key. Its child lists are filled on demand, never
// during construction.
type Folder struct {
	node
	folders  []*Folder
	leaves   []*Leaf
	expanded bool
}

// NewFolder creates an unparented, unexpanded folder.
func NewFolder(a Address, src *Sources) *Folder {
	return &Folder{node: node{addr: a, src: src}}
}

// NewRoot creates the root folder of the project stored in dir. The root
// is never enumerated; its children are added explicitly.
func NewRoot(dir string, src *Sources) *Folder {
	f := NewFolder(ProjectAddress(dir), src)
	f.expanded = true
	return f
}

func (f *Folder) Kind() Kind { return KindFolder }

// IsRoot reports whether f is a project root.
func (f *Folder) IsRoot() bool { return f.addr.Backend == BackendProject }

func (f *Folder) IsValid() bool { return f.src.valid(f.addr, KindFolder) }

// Expanded reports whether the backend has been enumerated.
func (f *Folder) Expanded() bool { return f.expanded }

// SetExpanded is used when rebuilding a saved tree, so that a folder whose
// children were all removed is not enumerated again.
func (f *Folder) SetExpanded(v bool) { f.expanded = v }

// Sources returns the backend access used by this folder.
func (f *Folder) Sources() *Sources { return f.src }

// Children returns copies of the cached child lists. When both are empty,
// the folder was never expanded and expand is set, the backend is
// enumerated first. Enumeration failures wrap ErrInvalidKey.
func (f *Folder) Children(expand bool) ([]*Folder, []*Leaf, error) {
	if expand && !f.expanded && len(f.folders) == 0 && len(f.leaves) == 0 {
		if err := f.enumerate(); err != nil {
			return nil, nil, err
		}
	}
	return slices.Clone(f.folders), slices.Clone(f.leaves), nil
}

// Folders returns the cached folder children without touching the backend.
func (f *Folder) Folders() []*Folder { return slices.Clone(f.folders) }

// Leaves returns the cached leaf children without touching the backend.
func (f *Folder) Leaves() []*Leaf { return slices.Clone(f.leaves) }

func (f *Folder) enumerate() error {
	folders, leaves, err := f.src.enumerate(f.addr)
	if err != nil {
		return err
	}
	for _, a := range folders {
		f.Attach(NewFolder(a, f.src))
	}
	for _, a := range leaves {
		f.Attach(NewLeaf(a, f.src))
	}
	f.expanded = true
	return nil
}

// reload re-enumerates an expanded folder in place. Children still on the
// backend keep their key and loaded subtree; vanished ones are detached
// and returned, new ones are attached in enumeration order.
func (f *Folder) reload() ([]Key, error) {
	folders, leaves, err := f.src.enumerate(f.addr)
	if err != nil {
		return nil, err
	}
	keep := make(map[Address]Key, len(f.folders)+len(f.leaves))
	for _, c := range f.folders {
		keep[c.addr] = c
	}
	for _, l := range f.leaves {
		keep[l.addr] = l
	}

	var nextFolders []*Folder
	for _, a := range folders {
		c, ok := keep[a].(*Folder)
		if ok {
			delete(keep, a)
		} else {
			c = NewFolder(a, f.src)
			c.setParent(f)
		}
		nextFolders = append(nextFolders, c)
	}
	var nextLeaves []*Leaf
	for _, a := range leaves {
		l, ok := keep[a].(*Leaf)
		if ok {
			delete(keep, a)
		} else {
			l = NewLeaf(a, f.src)
			l.setParent(f)
		}
		l.index = len(nextLeaves)
		nextLeaves = append(nextLeaves, l)
	}

	var gone []Key
	for _, c := range f.folders {
		if keep[c.addr] == Key(c) {
			c.setParent(nil)
			gone = append(gone, c)
		}
	}
	for _, l := range f.leaves {
		if keep[l.addr] == Key(l) {
			l.setParent(nil)
			l.index = -1
			gone = append(gone, l)
		}
	}
	f.folders, f.leaves = nextFolders, nextLeaves
	f.invalid = false
	return gone, nil
}

// AddChild classifies a and appends the resulting key. When a child with
// the same address already exists it is returned with added == false.
func (f *Folder) AddChild(a Address) (k Key, added bool, err error) {
	kind, a, err := f.src.classify(a)
	if err != nil {
		return nil, false, err
	}
	if existing := f.child(a); existing != nil {
		return existing, false, nil
	}
	switch kind {
	case KindFolder:
		k = NewFolder(a, f.src)
	case KindLeaf:
		k = NewLeaf(a, f.src)
	default:
		return nil, false, fmt.Errorf("%s: %w", a, ErrUnsupported)
	}
	f.Attach(k)
	return k, true, nil
}

// Attach appends an already built key and points it at f. Duplicate
// addresses are ignored.
func (f *Folder) Attach(k Key) bool {
	if f.child(k.Address()) != nil {
		return false
	}
	switch c := k.(type) {
	case *Folder:
		f.folders = append(f.folders, c)
	case *Leaf:
		c.index = len(f.leaves)
		f.leaves = append(f.leaves, c)
	}
	k.setParent(f)
	return true
}

func (f *Folder) child(a Address) Key {
	for _, c := range f.folders {
		if c.addr == a {
			return c
		}
	}
	for _, l := range f.leaves {
		if l.addr == a {
			return l
		}
	}
	return nil
}

// Child returns the direct child with address a, or nil.
func (f *Folder) Child(a Address) Key { return f.child(a) }

// RemoveLeaf drops the leaf with l's address and renumbers the leaves
// after it. It reports whether anything was removed.
func (f *Folder) RemoveLeaf(l *Leaf) bool {
	i := slices.IndexFunc(f.leaves, func(c *Leaf) bool { return c.addr == l.addr })
	if i < 0 {
		return false
	}
	removed := f.leaves[i]
	f.leaves = slices.Delete(f.leaves, i, i+1)
	for j := i; j < len(f.leaves); j++ {
		f.leaves[j].index = j
	}
	removed.setParent(nil)
	removed.index = -1
	return true
}

// RemoveFolder drops the folder child with c's address.
func (f *Folder) RemoveFolder(c *Folder) bool {
	i := slices.IndexFunc(f.folders, func(x *Folder) bool { return x.addr == c.addr })
	if i < 0 {
		return false
	}
	removed := f.folders[i]
	f.folders = slices.Delete(f.folders, i, i+1)
	removed.setParent(nil)
	return true
}

// Remove dispatches on the key kind.
func (f *Folder) Remove(k Key) bool {
	switch c := k.(type) {
	case *Folder:
		return f.RemoveFolder(c)
	case *Leaf:
		return f.RemoveLeaf(c)
	}
	return false
}

// Reset forgets the cached children so the next expanding Children call
// re-enumerates the backend. The root keeps its explicit entries.
func (f *Folder) Reset() {
	f.invalid = false
	if f.IsRoot() {
		return
	}
	for _, c := range f.folders {
		c.setParent(nil)
	}
	for _, l := range f.leaves {
		l.setParent(nil)
		l.index = -1
	}
	f.folders, f.leaves = nil, nil
	f.expanded = false
}
