// Package tree models a project as a lazily expanded hierarchy of folder
// and leaf keys. A key is identified by its Address alone, so a key
// rebuilt from disk and one enumerated live are interchangeable.
//
// Folders own their children. A child's link to its parent is a weak
// pointer: it can be followed, but it never keeps the parent alive, and it
// is never serialized.
package tree

import (
	"weak"

	"gonum.org/v1/gonum/mat"
)

// Kind is the node kind.
type Kind uint8

const (
	KindFolder Kind = iota + 1
	KindLeaf
)

func (k Kind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

// Key is a handle to one tree node.
type Key interface {
	Address() Address
	Kind() Kind
	Name() string
	// Parent returns the owning folder, or nil for the root, for detached
	// keys and for keys whose parent has been removed.
	Parent() *Folder
	// IsValid re-checks the live backend. It never mutates the tree.
	IsValid() bool
	// Invalid reports the last validity verdict recorded by the tree.
	Invalid() bool
	// FileName is Address().FileName(sub).
	FileName(sub string) string

	setParent(*Folder)
	setInvalid(bool)
}

// Equal compares keys by address.
func Equal(a, b Key) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Address() == b.Address()
}

// node holds the state shared by both key kinds.
type node struct {
	addr    Address
	src     *Sources
	parent  weak.Pointer[Folder]
	invalid bool
}

func (n *node) Address() Address           { return n.addr }
func (n *node) Name() string               { return n.addr.Name() }
func (n *node) FileName(sub string) string { return n.addr.FileName(sub) }
func (n *node) Parent() *Folder            { return n.parent.Value() }
func (n *node) Invalid() bool              { return n.invalid }
func (n *node) setInvalid(v bool)          { n.invalid = v }

func (n *node) setParent(p *Folder) {
	if p == nil {
		n.parent = weak.Pointer[Folder]{}
		return
	}
	n.parent = weak.Make(p)
}

// Leaf is a terminal key carrying image data.
type Leaf struct {
	node
	index int
}

// NewLeaf creates an unparented leaf. Leaves cannot live on the project
// backend.
func NewLeaf(a Address, src *Sources) *Leaf {
	if a.Backend == BackendProject {
		panic("tree: project address used for a leaf: " + ErrBackendMismatch.Error())
	}
	return &Leaf{node: node{addr: a, src: src}, index: -1}
}

func (l *Leaf) Kind() Kind { return KindLeaf }

// Index is the position within the parent's leaf list, or -1.
func (l *Leaf) Index() int { return l.index }

func (l *Leaf) IsValid() bool { return l.src.valid(l.addr, KindLeaf) }

// LeafData reads the raw image. Missing data or a non 2-D object yields an
// error wrapping ErrNoData.
func (l *Leaf) LeafData() (*mat.Dense, error) {
	return l.src.readLeaf(l.addr)
}

var (
	_ Key = (*Leaf)(nil)
	_ Key = (*Folder)(nil)
)
