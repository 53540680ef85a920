package artifact

import (
	"github.com/arcscope/arcscope/api"
	"github.com/arcscope/arcscope/internal/tree"
)

// GeometrySource says which tier a resolved geometry came from.
type GeometrySource int

const (
	FromOverride GeometrySource = iota
	FromFolderDefault
	FromFallback
)

func (s GeometrySource) String() string {
	switch s {
	case FromOverride:
		return "override"
	case FromFolderDefault:
		return "folder default"
	default:
		return "fallback"
	}
}

// Geometries pairs the per-node geometry store with the per-folder default
// store and owns the lookup order between them.
type Geometries struct {
	Node     *Store[api.Geometry]
	Default  *Store[api.Geometry]
	Fallback api.Geometry
}

// Resolved is the outcome of Geometries.Resolve.
type Resolved struct {
	Geometry api.Geometry
	Source   GeometrySource
	// From is the key whose entry was used; nil for the fallback.
	From tree.Key
}

// Resolve returns the geometry for k: the node's own override, else the
// default of the nearest folder at or above k, else the fallback. A folder
// is its own nearest folder. A corrupt entry is an error rather than a
// silent fall through.
func (g *Geometries) Resolve(k tree.Key) (Resolved, error) {
	v, ok, err := g.Node.Get(k)
	if err != nil {
		return Resolved{}, err
	}
	if ok {
		return Resolved{Geometry: v, Source: FromOverride, From: k}, nil
	}

	var f *tree.Folder
	if folder, isFolder := k.(*tree.Folder); isFolder {
		f = folder
	} else {
		f = k.Parent()
	}
	for ; f != nil; f = f.Parent() {
		v, ok, err := g.Default.Get(f)
		if err != nil {
			return Resolved{}, err
		}
		if ok {
			return Resolved{Geometry: v, Source: FromFolderDefault, From: f}, nil
		}
	}
	return Resolved{Geometry: g.Fallback, Source: FromFallback}, nil
}
