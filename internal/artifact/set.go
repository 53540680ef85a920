package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/arcscope/arcscope/api"
	"github.com/arcscope/arcscope/internal/h5"
	"github.com/arcscope/arcscope/internal/tree"
	billy "github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Entries is the kind-independent view of a store used for cleanup,
// export and browsing.
type Entries interface {
	Kind() Kind
	Has(k tree.Key) bool
	Names(k tree.Key) ([]string, error)
	DeleteNamed(k tree.Key, sub string) error
	Purge(k tree.Key) error
	PurgePrefix(prefix string) error
	Files() ([]string, error)
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	Embed(c *h5.File, k tree.Key) (int, error)
}

// Set holds one store per artifact kind for a project.
type Set struct {
	Images      *Store[*mat.Dense]
	PolarImages *Store[*mat.Dense]
	ROIs        *Store[api.ROISet]
	Geometries  *Geometries
	Fits        *Store[api.FitResult]
	Profiles    *Store[api.Profile]
}

// NewSet creates every store under fsys. Nothing is written until the
// first Set call on a store.
func NewSet(fsys billy.Filesystem) *Set {
	return &Set{
		Images:      NewStore[*mat.Dense](fsys, KindImage, MatrixCodec{}),
		PolarImages: NewStore[*mat.Dense](fsys, KindPolarImage, MatrixCodec{}),
		ROIs:        NewStore[api.ROISet](fsys, KindROI, ROICodec),
		Geometries: &Geometries{
			Node:     NewStore[api.Geometry](fsys, KindGeometry, GeometryCodec),
			Default:  NewStore[api.Geometry](fsys, KindDefaultGeometry, GeometryCodec),
			Fallback: api.DefaultGeometry(),
		},
		Fits:     NewStore[api.FitResult](fsys, KindFit, FitCodec),
		Profiles: NewStore[api.Profile](fsys, KindProfile, ProfileCodec),
	}
}

// All returns every store in Kinds order.
func (s *Set) All() []Entries {
	return []Entries{
		s.Images, s.PolarImages, s.ROIs, s.Geometries.Node,
		s.Geometries.Default, s.Fits, s.Profiles,
	}
}

// Store returns the store of one kind.
func (s *Set) Store(kind Kind) (Entries, error) {
	for _, e := range s.All() {
		if e.Kind() == kind {
			return e, nil
		}
	}
	return nil, fmt.Errorf("unknown artifact kind %q", kind)
}

// Purge deletes k's artifacts from every store. All stores are attempted;
// the failures are joined.
func (s *Set) Purge(k tree.Key) error {
	var errs []error
	for _, e := range s.All() {
		if err := e.Purge(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PurgePrefix deletes the artifacts of every kind whose file name starts
// with prefix. Names come from tree.Address.DescendantPrefixes.
func (s *Set) PurgePrefix(prefix string) error {
	var errs []error
	for _, e := range s.All() {
		if err := e.PurgePrefix(prefix); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ tree.PrefixPurger = (*Set)(nil)

// NewRunName returns a sortable, unique fit-run name.
func NewRunName(now time.Time) string {
	return now.UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}
