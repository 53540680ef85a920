// Package artifact attaches derived data to tree keys without touching the
// tree. Each artifact kind has its own Store: one file per key under the
// kind's directory in the project, named by the key's FileName, and an
// embedded form inside an exported HDF5 container.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/arcscope/arcscope/internal/h5"
	"github.com/arcscope/arcscope/internal/tree"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Kind names one artifact kind. Its value is the directory holding the
// standalone files.
type Kind string

const (
	KindImage           Kind = "images"
	KindPolarImage      Kind = "polar_images"
	KindROI             Kind = "roi_data"
	KindGeometry        Kind = "geometries"
	KindDefaultGeometry Kind = "default_geometries"
	KindFit             Kind = "fits"
	KindProfile         Kind = "profiles"
)

// Kinds lists every artifact kind in a fixed order.
var Kinds = []Kind{
	KindImage, KindPolarImage, KindROI, KindGeometry,
	KindDefaultGeometry, KindFit, KindProfile,
}

// EmbedName is the child name used inside a key's group in an export.
// The image kind shares the name leaf groups are read from.
func (k Kind) EmbedName() string {
	switch k {
	case KindImage:
		return h5.ImageName
	case KindPolarImage:
		return "polar_image"
	case KindGeometry:
		return "geometry"
	case KindDefaultGeometry:
		return "default_geometry"
	case KindProfile:
		return "profile"
	default:
		return string(k)
	}
}

const tmpPrefix = ".tmp-"

// Store is the cache for one artifact kind. Absence is not an error: Get
// reports it through its bool result.
type Store[T any] struct {
	kind  Kind
	fs    billy.Filesystem
	codec Codec[T]
}

// NewStore returns a store for kind rooted at fsys, usually the project
// directory.
func NewStore[T any](fsys billy.Filesystem, kind Kind, codec Codec[T]) *Store[T] {
	return &Store[T]{kind: kind, fs: fsys, codec: codec}
}

// Kind returns the artifact kind.
func (s *Store[T]) Kind() Kind { return s.kind }

func (s *Store[T]) fileName(k tree.Key, sub string) string {
	return k.FileName(sub) + s.codec.Ext()
}

func (s *Store[T]) path(k tree.Key, sub string) string {
	return s.fs.Join(string(s.kind), s.fileName(k, sub))
}

// Get reads the artifact for k.
func (s *Store[T]) Get(k tree.Key) (T, bool, error) { return s.GetNamed(k, "") }

// GetNamed reads the artifact stored for k under sub.
func (s *Store[T]) GetNamed(k tree.Key, sub string) (T, bool, error) {
	var zero T
	b, err := util.ReadFile(s.fs, s.path(k, sub))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("read %s for %s: %w", s.kind, k.Address(), err)
	}
	v, err := s.codec.Unmarshal(b)
	if err != nil {
		return zero, false, fmt.Errorf("%s for %s: %w", s.kind, k.Address(), err)
	}
	return v, true, nil
}

// Has reports whether a plain artifact exists for k.
func (s *Store[T]) Has(k tree.Key) bool {
	_, err := s.fs.Stat(s.path(k, ""))
	return err == nil
}

// Set (over)writes the artifact for k.
func (s *Store[T]) Set(k tree.Key, v T) error { return s.SetNamed(k, "", v) }

// SetNamed writes v under sub. The kind directory is created on first use
// and the file is replaced atomically.
func (s *Store[T]) SetNamed(k tree.Key, sub string, v T) error {
	b, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(s.fileName(k, sub), b)
}

func (s *Store[T]) write(name string, b []byte) error {
	dir := string(s.kind)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := s.fs.TempFile(dir, tmpPrefix)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp.Name(), s.fs.Join(dir, name)); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Delete removes the artifact for k. Deleting an absent artifact is not an
// error.
func (s *Store[T]) Delete(k tree.Key) error { return s.DeleteNamed(k, "") }

// DeleteNamed removes the artifact stored under sub.
func (s *Store[T]) DeleteNamed(k tree.Key, sub string) error {
	err := s.fs.Remove(s.path(k, sub))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s for %s: %w", s.kind, k.Address(), err)
	}
	return nil
}

// Names lists the sub-names stored for k, sorted.
func (s *Store[T]) Names(k tree.Key) ([]string, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	prefix := k.FileName("") + "@"
	ext := s.codec.Ext()
	var names []string
	for _, f := range files {
		if !strings.HasPrefix(f, prefix) || !strings.HasSuffix(f, ext) {
			continue
		}
		sub, err := tree.UnescapeName(strings.TrimSuffix(strings.TrimPrefix(f, prefix), ext))
		if err != nil {
			continue
		}
		names = append(names, sub)
	}
	sort.Strings(names)
	return names, nil
}

// Purge deletes the plain artifact for k and every named one.
func (s *Store[T]) Purge(k tree.Key) error {
	names, err := s.Names(k)
	if err != nil {
		return err
	}
	errs := []error{s.Delete(k)}
	for _, n := range names {
		errs = append(errs, s.DeleteNamed(k, n))
	}
	return errors.Join(errs...)
}

// PurgePrefix deletes every artifact file whose name starts with prefix,
// whatever key or sub-name it was stored under.
func (s *Store[T]) PurgePrefix(prefix string) error {
	files, err := s.Files()
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		err := s.fs.Remove(s.fs.Join(string(s.kind), f))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s/%s: %w", s.kind, f, err))
		}
	}
	return errors.Join(errs...)
}

// Files lists the artifact file names of this kind, sorted. A missing kind
// directory yields an empty list.
func (s *Store[T]) Files() ([]string, error) {
	infos, err := s.fs.ReadDir(string(s.kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.kind, err)
	}
	var out []string
	for _, fi := range infos {
		if fi.IsDir() || strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		out = append(out, fi.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Open opens one artifact file by the name Files reported.
func (s *Store[T]) Open(name string) (billy.File, error) {
	if name != path.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%s/%s: %w", s.kind, name, fs.ErrNotExist)
	}
	return s.fs.Open(s.fs.Join(string(s.kind), name))
}

// ReadFile returns the raw encoded bytes of one artifact file.
func (s *Store[T]) ReadFile(name string) ([]byte, error) {
	f, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// Stat returns the file info of one artifact file.
func (s *Store[T]) Stat(name string) (fs.FileInfo, error) {
	if name != path.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%s/%s: %w", s.kind, name, fs.ErrNotExist)
	}
	return s.fs.Stat(s.fs.Join(string(s.kind), name))
}

// EmbedPath is the group inside an export that holds k's artifacts.
func EmbedPath(k tree.Key) string {
	return "/" + path.Join(tree.Segments(k)...)
}

func (s *Store[T]) embedPath(k tree.Key, sub string) string {
	p := path.Join(EmbedPath(k), s.kind.EmbedName())
	if sub != "" {
		// one dataset per sub-name, grouped under the kind
		p = path.Join(p, k.FileName(sub)[len(k.FileName(""))+1:])
	}
	return p
}

// GetEmbedded reads k's artifact from an exported container.
func (s *Store[T]) GetEmbedded(c *h5.File, k tree.Key) (T, bool, error) {
	return s.GetEmbeddedNamed(c, k, "")
}

// GetEmbeddedNamed reads the artifact stored under sub from c.
func (s *Store[T]) GetEmbeddedNamed(c *h5.File, k tree.Key, sub string) (T, bool, error) {
	var zero T
	p := s.embedPath(k, sub)
	e, err := c.Stat(p)
	if errors.Is(err, h5.ErrNotFound) || (err == nil && e.Kind != h5.EntryDataset) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v T
	if em, ok := s.codec.(Embedder[T]); ok {
		v, err = em.ReadH5(c, p)
	} else {
		var b []byte
		if b, err = c.ReadBytes(p); err == nil {
			v, err = s.codec.Unmarshal(b)
		}
	}
	if err != nil {
		return zero, false, fmt.Errorf("embedded %s for %s: %w", s.kind, k.Address(), err)
	}
	return v, true, nil
}

// SetEmbedded writes k's artifact into an exported container. The
// standalone file is not touched.
func (s *Store[T]) SetEmbedded(c *h5.File, k tree.Key, v T) error {
	return s.SetEmbeddedNamed(c, k, "", v)
}

// SetEmbeddedNamed writes v under sub into c.
func (s *Store[T]) SetEmbeddedNamed(c *h5.File, k tree.Key, sub string, v T) error {
	p := s.embedPath(k, sub)
	if em, ok := s.codec.(Embedder[T]); ok {
		return em.WriteH5(c, p, v)
	}
	b, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteBytes(p, b)
}

// DeleteEmbedded removes k's artifact from c; absent is not an error.
func (s *Store[T]) DeleteEmbedded(c *h5.File, k tree.Key) error {
	return c.Delete(s.embedPath(k, ""))
}

// Embed copies every standalone artifact of k, plain and named, into c and
// returns how many were written.
func (s *Store[T]) Embed(c *h5.File, k tree.Key) (int, error) {
	n := 0
	v, ok, err := s.Get(k)
	if err != nil {
		return n, err
	}
	if ok {
		if err := s.SetEmbedded(c, k, v); err != nil {
			return n, err
		}
		n++
	}
	names, err := s.Names(k)
	if err != nil {
		return n, err
	}
	for _, sub := range names {
		v, ok, err := s.GetNamed(k, sub)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := s.SetEmbeddedNamed(c, k, sub, v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
