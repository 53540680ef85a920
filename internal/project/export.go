package project

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/arcscope/arcscope/internal/artifact"
	"github.com/arcscope/arcscope/internal/h5"
	"github.com/arcscope/arcscope/internal/tree"
)

// ExportStats summarizes one export.
type ExportStats struct {
	Folders   int
	Leaves    int
	Artifacts int
	// NoImage counts leaves exported without image data.
	NoImage int
}

// Export writes the loaded tree and every stored artifact into a single
// HDF5 file at dst, replacing it atomically. Each key becomes a group at
// artifact.EmbedPath; leaf groups carry the leaf marker and an image
// dataset, taken from the image store when present and read from the
// backend otherwise. The root carries the project marker, so the file can
// be added to another project as an ordinary container.
func (p *Project) Export(dst string) (ExportStats, error) {
	var st ExportStats
	if p.closed {
		return st, ErrClosed
	}
	dst, err := filepath.Abs(dst)
	if err != nil {
		return st, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return st, fmt.Errorf("export: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp")
	c, err := h5.Create(tmp)
	if err != nil {
		return st, fmt.Errorf("export: %w", err)
	}
	err = p.exportInto(c, &st)
	if cerr := c.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return st, fmt.Errorf("export %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return st, fmt.Errorf("export %s: %w", dst, err)
	}
	p.log.Info().Str("export", dst).Int("folders", st.Folders).Int("leaves", st.Leaves).
		Int("artifacts", st.Artifacts).Msg("project exported")
	return st, nil
}

func (p *Project) exportInto(c *h5.File, st *ExportStats) error {
	if err := c.SetFlag("/", h5.ProjectAttr); err != nil {
		return err
	}
	stores := p.artifacts.All()
	return p.tree.Walk(func(k tree.Key, depth int) error {
		group := artifact.EmbedPath(k)
		if depth > 0 {
			if err := c.EnsureGroup(group); err != nil {
				return err
			}
		}
		if l, ok := k.(*tree.Leaf); ok {
			st.Leaves++
			if err := c.SetFlag(group, h5.LeafAttr); err != nil {
				return err
			}
			if err := p.exportImage(c, l, group, st); err != nil {
				return err
			}
		} else if depth > 0 {
			st.Folders++
		}
		for _, s := range stores {
			if s.Kind() == artifact.KindImage {
				continue
			}
			n, err := s.Embed(c, k)
			if err != nil {
				return fmt.Errorf("%s of %s: %w", s.Kind(), k.Address(), err)
			}
			st.Artifacts += n
		}
		return nil
	})
}

func (p *Project) exportImage(c *h5.File, l *tree.Leaf, group string, st *ExportStats) error {
	n, err := p.artifacts.Images.Embed(c, l)
	if err != nil {
		return fmt.Errorf("image of %s: %w", l.Address(), err)
	}
	if n > 0 {
		st.Artifacts += n
		return nil
	}
	m, err := l.LeafData()
	if errors.Is(err, tree.ErrNoData) {
		st.NoImage++
		p.log.Warn().Str("address", l.Address().String()).Err(err).Msg("leaf exported without image")
		return nil
	}
	if err != nil {
		return err
	}
	return c.WriteMatrix(path.Join(group, h5.ImageName), m)
}
