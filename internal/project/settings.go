package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// SettingsFile holds the per-project configuration.
const SettingsFile = "project.hcl"

const settingsFormat = 1

// Settings is the small persisted configuration of one project.
//
//	id          = "8c0f..."
//	format      = 1
//	mirror_h5   = true
//	export_path = "/data/exports/run1.h5"
type Settings struct {
	ID     string `hcl:"id"`
	Format int    `hcl:"format"`
	// MirrorH5 re-exports the project to ExportPath on every save.
	MirrorH5   bool   `hcl:"mirror_h5,optional"`
	ExportPath string `hcl:"export_path,optional"`
}

func newSettings() Settings {
	return Settings{ID: uuid.NewString(), Format: settingsFormat}
}

// loadSettings reads dir/project.hcl. A missing file is reported through
// the bool result.
func loadSettings(dir string) (Settings, bool, error) {
	var s Settings
	path := filepath.Join(dir, SettingsFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return s, false, nil
	}
	if err := hclsimple.DecodeFile(path, nil, &s); err != nil {
		return s, true, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.Format != settingsFormat {
		return s, true, fmt.Errorf("%s: unsupported format %d", path, s.Format)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		return s, true, fmt.Errorf("%s: bad id: %w", path, err)
	}
	if s.MirrorH5 && s.ExportPath == "" {
		return s, true, fmt.Errorf("%s: mirror_h5 needs export_path", path)
	}
	return s, true, nil
}

func (s Settings) save(dir string) error {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(&s, f.Body())
	path := filepath.Join(dir, SettingsFile)
	if err := writeFileAtomic(path, f.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
