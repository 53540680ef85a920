// Package project maps an on-disk project directory to an in-memory tree
// and its artifact stores.
//
// A project directory holds the serialized tree (tree.db), the project
// settings (project.hcl), a lock file and one subdirectory per artifact
// kind. The tree file only records structure; artifacts live in their
// stores, so losing one never implies losing the other.
package project

import (
	"errors"
	"fmt"

	"github.com/arcscope/arcscope/internal/artifact"
	"github.com/arcscope/arcscope/internal/lock"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/felixgeelhaar/bolt/v3"
)

var (
	// ErrNotOpen is returned by Manager operations that need an open project.
	ErrNotOpen = errors.New("no project is open")
	// ErrExists is returned by Manager.New for a directory that already
	// holds a project.
	ErrExists = errors.New("project already exists")
	// ErrLocked is returned when another process has the project open.
	ErrLocked = lock.ErrLocked
	// ErrClosed is returned by operations on a project after Close.
	ErrClosed = errors.New("project is closed")
)

// Project is one open project.
type Project struct {
	dir       string
	settings  Settings
	tree      *tree.Tree
	artifacts *artifact.Set
	lock      *lock.Lock
	log       *bolt.Logger
	healed    bool
	closed    bool
}

// Dir returns the absolute project directory.
func (p *Project) Dir() string { return p.dir }

// Tree returns the project tree.
func (p *Project) Tree() *tree.Tree { return p.tree }

// Artifacts returns the project's artifact stores.
func (p *Project) Artifacts() *artifact.Set { return p.artifacts }

// Settings returns a copy of the project settings.
func (p *Project) Settings() Settings { return p.settings }

// Healed reports whether the saved tree could not be loaded and the
// project was opened with a fresh root.
func (p *Project) Healed() bool { return p.healed }

// SetMirror makes every Save also export the project to path. An empty
// path turns mirroring off.
func (p *Project) SetMirror(path string) error {
	if p.closed {
		return ErrClosed
	}
	s := p.settings
	s.MirrorH5 = path != ""
	s.ExportPath = path
	if err := s.save(p.dir); err != nil {
		return err
	}
	p.settings = s
	return nil
}

// Save writes the tree state while the project stays open. Parent links
// are stripped for the duration of the write and restored on every exit
// path. When mirroring is on, the export is refreshed afterwards; a
// failed mirror is logged, not returned.
func (p *Project) Save() error {
	if p.closed {
		return ErrClosed
	}
	if err := p.saveState(false); err != nil {
		return err
	}
	p.mirror()
	return nil
}

func (p *Project) saveState(closing bool) error {
	root := p.tree.Root()
	g := tree.Detach(root)
	if closing {
		g.Keep()
	} else {
		defer g.Release()
	}
	if err := writeState(p.dir, root); err != nil {
		return fmt.Errorf("save %s: %w", p.dir, err)
	}
	return nil
}

func (p *Project) mirror() {
	if !p.settings.MirrorH5 {
		return
	}
	if _, err := p.Export(p.settings.ExportPath); err != nil {
		p.log.Warn().Str("project", p.dir).Str("export", p.settings.ExportPath).Err(err).Msg("mirror export failed")
	}
}

// close saves and releases the project. The mirror runs before the tree
// is detached for good.
func (p *Project) close() error {
	if p.closed {
		return nil
	}
	p.mirror()
	err := p.saveState(true)
	if rerr := p.lock.Release(); rerr != nil && err == nil {
		err = rerr
	}
	p.closed = true
	return err
}
