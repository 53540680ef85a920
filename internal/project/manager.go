package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arcscope/arcscope/internal/artifact"
	"github.com/arcscope/arcscope/internal/lock"
	"github.com/arcscope/arcscope/internal/observe"
	"github.com/arcscope/arcscope/internal/settings"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/felixgeelhaar/bolt/v3"
	"github.com/go-git/go-billy/v5/osfs"
)

// Manager owns at most one open project at a time.
type Manager struct {
	cfg *settings.Config
	src *tree.Sources
	log *bolt.Logger
	cur *Project
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger handed to every project.
func WithLogger(l *bolt.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithSources sets how tree keys reach their backends.
func WithSources(src *tree.Sources) Option {
	return func(m *Manager) { m.src = src }
}

// NewManager creates a manager. cfg receives the recent-projects list and
// may be nil.
func NewManager(cfg *settings.Config, opts ...Option) *Manager {
	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = observe.Discard().Log()
	}
	if m.src == nil {
		m.src = tree.NewSources(nil)
	}
	return m
}

// Current returns the open project.
func (m *Manager) Current() (*Project, error) {
	if m.cur == nil {
		return nil, ErrNotOpen
	}
	return m.cur, nil
}

// New creates a project in dir, which must not already hold one.
func (m *Manager) New(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{StateFile, SettingsFile} {
		if _, err := os.Stat(filepath.Join(abs, name)); err == nil {
			return nil, fmt.Errorf("%s: %w", abs, ErrExists)
		}
	}
	return m.Open(abs)
}

// Open opens the project in dir, creating the directory and an empty
// project when needed. An already open project is closed first, even when
// it is the same one. A saved tree that cannot be loaded is deleted and
// replaced by a fresh root.
func (m *Manager) Open(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := m.Close(); err != nil {
		return nil, err
	}

	l, err := lock.Acquire(abs)
	if err != nil {
		return nil, err
	}
	p, err := m.load(abs, l)
	if err != nil {
		_ = l.Release()
		return nil, err
	}
	m.cur = p

	if m.cfg != nil {
		m.cfg.AddRecent(abs)
		if err := m.cfg.Save(); err != nil {
			m.log.Warn().Str("config", m.cfg.Path()).Err(err).Msg("could not record recent project")
		}
	}
	m.log.Info().Str("project", abs).Msg("project opened")
	return p, nil
}

func (m *Manager) load(dir string, l *lock.Lock) (*Project, error) {
	s, found, err := loadSettings(dir)
	if err != nil {
		m.log.Warn().Str("project", dir).Err(err).Msg("project settings unreadable, recreating")
		found = false
	}
	if !found {
		s = newSettings()
		if err := s.save(dir); err != nil {
			return nil, err
		}
	}

	healed := false
	root := tree.NewRoot(dir, m.src)
	if stateExists(dir) {
		loaded, err := readState(dir, m.src)
		if err != nil {
			m.log.Warn().Str("project", dir).Err(err).Msg("tree state unreadable, starting from an empty root")
			if rerr := os.Remove(filepath.Join(dir, StateFile)); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
				return nil, fmt.Errorf("remove corrupt state: %w", rerr)
			}
			healed = true
		} else {
			root = loaded
		}
	}

	arts := artifact.NewSet(osfs.New(dir))
	t := tree.New(root, tree.WithLogger(m.log), tree.WithPurger(arts))
	if bad, _ := t.Validate(false); len(bad) > 0 {
		m.log.Warn().Str("project", dir).Int("invalid", len(bad)).Msg("saved entries no longer match the disk")
	}
	return &Project{
		dir:       dir,
		settings:  s,
		tree:      t,
		artifacts: arts,
		lock:      l,
		log:       m.log,
		healed:    healed,
	}, nil
}

func stateExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, StateFile))
	return err == nil
}

// Save saves the open project.
func (m *Manager) Save() error {
	if m.cur == nil {
		return ErrNotOpen
	}
	return m.cur.Save()
}

// Close saves and drops the open project. Closing with nothing open is a
// no-op. The project is dropped even when the save fails.
func (m *Manager) Close() error {
	if m.cur == nil {
		return nil
	}
	p := m.cur
	m.cur = nil
	if err := p.close(); err != nil {
		return err
	}
	m.log.Info().Str("project", p.dir).Msg("project closed")
	return nil
}
