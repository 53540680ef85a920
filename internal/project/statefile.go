package project

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arcscope/arcscope/internal/tree"
	_ "modernc.org/sqlite"
)

// StateFile is the serialized tree inside the project directory.
const StateFile = "tree.db"

const stateVersion = 1

// errCorrupt marks every reason a state file cannot be trusted.
var errCorrupt = errors.New("corrupt tree state")

const stateSchema = `
CREATE TABLE meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE nodes (
	id INTEGER PRIMARY KEY,
	parent_id INTEGER,
	position INTEGER NOT NULL,
	kind INTEGER NOT NULL,
	backend INTEGER NOT NULL,
	path TEXT NOT NULL,
	internal TEXT NOT NULL,
	expanded INTEGER NOT NULL
);
CREATE INDEX idx_parent_position ON nodes(parent_id, kind, position);
`

// writeState serializes the subtree under root. It only follows child
// lists; callers detach parent links first. The file is replaced
// atomically so a failed save leaves the previous state intact.
func writeState(dir string, root *tree.Folder) (err error) {
	tmp, err := os.CreateTemp(dir, ".tree-*.db")
	if err != nil {
		return fmt.Errorf("create state: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	db, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", tmpPath, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := db.Exec(stateSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('version', ?)`, strconv.Itoa(stateVersion)); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO nodes (id, parent_id, position, kind, backend, path, internal, expanded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	// ids are assigned in pre-order, so a parent always precedes its
	// children when rows are read back by id.
	next := int64(0)
	var insert func(k tree.Key, parent *int64, pos int) error
	insert = func(k tree.Key, parent *int64, pos int) error {
		id := next
		next++
		a := k.Address()
		expanded := false
		f, isFolder := k.(*tree.Folder)
		if isFolder {
			expanded = f.Expanded()
		}
		if _, err := stmt.Exec(id, parent, pos, int(k.Kind()), int(a.Backend), a.Path, a.Internal, expanded); err != nil {
			return fmt.Errorf("write node %s: %w", a, err)
		}
		if !isFolder {
			return nil
		}
		for i, c := range f.Folders() {
			if err := insert(c, &id, i); err != nil {
				return err
			}
		}
		for i, l := range f.Leaves() {
			if err := insert(l, &id, i); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(root, nil, 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	if err := db.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, StateFile)); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

type stateRow struct {
	id       int64
	parent   sql.NullInt64
	kind     tree.Kind
	backend  tree.Backend
	path     string
	internal string
	expanded bool
}

// readState rebuilds the tree stored in dir without touching any backend.
// The root is readdressed to dir so a moved project still opens. Any
// inconsistency is reported as errCorrupt.
func readState(dir string, src *tree.Sources) (*tree.Folder, error) {
	path := filepath.Join(dir, StateFile)
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	defer func() { _ = db.Close() }()

	var v string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&v); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", errCorrupt, err)
	}
	if v != strconv.Itoa(stateVersion) {
		return nil, fmt.Errorf("%w: version %q, want %d", errCorrupt, v, stateVersion)
	}

	rows, err := db.Query(`
		SELECT id, parent_id, kind, backend, path, internal, expanded
		FROM nodes ORDER BY parent_id IS NOT NULL, parent_id, kind, position
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	defer func() { _ = rows.Close() }()

	var root *tree.Folder
	folders := map[int64]*tree.Folder{}
	for rows.Next() {
		var r stateRow
		if err := rows.Scan(&r.id, &r.parent, &r.kind, &r.backend, &r.path, &r.internal, &r.expanded); err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		if !r.parent.Valid {
			if root != nil || r.backend != tree.BackendProject || r.kind != tree.KindFolder {
				return nil, fmt.Errorf("%w: bad root row %d", errCorrupt, r.id)
			}
			root = tree.NewRoot(dir, src)
			folders[r.id] = root
			continue
		}
		parent, ok := folders[r.parent.Int64]
		if !ok {
			return nil, fmt.Errorf("%w: node %d has unknown parent %d", errCorrupt, r.id, r.parent.Int64)
		}
		k, err := r.key(src)
		if err != nil {
			return nil, err
		}
		if !parent.Attach(k) {
			return nil, fmt.Errorf("%w: duplicate node %s", errCorrupt, k.Address())
		}
		if f, ok := k.(*tree.Folder); ok {
			f.SetExpanded(r.expanded)
			folders[r.id] = f
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root", errCorrupt)
	}
	tree.Reattach(root, nil)
	return root, nil
}

func (r stateRow) key(src *tree.Sources) (tree.Key, error) {
	var a tree.Address
	switch r.backend {
	case tree.BackendPath:
		a = tree.PathAddress(r.path)
	case tree.BackendH5:
		a = tree.H5Address(r.path, r.internal)
	default:
		return nil, fmt.Errorf("%w: node %d has backend %d", errCorrupt, r.id, r.backend)
	}
	switch r.kind {
	case tree.KindFolder:
		return tree.NewFolder(a, src), nil
	case tree.KindLeaf:
		return tree.NewLeaf(a, src), nil
	}
	return nil, fmt.Errorf("%w: node %d has kind %d", errCorrupt, r.id, r.kind)
}
