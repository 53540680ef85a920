// Package fs exposes an open project as a read-only FUSE filesystem:
//
//	/tree.json               dump of the loaded tree
//	/tree/<top>/<child>/...  loaded folders as directories, leaves as
//	                         files holding the leaf address
//	/artifacts/<kind>/<file> raw artifact files
//
// Top-level entries are named by their key file name so that two added
// folders with the same base name stay distinct. The view never expands a
// folder; it shows what the project has loaded.
package fs

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/arcscope/arcscope/internal/artifact"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/winfsp/cgofuse/fuse"
)

const (
	treeDir      = "tree"
	artifactsDir = "artifacts"
	dumpFile     = "tree.json"
)

// ProjectFS implements the FUSE interface from cgofuse. Every callback
// takes mu, since the tree is not safe for concurrent use.
type ProjectFS struct {
	fuse.FileSystemBase

	mu        sync.Mutex
	tree      *tree.Tree
	arts      *artifact.Set
	mountTime fuse.Timespec
}

func NewProjectFS(t *tree.Tree, arts *artifact.Set) *ProjectFS {
	return &ProjectFS{
		tree:      t,
		arts:      arts,
		mountTime: fuse.NewTimespec(time.Now()),
	}
}

type entryKind int

const (
	entryNone entryKind = iota
	entryRoot
	entryTreeDir
	entryFolder
	entryLeaf
	entryArtifactsDir
	entryKindDir
	entryArtifact
	entryDump
)

type entry struct {
	kind   entryKind
	folder *tree.Folder
	leaf   *tree.Leaf
	store  artifact.Entries
	name   string
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// resolve maps a mount path to what it shows. Caller holds mu.
func (fs *ProjectFS) resolve(path string) entry {
	parts := split(path)
	if len(parts) == 0 {
		return entry{kind: entryRoot}
	}
	switch parts[0] {
	case dumpFile:
		if len(parts) == 1 {
			return entry{kind: entryDump}
		}
	case treeDir:
		return fs.resolveTree(parts[1:])
	case artifactsDir:
		return fs.resolveArtifact(parts[1:])
	}
	return entry{}
}

func (fs *ProjectFS) resolveTree(parts []string) entry {
	if len(parts) == 0 {
		return entry{kind: entryTreeDir, folder: fs.tree.Root()}
	}
	cur := fs.tree.Root()
	for i, name := range parts {
		last := i == len(parts)-1
		var next *tree.Folder
		for _, f := range cur.Folders() {
			if segment(cur, f) == name {
				next = f
				break
			}
		}
		if next != nil {
			if last {
				return entry{kind: entryFolder, folder: next}
			}
			cur = next
			continue
		}
		if !last {
			return entry{}
		}
		for _, l := range cur.Leaves() {
			if segment(cur, l) == name {
				return entry{kind: entryLeaf, leaf: l}
			}
		}
	}
	return entry{}
}

// segment is the name of child k under parent, matching tree.Segments.
func segment(parent *tree.Folder, k tree.Key) string {
	if parent.IsRoot() {
		return k.FileName("")
	}
	return k.Name()
}

func (fs *ProjectFS) resolveArtifact(parts []string) entry {
	switch len(parts) {
	case 0:
		return entry{kind: entryArtifactsDir}
	case 1, 2:
		s, err := fs.arts.Store(artifact.Kind(parts[0]))
		if err != nil {
			return entry{}
		}
		if len(parts) == 1 {
			return entry{kind: entryKindDir, store: s}
		}
		if _, err := s.Stat(parts[1]); err != nil {
			return entry{}
		}
		return entry{kind: entryArtifact, store: s, name: parts[1]}
	}
	return entry{}
}

func (fs *ProjectFS) content(e entry) ([]byte, error) {
	switch e.kind {
	case entryLeaf:
		return []byte(e.leaf.Address().String() + "\n"), nil
	case entryArtifact:
		return e.store.ReadFile(e.name)
	case entryDump:
		return json.MarshalIndent(tree.Dump(fs.tree.Root()), "", "  ")
	}
	return nil, nil
}

func isDir(k entryKind) bool {
	switch k {
	case entryRoot, entryTreeDir, entryFolder, entryArtifactsDir, entryKindDir:
		return true
	}
	return false
}

// Open checks that the path is a readable file.
func (fs *ProjectFS) Open(path string, flags int) (int, uint64) {
	if flags&(fuse.O_WRONLY|fuse.O_RDWR) != 0 {
		return -fuse.EROFS, 0
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e := fs.resolve(path)
	switch {
	case e.kind == entryNone:
		return -fuse.ENOENT, 0
	case isDir(e.kind):
		return -fuse.EISDIR, 0
	}
	return 0, 0
}

// Getattr (Stat)
func (fs *ProjectFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e := fs.resolve(path)
	if e.kind == entryNone {
		return -fuse.ENOENT
	}
	stat.Atim = fs.mountTime
	stat.Mtim = fs.mountTime
	stat.Ctim = fs.mountTime
	stat.Birthtim = fs.mountTime

	if isDir(e.kind) {
		stat.Mode = fuse.S_IFDIR | 0o555
		stat.Nlink = 2
		return 0
	}
	stat.Mode = fuse.S_IFREG | 0o444
	stat.Nlink = 1
	if e.kind == entryArtifact {
		fi, err := e.store.Stat(e.name)
		if err != nil {
			return -fuse.EIO
		}
		stat.Size = fi.Size()
		stat.Mtim = fuse.NewTimespec(fi.ModTime())
		return 0
	}
	b, err := fs.content(e)
	if err != nil {
		return -fuse.EIO
	}
	stat.Size = int64(len(b))
	return 0
}

// Readdir (List directory)
func (fs *ProjectFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e := fs.resolve(path)
	if !isDir(e.kind) {
		if e.kind == entryNone {
			return -fuse.ENOENT
		}
		return -fuse.ENOTDIR
	}
	fill(".", nil, 0)
	fill("..", nil, 0)

	switch e.kind {
	case entryRoot:
		fill(dumpFile, nil, 0)
		fill(treeDir, nil, 0)
		fill(artifactsDir, nil, 0)
	case entryTreeDir, entryFolder:
		for _, f := range e.folder.Folders() {
			fill(segment(e.folder, f), nil, 0)
		}
		for _, l := range e.folder.Leaves() {
			fill(segment(e.folder, l), nil, 0)
		}
	case entryArtifactsDir:
		for _, k := range artifact.Kinds {
			fill(string(k), nil, 0)
		}
	case entryKindDir:
		files, err := e.store.Files()
		if err != nil {
			return -fuse.EIO
		}
		for _, name := range files {
			fill(name, nil, 0)
		}
	}
	return 0
}

// Read (Cat file)
func (fs *ProjectFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e := fs.resolve(path)
	if e.kind == entryNone {
		return -fuse.ENOENT
	}
	if isDir(e.kind) {
		return -fuse.EISDIR
	}
	content, err := fs.content(e)
	if err != nil {
		return -fuse.EIO
	}
	if ofst >= int64(len(content)) {
		return 0
	}
	end := ofst + int64(len(buff))
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return copy(buff, content[ofst:end])
}
