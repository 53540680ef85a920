package tree

import (
	"errors"
	"fmt"

	"github.com/arcscope/arcscope/internal/observe"
	"github.com/felixgeelhaar/bolt/v3"
)

// EventOp is the kind of tree change.
type EventOp int

const (
	EventAdded EventOp = iota
	EventRemoved
	EventInvalidated
)

func (op EventOp) String() string {
	switch op {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Event is delivered synchronously to every subscriber.
type Event struct {
	Op  EventOp
	Key Key
}

// Purger deletes every artifact addressed by a key. Implemented by the
// artifact registry.
type Purger interface {
	Purge(k Key) error
}

// PrefixPurger is a Purger that can also delete every artifact whose file
// name starts with a prefix, reaching keys that are no longer loaded.
type PrefixPurger interface {
	Purger
	PurgePrefix(prefix string) error
}

// Tree wraps a project root with the operations consumers use.
// It is not safe for concurrent use.
type Tree struct {
	root   *Folder
	log    *bolt.Logger
	purger Purger
	subs   []func(Event)
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger used for contained failures.
func WithLogger(l *bolt.Logger) Option {
	return func(t *Tree) { t.log = l }
}

// WithPurger sets the artifact cleanup hook run on removal.
func WithPurger(p Purger) Option {
	return func(t *Tree) { t.purger = p }
}

// New wraps root, which must be a project root.
func New(root *Folder, opts ...Option) *Tree {
	if !root.IsRoot() {
		panic("tree: New on non-root folder: " + ErrBackendMismatch.Error())
	}
	t := &Tree{root: root}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = observe.Discard().Log()
	}
	return t
}

// Root returns the project root.
func (t *Tree) Root() *Folder { return t.root }

// Subscribe registers fn for every subsequent event.
func (t *Tree) Subscribe(fn func(Event)) {
	t.subs = append(t.subs, fn)
}

func (t *Tree) emit(op EventOp, k Key) {
	for _, fn := range t.subs {
		fn(Event{Op: op, Key: k})
	}
}

// AddRootEntry adds a top-level folder or leaf. Exactly one EventAdded is
// emitted when a new key is created; adding an address already present
// returns the existing key and emits nothing.
func (t *Tree) AddRootEntry(a Address) (Key, error) {
	return t.AddEntry(t.root, a)
}

// AddEntry adds a child under any loaded folder.
func (t *Tree) AddEntry(parent *Folder, a Address) (Key, error) {
	k, added, err := parent.AddChild(a)
	if err != nil {
		return nil, err
	}
	if added {
		t.log.Info().Str("address", k.Address().String()).Msg("entry added")
		t.emit(EventAdded, k)
	}
	return k, nil
}

// RemoveEntry removes k from its parent and purges the artifacts of it
// and every descendant. A key that is no longer attached stands for the
// live key with its address. Removing an absent key is a no-op.
//
// An address can be loaded more than once, for example a folder added at
// the top level that is also reached by expanding its parent. Artifacts
// are keyed by address, so nothing still loaded elsewhere is purged.
func (t *Tree) RemoveEntry(k Key) error {
	live := k
	if !t.attached(k) {
		live = t.Find(k.Address())
	}
	if live == nil {
		return nil
	}
	if f, ok := live.(*Folder); ok && f.IsRoot() {
		return ErrRoot
	}
	parent := live.Parent()
	if parent == nil {
		return nil
	}
	loaded := Descendants(live)
	parent.Remove(live)

	var doomed []Key
	for _, d := range loaded {
		if !t.Contains(d) {
			doomed = append(doomed, d)
		}
	}
	var errs []error
	if t.purger != nil {
		for _, d := range doomed {
			if err := t.purger.Purge(d); err != nil {
				t.log.Warn().Str("address", d.Address().String()).Err(err).Msg("artifact purge failed")
				errs = append(errs, err)
			}
		}
		if err := t.purgeUnloaded(live); err != nil {
			errs = append(errs, err)
		}
	}
	t.log.Info().Str("address", live.Address().String()).Int("purged", len(doomed)).Msg("entry removed")
	t.emit(EventRemoved, live)
	return errors.Join(errs...)
}

// purgeUnloaded clears artifacts of keys below a removed folder that are
// not loaded, such as the leaves of a folder reset by Refresh or never
// expanded in this session. It is skipped while anything at or below the
// folder's address is still loaded.
func (t *Tree) purgeUnloaded(removed Key) error {
	pp, ok := t.purger.(PrefixPurger)
	if !ok || removed.Kind() != KindFolder {
		return nil
	}
	a := removed.Address()
	shared := false
	_ = t.Walk(func(k Key, _ int) error {
		if k.Address().Within(a) {
			shared = true
			return errStop
		}
		return nil
	})
	if shared {
		t.log.Debug().Str("address", a.String()).Msg("address still loaded, unloaded artifacts kept")
		return nil
	}
	var errs []error
	for _, prefix := range a.DescendantPrefixes() {
		if err := pp.PurgePrefix(prefix); err != nil {
			t.log.Warn().Str("address", a.String()).Str("prefix", prefix).Err(err).Msg("artifact purge failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// attached reports whether k itself, not just a key with its address, is
// reachable from the root.
func (t *Tree) attached(k Key) bool {
	cur := k
	for {
		if f, ok := cur.(*Folder); ok && f == t.root {
			return true
		}
		p := cur.Parent()
		if p == nil || p.Child(cur.Address()) != cur {
			return false
		}
		cur = p
	}
}

// Descendants returns k followed by every loaded key below it, depth-first.
func Descendants(k Key) []Key {
	out := []Key{k}
	f, ok := k.(*Folder)
	if !ok {
		return out
	}
	for _, c := range f.folders {
		out = append(out, Descendants(c)...)
	}
	for _, l := range f.leaves {
		out = append(out, l)
	}
	return out
}

// Contains reports whether a key with k's address is loaded in the tree.
func (t *Tree) Contains(k Key) bool {
	return k != nil && t.Find(k.Address()) != nil
}

// Find returns the loaded key with address a, or nil. It never expands.
func (t *Tree) Find(a Address) Key {
	var found Key
	_ = t.Walk(func(k Key, _ int) error {
		if k.Address() == a {
			found = k
			return errStop
		}
		return nil
	})
	return found
}

var errStop = errors.New("stop walk")

// Walk visits the root and every loaded key depth-first in child order,
// folders before leaves. Returning an error from fn stops the walk; the
// error is returned unless it is the internal stop sentinel.
func (t *Tree) Walk(fn func(k Key, depth int) error) error {
	err := walk(t.root, 0, fn)
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

func walk(k Key, depth int, fn func(Key, int) error) error {
	if err := fn(k, depth); err != nil {
		return err
	}
	f, ok := k.(*Folder)
	if !ok {
		return nil
	}
	for _, c := range f.folders {
		if err := walk(c, depth+1, fn); err != nil {
			return err
		}
	}
	for _, l := range f.leaves {
		if err := walk(l, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Expand enumerates f and its descendants down to depth levels (depth 0
// expands only f; a negative depth means unbounded). A folder that fails
// is marked invalid, logged and returned; its siblings are still expanded.
func (t *Tree) Expand(f *Folder, depth int) []*Folder {
	var failed []*Folder
	t.expand(f, depth, &failed)
	return failed
}

func (t *Tree) expand(f *Folder, depth int, failed *[]*Folder) {
	folders, _, err := f.Children(true)
	if err != nil {
		f.setInvalid(true)
		t.log.Warn().Str("address", f.Address().String()).Err(err).Msg("folder expansion failed")
		t.emit(EventInvalidated, f)
		*failed = append(*failed, f)
		return
	}
	f.setInvalid(false)
	if depth == 0 {
		return
	}
	for _, c := range folders {
		t.expand(c, depth-1, failed)
	}
}

// Validate re-checks every loaded key against its backend and records the
// verdict. With prune, invalid keys are removed through RemoveEntry;
// otherwise an EventInvalidated is emitted for each. The invalid keys are
// returned in walk order.
func (t *Tree) Validate(prune bool) ([]Key, error) {
	var bad []Key
	_ = t.Walk(func(k Key, depth int) error {
		if depth == 0 {
			return nil
		}
		ok := k.IsValid()
		k.setInvalid(!ok)
		if !ok {
			bad = append(bad, k)
		}
		return nil
	})
	var errs []error
	for _, k := range bad {
		if prune {
			if err := t.RemoveEntry(k); err != nil {
				errs = append(errs, fmt.Errorf("prune %s: %w", k.Address(), err))
			}
			continue
		}
		t.emit(EventInvalidated, k)
	}
	return bad, errors.Join(errs...)
}

// Refresh re-reads every expanded path folder whose directory is dir.
// Children still on disk keep their keys, so expanded subfolders stay
// expanded; vanished children are dropped and new ones appended in order.
// A folder whose directory is gone is marked invalid. It reports whether
// a folder was refreshed.
func (t *Tree) Refresh(dir string) bool {
	a := PathAddress(dir)
	var hit []*Folder
	_ = t.Walk(func(k Key, _ int) error {
		if f, ok := k.(*Folder); ok && f.addr == a && f.expanded {
			hit = append(hit, f)
		}
		return nil
	})
	for _, f := range hit {
		gone, err := f.reload()
		if err != nil {
			f.setInvalid(true)
			t.log.Warn().Str("address", f.addr.String()).Err(err).Msg("refresh failed")
		} else if len(gone) > 0 {
			t.log.Info().Str("address", f.addr.String()).Int("dropped", len(gone)).Msg("folder refreshed")
		}
		t.emit(EventInvalidated, f)
	}
	return len(hit) > 0
}

// Segments returns the names leading from the root to k. The top-level
// segment is the key's file name, so two top-level entries with the same
// base name never share a segment.
func Segments(k Key) []string {
	var rev []string
	for cur := k; cur != nil; {
		p := cur.Parent()
		if p == nil {
			if f, ok := cur.(*Folder); ok && f.IsRoot() {
				break
			}
			rev = append(rev, cur.FileName(""))
			break
		}
		if p.IsRoot() {
			rev = append(rev, cur.FileName(""))
		} else {
			rev = append(rev, cur.Name())
		}
		cur = p
	}
	out := make([]string, len(rev))
	for i, s := range rev {
		out[len(rev)-1-i] = s
	}
	return out
}
