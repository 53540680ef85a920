package tree

// Guard strips parent links from a subtree for the duration of an
// operation that must only ever see owning (parent to child) edges, such
// as serialization. Release restores them; use it with defer so every exit
// path puts the tree back together.
//
//	g := tree.Detach(root)
//	defer g.Release()
type Guard struct {
	root   Key
	parent *Folder
	done   bool
}

// Detach clears the parent link of root and of every loaded descendant.
// Only the root's own parent needs recording: children lists are left
// intact, so every other link can be rebuilt from them.
func Detach(root Key) *Guard {
	g := &Guard{root: root, parent: root.Parent()}
	detach(root)
	return g
}

func detach(k Key) {
	k.setParent(nil)
	f, ok := k.(*Folder)
	if !ok {
		return
	}
	for _, c := range f.folders {
		detach(c)
	}
	for _, l := range f.leaves {
		detach(l)
	}
}

// Release reattaches the subtree. Calling it more than once is harmless.
func (g *Guard) Release() {
	if g.done {
		return
	}
	g.done = true
	Reattach(g.root, g.parent)
}

// Keep ends the guard without restoring links. Used when the tree is about
// to be dropped anyway.
func (g *Guard) Keep() { g.done = true }

// Reattach points root at parent and, top-down, every loaded child at the
// folder that owns it. Leaf indices are renumbered from list order.
func Reattach(root Key, parent *Folder) {
	root.setParent(parent)
	f, ok := root.(*Folder)
	if !ok {
		return
	}
	for _, c := range f.folders {
		Reattach(c, f)
	}
	for i, l := range f.leaves {
		l.index = i
		Reattach(l, f)
	}
}
