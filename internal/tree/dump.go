package tree

// Dump renders the loaded subtree under k as plain maps and slices, the
// shape JSONPath evaluators and encoders expect. Integers are int64.
func Dump(k Key) map[string]any {
	m := map[string]any{
		"name":      k.Name(),
		"kind":      k.Kind().String(),
		"backend":   k.Address().Backend.String(),
		"address":   k.Address().String(),
		"file_name": k.FileName(""),
		"invalid":   k.Invalid(),
	}
	switch n := k.(type) {
	case *Leaf:
		m["index"] = int64(n.index)
	case *Folder:
		m["expanded"] = n.expanded
		folders := make([]any, 0, len(n.folders))
		for _, c := range n.folders {
			folders = append(folders, Dump(c))
		}
		leaves := make([]any, 0, len(n.leaves))
		for _, l := range n.leaves {
			leaves = append(leaves, Dump(l))
		}
		m["folders"] = folders
		m["leaves"] = leaves
	}
	return m
}
