package artifact

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/arcscope/arcscope/internal/tree"
)

// Checker is the part of a store Presence needs.
type Checker interface {
	Has(k tree.Key) bool
}

// Presence returns the leaf indices of f's loaded leaves that carry an
// artifact in s.
func Presence(s Checker, f *tree.Folder) *roaring.Bitmap {
	bm := roaring.New()
	for _, l := range f.Leaves() {
		if l.Index() >= 0 && s.Has(l) {
			bm.Add(uint32(l.Index()))
		}
	}
	return bm
}

// NextMissing returns the first leaf index greater than after and below n
// that is not in present, or -1. Pass after = -1 to start at the first
// leaf.
func NextMissing(present *roaring.Bitmap, after, n int) int {
	start := after + 1
	if start < 0 {
		start = 0
	}
	if start >= n {
		return -1
	}
	missing := roaring.Flip(present, uint64(start), uint64(n))
	missing.RemoveRange(0, uint64(start))
	missing.RemoveRange(uint64(n), 1<<32)
	if missing.IsEmpty() {
		return -1
	}
	return int(missing.Minimum())
}
