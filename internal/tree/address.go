package tree

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/arcscope/arcscope/internal/h5"
)

// Backend is the physical storage a key is addressed against.
type Backend uint8

const (
	// BackendPath addresses a file or directory on the filesystem.
	BackendPath Backend = iota + 1
	// BackendH5 addresses a group or dataset inside an HDF5 container.
	BackendH5
	// BackendProject addresses the project root. It has no physical backing.
	BackendProject
)

func (b Backend) String() string {
	switch b {
	case BackendPath:
		return "path"
	case BackendH5:
		return "h5"
	case BackendProject:
		return "project"
	default:
		return fmt.Sprintf("backend(%d)", uint8(b))
	}
}

// containerSep separates container file and internal path in the textual
// address form.
const containerSep = "::"

// Address is the identity of a key. Two keys are the same node iff their
// addresses are equal; Address is comparable and safe to use as a map key.
type Address struct {
	Backend Backend
	// Path is the filesystem path (path backend), the container file (h5
	// backend) or the project directory (project backend).
	Path string
	// Internal is the "/"-rooted object path inside the container.
	Internal string
}

// PathAddress addresses a filesystem entry.
func PathAddress(p string) Address {
	return Address{Backend: BackendPath, Path: filepath.Clean(p)}
}

// H5Address addresses an object inside an HDF5 container.
func H5Address(container, internal string) Address {
	return Address{Backend: BackendH5, Path: filepath.Clean(container), Internal: h5.Clean(internal)}
}

// ProjectAddress addresses the root of the project stored in dir.
func ProjectAddress(dir string) Address {
	return Address{Backend: BackendProject, Path: filepath.Clean(dir)}
}

// ParseAddress reads the textual form produced by Address.String:
// "/data/run1" or "/data/scan.h5::/entry/frames". Relative paths are made
// absolute against the working directory.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	file, internal, isH5 := strings.Cut(s, containerSep)
	abs, err := filepath.Abs(file)
	if err != nil {
		return Address{}, fmt.Errorf("resolve %q: %w", file, err)
	}
	if isH5 {
		return H5Address(abs, internal), nil
	}
	return PathAddress(abs), nil
}

func (a Address) String() string {
	if a.Backend == BackendH5 {
		return a.Path + containerSep + a.Internal
	}
	return a.Path
}

// Name is the last element of the address, used for display and for the
// per-parent segment in mount and export paths.
func (a Address) Name() string {
	switch a.Backend {
	case BackendH5:
		if a.Internal == "/" {
			return filepath.Base(a.Path)
		}
		return path.Base(a.Internal)
	case BackendProject:
		return "project"
	default:
		return filepath.Base(a.Path)
	}
}

// FileName derives the stable, filesystem-safe name used by every artifact
// store. The first character discriminates the backend so a path and a
// container object can never collide. sub, when non-empty, is appended
// after "@".
func (a Address) FileName(sub string) string {
	var b strings.Builder
	switch a.Backend {
	case BackendPath:
		b.WriteByte('p')
		escape(&b, a.Path)
	case BackendH5:
		b.WriteByte('h')
		escape(&b, a.Path)
		b.WriteByte('=')
		escape(&b, a.Internal)
	case BackendProject:
		b.WriteString("project")
	default:
		panic(fmt.Sprintf("tree: file name for %v: %v", a.Backend, ErrBackendMismatch))
	}
	if sub != "" {
		b.WriteByte('@')
		escape(&b, sub)
	}
	return b.String()
}

// DescendantPrefixes returns the FileName prefixes shared by every address
// strictly below a. A directory reaches path entries and the containers
// inside it; a container object reaches the objects below it. Escaping is
// injective, so a prefix never matches a sibling such as "/data2" for
// "/data".
func (a Address) DescendantPrefixes() []string {
	below := func(lead string, parts ...string) string {
		var b strings.Builder
		b.WriteString(lead)
		for i, p := range parts {
			if i > 0 {
				b.WriteByte('=')
			}
			escape(&b, p)
		}
		if !strings.HasSuffix(b.String(), "~") {
			b.WriteByte('~')
		}
		return b.String()
	}
	switch a.Backend {
	case BackendPath:
		return []string{below("p", a.Path), below("h", a.Path)}
	case BackendH5:
		return []string{below("h", a.Path, a.Internal)}
	}
	return nil
}

// Within reports whether a is b or lies below it.
func (a Address) Within(b Address) bool {
	if a == b {
		return true
	}
	name := a.FileName("")
	for _, p := range b.DescendantPrefixes() {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// escape writes s keeping [A-Za-z0-9._-], mapping '/' to '~' and
// percent-encoding everything else, so that '~', '=', '@' and '%' in the
// output are always structural.
func escape(b *strings.Builder, s string) {
	const hex = "0123456789ABCDEF"
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '.', c == '-', c == '_':
			b.WriteByte(c)
		case c == '/':
			b.WriteByte('~')
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xF])
		}
	}
}

// UnescapeName reverses the encoding applied to one FileName component.
func UnescapeName(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '~':
			b.WriteByte('/')
		case '%':
			if i+2 >= len(s) {
				return "", fmt.Errorf("truncated escape in %q", s)
			}
			var v byte
			for _, h := range s[i+1 : i+3] {
				v <<= 4
				switch {
				case '0' <= h && h <= '9':
					v |= byte(h - '0')
				case 'A' <= h && h <= 'F':
					v |= byte(h-'A') + 10
				default:
					return "", fmt.Errorf("bad escape in %q", s)
				}
			}
			b.WriteByte(v)
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
