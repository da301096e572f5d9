// Package relpath implements RelativePath: a canonical, component-wise path
// inside a data store, compared case-insensitively but displayed with its
// original casing. A RelativePath never escapes its store root and never
// carries a leading or trailing separator.
package relpath

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// RelativePath is an ordered sequence of path components, rooted at the
// empty "" root (the store root itself). The zero value is the root path.
type RelativePath struct {
	components []string
}

// Root returns the store-root path (zero components).
func Root() RelativePath {
	return RelativePath{}
}

// FromPath parses an OS-native path (using the host's separator) into a
// RelativePath. Empty components (from repeated separators or leading/
// trailing separators) are dropped. Non-UTF-8 input and ".." components are
// rejected; every
// component is NFC-normalized so that visually identical names produced by
// different platforms (NFC on Linux/Windows, NFD on macOS) compare equal.
func FromPath(p string) (RelativePath, error) {
	if !utf8.ValidString(p) {
		return RelativePath{}, fmt.Errorf("relpath: path %q is not valid UTF-8", p)
	}

	parts := strings.Split(filepath.ToSlash(p), "/")

	components := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}

		if part == ".." {
			return RelativePath{}, fmt.Errorf("relpath: path %q leaves the store root", p)
		}

		components = append(components, norm.NFC.String(part))
	}

	return RelativePath{components: components}, nil
}

// MustFromPath is FromPath but panics on error. Intended for tests and
// literal paths known at compile time to be valid UTF-8.
func MustFromPath(p string) RelativePath {
	rp, err := FromPath(p)
	if err != nil {
		panic(err)
	}

	return rp
}

// ToPathBuf renders the path using the host OS separator.
func (r RelativePath) ToPathBuf() string {
	if len(r.components) == 0 {
		return ""
	}

	return filepath.Join(r.components...)
}

// String implements fmt.Stringer, rendering with forward slashes regardless
// of host OS — the form used for inclusion-rule matching (§4.5.9).
func (r RelativePath) String() string {
	return strings.Join(r.components, "/")
}

// IsRoot reports whether this path refers to the store root.
func (r RelativePath) IsRoot() bool {
	return len(r.components) == 0
}

// Parent returns the path one level up. Calling Parent on the root returns
// the root again; callers that need to detect "no parent" should check
// IsRoot first.
func (r RelativePath) Parent() RelativePath {
	if len(r.components) == 0 {
		return r
	}

	parent := make([]string, len(r.components)-1)
	copy(parent, r.components[:len(r.components)-1])

	return RelativePath{components: parent}
}

// Join appends a single path component (not a multi-segment path) and
// returns the extended path, leaving r unmodified.
func (r RelativePath) Join(component string) RelativePath {
	next := make([]string, len(r.components)+1)
	copy(next, r.components)
	next[len(r.components)] = norm.NFC.String(component)

	return RelativePath{components: next}
}

// Name returns the final path component (the item's own case-sensitive
// display name), or "" for the root.
func (r RelativePath) Name() string {
	if len(r.components) == 0 {
		return ""
	}

	return r.components[len(r.components)-1]
}

// Components returns a copy of the path's components, root-to-leaf.
func (r RelativePath) Components() []string {
	out := make([]string, len(r.components))
	copy(out, r.components)

	return out
}

// Depth returns the number of components (0 for the root).
func (r RelativePath) Depth() int {
	return len(r.components)
}

// LowerCase returns the path rendered with every component lower-cased, the
// form the metadata database uses for case-insensitive lookup.
func (r RelativePath) LowerCase() string {
	lowered := make([]string, len(r.components))
	for i, c := range r.components {
		lowered[i] = strings.ToLower(c)
	}

	return strings.Join(lowered, "/")
}

// Equal reports whether two paths are identical component-for-component,
// case-sensitively. Use EqualFold for the database's case-insensitive rule.
func (r RelativePath) Equal(other RelativePath) bool {
	if len(r.components) != len(other.components) {
		return false
	}

	for i := range r.components {
		if r.components[i] != other.components[i] {
			return false
		}
	}

	return true
}

// EqualFold reports whether two paths are the same under case-insensitive,
// component-wise comparison — the database's lookup rule.
func (r RelativePath) EqualFold(other RelativePath) bool {
	return r.LowerCase() == other.LowerCase()
}
