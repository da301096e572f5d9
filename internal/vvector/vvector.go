// Package vvector implements the version vector: a mapping from peer id to a
// monotonically growing integer clock, with the partial order and merge
// operations the metadata engine and sync algorithm are built on.
//
// A VersionVector keeps its clocks in a map, so a plain copy of a non-empty
// vector shares that map with the original; Clone returns an independent
// copy. Max and Set mutate the receiver in place, matching the
// "max(other): in-place pointwise maximum" contract.
package vvector

import "sort"

// Ordering is the result of comparing two version vectors under the partial
// order induced by pointwise <=.
type Ordering int

const (
	// Equal means both vectors agree on every peer's clock.
	Equal Ordering = iota
	// Less means self <= other and self != other.
	Less
	// Greater means other <= self and self != other.
	Greater
	// None means neither vector dominates the other.
	None
)

// String renders the ordering for debug output and test failure messages.
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "Equal"
	case Less:
		return "Less"
	case Greater:
		return "Greater"
	default:
		return "None"
	}
}

// VersionVector maps a peer id to its highest known clock value for some
// item. Missing keys read as 0. An explicit zero entry and a missing entry
// compare equal, so the zero value of VersionVector is the empty vector and
// is equivalent to a vector where every peer reads 0.
type VersionVector struct {
	clocks map[string]int64
}

// New returns an empty version vector.
func New() VersionVector {
	return VersionVector{}
}

// FromMap builds a VersionVector from a peer->clock map, copying it so the
// caller's map can be mutated freely afterward. Entries with value 0 are
// dropped so FromMap behaves the same as building one up via Set.
func FromMap(m map[string]int64) VersionVector {
	v := New()
	for peer, clock := range m {
		v.Set(peer, clock)
	}

	return v
}

// Get returns the clock recorded for peer, or 0 if the peer is absent.
func (v VersionVector) Get(peer string) int64 {
	if v.clocks == nil {
		return 0
	}

	return v.clocks[peer]
}

// Set records clock for peer. Setting a peer to 0 removes it from the
// underlying map so that the zero-default equality in Equal holds without
// special-casing stored zeros.
func (v *VersionVector) Set(peer string, clock int64) {
	if clock == 0 {
		if v.clocks != nil {
			delete(v.clocks, peer)
		}

		return
	}

	if v.clocks == nil {
		v.clocks = make(map[string]int64)
	}

	v.clocks[peer] = clock
}

// Bump increments peer's clock by delta and returns the new value.
func (v *VersionVector) Bump(peer string, delta int64) int64 {
	next := v.Get(peer) + delta
	v.Set(peer, next)

	return next
}

// Peers returns the set of peers with a non-zero clock, in sorted order for
// deterministic iteration. Peers with an implicit zero are never yielded.
func (v VersionVector) Peers() []string {
	peers := make([]string, 0, len(v.clocks))
	for peer := range v.clocks {
		peers = append(peers, peer)
	}

	sort.Strings(peers)

	return peers
}

// Len reports the number of peers with a recorded non-zero clock.
func (v VersionVector) Len() int {
	return len(v.clocks)
}

// IsEmpty reports whether every peer reads as the implicit zero.
func (v VersionVector) IsEmpty() bool {
	return len(v.clocks) == 0
}

// unionPeers returns the set of peers appearing in either vector.
func unionPeers(a, b VersionVector) []string {
	seen := make(map[string]struct{}, len(a.clocks)+len(b.clocks))
	for peer := range a.clocks {
		seen[peer] = struct{}{}
	}

	for peer := range b.clocks {
		seen[peer] = struct{}{}
	}

	peers := make([]string, 0, len(seen))
	for peer := range seen {
		peers = append(peers, peer)
	}

	sort.Strings(peers)

	return peers
}

// LessEq reports whether self <= other: every peer's clock in self is no
// greater than the corresponding clock in other (0 for peers absent from
// either side).
func (v VersionVector) LessEq(other VersionVector) bool {
	for _, peer := range unionPeers(v, other) {
		if v.Get(peer) > other.Get(peer) {
			return false
		}
	}

	return true
}

// Equal reports whether two vectors agree on every peer's clock under the
// zero-default rule: an explicit 0 and an absent entry are indistinguishable.
func (v VersionVector) Equal(other VersionVector) bool {
	for _, peer := range unionPeers(v, other) {
		if v.Get(peer) != other.Get(peer) {
			return false
		}
	}

	return true
}

// PartialCmp classifies the relationship between self and other.
func (v VersionVector) PartialCmp(other VersionVector) Ordering {
	if v.Equal(other) {
		return Equal
	}

	selfLE := v.LessEq(other)
	otherLE := other.LessEq(v)

	switch {
	case selfLE && !otherLE:
		return Less
	case otherLE && !selfLE:
		return Greater
	default:
		return None
	}
}

// Max mutates self in place to the pointwise maximum of self and other.
func (v *VersionVector) Max(other VersionVector) {
	for _, peer := range unionPeers(*v, other) {
		if o := other.Get(peer); o > v.Get(peer) {
			v.Set(peer, o)
		}
	}
}

// Merged returns a new vector holding the pointwise maximum of a and b,
// leaving both inputs untouched. Convenience wrapper around Max for callers
// that prefer an immutable style.
func Merged(a, b VersionVector) VersionVector {
	out := a.Clone()
	out.Max(b)

	return out
}

// Clone returns an independent copy of v.
func (v VersionVector) Clone() VersionVector {
	if v.clocks == nil {
		return VersionVector{}
	}

	clocks := make(map[string]int64, len(v.clocks))
	for peer, clock := range v.clocks {
		clocks[peer] = clock
	}

	return VersionVector{clocks: clocks}
}

// Sole returns the single (peer, clock) entry of a one-entry vector, as
// produced by a file item's last-mod singleton. Returns ("", 0) for an
// empty vector; if more than one peer is present (not expected for a
// singleton), the lowest-sorted peer wins deterministically.
func (v VersionVector) Sole() (string, int64) {
	peers := v.Peers()
	if len(peers) == 0 {
		return "", 0
	}

	return peers[0], v.Get(peers[0])
}

// ToMap returns a plain map copy of the recorded (non-zero) entries, for
// serialization or row-by-row persistence as (owner_item, peer_id, clock).
func (v VersionVector) ToMap() map[string]int64 {
	out := make(map[string]int64, len(v.clocks))
	for peer, clock := range v.clocks {
		out[peer] = clock
	}

	return out
}
