// Package peerid provides the globally unique peer identifier type (a
// human-readable prefix plus a random unique suffix, §3) and the
// bidirectional translator between a store's local numeric peer ids and
// these global names, used whenever two stores exchange items (§4.7.1).
package peerid

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is a globally unique peer identifier: "<prefix>-<random-suffix>".
// The zero value (ID{}) represents an absent/unknown peer.
type ID struct {
	value string
}

// New mints a fresh globally unique ID from a human-readable prefix (e.g.
// a hostname or user-chosen label), sanitized to a lowercase, hyphenated
// slug, plus a random UUID suffix. Two stores created independently, even
// with the same prefix, will never collide.
func New(prefix string) ID {
	slug := sanitize(prefix)
	if slug == "" {
		slug = "peer"
	}

	return ID{value: slug + "-" + uuid.NewString()}
}

// Parse wraps an already-formed peer identifier string (e.g. one received
// over the wire from another store) without minting a new random suffix.
func Parse(raw string) ID {
	return ID{value: strings.TrimSpace(raw)}
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteByte('-')
		}
	}

	return strings.Trim(b.String(), "-")
}

// String returns the raw identifier.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether this is the zero-value ID (no peer).
func (id ID) IsZero() bool {
	return id.value == ""
}

// Equal reports whether two IDs are the same peer.
func (id ID) Equal(other ID) bool {
	return id.value == other.value
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	*id = Parse(string(text))
	return nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	if src == nil {
		*id = ID{}
		return nil
	}

	switch v := src.(type) {
	case string:
		*id = Parse(v)
		return nil
	case []byte:
		*id = Parse(string(v))
		return nil
	default:
		return fmt.Errorf("peerid.ID.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}

	return id.value, nil
}

var (
	_ encoding.TextMarshaler   = ID{}
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ fmt.Stringer             = ID{}
	_ driver.Valuer            = ID{}
	_ sql.Scanner              = (*ID)(nil)
)
