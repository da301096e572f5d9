package metadatadb

import (
	"time"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

// Kind classifies an item row.
type Kind string

const (
	KindFile      Kind = "FILE"
	KindFolder    Kind = "FOLDER"
	KindDeletion  Kind = "DELETION"
)

// FSMetadata is present for FILE and FOLDER items (§3).
type FSMetadata struct {
	CaseSensitiveName string
	CreationTime      time.Time
	ModTime           time.Time
	ContentHash       string
	IsReadOnly        bool
}

// ModMetadata is the single (peer, clock) pair that most recently touched
// the item, plus who created it (§3). It is kept for FILE and FOLDER items
// and for DELETION tombstones, whose last-mod is the deletion event.
type ModMetadata struct {
	CreatorPeerID  int64
	CreatorClock   int64
	LastModPeerID  int64
	LastModClock   int64
}

// LastMod returns the last-mod singleton as a one-entry version vector keyed
// by the local numeric peer id (stringified).
func (m ModMetadata) LastMod() vvector.VersionVector {
	v := vvector.New()
	v.Set(peerKey(m.LastModPeerID), m.LastModClock)

	return v
}

// Item is a fully resolved metadata row: its path, kind, FS metadata (nil
// for DELETION), Mod metadata (nil only for a tombstone that never had a
// recorded event), the rolled-up mod-time vector (folders only), and its
// resolved sync-time vector (after walking ancestor overrides, §4.5.5).
type Item struct {
	ID              int64
	StoreID         int64
	PathComponentID int64
	Path            relpath.RelativePath
	Kind            Kind
	FS              *FSMetadata
	Mod             *ModMetadata
	// ModTimeVector is the folder mod-time vector (§3 invariant): the
	// pointwise max of all descendants' last-mod singletons. Empty/unused
	// for files, whose "mod time" is just Mod.LastMod().
	ModTimeVector vvector.VersionVector
	SyncTime      vvector.VersionVector
}

// LastMod returns the item's effective last-modification vector: the
// rolled-up ModTimeVector for folders, and the last-mod singleton (the
// event that created or, for a tombstone, deleted it) for files and
// deletions alike — a local deletion's last-mod must stay meaningful so it
// can be compared against a conflicting remote edit (§4.7.5:
// LocalDeletionRemoteFile/LocalDeletionRemoteFolder).
func (it *Item) LastMod() vvector.VersionVector {
	switch it.Kind {
	case KindFolder:
		return it.ModTimeVector
	default:
		if it.Mod != nil {
			return it.Mod.LastMod()
		}

		return vvector.New()
	}
}
