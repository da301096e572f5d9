package peerid

import "fmt"

// StoreDescriptor is the minimal shape a translator needs from one side's
// data_stores rows: its local numeric id and global unique name.
type StoreDescriptor struct {
	LocalID    int64
	GlobalName ID
}

// Translator converts numeric peer ids between two stores' local id spaces
// by way of their shared global names (§4.7.1). Built fresh for each sync
// session from both sides' exchanged data_stores rows.
type Translator struct {
	localToGlobal map[int64]ID
	globalToLocal map[string]int64
	remoteToLocal map[int64]int64
	localToRemote map[int64]int64
}

// NewTranslator builds a Translator from the receiver's own known stores
// and the sender's advertised stores. Every receiver-side store is recorded
// in localToGlobal/globalToLocal, so GlobalName works for it; sender stores
// the receiver does not know are dropped, so remoteToLocal/localToRemote
// (and ToLocal/ToRemote) only cover peers known to both.
func NewTranslator(local, remote []StoreDescriptor) *Translator {
	t := &Translator{
		localToGlobal: make(map[int64]ID, len(local)),
		globalToLocal: make(map[string]int64, len(local)),
		remoteToLocal: make(map[int64]int64, len(remote)),
		localToRemote: make(map[int64]int64, len(remote)),
	}

	for _, d := range local {
		t.localToGlobal[d.LocalID] = d.GlobalName
		t.globalToLocal[d.GlobalName.String()] = d.LocalID
	}

	for _, d := range remote {
		localID, ok := t.globalToLocal[d.GlobalName.String()]
		if !ok {
			continue
		}

		t.remoteToLocal[d.LocalID] = localID
		t.localToRemote[localID] = d.LocalID
	}

	return t
}

// ToLocal translates a remote numeric peer id into this store's local
// numeric id space. Returns an error if the receiver has not yet been told
// about (i.e. created a data_stores row for) that peer — callers should
// call EnsurePeerStore for every remote.StoreDescriptor before syncing.
func (t *Translator) ToLocal(remoteID int64) (int64, error) {
	localID, ok := t.remoteToLocal[remoteID]
	if !ok {
		return 0, fmt.Errorf("peerid: remote peer id %d has no known local counterpart", remoteID)
	}

	return localID, nil
}

// ToRemote translates a local numeric peer id into the sender's numeric id
// space, for requests the receiver makes back to the sender.
func (t *Translator) ToRemote(localID int64) (int64, error) {
	remoteID, ok := t.localToRemote[localID]
	if !ok {
		return 0, fmt.Errorf("peerid: local peer id %d is unknown to the remote side", localID)
	}

	return remoteID, nil
}

// GlobalName returns the global unique name for a local numeric peer id.
func (t *Translator) GlobalName(localID int64) (ID, error) {
	name, ok := t.localToGlobal[localID]
	if !ok {
		return ID{}, fmt.Errorf("peerid: local peer id %d has no recorded global name", localID)
	}

	return name, nil
}
