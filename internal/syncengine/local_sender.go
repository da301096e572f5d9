package syncengine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tonimelisma/data-squirrel/internal/fsinteraction"
	"github.com/tonimelisma/data-squirrel/internal/metadatadb"
	"github.com/tonimelisma/data-squirrel/internal/peerid"
	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/scan"
	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

// LocalSender implements Sender over a second, already-open store in the
// same process — the shape a single-machine "sync-from <other root>" CLI
// invocation needs, and the one used in this repository's own tests.
// Translating between the two stores' peer-id spaces happens here, via a
// peerid.Translator built from both sides' exchanged data_stores rows
// (§4.7.1), before any vector crosses into the receiver's space.
type LocalSender struct {
	db           *metadatadb.MetadataDB
	fi           *fsinteraction.FSInteraction
	detectBitrot bool
	translator   *peerid.Translator
}

// NewLocalSender builds a Sender over senderDB/senderFI, translating its
// vectors into receiverDB's local peer-id space. receiverDB must already
// have (or be given, via EnsurePeerStore below) a data_stores row for every
// store senderDB knows about.
func NewLocalSender(ctx context.Context, receiverDB *metadatadb.MetadataDB, senderDB *metadatadb.MetadataDB, senderFI *fsinteraction.FSInteraction, detectBitrot bool) (*LocalSender, error) {
	dataSetID, _, _, err := receiverDB.RequireDataSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: receiver has no data set: %w", err)
	}

	senderStores, err := senderDB.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: listing sender stores: %w", err)
	}

	remoteDescriptors := make([]peerid.StoreDescriptor, 0, len(senderStores))

	now := time.Now()

	for _, st := range senderStores {
		if _, err := receiverDB.EnsurePeerStore(ctx, dataSetID, st.UniqueName, st.HumanName, now); err != nil {
			return nil, fmt.Errorf("syncengine: registering peer store %q: %w", st.UniqueName, err)
		}

		remoteDescriptors = append(remoteDescriptors, peerid.StoreDescriptor{
			LocalID:    st.ID,
			GlobalName: peerid.Parse(st.UniqueName),
		})
	}

	receiverStores, err := receiverDB.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: listing receiver stores: %w", err)
	}

	localDescriptors := make([]peerid.StoreDescriptor, 0, len(receiverStores))
	for _, st := range receiverStores {
		localDescriptors = append(localDescriptors, peerid.StoreDescriptor{
			LocalID:    st.ID,
			GlobalName: peerid.Parse(st.UniqueName),
		})
	}

	translator := peerid.NewTranslator(localDescriptors, remoteDescriptors)

	return &LocalSender{db: senderDB, fi: senderFI, detectBitrot: detectBitrot, translator: translator}, nil
}

// Item implements Sender.
func (s *LocalSender) Item(ctx context.Context, path relpath.RelativePath) (*metadatadb.RemoteItem, error) {
	item, err := s.db.LookupLocalItem(ctx, path)
	if err != nil {
		return nil, err
	}

	if item == nil {
		return nil, nil //nolint:nilnil
	}

	return &metadatadb.RemoteItem{
		Path:     path,
		Kind:     item.Kind,
		FS:       item.FS,
		LastMod:  s.translate(item.LastMod()),
		SyncTime: s.translate(item.SyncTime),
	}, nil
}

// ChildNames implements Sender.
func (s *LocalSender) ChildNames(ctx context.Context, path relpath.RelativePath) ([]string, error) {
	store, err := s.db.LocalStore(ctx)
	if err != nil {
		return nil, err
	}

	var children []metadatadb.ChildItem

	if path.IsRoot() {
		children, err = s.db.ListChildItems(ctx, store.ID, 0, false)
	} else {
		pcID, lookupErr := s.db.LookupPath(ctx, path)
		if lookupErr != nil {
			return nil, nil
		}

		children, err = s.db.ListChildItems(ctx, store.ID, pcID, true)
	}

	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Name)
	}

	return names, nil
}

// ReadFile implements Sender.
func (s *LocalSender) ReadFile(ctx context.Context, path relpath.RelativePath) (io.ReadCloser, error) {
	return s.fi.ReadFile(ctx, path)
}

// AssertDiskMatchesDB implements Sender's pre-flight (§4.7.2): it performs
// a full scan and fails if the scan found anything to change, meaning the
// sender's disk had drifted from its own database unnoticed.
func (s *LocalSender) AssertDiskMatchesDB(ctx context.Context) error {
	scanner := scan.New(s.fi, s.db, s.detectBitrot, nil)

	result, err := scanner.PerformFullScan(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: pre-flight scan failed: %w", err)
	}

	if result.Changed > 0 || result.Deleted > 0 {
		return fmt.Errorf("syncengine: disk changed since last scan (%d changed, %d deleted); re-scan before syncing", result.Changed, result.Deleted)
	}

	return nil
}

// translate remaps v's peer keys from the sender's local numeric peer-id
// space into the receiver's, dropping any peer the receiver has not been
// told about (none should remain after NewLocalSender's EnsurePeerStore
// pass over every row the sender reported).
func (s *LocalSender) translate(v vvector.VersionVector) vvector.VersionVector {
	out := vvector.New()

	for _, peer := range v.Peers() {
		senderLocalID, err := strconv.ParseInt(peer, 10, 64)
		if err != nil {
			continue
		}

		receiverLocalID, err := s.translator.ToLocal(senderLocalID)
		if err != nil {
			continue
		}

		out.Set(strconv.FormatInt(receiverLocalID, 10), v.Get(peer))
	}

	return out
}

var _ Sender = (*LocalSender)(nil)
