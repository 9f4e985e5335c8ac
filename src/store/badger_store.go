package store

import (
	"os"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/sirupsen/logrus"
)

const (
	identityKey  = "identity"
	knownHubsKey = "known_hubs"
)

// BadgerStore implements the Store interface on top of a Badger database.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens, or creates, the database at path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(logger)

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// GetIdentity implements the Store interface.
func (s *BadgerStore) GetIdentity() (*Identity, error) {
	data, err := s.dbGet(identityKey, "Identity")
	if err != nil {
		return nil, err
	}
	id := new(Identity)
	if err := id.Unmarshal(data); err != nil {
		return nil, cm.NewStoreErr("Identity", cm.Corrupted, identityKey)
	}
	return id, nil
}

// SetIdentity implements the Store interface.
func (s *BadgerStore) SetIdentity(id *Identity) error {
	data, err := id.Marshal()
	if err != nil {
		return err
	}
	return s.dbSet(identityKey, data)
}

// GetKnownHubs implements the Store interface. An empty database yields no
// hubs and no error.
func (s *BadgerStore) GetKnownHubs() ([]*peers.NodeInfo, error) {
	data, err := s.dbGet(knownHubsKey, "KnownHubs")
	if cm.IsStore(err, cm.KeyNotFound) {
		return []*peers.NodeInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	hubs, err := unmarshalHubs(data)
	if err != nil {
		return nil, cm.NewStoreErr("KnownHubs", cm.Corrupted, knownHubsKey)
	}
	return hubs, nil
}

// SetKnownHubs implements the Store interface.
func (s *BadgerStore) SetKnownHubs(hubs []*peers.NodeInfo) error {
	data, err := marshalHubs(hubs)
	if err != nil {
		return err
	}
	return s.dbSet(knownHubsKey, data)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func (s *BadgerStore) dbGet(key string, dataType string) ([]byte, error) {
	var res []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		res, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, cm.NewStoreErr(dataType, cm.KeyNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *BadgerStore) dbSet(key string, val []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set([]byte(key), val); err != nil {
		return err
	}
	return tx.Commit()
}
