package node

import (
	"crypto/ecdsa"

	"github.com/google/uuid"
	cm "github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/crypto/keys"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/mosaicnetworks/hubnet/src/store"
)

// Identity holds the private key and the stable GUID of a node
type Identity struct {
	Key     *ecdsa.PrivateKey
	GUID    uuid.UUID
	Moniker string

	pubBytes []byte
	pubHex   string
}

// NewIdentity is a factory method for an Identity
func NewIdentity(key *ecdsa.PrivateKey, guid uuid.UUID, moniker string) *Identity {
	return &Identity{
		Key:      key,
		GUID:     guid,
		Moniker:  moniker,
		pubBytes: keys.FromPublicKey(&key.PublicKey),
		pubHex:   keys.PublicKeyHex(&key.PublicKey),
	}
}

// LoadIdentity returns the identity recorded in s. When s has none, a new
// GUID is drawn and saved along with key, or with a fresh key if key is nil.
// A non-nil key replaces the recorded one, and a non-empty moniker replaces
// the recorded moniker.
func LoadIdentity(s store.Store, key *ecdsa.PrivateKey, moniker string) (*Identity, error) {
	rec, err := s.GetIdentity()
	if err != nil && !cm.IsStore(err, cm.KeyNotFound) {
		return nil, err
	}
	if rec == nil {
		rec = &store.Identity{GUID: uuid.New()}
	}

	if key == nil && len(rec.Key) > 0 {
		if key, err = keys.ParsePrivateKey(rec.Key); err != nil {
			return nil, err
		}
	}
	if key == nil {
		if key, err = keys.GenerateECDSAKey(); err != nil {
			return nil, err
		}
	}
	if moniker == "" {
		moniker = rec.Moniker
	}

	rec.Key = keys.DumpPrivateKey(key)
	rec.Moniker = moniker
	if err := s.SetIdentity(rec); err != nil {
		return nil, err
	}

	return NewIdentity(key, rec.GUID, moniker), nil
}

// PublicKeyBytes returns the node's public key as a byte array
func (i *Identity) PublicKeyBytes() []byte {
	return i.pubBytes
}

// PublicKeyHex returns the node's public key as a hex string
func (i *Identity) PublicKeyHex() string {
	return i.pubHex
}

// NodeID ...
func (i *Identity) NodeID() peers.NodeID {
	return peers.NewNodeID(i.GUID, i.PublicKeyBytes())
}
