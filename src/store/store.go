package store

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/ugorji/go/codec"
)

// Store is an interface for the local settings a node keeps across restarts.
type Store interface {
	// GetIdentity returns the identity of the local node.
	GetIdentity() (*Identity, error)
	// SetIdentity replaces the identity of the local node.
	SetIdentity(*Identity) error
	// GetKnownHubs returns the hubs remembered from previous runs.
	GetKnownHubs() ([]*peers.NodeInfo, error)
	// SetKnownHubs replaces the remembered hubs.
	SetKnownHubs([]*peers.NodeInfo) error
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database.
	StorePath() string
}

// Identity is what a node needs to come back as itself: its GUID, friendly
// name and private key.
type Identity struct {
	GUID    uuid.UUID
	Moniker string
	Key     []byte
}

type identityRecord struct {
	GUID    string
	Moniker string
	Key     []byte
}

// Marshal - json encoding of Identity
func (i *Identity) Marshal() ([]byte, error) {
	rec := identityRecord{
		GUID:    i.GUID.String(),
		Moniker: i.Moniker,
		Key:     i.Key,
	}
	return encode(&rec)
}

// Unmarshal ...
func (i *Identity) Unmarshal(data []byte) error {
	var rec identityRecord
	if err := decode(data, &rec); err != nil {
		return err
	}
	guid, err := uuid.Parse(rec.GUID)
	if err != nil {
		return err
	}
	i.GUID = guid
	i.Moniker = rec.Moniker
	i.Key = rec.Key
	return nil
}

// hubsRecord holds each hub in its wire encoding, so the record follows the
// node descriptor wherever the protocol takes it.
type hubsRecord struct {
	Hubs [][]byte
}

func marshalHubs(hubs []*peers.NodeInfo) ([]byte, error) {
	rec := hubsRecord{}
	for _, h := range hubs {
		rec.Hubs = append(rec.Hubs, h.ToMessage().Bytes())
	}
	return encode(&rec)
}

func unmarshalHubs(data []byte) ([]*peers.NodeInfo, error) {
	var rec hubsRecord
	if err := decode(data, &rec); err != nil {
		return nil, err
	}
	res := make([]*peers.NodeInfo, 0, len(rec.Hubs))
	for _, b := range rec.Hubs {
		m, err := message.FromBytes(b)
		if err != nil {
			return nil, err
		}
		info, err := peers.NodeInfoFromMessage(m)
		if err != nil {
			return nil, err
		}
		res = append(res, info)
	}
	return res, nil
}

func encode(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(v)
}
