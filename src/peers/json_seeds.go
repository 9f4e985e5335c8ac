package peers

import (
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

// Seed is an entry of the peers.json file: a hub to contact on startup. GUID
// is optional; when it is empty, the node accepts whichever hub answers at
// NetAddr.
type Seed struct {
	NetAddr   string `json:"NetAddr"`
	GUID      string `json:"GUID,omitempty"`
	PubKeyHex string `json:"PubKeyHex,omitempty"`
	Moniker   string `json:"Moniker,omitempty"`
}

// NodeGUID parses the seed's GUID, returning uuid.Nil if it is empty or
// malformed.
func (s Seed) NodeGUID() uuid.UUID {
	if s.GUID == "" {
		return uuid.Nil
	}
	g, err := uuid.Parse(s.GUID)
	if err != nil {
		return uuid.Nil
	}
	return g
}

// JSONSeeds reads and writes the seed list in a JSON file, which human
// operators can edit.
type JSONSeeds struct {
	l    sync.Mutex
	path string
}

// NewJSONSeeds ...
func NewJSONSeeds(path string) *JSONSeeds {
	return &JSONSeeds{
		path: path,
	}
}

// Seeds parses the underlying file. A missing or empty file yields no seeds
// and no error.
func (j *JSONSeeds) Seeds() ([]Seed, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(buf) == 0 {
		return nil, nil
	}

	var seeds []Seed
	if err := codec.NewDecoderBytes(buf, jsonHandle()).Decode(&seeds); err != nil {
		return nil, err
	}

	return seeds, nil
}

// SetSeeds writes the seeds to the underlying file.
func (j *JSONSeeds) SetSeeds(seeds []Seed) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf []byte
	if err := codec.NewEncoderBytes(&buf, jsonHandle()).Encode(seeds); err != nil {
		return err
	}

	return os.WriteFile(j.path, buf, 0644)
}

func jsonHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	jh.Indent = 2
	return jh
}
