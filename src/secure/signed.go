package secure

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/crypto"
	"github.com/mosaicnetworks/hubnet/src/crypto/keys"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/pkg/errors"
)

// SignedID identifies signed envelopes
const SignedID = "SIGm"

// scalarSize is the width of each of r and s in an encoded signature.
const scalarSize = 32

// ErrBadSignature is returned when a signature does not match the signer's key.
var ErrBadSignature = errors.New("invalid signature")

// Signed wraps a message with the signature of the node that produced it.
type Signed struct {
	Signer    uuid.UUID
	Message   *message.Message
	Signature []byte
}

// Sign produces a Signed envelope for m. The signature covers the signer GUID
// and the full bytes of m.
func Sign(m *message.Message, signer uuid.UUID, priv *ecdsa.PrivateKey) (*Signed, error) {
	sig, err := SignBytes(signedBytes(signer, m), priv)
	if err != nil {
		return nil, err
	}
	return &Signed{
		Signer:    signer,
		Message:   m,
		Signature: sig,
	}, nil
}

// Verify checks the signature against pub, the signer's encoded public key.
func (s *Signed) Verify(pub []byte) error {
	return VerifyBytes(signedBytes(s.Signer, s.Message), s.Signature, pub)
}

// SignBytes signs the SHA-256 of data and returns r and s as two 32-byte
// big-endian integers.
func SignBytes(data []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	r, s, err := keys.Sign(priv, crypto.SHA256(data))
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 2*scalarSize)
	r.FillBytes(sig[:scalarSize])
	s.FillBytes(sig[scalarSize:])
	return sig, nil
}

// VerifyBytes checks a signature produced by SignBytes.
func VerifyBytes(data, sig, pub []byte) error {
	key, err := keys.ToPublicKey(pub)
	if err != nil {
		return errors.Wrap(err, "signer public key")
	}
	if len(sig) != 2*scalarSize {
		return errors.Wrapf(ErrBadSignature, "%d signature bytes", len(sig))
	}
	r := new(big.Int).SetBytes(sig[:scalarSize])
	s := new(big.Int).SetBytes(sig[scalarSize:])
	if !keys.Verify(key, crypto.SHA256(data), r, s) {
		return ErrBadSignature
	}
	return nil
}

// ToMessage ...
func (s *Signed) ToMessage() *message.Message {
	m := message.New(SignedID)
	m.AppendGUID(s.Signer)
	m.AppendMessage(s.Message)
	m.AppendCountedBytes(s.Signature)
	return m
}

// SignedFromMessage parses a SIGm envelope. It does not check the signature.
func SignedFromMessage(m *message.Message) (*Signed, error) {
	if m.ID() != SignedID {
		return nil, message.WrongType(SignedID, m.ID())
	}

	r := message.NewReader(m)
	res := &Signed{
		Signer:    r.ExtractGUID(),
		Message:   r.ExtractMessage(),
		Signature: r.ExtractCountedBytes(),
	}
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}
	return res, nil
}

func signedBytes(signer uuid.UUID, m *message.Message) []byte {
	data := make([]byte, 0, len(signer)+m.Len())
	data = append(data, signer[:]...)
	return append(data, m.Bytes()...)
}
