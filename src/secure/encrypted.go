package secure

import (
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/mosaicnetworks/hubnet/src/crypto/keys"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// EncryptedID identifies encrypted envelopes
const EncryptedID = "ENCm"

var kdfInfo = []byte("hubnet encrypted message")

// ErrDecrypt is returned when an envelope cannot be opened with the given key.
var ErrDecrypt = errors.New("cannot decrypt message")

// Encrypt seals m for the holder of the private key matching recipient, an
// encoded secp256k1 public key. Each envelope uses a fresh ephemeral key, so
// only the recipient can open it.
func Encrypt(m *message.Message, recipient []byte) (*message.Message, error) {
	pub, err := keys.ToPublicKey(recipient)
	if err != nil {
		return nil, errors.Wrap(err, "recipient public key")
	}

	eph, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}
	ephPub := keys.FromPublicKey(&eph.PublicKey)

	aead, err := newAEAD(keys.SharedSecret(eph, pub), ephPub)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	env := message.New(EncryptedID)
	env.AppendCountedBytes(ephPub)
	env.AppendCountedBytes(nonce)
	env.AppendCountedBytes(aead.Seal(nil, nonce, m.Bytes(), ephPub))
	return env, nil
}

// Decrypt opens an envelope produced by Encrypt.
func Decrypt(env *message.Message, priv *ecdsa.PrivateKey) (*message.Message, error) {
	if env.ID() != EncryptedID {
		return nil, message.WrongType(EncryptedID, env.ID())
	}

	r := message.NewReader(env)
	ephPub := r.ExtractCountedBytes()
	nonce := r.ExtractCountedBytes()
	sealed := r.ExtractCountedBytes()
	if err := r.AssertAtEnd(); err != nil {
		return nil, err
	}

	pub, err := keys.ToPublicKey(ephPub)
	if err != nil {
		return nil, errors.Wrap(err, "ephemeral public key")
	}

	aead, err := newAEAD(keys.SharedSecret(priv, pub), ephPub)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errors.Wrapf(ErrDecrypt, "nonce of %d bytes", len(nonce))
	}

	plain, err := aead.Open(nil, nonce, sealed, ephPub)
	if err != nil {
		return nil, ErrDecrypt
	}
	return message.FromBytes(plain)
}

func newAEAD(secret, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, salt, kdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}
