package secure

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/hubnet/src/message"
)

// Provider bundles the envelope operations a node needs from its crypto layer.
// The zero value is ready to use.
type Provider struct{}

// Encrypt calls Encrypt.
func (Provider) Encrypt(m *message.Message, recipient []byte) (*message.Message, error) {
	return Encrypt(m, recipient)
}

// Decrypt calls Decrypt.
func (Provider) Decrypt(env *message.Message, priv *ecdsa.PrivateKey) (*message.Message, error) {
	return Decrypt(env, priv)
}

// Sign returns the signature of data.
func (Provider) Sign(data []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	return SignBytes(data, priv)
}

// Verify reports whether sig is a signature of data by the owner of pub.
func (Provider) Verify(data, sig, pub []byte) bool {
	return VerifyBytes(data, sig, pub) == nil
}
