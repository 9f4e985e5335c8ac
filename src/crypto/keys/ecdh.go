package keys

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
)

// SharedSecret computes the ECDH secret between a private key and a remote
// public key: the X coordinate of priv*pub, 32 bytes. Both sides of an
// exchange derive the same value.
func SharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) []byte {
	return btcec.GenerateSharedSecret((*btcec.PrivateKey)(priv), (*btcec.PublicKey)(pub))
}
