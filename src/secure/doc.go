// Package secure implements the end-to-end envelopes nodes exchange on top of
// relayed messages.
//
// An ENCm envelope can only be opened by the holder of the recipient's private
// key. It is sealed with XChaCha20-Poly1305 under a key derived, with HKDF, from
// an ECDH exchange between a one-time key and the recipient's secp256k1 key.
//
// A SIGm envelope carries a message together with the ECDSA signature of the
// node that produced it, so it can be checked after crossing untrusted hubs.
package secure
