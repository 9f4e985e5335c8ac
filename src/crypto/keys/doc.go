// Package keys implements the public key cryptography used by hubnet nodes.
//
// Every node owns a secp256k1 key-pair. The public key travels in the node's
// NodeInfo; the private key signs messages and decrypts envelopes addressed to
// the node. The curve is the one used by Bitcoin and Ethereum, implemented by
// btcsuite's btcec package, so existing keys from those ecosystems can operate
// a node.
package keys
