package secure

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/crypto/keys"
	"github.com/mosaicnetworks/hubnet/src/message"
)

func testMessage() *message.Message {
	m := message.New("FUNK")
	m.AppendString("Get on up")
	m.AppendInt32(1970)
	return m
}

func TestEncryptDecrypt(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	m := testMessage()

	env, err := Encrypt(m, keys.FromPublicKey(&key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if env.ID() != EncryptedID {
		t.Fatalf("envelope id %s", env.ID())
	}

	res, err := Decrypt(env, key)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal(m) {
		t.Fatalf("decrypted %s, want %s", res, m)
	}

	env2, _ := Encrypt(m, keys.FromPublicKey(&key.PublicKey))
	if env2.Equal(env) {
		t.Fatalf("two envelopes of the same message should differ")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	other, _ := keys.GenerateECDSAKey()

	env, err := Encrypt(testMessage(), keys.FromPublicKey(&key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(env, other); err != ErrDecrypt {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecryptTampered(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()

	env, err := Encrypt(testMessage(), keys.FromPublicKey(&key.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	b := append([]byte{}, env.Bytes()...)
	b[len(b)-1] ^= 0xff
	tampered, _ := message.FromBytes(b)

	if _, err := Decrypt(tampered, key); err != ErrDecrypt {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
	if _, err := Decrypt(testMessage(), key); err == nil {
		t.Fatalf("a plain message should not decrypt")
	}
}

func TestSignVerify(t *testing.T) {
	key, _ := keys.GenerateECDSAKey()
	pub := keys.FromPublicKey(&key.PublicKey)
	signer := uuid.New()

	s, err := Sign(testMessage(), signer, key)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := SignedFromMessage(s.ToMessage())
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Signer != signer || !parsed.Message.Equal(testMessage()) {
		t.Fatalf("signed envelope changed: %v", parsed)
	}
	if err := parsed.Verify(pub); err != nil {
		t.Fatal(err)
	}

	other, _ := keys.GenerateECDSAKey()
	if err := parsed.Verify(keys.FromPublicKey(&other.PublicKey)); err == nil {
		t.Fatalf("signature should not verify under another key")
	}

	parsed.Signer = uuid.New()
	if err := parsed.Verify(pub); err == nil {
		t.Fatalf("signature should bind the signer")
	}
}

func TestProvider(t *testing.T) {
	var p Provider
	key, _ := keys.GenerateECDSAKey()
	pub := keys.FromPublicKey(&key.PublicKey)

	data := []byte("Papa's got a brand new bag")
	sig, err := p.Sign(data, key)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Verify(data, sig, pub) {
		t.Fatalf("signature should verify")
	}
	if p.Verify(data[1:], sig, pub) {
		t.Fatalf("signature should not verify other data")
	}
	if p.Verify(data, sig[:10], pub) {
		t.Fatalf("short signature should not verify")
	}

	env, err := p.Encrypt(testMessage(), pub)
	if err != nil {
		t.Fatal(err)
	}
	m, err := p.Decrypt(env, key)
	if err != nil || !m.Equal(testMessage()) {
		t.Fatalf("round trip failed: %v", err)
	}
}
