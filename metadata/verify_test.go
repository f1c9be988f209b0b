package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignaturesRejectsEmptySignatureSet(t *testing.T) {
	_, pub := mustEd25519Key(t)
	err := VerifySignatures(nil, []byte("payload"), 1, map[KeyId]*PublicKey{pub.ID(): pub})
	assert.Error(t, err)
}

func TestVerifySignaturesRejectsNonPositiveThreshold(t *testing.T) {
	key, pub := mustEd25519Key(t)
	sig, err := key.SignBytes([]byte("payload"))
	require.NoError(t, err)

	err = VerifySignatures([]Signature{*sig}, []byte("payload"), 0, map[KeyId]*PublicKey{pub.ID(): pub})
	assert.Error(t, err)
}

func TestVerifySignaturesDeduplicatesRepeatedSignatureFromSameKey(t *testing.T) {
	key, pub := mustEd25519Key(t)
	sig, err := key.SignBytes([]byte("payload"))
	require.NoError(t, err)

	err = VerifySignatures([]Signature{*sig, *sig}, []byte("payload"), 2, map[KeyId]*PublicKey{pub.ID(): pub})
	assert.Error(t, err, "two copies of the same key's signature must not satisfy a threshold of 2")
}

func TestVerifySignaturesStopsAtThreshold(t *testing.T) {
	key1, pub1 := mustEd25519Key(t)
	key2, pub2 := mustEd25519Key(t)
	key3, pub3 := mustEd25519Key(t)

	payload := []byte("payload")
	sig1, err := key1.SignBytes(payload)
	require.NoError(t, err)
	sig2, err := key2.SignBytes(payload)
	require.NoError(t, err)
	sig3, err := key3.SignBytes(payload)
	require.NoError(t, err)

	authorized := map[KeyId]*PublicKey{pub1.ID(): pub1, pub2.ID(): pub2, pub3.ID(): pub3}
	err = VerifySignatures([]Signature{*sig1, *sig2, *sig3}, payload, 2, authorized)
	assert.NoError(t, err)
}

func TestVerifySignaturesRejectsBadSignatureBytes(t *testing.T) {
	key, pub := mustEd25519Key(t)
	sig, err := key.SignBytes([]byte("payload"))
	require.NoError(t, err)
	tampered := Signature{KeyID: sig.KeyID, Sig: append([]byte{}, sig.Sig...)}
	tampered.Sig[0] ^= 0xFF

	err = VerifySignatures([]Signature{tampered}, []byte("payload"), 1, map[KeyId]*PublicKey{pub.ID(): pub})
	assert.Error(t, err)
}
