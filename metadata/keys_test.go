package metadata

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEd25519Key(t *testing.T) (*PrivateKey, *PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key, err := NewEd25519PrivateKey(priv)
	require.NoError(t, err)
	return key, key.Public
}

func mustECDSAKey(t *testing.T) (*PrivateKey, *PublicKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	key, err := NewECDSAPrivateKey(priv)
	require.NoError(t, err)
	return key, key.Public
}

func mustRSAKey(t *testing.T) (*PrivateKey, *PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := NewRSAPrivateKey(priv)
	require.NoError(t, err)
	return key, key.Public
}

func TestEd25519SignAndVerifyRoundTrip(t *testing.T) {
	key, pub := mustEd25519Key(t)
	payload := []byte(`{"hello":"world"}`)

	sig, err := key.SignBytes(payload)
	require.NoError(t, err)
	assert.Equal(t, pub.ID(), sig.KeyID)
	assert.NoError(t, pub.Verify(payload, sig.Sig))
}

func TestPublicKeyVerifyRejectsTamperedPayload(t *testing.T) {
	key, pub := mustEd25519Key(t)
	sig, err := key.SignBytes([]byte("original"))
	require.NoError(t, err)

	err = pub.Verify([]byte("tampered"), sig.Sig)
	assert.ErrorIs(t, err, ErrBadSignature{})
}

func TestKeyIDIsStableAndContentAddressed(t *testing.T) {
	_, pub := mustEd25519Key(t)
	id1 := pub.ID()
	id2 := pub.ID()
	assert.Equal(t, id1, id2, "KeyId must be cached, not recomputed differently each call")

	other, _ := mustEd25519Key(t)
	assert.NotEqual(t, id1, other.Public.ID())
}

func TestNewPublicKeyRejectsWrongLengthEd25519Key(t *testing.T) {
	_, err := NewPublicKey(KeyTypeEd25519, SignatureSchemeEd25519, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestECDSASignAndVerifyRoundTrip(t *testing.T) {
	key, pub := mustECDSAKey(t)
	payload := []byte(`{"hello":"ecdsa"}`)

	sig, err := key.SignBytes(payload)
	require.NoError(t, err)
	assert.Equal(t, pub.ID(), sig.KeyID)
	assert.NoError(t, pub.Verify(payload, sig.Sig))
}

func TestECDSAVerifyRejectsTamperedPayload(t *testing.T) {
	key, pub := mustECDSAKey(t)
	sig, err := key.SignBytes([]byte("original"))
	require.NoError(t, err)

	err = pub.Verify([]byte("tampered"), sig.Sig)
	assert.ErrorIs(t, err, ErrBadSignature{})
}

func TestRSASignAndVerifyRoundTrip(t *testing.T) {
	key, pub := mustRSAKey(t)
	payload := []byte(`{"hello":"rsa"}`)

	sig, err := key.SignBytes(payload)
	require.NoError(t, err)
	assert.Equal(t, pub.ID(), sig.KeyID)
	assert.NoError(t, pub.Verify(payload, sig.Sig))
}

func TestRSAVerifyRejectsTamperedPayload(t *testing.T) {
	key, pub := mustRSAKey(t)
	sig, err := key.SignBytes([]byte("original"))
	require.NoError(t, err)

	err = pub.Verify([]byte("tampered"), sig.Sig)
	assert.ErrorIs(t, err, ErrBadSignature{})
}

func TestNewPublicKeyRejectsUnknownKeyType(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, err = NewPublicKey("rot13", "rot13", []byte(priv.Public().(ed25519.PublicKey)))
	assert.Error(t, err)
}

func TestHashPreferencePrefersSHA512(t *testing.T) {
	hashes := map[HashAlgorithm]HashValue{
		HashAlgorithmSHA256: {1, 2, 3},
		HashAlgorithmSHA512: {4, 5, 6},
	}
	alg, val, err := HashPreference(hashes)
	require.NoError(t, err)
	assert.Equal(t, HashAlgorithmSHA512, alg)
	assert.Equal(t, HashValue{4, 5, 6}, val)
}

func TestHashPreferenceFallsBackToSHA256(t *testing.T) {
	hashes := map[HashAlgorithm]HashValue{HashAlgorithmSHA256: {1, 2, 3}}
	alg, _, err := HashPreference(hashes)
	require.NoError(t, err)
	assert.Equal(t, HashAlgorithmSHA256, alg)
}

func TestHashPreferenceRejectsEmptySet(t *testing.T) {
	_, _, err := HashPreference(nil)
	assert.ErrorIs(t, err, ErrNoSupportedHashAlgorithm{})
}

func TestCalculateHashesMatchesDirectDigest(t *testing.T) {
	data := []byte("the quick brown fox")
	size, hashes, err := CalculateHashes(bytesReader(data), []HashAlgorithm{HashAlgorithmSHA256, HashAlgorithmSHA512})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.Len(t, hashes, 2)
	sum256 := sha256.Sum256(data)
	sum512 := sha512.Sum512(data)
	assert.Equal(t, HashValue(sum256[:]), hashes[HashAlgorithmSHA256])
	assert.Equal(t, HashValue(sum512[:]), hashes[HashAlgorithmSHA512])
}
