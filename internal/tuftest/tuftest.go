// Package tuftest builds signed metadata fixtures for tests across the
// module: generating keys, wiring role definitions, and signing envelopes
// so individual package tests don't have to repeat that boilerplate.
package tuftest

import (
	"crypto/ed25519"
	"testing"

	"github.com/trustframework/go-tuf-core/metadata"
	"github.com/trustframework/go-tuf-core/metadata/interchange"

	"github.com/stretchr/testify/require"
)

// NewKey generates a fresh ed25519 keypair for test fixtures.
func NewKey(t testing.TB) *metadata.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key, err := metadata.NewEd25519PrivateKey(priv)
	require.NoError(t, err)
	return key
}

// PublicKeys collects the public keys of keys, keyed by their KeyId.
func PublicKeys(keys ...*metadata.PrivateKey) map[metadata.KeyId]*metadata.PublicKey {
	out := make(map[metadata.KeyId]*metadata.PublicKey, len(keys))
	for _, k := range keys {
		out[k.Public.ID()] = k.Public
	}
	return out
}

// KeyIDs returns the KeyId of each key, in order.
func KeyIDs(keys ...*metadata.PrivateKey) []metadata.KeyId {
	out := make([]metadata.KeyId, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Public.ID())
	}
	return out
}

// Sign signs m with every key in signers and serializes the result.
func Sign[T metadata.Roles](t testing.TB, di interchange.DataInterchange, m *metadata.Metadata[T], signers ...*metadata.PrivateKey) []byte {
	t.Helper()
	for _, k := range signers {
		_, err := m.Sign(di, k)
		require.NoError(t, err)
	}
	raw, err := m.ToBytes(di)
	require.NoError(t, err)
	return raw
}
