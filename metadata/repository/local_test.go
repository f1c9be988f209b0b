package repository

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/trustframework/go-tuf-core/metadata"
	"github.com/trustframework/go-tuf-core/metadata/interchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	dir := t.TempDir()
	local, err := NewLocal(filepath.Join(dir, "metadata"), filepath.Join(dir, "targets"))
	require.NoError(t, err)
	return local
}

func TestLocalMetadataStoreFetchRoundTrip(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	require.NoError(t, local.StoreMetadata(path, metadata.NumberVersion(1), interchange.Default, []byte(`{"hello":1}`)))

	data, err := local.FetchMetadata(path, metadata.NumberVersion(1), interchange.Default, 1024, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"hello":1}`), data)
}

func TestLocalMetadataFetchNotFound(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	_, err = local.FetchMetadata(path, metadata.NoVersion(), interchange.Default, 1024, nil)
	assert.ErrorIs(t, err, metadata.ErrNotFound{})
}

func TestLocalMetadataFetchRejectsOversizedFile(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	require.NoError(t, local.StoreMetadata(path, metadata.NoVersion(), interchange.Default, []byte("0123456789")))

	_, err = local.FetchMetadata(path, metadata.NoVersion(), interchange.Default, 5, nil)
	assert.IsType(t, metadata.ErrDownloadLimit{}, err)
}

func TestLocalMetadataFetchVerifiesExpectedHash(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewMetadataPath("snapshot")
	require.NoError(t, err)
	content := []byte(`{"hello":1}`)
	require.NoError(t, local.StoreMetadata(path, metadata.NoVersion(), interchange.Default, content))

	_, hashes, err := metadata.CalculateHashes(bytes.NewReader(content), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)

	data, err := local.FetchMetadata(path, metadata.NoVersion(), interchange.Default, 1024, hashes)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalMetadataFetchRejectsHashMismatch(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewMetadataPath("snapshot")
	require.NoError(t, err)
	require.NoError(t, local.StoreMetadata(path, metadata.NoVersion(), interchange.Default, []byte(`{"hello":1}`)))

	_, wantHashes, err := metadata.CalculateHashes(bytes.NewReader([]byte(`{"hello":2}`)), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)

	_, err = local.FetchMetadata(path, metadata.NoVersion(), interchange.Default, 1024, wantHashes)
	assert.Error(t, err)
}

func TestLocalTargetStoreFetchRoundTrip(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewTargetPath("some/target.bin")
	require.NoError(t, err)

	content := []byte("binary content")
	require.NoError(t, local.StoreTarget(path, content))

	_, hashes, err := metadata.CalculateHashes(bytes.NewReader(content), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)
	desc, err := metadata.NewTargetDescription(int64(len(content)), hashes)
	require.NoError(t, err)

	data, err := local.FetchTarget(path, desc)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalTargetFetchRejectsContentMismatch(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewTargetPath("some/target.bin")
	require.NoError(t, err)
	require.NoError(t, local.StoreTarget(path, []byte("a different payload")))

	_, hashes, err := metadata.CalculateHashes(bytes.NewReader([]byte("binary content")), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)
	desc, err := metadata.NewTargetDescription(int64(len("binary content")), hashes)
	require.NoError(t, err)

	_, err = local.FetchTarget(path, desc)
	assert.Error(t, err)
}

func TestLocalTargetFetchNotFound(t *testing.T) {
	local := newTestLocal(t)
	path, err := metadata.NewTargetPath("missing.bin")
	require.NoError(t, err)
	_, hashes, err := metadata.CalculateHashes(bytes.NewReader([]byte("x")), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)
	desc, err := metadata.NewTargetDescription(1, hashes)
	require.NoError(t, err)

	_, err = local.FetchTarget(path, desc)
	assert.ErrorIs(t, err, metadata.ErrNotFound{})
}
