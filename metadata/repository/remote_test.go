package repository

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trustframework/go-tuf-core/metadata"
	"github.com/trustframework/go-tuf-core/metadata/interchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteFetchMetadataSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3.root.json", r.URL.Path)
		w.Write([]byte(`{"signed":{}}`))
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, srv.URL, nil)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	data, err := remote.FetchMetadata(path, metadata.NumberVersion(3), interchange.Default, 1024, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"signed":{}}`, string(data))
}

func TestRemoteFetchMetadataVerifiesExpectedHash(t *testing.T) {
	content := []byte(`{"signed":{}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	_, hashes, err := metadata.CalculateHashes(bytes.NewReader(content), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)

	remote := NewRemote(srv.URL, srv.URL, nil)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	data, err := remote.FetchMetadata(path, metadata.NumberVersion(3), interchange.Default, 1024, hashes)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestRemoteFetchMetadataRejectsHashMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"signed":{}}`))
	}))
	defer srv.Close()

	_, wantHashes, err := metadata.CalculateHashes(bytes.NewReader([]byte(`{"signed":{"tampered":true}}`)), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)

	remote := NewRemote(srv.URL, srv.URL, nil)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	_, err = remote.FetchMetadata(path, metadata.NumberVersion(3), interchange.Default, 1024, wantHashes)
	assert.Error(t, err)
}

func TestRemoteFetchMetadataNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, srv.URL, nil)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	_, err = remote.FetchMetadata(path, metadata.NoVersion(), interchange.Default, 1024, nil)
	assert.IsType(t, metadata.ErrDownloadHTTP{}, err)
}

func TestRemoteFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, srv.URL, nil)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)

	_, err = remote.FetchMetadata(path, metadata.NoVersion(), interchange.Default, 5, nil)
	assert.IsType(t, metadata.ErrDownloadLimit{}, err)
}

func TestRemoteFetchTargetEscapesPath(t *testing.T) {
	content := []byte("target bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file%20name.bin", r.URL.EscapedPath())
		w.Write(content)
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, srv.URL, nil)
	path, err := metadata.NewTargetPath("file name.bin")
	require.NoError(t, err)

	_, hashes, err := metadata.CalculateHashes(bytes.NewReader(content), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)
	desc, err := metadata.NewTargetDescription(int64(len(content)), hashes)
	require.NoError(t, err)

	data, err := remote.FetchTarget(path, desc)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestRemoteFetchTargetRejectsContentMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a different payload"))
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, srv.URL, nil)
	path, err := metadata.NewTargetPath("file.bin")
	require.NoError(t, err)

	_, hashes, err := metadata.CalculateHashes(bytes.NewReader([]byte("target bytes")), []metadata.HashAlgorithm{metadata.HashAlgorithmSHA256})
	require.NoError(t, err)
	desc, err := metadata.NewTargetDescription(int64(len("target bytes")), hashes)
	require.NoError(t, err)

	_, err = remote.FetchTarget(path, desc)
	assert.Error(t, err)
}

func TestRemoteStoreOperationsUnsupported(t *testing.T) {
	remote := NewRemote("http://example.invalid", "http://example.invalid", nil)
	path, err := metadata.NewMetadataPath("root")
	require.NoError(t, err)
	targetPath, err := metadata.NewTargetPath("foo")
	require.NoError(t, err)

	assert.Error(t, remote.StoreMetadata(path, metadata.NoVersion(), interchange.Default, nil))
	assert.Error(t, remote.StoreTarget(targetPath, nil))
}
