package repository

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trustframework/go-tuf-core/metadata"
	"github.com/trustframework/go-tuf-core/metadata/interchange"

	log "github.com/sirupsen/logrus"
)

// Remote is a read-only Repository backed by an HTTP(S) TUF server: a
// metadata base URL and a target base URL, each requested over the given
// *http.Client.
type Remote struct {
	MetadataBaseURL string
	TargetBaseURL   string
	Client          *http.Client
}

// NewRemote returns a Remote repository. A zero-value *http.Client carries
// no timeout, so callers that pass nil get one with a generous default
// instead of an indefinitely hanging request.
func NewRemote(metadataBaseURL, targetBaseURL string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{
		MetadataBaseURL: ensureTrailingSlash(metadataBaseURL),
		TargetBaseURL:   ensureTrailingSlash(targetBaseURL),
		Client:          client,
	}
}

func ensureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// FetchMetadata downloads the named metadata artifact over HTTP(S),
// refusing to read past maxSize bytes and verifying expectedHashes (if any)
// before returning it.
func (r *Remote) FetchMetadata(path metadata.MetadataPath, version metadata.MetadataVersion, di interchange.DataInterchange, maxSize int64, expectedHashes map[metadata.HashAlgorithm]metadata.HashValue) ([]byte, error) {
	components := path.Components(version)
	components[len(components)-1] += "." + di.Extension()
	fullURL := r.MetadataBaseURL + strings.Join(components, "/")
	data, err := r.get(fullURL, maxSize)
	if err != nil {
		return nil, err
	}
	if err := verifyExpectedHashes(data, expectedHashes); err != nil {
		return nil, err
	}
	return data, nil
}

// StoreMetadata is unsupported: a remote TUF server is read-only from the
// client's point of view.
func (r *Remote) StoreMetadata(metadata.MetadataPath, metadata.MetadataVersion, interchange.DataInterchange, []byte) error {
	return metadata.ErrProgramming{Msg: "remote repository does not support StoreMetadata"}
}

// FetchTarget downloads the named target over HTTP(S), refusing to read
// past desc.Size bytes and verifying desc's preferred hash before
// returning it — no unverified bytes reach the caller.
func (r *Remote) FetchTarget(path metadata.TargetPath, desc metadata.TargetDescription) ([]byte, error) {
	fullURL := r.TargetBaseURL + url.PathEscape(path.Value())
	data, err := r.get(fullURL, desc.Size)
	if err != nil {
		return nil, err
	}
	if err := desc.VerifyContent(data); err != nil {
		return nil, err
	}
	return data, nil
}

// StoreTarget is unsupported: a remote TUF server is read-only from the
// client's point of view.
func (r *Remote) StoreTarget(metadata.TargetPath, []byte) error {
	return metadata.ErrProgramming{Msg: "remote repository does not support StoreTarget"}
}

func (r *Remote) get(fullURL string, maxSize int64) ([]byte, error) {
	log.Debugf("fetching %s (max %d bytes)", fullURL, maxSize)
	resp, err := r.Client.Get(fullURL)
	if err != nil {
		return nil, metadata.ErrOpaque{Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, metadata.ErrDownloadHTTP{StatusCode: resp.StatusCode, URL: fullURL}
	}
	if resp.ContentLength > maxSize {
		return nil, metadata.ErrDownloadLimit{Limit: maxSize}
	}
	data, err := readLimited(resp.Body, maxSize)
	if err != nil {
		return nil, err
	}
	log.Debugf("fetched %s (%d bytes)", fullURL, len(data))
	return data, nil
}
