// Package repository provides the storage/transport abstraction the update
// driver sits on top of: somewhere to read and persist metadata and target
// files, whether that is a local cache directory or a remote TUF server.
package repository

import (
	"bytes"
	"io"

	"github.com/trustframework/go-tuf-core/metadata"
	"github.com/trustframework/go-tuf-core/metadata/interchange"
)

// Repository is the collaborator the update driver uses to move metadata
// and target bytes in and out of storage. FetchMetadata and FetchTarget
// enforce a caller-supplied size cap while streaming, so a malicious or
// broken server can't exhaust memory on an endless response body
// (spec §6, "Size Budget" and the freeze/endless-data defenses), and verify
// the caller-supplied hash before ever returning bytes the caller hasn't
// validated.
type Repository interface {
	// FetchMetadata streams the named metadata artifact, refusing to read
	// past maxSize bytes, and, when expectedHashes is non-empty, verifying
	// the preferred hash over the raw bytes before returning them. Pass a
	// nil/empty expectedHashes for the fetches that precede any higher role
	// declaring one (root version 1, the timestamp). di.Extension()
	// determines the artifact's file suffix.
	FetchMetadata(path metadata.MetadataPath, version metadata.MetadataVersion, di interchange.DataInterchange, maxSize int64, expectedHashes map[metadata.HashAlgorithm]metadata.HashValue) ([]byte, error)
	// StoreMetadata persists raw bytes for the named metadata artifact.
	StoreMetadata(path metadata.MetadataPath, version metadata.MetadataVersion, di interchange.DataInterchange, raw []byte) error
	// FetchTarget streams the named target, refusing to read past
	// desc.Size bytes and verifying desc's preferred hash before returning
	// them.
	FetchTarget(path metadata.TargetPath, desc metadata.TargetDescription) ([]byte, error)
	// StoreTarget persists raw bytes for the named target.
	StoreTarget(path metadata.TargetPath, raw []byte) error
}

// readLimited copies up to maxSize+1 bytes from r, returning
// ErrDownloadLimit if more than maxSize bytes were available.
func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	limited := io.LimitReader(r, maxSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, metadata.ErrOpaque{Msg: err.Error()}
	}
	if int64(len(data)) > maxSize {
		return nil, metadata.ErrDownloadLimit{Limit: maxSize}
	}
	return data, nil
}

// verifyExpectedHashes checks data's digest, under the strongest algorithm
// present in expected, before a Repository hands fetched bytes back to its
// caller. A nil/empty expected set is a no-op: callers without a prior
// role's declared hash to check against (root v1, timestamp) pass nothing.
func verifyExpectedHashes(data []byte, expected map[metadata.HashAlgorithm]metadata.HashValue) error {
	if len(expected) == 0 {
		return nil
	}
	alg, want, err := metadata.HashPreference(expected)
	if err != nil {
		return err
	}
	_, got, err := metadata.CalculateHashes(bytes.NewReader(data), []metadata.HashAlgorithm{alg})
	if err != nil {
		return err
	}
	if !got[alg].Equal(want) {
		return metadata.ErrLengthOrHashMismatch{Msg: "fetched metadata hash mismatch"}
	}
	return nil
}
