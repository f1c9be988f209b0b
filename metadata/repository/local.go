package repository

import (
	"os"
	"path/filepath"

	"github.com/trustframework/go-tuf-core/metadata"
	"github.com/trustframework/go-tuf-core/metadata/interchange"

	log "github.com/sirupsen/logrus"
)

// Local is a Repository backed by a metadata cache directory and a target
// cache directory on the local filesystem, laid out the way the rest of the
// TUF ecosystem expects: metadata/{version-prefix}{role}.{ext} and
// targets/{real-target-path}.
type Local struct {
	MetadataDir string
	TargetDir   string
}

// NewLocal returns a Local repository rooted at metadataDir and targetDir.
// Both directories are created if they do not already exist.
func NewLocal(metadataDir, targetDir string) (*Local, error) {
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		return nil, metadata.ErrOpaque{Msg: err.Error()}
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, metadata.ErrOpaque{Msg: err.Error()}
	}
	return &Local{MetadataDir: metadataDir, TargetDir: targetDir}, nil
}

func (l *Local) metadataFilePath(path metadata.MetadataPath, version metadata.MetadataVersion, di interchange.DataInterchange) string {
	components := path.Components(version)
	components[len(components)-1] += "." + di.Extension()
	return filepath.Join(append([]string{l.MetadataDir}, components...)...)
}

// FetchMetadata reads the named metadata artifact from the metadata cache
// directory, verifying expectedHashes (if any) before returning it.
func (l *Local) FetchMetadata(path metadata.MetadataPath, version metadata.MetadataVersion, di interchange.DataInterchange, maxSize int64, expectedHashes map[metadata.HashAlgorithm]metadata.HashValue) ([]byte, error) {
	name := l.metadataFilePath(path, version, di)
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, metadata.ErrNotFound{}
		}
		return nil, metadata.ErrOpaque{Msg: err.Error()}
	}
	defer f.Close()
	data, err := readLimited(f, maxSize)
	if err != nil {
		return nil, err
	}
	if err := verifyExpectedHashes(data, expectedHashes); err != nil {
		return nil, err
	}
	return data, nil
}

// StoreMetadata writes raw to the metadata cache directory, via a temp file
// plus rename so a crash mid-write never leaves a half-written file where a
// caller expects a complete one.
func (l *Local) StoreMetadata(path metadata.MetadataPath, version metadata.MetadataVersion, di interchange.DataInterchange, raw []byte) error {
	name := l.metadataFilePath(path, version, di)
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return metadata.ErrOpaque{Msg: err.Error()}
	}
	return atomicWrite(name, raw)
}

// FetchTarget reads the named target from the target cache directory,
// verifying it against desc's size and preferred hash before returning it.
func (l *Local) FetchTarget(path metadata.TargetPath, desc metadata.TargetDescription) ([]byte, error) {
	name := filepath.Join(l.TargetDir, path.Value())
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, metadata.ErrNotFound{}
		}
		return nil, metadata.ErrOpaque{Msg: err.Error()}
	}
	defer f.Close()
	data, err := readLimited(f, desc.Size)
	if err != nil {
		return nil, err
	}
	if err := desc.VerifyContent(data); err != nil {
		return nil, err
	}
	return data, nil
}

// StoreTarget writes raw to the target cache directory.
func (l *Local) StoreTarget(path metadata.TargetPath, raw []byte) error {
	name := filepath.Join(l.TargetDir, path.Value())
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return metadata.ErrOpaque{Msg: err.Error()}
	}
	return atomicWrite(name, raw)
}

func atomicWrite(name string, data []byte) error {
	dir := filepath.Dir(name)
	tmp, err := os.CreateTemp(dir, "tuf_tmp_*")
	if err != nil {
		return metadata.ErrOpaque{Msg: err.Error()}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return metadata.ErrOpaque{Msg: err.Error()}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return metadata.ErrOpaque{Msg: err.Error()}
	}
	if err := os.Rename(tmpName, name); err != nil {
		os.Remove(tmpName)
		return metadata.ErrOpaque{Msg: err.Error()}
	}
	log.Debugf("persisted %s (%d bytes)", name, len(data))
	return nil
}
