package metadata

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/trustframework/go-tuf-core/metadata/interchange"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Roles constrains the generic Metadata[T] envelope to the four TUF signed
// payload types.
type Roles interface {
	RootMetadata | SnapshotMetadata | TimestampMetadata | TargetsMetadata
}

// Metadata is the generic "signed envelope": a signed payload of type T plus
// the signatures over it.
type Metadata[T Roles] struct {
	Signed     T           `json:"signed"`
	Signatures []Signature `json:"signatures"`
}

// NewMetadata wraps an already-built signed payload with an empty signature
// list.
func NewMetadata[T Roles](signed T) *Metadata[T] {
	return &Metadata[T]{Signed: signed, Signatures: []Signature{}}
}

// AddSignature appends sig, replacing any prior signature from the same
// KeyID: at most one signature per key is retained.
func (m *Metadata[T]) AddSignature(sig Signature) {
	for i, s := range m.Signatures {
		if s.KeyID == sig.KeyID {
			m.Signatures[i] = sig
			return
		}
	}
	m.Signatures = append(m.Signatures, sig)
}

// ClearSignatures discards all signatures.
func (m *Metadata[T]) ClearSignatures() {
	m.Signatures = []Signature{}
}

// CanonicalBytes serializes and canonicalizes the Signed portion of m using
// di — the bytes a signer signs and a verifier checks against.
func (m *Metadata[T]) CanonicalBytes(di interchange.DataInterchange) ([]byte, error) {
	raw, err := di.Serialize(m.Signed)
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	canon, err := di.Canonicalize(raw)
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	return canon, nil
}

// Sign signs m's canonical payload with key and records the resulting
// Signature.
func (m *Metadata[T]) Sign(di interchange.DataInterchange, key *PrivateKey) (*Signature, error) {
	canon, err := m.CanonicalBytes(di)
	if err != nil {
		return nil, err
	}
	sig, err := key.SignBytes(canon)
	if err != nil {
		return nil, err
	}
	m.AddSignature(*sig)
	log.Debugf("signed metadata with key id %s", sig.KeyID)
	return sig, nil
}

// VerifySignatures checks m against threshold and authorized using di to
// reproduce the canonical payload.
func (m *Metadata[T]) VerifySignatures(di interchange.DataInterchange, threshold int, authorized map[KeyId]*PublicKey) error {
	canon, err := m.CanonicalBytes(di)
	if err != nil {
		return err
	}
	return VerifySignatures(m.Signatures, canon, threshold, authorized)
}

// IsExpired reports whether the Signed payload's expires is at or before
// referenceTime.
func (m *Metadata[T]) IsExpired(referenceTime time.Time) bool {
	return !referenceTime.Before(expiresOf(m.Signed))
}

// VersionNumber returns the Signed payload's version.
func (m *Metadata[T]) VersionNumber() uint32 {
	return versionOf(m.Signed)
}

// ToBytes serializes the full signed envelope via di.
func (m *Metadata[T]) ToBytes(di interchange.DataInterchange) ([]byte, error) {
	raw, err := di.Serialize(m)
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	return raw, nil
}

// FromBytes deserializes a signed envelope from data via di, checking that
// the "_type" field in data matches T before unmarshaling into it.
func FromBytes[T Roles](data []byte, di interchange.DataInterchange) (*Metadata[T], error) {
	if err := checkType[T](data); err != nil {
		return nil, err
	}
	meta := &Metadata[T]{}
	if err := di.Deserialize(data, meta); err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	if err := checkUniqueSignatures(meta.Signatures); err != nil {
		return nil, err
	}
	return meta, nil
}

func expiresOf(signed any) time.Time {
	switch v := signed.(type) {
	case RootMetadata:
		return v.expiresAt()
	case SnapshotMetadata:
		return v.expiresAt()
	case TimestampMetadata:
		return v.expiresAt()
	case TargetsMetadata:
		return v.expiresAt()
	default:
		return time.Time{}
	}
}

func versionOf(signed any) uint32 {
	switch v := signed.(type) {
	case RootMetadata:
		return v.versionNumber()
	case SnapshotMetadata:
		return v.versionNumber()
	case TimestampMetadata:
		return v.versionNumber()
	case TargetsMetadata:
		return v.versionNumber()
	default:
		return 0
	}
}

func typeNameOf[T Roles]() string {
	var zero T
	switch any(zero).(type) {
	case RootMetadata:
		return ROOT
	case SnapshotMetadata:
		return SNAPSHOT
	case TimestampMetadata:
		return TIMESTAMP
	case TargetsMetadata:
		return TARGETS
	default:
		return ""
	}
}

// checkType verifies that the generic type parameter used to parse data
// matches the "_type" field carried by data's "signed" object.
func checkType[T Roles](data []byte) error {
	var envelope struct {
		Signed struct {
			Type string `json:"_type"`
		} `json:"signed"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ErrEncoding{Msg: err.Error()}
	}
	want := typeNameOf[T]()
	if envelope.Signed.Type != want {
		return ErrType{Msg: "expected metadata type " + want + ", got " + envelope.Signed.Type}
	}
	return nil
}

// checkUniqueSignatures verifies the signature key IDs are unique.
func checkUniqueSignatures(sigs []Signature) error {
	seen := make([]KeyId, 0, len(sigs))
	for _, sig := range sigs {
		if slices.Contains(seen, sig.KeyID) {
			return ErrValue{Msg: "multiple signatures found for key id " + string(sig.KeyID)}
		}
		seen = append(seen, sig.KeyID)
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
