// Package interchange provides the pluggable on-the-wire byte format for TUF
// metadata: serialize/deserialize plus a deterministic canonicalization used
// as the basis for signing and signature verification.
package interchange

import (
	"encoding/json"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
)

// DataInterchange is a value-oriented codec. The same logical value MUST
// always canonicalize to identical bytes, across platforms and across
// semantically-equal representations.
type DataInterchange interface {
	// Extension returns the file extension used when addressing artifacts
	// encoded with this interchange, e.g. "json".
	Extension() string
	// Serialize marshals v into the interchange's raw wire representation.
	Serialize(v any) ([]byte, error)
	// Deserialize unmarshals raw into v.
	Deserialize(raw []byte, v any) error
	// Canonicalize produces a deterministic byte encoding of raw, suitable
	// for signing and signature verification.
	Canonicalize(raw []byte) ([]byte, error)
}

// JSON is the reference DataInterchange: canonical form is sorted object
// keys, no insignificant whitespace, minimal number forms, UTF-8 — exactly
// what go-securesystemslib/cjson implements, the canonicalizer the teacher
// repo already relies on for signing.
type JSON struct{}

func (JSON) Extension() string { return "json" }

func (JSON) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Deserialize(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

func (JSON) Canonicalize(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return cjson.EncodeCanonical(v)
}

// Default is the DataInterchange used when none is explicitly configured.
var Default DataInterchange = JSON{}
