package metadata

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/secure-systems-lab/go-securesystemslib/cjson"
	"github.com/sigstore/sigstore/pkg/signature"
	log "github.com/sirupsen/logrus"
)

// Signature schemes recognized by the crypto facade.
const (
	SignatureSchemeEd25519  = "ed25519"
	SignatureSchemeECDSA    = "ecdsa-sha2-nistp256"
	SignatureSchemeRSASSA   = "rsassa-pss-sha256"
	KeyTypeEd25519          = "ed25519"
	KeyTypeECDSA            = "ecdsa"
	KeyTypeRSA              = "rsa"
)

// HashAlgorithm identifies a supported content-hashing algorithm.
type HashAlgorithm string

const (
	HashAlgorithmSHA256 HashAlgorithm = "sha256"
	HashAlgorithmSHA512 HashAlgorithm = "sha512"
)

// HashValue is the raw digest bytes produced by a HashAlgorithm.
type HashValue []byte

func (h HashValue) Equal(other HashValue) bool {
	return bytes.Equal(h, other)
}

func (h HashValue) String() string {
	return hex.EncodeToString(h)
}

func newHasher(alg HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case HashAlgorithmSHA256:
		return sha256.New(), nil
	case HashAlgorithmSHA512:
		return sha512.New(), nil
	default:
		return nil, ErrNoSupportedHashAlgorithm{}
	}
}

// CalculateHashes streams reader once, returning its size and the digest
// under each requested algorithm.
func CalculateHashes(reader io.Reader, algs []HashAlgorithm) (int64, map[HashAlgorithm]HashValue, error) {
	if len(algs) == 0 {
		return 0, nil, ErrNoSupportedHashAlgorithm{}
	}
	hashers := make(map[HashAlgorithm]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs))
	for _, alg := range algs {
		h, err := newHasher(alg)
		if err != nil {
			return 0, nil, err
		}
		hashers[alg] = h
		writers = append(writers, h)
	}
	size, err := io.Copy(io.MultiWriter(writers...), reader)
	if err != nil {
		return 0, nil, ErrOpaque{Msg: err.Error()}
	}
	out := make(map[HashAlgorithm]HashValue, len(hashers))
	for alg, h := range hashers {
		out[alg] = h.Sum(nil)
	}
	return size, out, nil
}

// HashPreference picks the strongest algorithm present in hashes: SHA-512
// before SHA-256.
func HashPreference(hashes map[HashAlgorithm]HashValue) (HashAlgorithm, HashValue, error) {
	if v, ok := hashes[HashAlgorithmSHA512]; ok {
		return HashAlgorithmSHA512, v, nil
	}
	if v, ok := hashes[HashAlgorithmSHA256]; ok {
		return HashAlgorithmSHA256, v, nil
	}
	return "", nil, ErrNoSupportedHashAlgorithm{}
}

// KeyId is the base64url SHA-256 digest of a public key's canonical
// encoding.
type KeyId string

// PublicKey is a TUF key capable of verifying a signature.
type PublicKey struct {
	Type   string `json:"keytype"`
	Scheme string `json:"scheme"`
	Value  KeyVal `json:"keyval"`

	id     KeyId
	idSet  bool
	verifier signature.Verifier
}

// KeyVal carries the actual key material.
type KeyVal struct {
	Public string `json:"public"`
}

// NewPublicKey builds a PublicKey from its type/scheme/raw-public-key-bytes
// representation and derives its KeyId.
func NewPublicKey(keyType, scheme string, rawPublic []byte) (*PublicKey, error) {
	k := &PublicKey{
		Type:   keyType,
		Scheme: scheme,
		Value:  KeyVal{Public: hex.EncodeToString(rawPublic)},
	}
	if err := k.initVerifier(rawPublic); err != nil {
		return nil, err
	}
	return k, nil
}

// initVerifier decodes rawPublic per k.Type and loads a verifier for it
// through sigstore, the way the teacher's VerifyDelegate does: ed25519 keys
// verify over an unhashed message (crypto.Hash(0)); the other key types
// verify over a SHA-256 digest, RSA keys with PSS padding.
func (k *PublicKey) initVerifier(rawPublic []byte) error {
	switch k.Type {
	case KeyTypeEd25519:
		if len(rawPublic) != ed25519.PublicKeySize {
			return ErrEncoding{Msg: "invalid ed25519 public key length"}
		}
		v, err := signature.LoadVerifier(ed25519.PublicKey(rawPublic), crypto.Hash(0))
		if err != nil {
			return ErrEncoding{Msg: err.Error()}
		}
		k.verifier = v
	case KeyTypeECDSA:
		pub, err := x509.ParsePKIXPublicKey(rawPublic)
		if err != nil {
			return ErrEncoding{Msg: err.Error()}
		}
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return ErrEncoding{Msg: "ecdsa key material does not decode to an ECDSA public key"}
		}
		v, err := signature.LoadVerifier(ecdsaPub, crypto.SHA256)
		if err != nil {
			return ErrEncoding{Msg: err.Error()}
		}
		k.verifier = v
	case KeyTypeRSA:
		pub, err := x509.ParsePKIXPublicKey(rawPublic)
		if err != nil {
			return ErrEncoding{Msg: err.Error()}
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return ErrEncoding{Msg: "rsa key material does not decode to an RSA public key"}
		}
		v, err := signature.LoadRSAPSSVerifier(rsaPub, crypto.SHA256, nil)
		if err != nil {
			return ErrEncoding{Msg: err.Error()}
		}
		k.verifier = v
	default:
		return ErrUnknownKeyType{Name: k.Type}
	}
	return nil
}

// ID returns (computing and caching on first use) the key's canonical KeyId:
// base64url(SHA-256(canonical public-key encoding)).
func (k *PublicKey) ID() KeyId {
	if k.idSet {
		return k.id
	}
	payload, err := cjson.EncodeCanonical(struct {
		KeyType string `json:"keytype"`
		Scheme  string `json:"scheme"`
		Value   KeyVal `json:"keyval"`
	}{k.Type, k.Scheme, k.Value})
	if err != nil {
		log.Debugf("failed to canonicalize key for ID derivation: %v", err)
		return ""
	}
	sum := sha256.Sum256(payload)
	k.id = KeyId(base64.RawURLEncoding.EncodeToString(sum[:]))
	k.idSet = true
	return k.id
}

// Verify checks signature over the given canonical bytes.
func (k *PublicKey) Verify(canonicalBytes []byte, sig []byte) error {
	if k.verifier == nil {
		raw, err := hex.DecodeString(k.Value.Public)
		if err != nil {
			return ErrEncoding{Msg: err.Error()}
		}
		if err := k.initVerifier(raw); err != nil {
			return err
		}
	}
	if err := k.verifier.VerifySignature(bytes.NewReader(sig), bytes.NewReader(canonicalBytes)); err != nil {
		return ErrBadSignature{}
	}
	return nil
}

// PrivateKey is able to produce a Signature over a payload. It is not part of
// the trust engine's verification path; it exists so example/test code can
// produce fixtures without reaching outside the module.
type PrivateKey struct {
	Public *PublicKey
	signer signature.Signer
}

// NewEd25519PrivateKey wraps a raw ed25519 private key.
func NewEd25519PrivateKey(priv ed25519.PrivateKey) (*PrivateKey, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrProgramming{Msg: "ed25519 private key has no public counterpart"}
	}
	pk, err := NewPublicKey(KeyTypeEd25519, SignatureSchemeEd25519, []byte(pub))
	if err != nil {
		return nil, err
	}
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	return &PrivateKey{Public: pk, signer: signer}, nil
}

// NewECDSAPrivateKey wraps an ECDSA P-256 private key, matching the
// ecdsa-sha2-nistp256 scheme.
func NewECDSAPrivateKey(priv *ecdsa.PrivateKey) (*PrivateKey, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	pk, err := NewPublicKey(KeyTypeECDSA, SignatureSchemeECDSA, pubDER)
	if err != nil {
		return nil, err
	}
	signer, err := signature.LoadSigner(priv, crypto.SHA256)
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	return &PrivateKey{Public: pk, signer: signer}, nil
}

// NewRSAPrivateKey wraps an RSA private key, matching the rsassa-pss-sha256
// scheme.
func NewRSAPrivateKey(priv *rsa.PrivateKey) (*PrivateKey, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	pk, err := NewPublicKey(KeyTypeRSA, SignatureSchemeRSASSA, pubDER)
	if err != nil {
		return nil, err
	}
	signer, err := signature.LoadRSAPSSSigner(priv, crypto.SHA256, nil)
	if err != nil {
		return nil, ErrEncoding{Msg: err.Error()}
	}
	return &PrivateKey{Public: pk, signer: signer}, nil
}

// SignBytes signs an already-canonicalized payload and returns a Signature.
func (p *PrivateKey) SignBytes(canonicalBytes []byte) (*Signature, error) {
	sig, err := p.signer.SignMessage(bytes.NewReader(canonicalBytes))
	if err != nil {
		return nil, ErrUnsignedMetadata{Msg: fmt.Sprintf("signing failed: %v", err)}
	}
	return &Signature{KeyID: p.Public.ID(), Sig: sig}, nil
}

// Signature carries a signing KeyId and raw signature bytes.
type Signature struct {
	KeyID KeyId  `json:"keyid"`
	Sig   []byte `json:"sig"`
}
