package metadata

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// VerifySignatures implements the §4.3 signature-threshold verifier: walk
// sigs in order, verifying each against canonicalBytes with the
// corresponding authorized key, counting distinct successful verifications,
// and stopping as soon as threshold is reached.
func VerifySignatures(sigs []Signature, canonicalBytes []byte, threshold int, authorized map[KeyId]*PublicKey) error {
	if len(sigs) == 0 {
		return ErrVerificationFailure{Msg: "no authorized signatures"}
	}
	if threshold < 1 {
		return ErrProgramming{Msg: "threshold must be >= 1"}
	}
	verified := make(map[KeyId]bool, threshold)
	for _, sig := range sigs {
		if verified[sig.KeyID] {
			continue
		}
		key, ok := authorized[sig.KeyID]
		if !ok {
			log.Debugf("signature from unauthorized key id %s ignored", sig.KeyID)
			continue
		}
		if err := key.Verify(canonicalBytes, sig.Sig); err != nil {
			log.Debugf("invalid signature from key id %s: %v", sig.KeyID, err)
			continue
		}
		verified[sig.KeyID] = true
		if len(verified) >= threshold {
			break
		}
	}
	if len(verified) < threshold {
		return ErrVerificationFailure{Msg: fmt.Sprintf("signature threshold not met: %d/%d", len(verified), threshold)}
	}
	return nil
}
