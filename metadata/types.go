package metadata

import (
	"time"

	"golang.org/x/exp/slices"
)

// SPECIFICATION_VERSION is the TUF specification version this module
// implements.
const SPECIFICATION_VERSION = "1.0.31"

// RoleDefinition is a role's signing-authority declaration: the keys
// entitled to sign for it and how many of them must agree.
type RoleDefinition struct {
	Threshold int      `json:"threshold"`
	KeyIDs    []KeyId  `json:"keyids"`
}

// NewRoleDefinition validates threshold >= 1, a non-empty key set, and
// |key_ids| >= threshold, and returns the definition.
func NewRoleDefinition(threshold int, keyIDs []KeyId) (RoleDefinition, error) {
	if threshold < 1 {
		return RoleDefinition{}, ErrIllegalArgument{Msg: "threshold must be >= 1"}
	}
	if len(keyIDs) == 0 {
		return RoleDefinition{}, ErrIllegalArgument{Msg: "key_ids must be non-empty"}
	}
	seen := make([]KeyId, 0, len(keyIDs))
	for _, id := range keyIDs {
		if slices.Contains(seen, id) {
			return RoleDefinition{}, ErrIllegalArgument{Msg: "duplicate key id in role definition"}
		}
		seen = append(seen, id)
	}
	if len(keyIDs) < threshold {
		return RoleDefinition{}, ErrIllegalArgument{Msg: "key_ids must contain at least threshold keys"}
	}
	return RoleDefinition{Threshold: threshold, KeyIDs: keyIDs}, nil
}

func (r RoleDefinition) authorizedKeys(keys map[KeyId]*PublicKey) map[KeyId]*PublicKey {
	out := make(map[KeyId]*PublicKey, len(r.KeyIDs))
	for id, k := range keys {
		if slices.Contains(r.KeyIDs, id) {
			out[id] = k
		}
	}
	return out
}

// RootMetadata is the signed content of the root role: the root of trust for
// every other role, and for its own rotation.
type RootMetadata struct {
	Type               string                    `json:"_type"`
	SpecVersion        string                    `json:"spec_version"`
	Version            uint32                    `json:"version"`
	Expires            time.Time                 `json:"expires"`
	ConsistentSnapshot bool                      `json:"consistent_snapshot"`
	Keys               map[KeyId]*PublicKey      `json:"keys"`
	Roles              map[string]RoleDefinition `json:"roles"`
}

// NewRootMetadata validates version >= 1 and that every key id referenced by
// a role definition is present in keys.
func NewRootMetadata(version uint32, expires time.Time, consistentSnapshot bool, keys map[KeyId]*PublicKey, roles map[string]RoleDefinition) (RootMetadata, error) {
	if version < 1 {
		return RootMetadata{}, ErrIllegalArgument{Msg: "version must be >= 1"}
	}
	for _, name := range []string{ROOT, SNAPSHOT, TARGETS, TIMESTAMP} {
		def, ok := roles[name]
		if !ok {
			return RootMetadata{}, ErrIllegalArgument{Msg: "root metadata is missing a role definition for " + name}
		}
		for _, id := range def.KeyIDs {
			if _, ok := keys[id]; !ok {
				return RootMetadata{}, ErrIllegalArgument{Msg: "role " + name + " references unknown key id " + string(id)}
			}
		}
	}
	return RootMetadata{
		Type:               ROOT,
		SpecVersion:        SPECIFICATION_VERSION,
		Version:            version,
		Expires:            expires,
		ConsistentSnapshot: consistentSnapshot,
		Keys:               keys,
		Roles:              roles,
	}, nil
}

func (s RootMetadata) expiresAt() time.Time { return s.Expires }
func (s RootMetadata) versionNumber() uint32 { return s.Version }

// RoleKeys returns the authorized (threshold, keys) pair for one of the four
// top-level roles.
func (s RootMetadata) RoleKeys(role string) (int, map[KeyId]*PublicKey, error) {
	def, ok := s.Roles[role]
	if !ok {
		return 0, nil, ErrValue{Msg: "no role definition for " + role}
	}
	return def.Threshold, def.authorizedKeys(s.Keys), nil
}

// MetadataDescription describes an expected metadata artifact: the version
// it must be at, its size, and acceptable hashes.
type MetadataDescription struct {
	Version uint32                       `json:"version"`
	Size    int64                        `json:"length,omitempty"`
	Hashes  map[HashAlgorithm]HashValue  `json:"hashes,omitempty"`
}

// NewMetadataDescription validates version >= 1 and size >= 0.
func NewMetadataDescription(version uint32, size int64, hashes map[HashAlgorithm]HashValue) (MetadataDescription, error) {
	if version < 1 {
		return MetadataDescription{}, ErrIllegalArgument{Msg: "version must be >= 1"}
	}
	if size < 0 {
		return MetadataDescription{}, ErrIllegalArgument{Msg: "size must be >= 0"}
	}
	return MetadataDescription{Version: version, Size: size, Hashes: hashes}, nil
}

// SnapshotMetadata is the signed content of the snapshot role: the expected
// version of every other metadata file in the repository, except timestamp.
type SnapshotMetadata struct {
	Type        string                          `json:"_type"`
	SpecVersion string                          `json:"spec_version"`
	Version     uint32                          `json:"version"`
	Expires     time.Time                       `json:"expires"`
	Meta        map[string]MetadataDescription  `json:"meta"`
}

// NewSnapshotMetadata validates version >= 1.
func NewSnapshotMetadata(version uint32, expires time.Time, meta map[string]MetadataDescription) (SnapshotMetadata, error) {
	if version < 1 {
		return SnapshotMetadata{}, ErrIllegalArgument{Msg: "version must be >= 1"}
	}
	if meta == nil {
		meta = map[string]MetadataDescription{}
	}
	return SnapshotMetadata{
		Type:        SNAPSHOT,
		SpecVersion: SPECIFICATION_VERSION,
		Version:     version,
		Expires:     expires,
		Meta:        meta,
	}, nil
}

func (s SnapshotMetadata) expiresAt() time.Time  { return s.Expires }
func (s SnapshotMetadata) versionNumber() uint32 { return s.Version }

// TargetsEntry returns the MetadataDescription for the targets role, as
// required for snapshot verification.
func (s SnapshotMetadata) TargetsEntry() (MetadataDescription, bool) {
	d, ok := s.Meta[TARGETS]
	return d, ok
}

// TimestampMetadata is the signed content of the timestamp role: a pointer
// to the current snapshot, refreshed frequently to defeat freeze attacks.
type TimestampMetadata struct {
	Type        string               `json:"_type"`
	SpecVersion string               `json:"spec_version"`
	Version     uint32               `json:"version"`
	Expires     time.Time            `json:"expires"`
	Snapshot    MetadataDescription  `json:"meta_snapshot"`
}

// NewTimestampMetadata validates version >= 1.
func NewTimestampMetadata(version uint32, expires time.Time, snapshot MetadataDescription) (TimestampMetadata, error) {
	if version < 1 {
		return TimestampMetadata{}, ErrIllegalArgument{Msg: "version must be >= 1"}
	}
	return TimestampMetadata{
		Type:        TIMESTAMP,
		SpecVersion: SPECIFICATION_VERSION,
		Version:     version,
		Expires:     expires,
		Snapshot:    snapshot,
	}, nil
}

func (s TimestampMetadata) expiresAt() time.Time  { return s.Expires }
func (s TimestampMetadata) versionNumber() uint32 { return s.Version }

// MarshalJSON renders TimestampMetadata the way the TUF wire format expects:
// the snapshot pointer nested under meta["snapshot.json"], not a bespoke key.
func (s TimestampMetadata) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type        string                          `json:"_type"`
		SpecVersion string                          `json:"spec_version"`
		Version     uint32                          `json:"version"`
		Expires     time.Time                       `json:"expires"`
		Meta        map[string]MetadataDescription  `json:"meta"`
	}
	return marshalJSON(wire{s.Type, s.SpecVersion, s.Version, s.Expires, map[string]MetadataDescription{"snapshot.json": s.Snapshot}})
}

// UnmarshalJSON parses the wire format described above back into
// TimestampMetadata.
func (s *TimestampMetadata) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type        string                          `json:"_type"`
		SpecVersion string                          `json:"spec_version"`
		Version     uint32                          `json:"version"`
		Expires     time.Time                       `json:"expires"`
		Meta        map[string]MetadataDescription  `json:"meta"`
	}
	if err := unmarshalJSON(data, &wire); err != nil {
		return err
	}
	s.Type = wire.Type
	s.SpecVersion = wire.SpecVersion
	s.Version = wire.Version
	s.Expires = wire.Expires
	s.Snapshot = wire.Meta["snapshot.json"]
	return nil
}

// TargetDescription describes one target file: its size and acceptable
// hashes.
type TargetDescription struct {
	Size   int64                        `json:"length"`
	Hashes map[HashAlgorithm]HashValue  `json:"hashes"`
}

// NewTargetDescription validates size >= 0 and a non-empty hash set.
func NewTargetDescription(size int64, hashes map[HashAlgorithm]HashValue) (TargetDescription, error) {
	if size < 0 {
		return TargetDescription{}, ErrIllegalArgument{Msg: "size must be >= 0"}
	}
	if len(hashes) == 0 {
		return TargetDescription{}, ErrIllegalArgument{Msg: "hashes must be non-empty"}
	}
	return TargetDescription{Size: size, Hashes: hashes}, nil
}

// VerifyContent checks that data matches the description's size and
// preferred hash.
func (d TargetDescription) VerifyContent(data []byte) error {
	if int64(len(data)) != d.Size {
		return ErrLengthOrHashMismatch{Msg: "target length mismatch"}
	}
	alg, want, err := HashPreference(d.Hashes)
	if err != nil {
		return err
	}
	_, got, err := CalculateHashes(bytesReader(data), []HashAlgorithm{alg})
	if err != nil {
		return err
	}
	if !got[alg].Equal(want) {
		return ErrLengthOrHashMismatch{Msg: "target hash mismatch"}
	}
	return nil
}

// Delegation is a scoped authority transfer from the enclosing Delegations
// block to a named delegated targets role.
type Delegation struct {
	Role        MetadataPath        `json:"name"`
	Terminating bool                `json:"terminating"`
	Threshold   int                 `json:"threshold"`
	KeyIDs      []KeyId             `json:"keyids"`
	Paths       []VirtualTargetPath `json:"paths"`
}

// Delegations is the optional set of delegated roles a TargetsMetadata may
// carry, plus the keys that authorize them.
type Delegations struct {
	Keys  map[KeyId]*PublicKey `json:"keys"`
	Roles []Delegation         `json:"roles"`
}

// NewDelegations validates a non-empty key map, a non-empty, name-unique
// role sequence, and that every Delegation's key ids are a subset of keys
// with |key_ids| >= threshold.
func NewDelegations(keys map[KeyId]*PublicKey, roles []Delegation) (*Delegations, error) {
	if len(keys) == 0 {
		return nil, ErrIllegalArgument{Msg: "delegations keys must be non-empty"}
	}
	if len(roles) == 0 {
		return nil, ErrIllegalArgument{Msg: "delegations roles must be non-empty"}
	}
	seenNames := make(map[string]bool, len(roles))
	for _, d := range roles {
		if seenNames[d.Role.Value()] {
			return nil, ErrIllegalArgument{Msg: "duplicate delegated role name " + d.Role.Value()}
		}
		seenNames[d.Role.Value()] = true
		if d.Threshold < 1 {
			return nil, ErrIllegalArgument{Msg: "delegation threshold must be >= 1"}
		}
		if len(d.KeyIDs) == 0 {
			return nil, ErrIllegalArgument{Msg: "delegation key_ids must be non-empty"}
		}
		if len(d.KeyIDs) < d.Threshold {
			return nil, ErrIllegalArgument{Msg: "delegation key_ids must contain at least threshold keys"}
		}
		if len(d.Paths) == 0 {
			return nil, ErrIllegalArgument{Msg: "delegation paths must be non-empty"}
		}
		for _, id := range d.KeyIDs {
			if _, ok := keys[id]; !ok {
				return nil, ErrIllegalArgument{Msg: "delegation references unknown key id " + string(id)}
			}
		}
	}
	return &Delegations{Keys: keys, Roles: roles}, nil
}

// RoleKeys returns the authorized (threshold, keys) pair for a named
// delegated role, filtered to the keys that specific delegation entry lists.
func (d *Delegations) RoleKeys(role string) (int, map[KeyId]*PublicKey, bool) {
	for _, del := range d.Roles {
		if del.Role.Value() == role {
			return del.Threshold, del.authorizedKeys(d.Keys), true
		}
	}
	return 0, nil, false
}

func (d Delegation) authorizedKeys(keys map[KeyId]*PublicKey) map[KeyId]*PublicKey {
	out := make(map[KeyId]*PublicKey, len(d.KeyIDs))
	for id, k := range keys {
		if slices.Contains(d.KeyIDs, id) {
			out[id] = k
		}
	}
	return out
}

// TargetsMetadata is the signed content of the targets role (or of a
// delegated targets role): the target descriptions it vouches for directly,
// plus any further delegations.
type TargetsMetadata struct {
	Type        string                         `json:"_type"`
	SpecVersion string                         `json:"spec_version"`
	Version     uint32                         `json:"version"`
	Expires     time.Time                      `json:"expires"`
	Targets     map[string]TargetDescription   `json:"targets"`
	Delegations *Delegations                   `json:"delegations,omitempty"`
}

// NewTargetsMetadata validates version >= 1.
func NewTargetsMetadata(version uint32, expires time.Time, targets map[string]TargetDescription, delegations *Delegations) (TargetsMetadata, error) {
	if version < 1 {
		return TargetsMetadata{}, ErrIllegalArgument{Msg: "version must be >= 1"}
	}
	if targets == nil {
		targets = map[string]TargetDescription{}
	}
	return TargetsMetadata{
		Type:        TARGETS,
		SpecVersion: SPECIFICATION_VERSION,
		Version:     version,
		Expires:     expires,
		Targets:     targets,
		Delegations: delegations,
	}, nil
}

func (s TargetsMetadata) expiresAt() time.Time  { return s.Expires }
func (s TargetsMetadata) versionNumber() uint32 { return s.Version }

// Lookup returns the TargetDescription registered directly under path, if
// any.
func (s TargetsMetadata) Lookup(path VirtualTargetPath) (TargetDescription, bool) {
	d, ok := s.Targets[path.Value()]
	return d, ok
}
