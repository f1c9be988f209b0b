// Package trustedmetadata implements the TUF trust store described in
// spec §4.4: the set of currently-trusted root/timestamp/snapshot/targets
// metadata plus the delegation map, and the verify-and-update operations
// that enforce rollback, freeze and mix-and-match defenses while advancing
// that set.
package trustedmetadata

import (
	"time"

	"github.com/trustframework/go-tuf-core/metadata"
	"github.com/trustframework/go-tuf-core/metadata/interchange"

	log "github.com/sirupsen/logrus"
)

// TrustedMetadata holds the currently trusted root (mandatory), and
// optionally timestamp, snapshot, targets and delegated-targets metadata.
type TrustedMetadata struct {
	di interchange.DataInterchange
	// now returns the reference time used for expiration checks; overridable
	// in tests.
	now func() time.Time

	Root        *metadata.Metadata[metadata.RootMetadata]
	Timestamp   *metadata.Metadata[metadata.TimestampMetadata]
	Snapshot    *metadata.Metadata[metadata.SnapshotMetadata]
	Targets     *metadata.Metadata[metadata.TargetsMetadata]
	Delegations map[string]*metadata.Metadata[metadata.TargetsMetadata]
}

// NewPinned constructs a TrustedMetadata from raw signed root bytes,
// verifying the root once against an externally-pinned (threshold, keys)
// pair, and again against the root's own declared root-role keys/threshold.
// This is the preferred construction path.
func NewPinned(rootBytes []byte, di interchange.DataInterchange, pinnedThreshold int, pinnedKeys map[metadata.KeyId]*metadata.PublicKey) (*TrustedMetadata, error) {
	root, err := metadata.FromBytes[metadata.RootMetadata](rootBytes, di)
	if err != nil {
		return nil, err
	}
	if err := root.VerifySignatures(di, pinnedThreshold, pinnedKeys); err != nil {
		return nil, err
	}
	selfThreshold, selfKeys, err := root.Signed.RoleKeys(metadata.ROOT)
	if err != nil {
		return nil, err
	}
	if err := root.VerifySignatures(di, selfThreshold, selfKeys); err != nil {
		return nil, err
	}
	log.Infof("pinned root verified at version %d", root.VersionNumber())
	return newTrustStore(di, root), nil
}

// NewTOFU constructs a TrustedMetadata by trusting raw signed root bytes on
// first use: it is parsed, then self-verified only (no external anchor).
// Prefer NewPinned: this path pays the documented "parse before verify"
// TOFU cost.
func NewTOFU(rootBytes []byte, di interchange.DataInterchange) (*TrustedMetadata, error) {
	root, err := metadata.FromBytes[metadata.RootMetadata](rootBytes, di)
	if err != nil {
		return nil, err
	}
	threshold, keys, err := root.Signed.RoleKeys(metadata.ROOT)
	if err != nil {
		return nil, err
	}
	if err := root.VerifySignatures(di, threshold, keys); err != nil {
		return nil, err
	}
	log.Infof("root trusted on first use at version %d", root.VersionNumber())
	return newTrustStore(di, root), nil
}

func newTrustStore(di interchange.DataInterchange, root *metadata.Metadata[metadata.RootMetadata]) *TrustedMetadata {
	return &TrustedMetadata{
		di:          di,
		now:         time.Now,
		Root:        root,
		Delegations: map[string]*metadata.Metadata[metadata.TargetsMetadata]{},
	}
}

// SetClock overrides the reference time used for expiration checks. For
// tests only.
func (t *TrustedMetadata) SetClock(now func() time.Time) {
	t.now = now
}

// UpdateRoot verifies candidate root bytes against both the currently
// trusted root and the candidate's own declared keys (cross-signing), and,
// if the version has advanced, promotes it and purges all dependent state
// (fast-forward recovery). Returns whether trusted state advanced.
func (t *TrustedMetadata) UpdateRoot(raw []byte) (bool, error) {
	currentThreshold, currentKeys, err := t.Root.Signed.RoleKeys(metadata.ROOT)
	if err != nil {
		return false, err
	}
	candidate, err := metadata.FromBytes[metadata.RootMetadata](raw, t.di)
	if err != nil {
		return false, err
	}
	if err := candidate.VerifySignatures(t.di, currentThreshold, currentKeys); err != nil {
		return false, err
	}
	selfThreshold, selfKeys, err := candidate.Signed.RoleKeys(metadata.ROOT)
	if err != nil {
		return false, err
	}
	if err := candidate.VerifySignatures(t.di, selfThreshold, selfKeys); err != nil {
		return false, err
	}

	newVersion := candidate.VersionNumber()
	current := t.Root.VersionNumber()
	if newVersion == current {
		return false, nil
	}
	if newVersion < current {
		return false, metadata.ErrVerificationFailure{Msg: "root version rollback"}
	}

	t.purgeDependents()
	t.Root = candidate
	log.Infof("trusted root advanced to version %d", newVersion)
	return true, nil
}

func (t *TrustedMetadata) purgeDependents() {
	t.Timestamp = nil
	t.Snapshot = nil
	t.Targets = nil
	t.Delegations = map[string]*metadata.Metadata[metadata.TargetsMetadata]{}
}

// UpdateTimestamp verifies candidate timestamp bytes against the trusted
// root's timestamp role.
func (t *TrustedMetadata) UpdateTimestamp(raw []byte) (bool, error) {
	if t.Root.IsExpired(t.now()) {
		return false, metadata.ErrExpiredMetadata{Role: metadata.ROOT}
	}
	threshold, keys, err := t.Root.Signed.RoleKeys(metadata.TIMESTAMP)
	if err != nil {
		return false, err
	}
	candidate, err := metadata.FromBytes[metadata.TimestampMetadata](raw, t.di)
	if err != nil {
		return false, err
	}
	if err := candidate.VerifySignatures(t.di, threshold, keys); err != nil {
		return false, err
	}

	newVersion := candidate.VersionNumber()
	current := uint32(0)
	if t.Timestamp != nil {
		current = t.Timestamp.VersionNumber()
	}
	if newVersion < current {
		return false, metadata.ErrVerificationFailure{Msg: "timestamp version rollback"}
	}
	if newVersion == current {
		return false, nil
	}

	if t.Snapshot != nil && candidate.Signed.Snapshot.Version != t.Snapshot.VersionNumber() {
		t.Snapshot = nil
	}

	if candidate.IsExpired(t.now()) {
		return false, metadata.ErrExpiredMetadata{Role: metadata.TIMESTAMP}
	}

	t.Timestamp = candidate
	log.Infof("trusted timestamp advanced to version %d", newVersion)
	return true, nil
}

// UpdateSnapshot verifies candidate snapshot bytes against the trusted
// root's snapshot role and the version pointer in the trusted timestamp.
func (t *TrustedMetadata) UpdateSnapshot(raw []byte) (bool, error) {
	if t.Root.IsExpired(t.now()) {
		return false, metadata.ErrExpiredMetadata{Role: metadata.ROOT}
	}
	if t.Timestamp == nil {
		return false, metadata.ErrMissingMetadata{Role: metadata.TIMESTAMP}
	}
	if t.Timestamp.IsExpired(t.now()) {
		return false, metadata.ErrExpiredMetadata{Role: metadata.TIMESTAMP}
	}

	expected := t.Timestamp.Signed.Snapshot.Version
	current := uint32(0)
	if t.Snapshot != nil {
		current = t.Snapshot.VersionNumber()
	}
	if expected < current {
		return false, metadata.ErrVerificationFailure{Msg: "snapshot version rollback"}
	}
	if expected == current {
		return false, nil
	}

	threshold, keys, err := t.Root.Signed.RoleKeys(metadata.SNAPSHOT)
	if err != nil {
		return false, err
	}
	candidate, err := metadata.FromBytes[metadata.SnapshotMetadata](raw, t.di)
	if err != nil {
		return false, err
	}
	if err := candidate.VerifySignatures(t.di, threshold, keys); err != nil {
		return false, err
	}

	if candidate.VersionNumber() != expected {
		return false, metadata.ErrVerificationFailure{Msg: "snapshot version does not match timestamp-declared version (mix-and-match)"}
	}
	if candidate.VersionNumber() < current {
		return false, metadata.ErrVerificationFailure{Msg: "snapshot version rollback"}
	}

	if t.Targets != nil {
		if entry, ok := candidate.Signed.TargetsEntry(); ok && entry.Version != t.Targets.VersionNumber() {
			t.Targets = nil
		}
	}

	t.Snapshot = candidate
	t.purgeStaleDelegations()
	log.Infof("trusted snapshot advanced to version %d", candidate.VersionNumber())
	return true, nil
}

// purgeStaleDelegations drops any delegated-targets entry whose currently
// trusted version is greater than the version declared for it in the
// (just-promoted) trusted snapshot.
func (t *TrustedMetadata) purgeStaleDelegations() {
	for role, trusted := range t.Delegations {
		desc, ok := t.Snapshot.Signed.Meta[role]
		if !ok {
			continue
		}
		if trusted.VersionNumber() > desc.Version {
			delete(t.Delegations, role)
		}
	}
}

// UpdateTargets verifies candidate top-level targets bytes against the
// trusted root's targets role.
func (t *TrustedMetadata) UpdateTargets(raw []byte) (bool, error) {
	return t.UpdateDelegatedTargets(raw, metadata.TARGETS, metadata.ROOT)
}

// UpdateDelegatedTargets verifies candidate targets bytes for role, signed
// by the key set that parentRole delegates to it (or, when role is the
// top-level targets role and parentRole is root, the root's own targets
// role definition).
func (t *TrustedMetadata) UpdateDelegatedTargets(raw []byte, role, parentRole string) (bool, error) {
	if t.Root.IsExpired(t.now()) {
		return false, metadata.ErrExpiredMetadata{Role: metadata.ROOT}
	}
	if t.Snapshot == nil {
		return false, metadata.ErrMissingMetadata{Role: metadata.SNAPSHOT}
	}
	if t.Snapshot.IsExpired(t.now()) {
		return false, metadata.ErrExpiredMetadata{Role: metadata.SNAPSHOT}
	}

	var threshold int
	var keys map[metadata.KeyId]*metadata.PublicKey

	if role == metadata.TARGETS {
		var err error
		threshold, keys, err = t.Root.Signed.RoleKeys(metadata.TARGETS)
		if err != nil {
			return false, err
		}
	} else {
		if t.Targets == nil {
			return false, metadata.ErrMissingMetadata{Role: metadata.TARGETS}
		}
		var parentDelegations *metadata.Delegations
		if parentRole == metadata.TARGETS {
			parentDelegations = t.Targets.Signed.Delegations
		} else {
			parent, ok := t.Delegations[parentRole]
			if !ok {
				return false, metadata.ErrMissingMetadata{Role: parentRole}
			}
			parentDelegations = parent.Signed.Delegations
		}
		if parentDelegations == nil {
			return false, metadata.ErrVerificationFailure{Msg: "delegations not authorized for " + parentRole}
		}
		var ok bool
		threshold, keys, ok = parentDelegations.RoleKeys(role)
		if !ok {
			return false, metadata.ErrVerificationFailure{Msg: "no delegation found for " + role}
		}
	}

	desc, ok := t.Snapshot.Signed.Meta[role]
	if !ok {
		return false, metadata.ErrVerificationFailure{Msg: "snapshot does not describe " + role}
	}

	var current *metadata.Metadata[metadata.TargetsMetadata]
	if role == metadata.TARGETS {
		current = t.Targets
	} else {
		current = t.Delegations[role]
	}
	currentVersion := uint32(0)
	if current != nil {
		currentVersion = current.VersionNumber()
	}
	if desc.Version < currentVersion {
		return false, metadata.ErrVerificationFailure{Msg: "rollback attack detected for " + role}
	}
	if desc.Version == currentVersion {
		return false, nil
	}

	candidate, err := metadata.FromBytes[metadata.TargetsMetadata](raw, t.di)
	if err != nil {
		return false, err
	}
	if err := candidate.VerifySignatures(t.di, threshold, keys); err != nil {
		return false, err
	}
	if candidate.VersionNumber() != desc.Version {
		return false, metadata.ErrVerificationFailure{Msg: "targets version does not match snapshot-declared version for " + role + " (mix-and-match)"}
	}
	if candidate.IsExpired(t.now()) {
		return false, metadata.ErrExpiredMetadata{Role: role}
	}

	if role == metadata.TARGETS {
		t.Targets = candidate
	} else {
		t.Delegations[role] = candidate
	}
	log.Infof("trusted %s advanced to version %d", role, candidate.VersionNumber())
	return true, nil
}

// TargetDescription resolves targetPath to a verified TargetDescription,
// walking the delegation graph when the path isn't registered directly in
// the trusted top-level targets. It assumes every delegated-targets role it
// needs is already present in Delegations — the updater is responsible for
// fetching those on demand (spec §4.5.3).
func (t *TrustedMetadata) TargetDescription(targetPath metadata.VirtualTargetPath) (metadata.TargetDescription, error) {
	if t.Root.IsExpired(t.now()) {
		return metadata.TargetDescription{}, metadata.ErrExpiredMetadata{Role: metadata.ROOT}
	}
	if t.Snapshot == nil {
		return metadata.TargetDescription{}, metadata.ErrMissingMetadata{Role: metadata.SNAPSHOT}
	}
	if t.Targets == nil {
		return metadata.TargetDescription{}, metadata.ErrMissingMetadata{Role: metadata.TARGETS}
	}

	if d, ok := t.Targets.Signed.Lookup(targetPath); ok {
		return d, nil
	}

	if t.Targets.Signed.Delegations == nil {
		return metadata.TargetDescription{}, metadata.ErrTargetUnavailable{}
	}

	visited := map[string]bool{}
	_, desc := t.lookupDelegation(false, 0, targetPath, t.Targets.Signed.Delegations, nil, visited)
	if desc == nil {
		return metadata.TargetDescription{}, metadata.ErrTargetUnavailable{}
	}
	return *desc, nil
}

// lookupDelegation is the depth-first delegation walk of spec §4.4.6: it
// returns (terminating, description). A terminating branch short-circuits
// the enclosing search with whatever it produced, including a miss.
func (t *TrustedMetadata) lookupDelegation(defaultTerminate bool, depth int, targetPath metadata.VirtualTargetPath, delegations *metadata.Delegations, parents [][]metadata.VirtualTargetPath, visited map[string]bool) (bool, *metadata.TargetDescription) {
	for _, delegation := range delegations.Roles {
		roleName := delegation.Role.Value()
		if visited[roleName] {
			return delegation.Terminating, nil
		}
		visited[roleName] = true

		if depth > 0 && !targetPath.MatchesChain(parents) {
			return delegation.Terminating, nil
		}

		delegated, ok := t.Delegations[roleName]
		if !ok {
			return delegation.Terminating, nil
		}
		if delegated.IsExpired(t.now()) {
			return delegation.Terminating, nil
		}
		if d, ok := delegated.Signed.Lookup(targetPath); ok {
			return delegation.Terminating, &d
		}
		if delegated.Signed.Delegations != nil {
			newParents := make([][]metadata.VirtualTargetPath, len(parents), len(parents)+1)
			copy(newParents, parents)
			newParents = append(newParents, delegation.Paths)
			term, res := t.lookupDelegation(delegation.Terminating, depth+1, targetPath, delegated.Signed.Delegations, newParents, visited)
			if term {
				return true, res
			}
			if res != nil {
				return term, res
			}
		}
	}
	return defaultTerminate, nil
}
