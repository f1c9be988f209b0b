// Package config carries the update driver's tunables: the size caps and
// delegation-depth limit the spec lists as part of the Client, plus the
// PathTranslator used to map between virtual and real target paths.
package config

import "github.com/trustframework/go-tuf-core/metadata"

// Defaults, per spec §4.5.
const (
	DefaultMaxRootSize       = 1024 * 1024 // 1 MiB
	DefaultMaxTimestampSize  = 32 * 1024   // 32 KiB
	DefaultMaxDelegationDepth = 8
)

// UpdaterConfig holds the Client's tunable limits.
type UpdaterConfig struct {
	MaxRootSize       int64
	MaxTimestampSize  int64
	MaxDelegationDepth int
	PathTranslator    metadata.PathTranslator
}

// New returns an UpdaterConfig with the spec's default limits and the
// identity PathTranslator.
func New() *UpdaterConfig {
	return &UpdaterConfig{
		MaxRootSize:        DefaultMaxRootSize,
		MaxTimestampSize:   DefaultMaxTimestampSize,
		MaxDelegationDepth: DefaultMaxDelegationDepth,
		PathTranslator:     metadata.IdentityTranslator{},
	}
}
