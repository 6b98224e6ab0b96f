package product

import (
	"context"
	"time"
)

// Store persists product versions and defaults snapshots. Both are
// append-only.
type Store interface {
	// InsertVersion inserts v unless a row with the same (tenancy, version id)
	// exists. It reports whether a row was inserted.
	InsertVersion(ctx context.Context, v *Version) (bool, error)
	GetVersion(ctx context.Context, tenancyID, versionID string) (*Version, error)
	GetVersions(ctx context.Context, tenancyID string, versionIDs []string) (map[string]*Version, error)

	CreateDefaultsSnapshot(ctx context.Context, s *DefaultsSnapshot) error
	// LatestDefaultsSnapshot returns the newest snapshot created at or before
	// at, or a not-found error.
	LatestDefaultsSnapshot(ctx context.Context, tenancyID string, at time.Time) (*DefaultsSnapshot, error)
}
