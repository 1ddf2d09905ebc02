// Package tracker keeps the per-session set of people already recorded so
// duplicate identification events can be answered without a store query.
//
// The tracker is a cache. The store's unique constraint stays authoritative:
// a miss here never means "not recorded".
package tracker

import (
	"context"
	"sort"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
)

type Tracker interface {
	// Open registers the session if absent and extends its expiry.
	Open(ctx context.Context, key domain.SessionKey, expiresAt time.Time) error
	// MarkRecorded adds person to the session set. added is true only for the
	// caller that inserted it.
	MarkRecorded(ctx context.Context, key domain.SessionKey, person domain.PersonID) (added bool, err error)
	IsRecorded(ctx context.Context, key domain.SessionKey, person domain.PersonID) (bool, error)
	// Forget removes a single person, used when a record is revoked.
	Forget(ctx context.Context, key domain.SessionKey, person domain.PersonID) error
	// End drops the session and returns who had been recorded.
	End(ctx context.Context, key domain.SessionKey) ([]domain.PersonID, error)
	Snapshot(ctx context.Context, key domain.SessionKey) (Snapshot, bool, error)
	// Sessions lists every live session ordered by key.
	Sessions(ctx context.Context) ([]Snapshot, error)
	// Sweep evicts sessions that expired before now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Snapshot is a point-in-time view of one live session.
type Snapshot struct {
	Key       domain.SessionKey `json:"-"`
	Count     int64             `json:"count"`
	OpenedAt  time.Time         `json:"opened_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func sortSnapshots(s []Snapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].Key.String() < s[j].Key.String() })
}
