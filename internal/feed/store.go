package feed

import (
	"context"
	"time"

	"github.com/d60-Lab/skyframe/internal/model"
)

// PrioritizedQuery selects images from followed uploaders or liked by UserID.
type PrioritizedQuery struct {
	UserID      uint64
	After       Position
	Limit       int
	FreshCutoff time.Time // zero disables the window
	ExcludeIDs  []uint64
}

// GlobalQuery selects the newest images outside the prioritized pool.
type GlobalQuery struct {
	UserID      uint64
	After       Position
	Limit       int
	FreshCutoff time.Time
	ExcludeIDs  []uint64
}

// CandidateStore is the read contract of the image/social-graph storage.
// Both Fetch methods return rows ordered by (created_at desc, id desc)
// strictly after the After position.
type CandidateStore interface {
	FetchPrioritized(ctx context.Context, q PrioritizedQuery) ([]model.Image, error)
	FetchGlobal(ctx context.Context, q GlobalQuery) ([]model.Image, error)
	FetchRandom(ctx context.Context, limit int) ([]model.Image, error)
}

// SeenStore keeps the per-user history of served images.
// RecordSeen must treat already recorded pairs as a no-op. PurgeSeen removes
// records seen before olderThan (zero skips the age rule) and then the oldest
// records beyond maxCount (0 skips the count rule).
type SeenStore interface {
	SeenIDs(ctx context.Context, userID uint64, since time.Time, limit int) ([]uint64, error)
	IsSeen(ctx context.Context, userID, imageID uint64) (bool, error)
	RecordSeen(ctx context.Context, userID uint64, imageIDs []uint64, at time.Time) error
	PurgeSeen(ctx context.Context, userID uint64, olderThan time.Time, maxCount int) (int64, error)
}

// PositionOf returns the resume key of img.
func PositionOf(img model.Image) Position {
	return Position{CreatedAt: img.CreatedAt.UTC(), ID: img.ID}
}

// Precedes reports whether p comes strictly before img in feed order,
// i.e. img is older than p, or equally old with a smaller id.
func (p Position) Precedes(img model.Image) bool {
	if p.IsZero() {
		return true
	}
	if img.CreatedAt.Before(p.CreatedAt) {
		return true
	}
	return img.CreatedAt.Equal(p.CreatedAt) && img.ID < p.ID
}
