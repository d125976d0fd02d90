package repository

import (
	"context"
	"fmt"
	"time"

	apperrors "blingsync/internal/errors"
)

// Freshness is what the details gate needs to know about a stored row.
type Freshness struct {
	ID         int64
	Enrichment string
	ModifiedAt *time.Time
}

// NeedsDetails reports whether a record should be re-read from the detail
// endpoint: the row is missing, its enrichment column is empty, it has no
// timestamp, or the timestamp is older than maxAge.
func NeedsDetails(f Freshness, found bool, now time.Time, maxAge time.Duration) bool {
	if !found {
		return true
	}
	if f.Enrichment == "" {
		return true
	}
	if f.ModifiedAt == nil || f.ModifiedAt.IsZero() {
		return true
	}
	return now.Sub(*f.ModifiedAt) > maxAge
}

// Snapshot loads the freshness of the given ids as stored before this run
// writes them.
func (u *Upserter[T]) Snapshot(ctx context.Context, ids []int64) (map[int64]Freshness, error) {
	out := make(map[int64]Freshness, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var zero T
	var rows []Freshness
	err := u.db.WithContext(ctx).
		Table(zero.TableName()).
		Select(fmt.Sprintf("%s AS id, COALESCE(%s, '') AS enrichment, data_alteracao AS modified_at", zero.KeyColumn(), zero.EnrichmentColumn())).
		Where(zero.KeyColumn()+" IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "read "+zero.TableName()+" freshness", err)
	}

	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// NeedsDetails checks a single stored row against maxAge.
func (u *Upserter[T]) NeedsDetails(ctx context.Context, id int64, maxAge time.Duration) (bool, error) {
	snap, err := u.Snapshot(ctx, []int64{id})
	if err != nil {
		return false, err
	}
	f, found := snap[id]
	return NeedsDetails(f, found, u.now(), maxAge), nil
}
