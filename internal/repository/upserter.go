package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/logger"
	"blingsync/internal/models"
)

const (
	DefaultBatchSize          = 200
	maxConsecutiveBatchErrors = 3
)

// Stats counts what an Upserter wrote since it was created.
type Stats struct {
	Written       int
	Failed        int
	Batches       int
	FailedBatches int
}

type pendingRecord[T models.Record] struct {
	record   T
	enriched bool
}

// Upserter writes catalog rows keyed by their Bling id. Each batch commits in
// its own transaction; a failed batch is rolled back and the next one still
// runs, until too many fail in a row.
type Upserter[T models.Record] struct {
	db        *gorm.DB
	batchSize int
	logger    *logger.Logger
	now       func() time.Time

	buf         []pendingRecord[T]
	consecutive int
	stats       Stats
	onCommit    func(ctx context.Context, records []T)
}

func NewUpserter[T models.Record](db *gorm.DB, batchSize int, logger *logger.Logger) *Upserter[T] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Upserter[T]{db: db, batchSize: batchSize, logger: logger, now: time.Now}
}

// OnCommit registers fn to run with every batch after it commits.
func (u *Upserter[T]) OnCommit(fn func(ctx context.Context, records []T)) {
	u.onCommit = fn
}

func (u *Upserter[T]) Stats() Stats {
	return u.stats
}

// Add buffers a record and flushes once a full batch is waiting.
// enriched marks records that carry detail columns.
func (u *Upserter[T]) Add(ctx context.Context, record T, enriched bool) error {
	u.buf = append(u.buf, pendingRecord[T]{record: record, enriched: enriched})
	if len(u.buf) >= u.batchSize {
		return u.Flush(ctx)
	}
	return nil
}

// Flush commits whatever is buffered.
func (u *Upserter[T]) Flush(ctx context.Context) error {
	if len(u.buf) == 0 {
		return nil
	}
	batch := append([]pendingRecord[T](nil), u.buf...)
	u.buf = u.buf[:0]
	return u.commit(ctx, batch)
}

// UpsertBatch writes records in windows of the batch size and returns how
// many rows were committed.
func (u *Upserter[T]) UpsertBatch(ctx context.Context, records []T, enriched bool) (int, error) {
	before := u.stats.Written
	var failed error
	for start := 0; start < len(records); start += u.batchSize {
		end := start + u.batchSize
		if end > len(records) {
			end = len(records)
		}
		window := make([]pendingRecord[T], 0, end-start)
		for _, r := range records[start:end] {
			window = append(window, pendingRecord[T]{record: r, enriched: enriched})
		}

		if err := u.commit(ctx, window); err != nil {
			if apperrors.Fatal(err) || ctx.Err() != nil {
				return u.stats.Written - before, err
			}
			failed = err
		}
	}
	return u.stats.Written - before, failed
}

// dedupe keeps the last record per key. A multi-row ON CONFLICT statement
// may not touch the same row twice on postgres.
func dedupe[T models.Record](batch []pendingRecord[T]) []pendingRecord[T] {
	seen := make(map[int64]int, len(batch))
	out := batch[:0]
	for _, p := range batch {
		id := p.record.ExternalID()
		if i, ok := seen[id]; ok {
			out[i] = p
			continue
		}
		seen[id] = len(out)
		out = append(out, p)
	}
	return out
}

func (u *Upserter[T]) commit(ctx context.Context, batch []pendingRecord[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch = dedupe(batch)
	now := u.now()
	var enriched, plain []T
	for _, p := range batch {
		models.Touch(&p.record, now)
		if p.enriched {
			enriched = append(enriched, p.record)
		} else {
			plain = append(plain, p.record)
		}
	}

	n := len(enriched) + len(plain)
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := u.upsert(tx, enriched, true); err != nil {
			return err
		}
		return u.upsert(tx, plain, false)
	})

	u.stats.Batches++
	if err != nil {
		u.stats.Failed += n
		u.stats.FailedBatches++
		u.consecutive++
		var zero T
		u.logger.Error("Batch of %d %s rows rolled back (ids %s): %v", n, zero.TableName(), idList(enriched, plain), err)
		if u.consecutive >= maxConsecutiveBatchErrors {
			return apperrors.Wrap(apperrors.ErrPersistence,
				fmt.Sprintf("%d consecutive batches failed", u.consecutive), err)
		}
		return apperrors.Wrap(apperrors.ErrStorage, "batch rolled back", err)
	}

	u.consecutive = 0
	u.stats.Written += n
	if u.onCommit != nil {
		u.onCommit(ctx, append(append([]T(nil), enriched...), plain...))
	}
	return nil
}

func (u *Upserter[T]) upsert(tx *gorm.DB, records []T, enriched bool) error {
	if len(records) == 0 {
		return nil
	}
	var zero T
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: zero.KeyColumn()}},
		DoUpdates: clause.AssignmentColumns(zero.UpsertColumns(enriched)),
	}).Create(&records).Error
}

func idList[T models.Record](groups ...[]T) string {
	var ids []string
	for _, g := range groups {
		for _, r := range g {
			ids = append(ids, r.EventKey())
		}
	}
	return strings.Join(ids, ",")
}
