package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/models"
)

// RunLog records one sync_runs row per resource per run.
type RunLog struct {
	db *gorm.DB
}

func NewRunLog(db *gorm.DB) *RunLog {
	return &RunLog{db: db}
}

func (l *RunLog) Start(ctx context.Context, resource, trigger string) (*models.SyncRun, error) {
	run := &models.SyncRun{
		Resource:  resource,
		Trigger:   trigger,
		Status:    models.SyncRunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "create sync run", err)
	}
	return run, nil
}

// Finish stores the final counters. It uses its own context so a cancelled
// run is still recorded.
func (l *RunLog) Finish(run *models.SyncRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.db.WithContext(ctx).Save(run).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "save sync run", err)
	}
	return nil
}

func (l *RunLog) Recent(ctx context.Context, resource string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := l.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if resource != "" {
		q = q.Where("resource = ?", resource)
	}

	var runs []models.SyncRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list sync runs", err)
	}
	return runs, nil
}
