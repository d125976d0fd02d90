package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SyncRun struct {
	ID             string        `json:"id" gorm:"primaryKey;size:36"`
	Resource       string        `json:"resource" gorm:"size:20;index"`
	Trigger        string        `json:"trigger" gorm:"size:20"`
	Status         SyncRunStatus `json:"status" gorm:"size:20"`
	PagesFetched   int           `json:"pages_fetched"`
	Processed      int           `json:"processed"`
	Written        int           `json:"written"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	DetailsFetched int           `json:"details_fetched"`
	DetailsSkipped int           `json:"details_skipped"`
	DetailsFailed  int           `json:"details_failed"`
	Error          string        `json:"error,omitempty" gorm:"type:text"`
	StartedAt      time.Time     `json:"started_at" gorm:"index"`
	FinishedAt     *time.Time    `json:"finished_at"`
}

type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunPartial   SyncRunStatus = "partial"
	SyncRunFailed    SyncRunStatus = "failed"
)

func (SyncRun) TableName() string { return "sync_runs" }

func (r *SyncRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
