package token

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "blingsync/internal/errors"
	"blingsync/internal/models"
)

// DBStore keeps the pair in configuracoes_api as <prefix>_access_token,
// <prefix>_refresh_token, <prefix>_token_obtained_at and <prefix>_token_expires_at.
type DBStore struct {
	db     *gorm.DB
	prefix string
}

func NewDBStore(db *gorm.DB, prefix string) *DBStore {
	if prefix == "" {
		prefix = "bling"
	}
	return &DBStore{db: db, prefix: prefix}
}

func (s *DBStore) key(name string) string {
	return s.prefix + "_" + name
}

func (s *DBStore) Get(ctx context.Context) (Pair, error) {
	keys := []string{
		s.key("access_token"), s.key("refresh_token"),
		s.key("token_obtained_at"), s.key("token_expires_at"),
	}

	var rows []models.APISetting
	if err := s.db.WithContext(ctx).Where("chave IN ?", keys).Find(&rows).Error; err != nil {
		return Pair{}, apperrors.Wrap(apperrors.ErrStorage, "read token settings", err)
	}

	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Chave] = r.Valor
	}

	p := Pair{
		AccessToken:  values[s.key("access_token")],
		RefreshToken: values[s.key("refresh_token")],
		ObtainedAt:   parseTime(values[s.key("token_obtained_at")]),
		ExpiresAt:    parseTime(values[s.key("token_expires_at")]),
	}
	if p.RefreshToken == "" {
		return Pair{}, apperrors.Newf(apperrors.ErrNotFound, "no %s refresh token in configuracoes_api", s.prefix)
	}
	return p, nil
}

func (s *DBStore) Put(ctx context.Context, p Pair) error {
	rows := []models.APISetting{
		{Chave: s.key("access_token"), Valor: p.AccessToken},
		{Chave: s.key("refresh_token"), Valor: p.RefreshToken},
		{Chave: s.key("token_obtained_at"), Valor: formatTime(p.ObtainedAt)},
		{Chave: s.key("token_expires_at"), Valor: formatTime(p.ExpiresAt)},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chave"}},
			DoUpdates: clause.AssignmentColumns([]string{"valor"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "write token settings", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
