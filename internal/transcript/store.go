package transcript

import (
	"context"
	"strings"

	"github.com/eleven-am/voice-client/internal/shared"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Fragment{})
}

func (s *Store) Append(ctx context.Context, sessionID string, e Entry) error {
	frag := &Fragment{
		ID:        shared.NewID("frag_"),
		SessionID: sessionID,
		Seq:       e.Seq,
		Text:      e.Text,
		CreatedAt: e.At,
	}
	return s.db.WithContext(ctx).Create(frag).Error
}

func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*Fragment, error) {
	var frags []*Fragment
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq ASC").Find(&frags).Error
	return frags, err
}

func (s *Store) Text(ctx context.Context, sessionID string) (string, error) {
	frags, err := s.ListBySession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(frags) == 0 {
		return "", shared.ErrNotFound
	}
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.Text)
	}
	return b.String(), nil
}

func (s *Store) DeleteBySession(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Delete(&Fragment{}, "session_id = ?", sessionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
