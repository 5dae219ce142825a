package usecase

import (
	"context"
	"fmt"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// HistoryService serves execution records and the public feed.
type HistoryService struct {
	history domain.HistoryRepository
}

func NewHistoryService(history domain.HistoryRepository) *HistoryService {
	return &HistoryService{history: history}
}

// Get returns one record. Private entries are visible to their owner and
// staff only; everyone else sees ErrNotFound rather than a hint that the
// record exists.
func (s *HistoryService) Get(ctx context.Context, user domain.User, id string) (domain.SearchHistory, error) {
	op := "usecase.get_history"
	h, err := s.history.Get(ctx, id)
	if err != nil {
		return domain.SearchHistory{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if !h.Public && h.UserID != user.ID && !user.Staff {
		return domain.SearchHistory{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	return h, nil
}

// ListByUser pages the caller's own history, optionally narrowed to one
// problem.
func (s *HistoryService) ListByUser(ctx context.Context, user domain.User, platform, problemNumber, cursor string, limit int) (domain.Page[domain.SearchHistory], error) {
	page, err := s.history.ListByUser(ctx, user.Email, platform, problemNumber, cursor, limit)
	if err != nil {
		return domain.Page[domain.SearchHistory]{}, fmt.Errorf("op=usecase.list_history: %w", err)
	}
	return page, nil
}

// PublicFeed pages the global feed of public runs, newest first.
func (s *HistoryService) PublicFeed(ctx context.Context, cursor string, limit int) (domain.Page[domain.SearchHistory], error) {
	page, err := s.history.PublicFeed(ctx, cursor, limit)
	if err != nil {
		return domain.Page[domain.SearchHistory]{}, fmt.Errorf("op=usecase.public_feed: %w", err)
	}
	return page, nil
}

// SetPublic toggles feed visibility. Owner or staff only.
func (s *HistoryService) SetPublic(ctx context.Context, user domain.User, id string, public bool) error {
	op := "usecase.set_history_public"
	h, err := s.history.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if h.UserID != user.ID && !user.Staff {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	if h.Public == public {
		return nil
	}
	if err := s.history.SetPublic(ctx, id, public); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return nil
}
