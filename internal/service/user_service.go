package service

import (
	"context"
	"fmt"

	"github.com/uzbekfilmtv/kinobot/internal/models"
	"github.com/uzbekfilmtv/kinobot/internal/repository"
)

// UserService fronts the quota ledger.
type UserService struct {
	users   *repository.UserRepository
	content *repository.ContentRepository
}

func NewUserService(users *repository.UserRepository, content *repository.ContentRepository) *UserService {
	return &UserService{users: users, content: content}
}

func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	user, created, err := s.users.Ensure(ctx, telegramID, username, firstName, lastName)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

func (s *UserService) ApplyReferral(ctx context.Context, referrerID, refereeID int64) (bool, error) {
	return s.users.ApplyReferral(ctx, referrerID, refereeID)
}

func (s *UserService) ChargeUsage(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.users.ChargeUsage(ctx, telegramID)
}

func (s *UserService) GrantBonus(ctx context.Context, telegramID int64, amount int) error {
	ok, err := s.users.GrantBonus(ctx, telegramID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}

func (s *UserService) Stats(ctx context.Context) (models.Stats, error) {
	userCount, deliveries, err := s.users.CountAndUsage(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	contentCount, err := s.content.Count(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	return models.Stats{
		Users:           userCount,
		ContentEntries:  contentCount,
		TotalDeliveries: deliveries,
	}, nil
}
