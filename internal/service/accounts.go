package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

// CreateAccount opens a counterparty with a zero balance. Balances move only
// through sales, collections and goods receipts.
func (s *Service) CreateAccount(ctx context.Context, req domain.AccountCreateRequest) (domain.CurrentAccount, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Type = domain.AccountType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	if req.Type == "" {
		req.Type = domain.AccountCustomer
	}
	if req.Name == "" || len(req.Name) > 200 || !req.Type.Valid() {
		return domain.CurrentAccount{}, store.ErrInvalidInput
	}

	now := s.now()
	account := domain.CurrentAccount{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      req.Type,
		Phone:     req.Phone,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertAccount(ctx, account); err != nil {
		return domain.CurrentAccount{}, err
	}
	return account, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.CurrentAccount, error) {
	return s.repo.ListAccounts(ctx)
}

func (s *Service) Account(ctx context.Context, id string) (domain.CurrentAccount, error) {
	account, err := s.repo.AccountByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.CurrentAccount{}, err
	}
	return *account, nil
}
