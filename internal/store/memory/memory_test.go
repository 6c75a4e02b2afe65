package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tezgah/backend/internal/store"
	"tezgah/backend/internal/store/storetest"
)

func TestRepositoryBehaviour(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return New() })
}

func TestNewSeeded(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-pass-1")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-pass-1")

	s := NewSeeded()
	ctx := context.Background()

	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 5)

	supplier, err := s.AccountByID(ctx, "acc-supplier-1")
	require.NoError(t, err)
	assert.True(t, supplier.Balance.IsZero())

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
	assert.NotEqual(t, "admin-pass-1", users[0].Password, "password must be stored hashed")
}

func TestWithinTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
