package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tezgah/backend/internal/cache"
	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
	"tezgah/backend/internal/syncer"
)

var ErrAdminRequired = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrAdminRequired
	}
	return nil
}

// Service is the device core: every command runs in one storage transaction
// and writes its outbox entries in that same transaction.
type Service struct {
	repo   store.Repository
	cache  *cache.Cache
	logger zerolog.Logger
	now    func() time.Time
}

func New(repo store.Repository, readCache *cache.Cache, logger zerolog.Logger) *Service {
	if readCache == nil {
		readCache = cache.New(cache.Options{})
	}
	return &Service{
		repo:   repo,
		cache:  readCache,
		logger: logger.With().Str("component", "service").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Cache() *cache.Cache {
	return s.cache
}

func (s *Service) enqueue(ctx context.Context, tx store.Tx, in domain.OutboxInput, at time.Time) error {
	_, err := syncer.Enqueue(ctx, tx, in, at)
	return err
}

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

func normalizeSKU(sku string) (string, error) {
	sku = strings.TrimSpace(sku)
	if !skuPattern.MatchString(sku) {
		return "", store.ErrInvalidInput
	}
	return sku, nil
}

func strPtr(v string) *string {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}
