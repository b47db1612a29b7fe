// Package directory answers identity questions the scheduler asks of the
// externally owned user set.
package directory

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
)

type Service struct {
	users repository.UserRepository
	cache *cache.Cache
	log   *logger.Logger
}

// NewService caches resolved roles for ttl. Unknown ids are not cached so
// newly provisioned users are visible immediately.
func NewService(users repository.UserRepository, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		users: users,
		cache: cache.New(ttl, 2*ttl),
		log:   log,
	}
}

// Role returns the role of id, or ok=false when the user does not exist.
func (s *Service) Role(ctx context.Context, id uuid.UUID) (model.Role, bool, error) {
	key := id.String()
	if cached, found := s.cache.Get(key); found {
		return cached.(model.Role), true, nil
	}

	user, err := s.users.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			s.log.Debug("user not found in directory", "user_id", id)
			return "", false, nil
		}
		return "", false, err
	}

	s.cache.Set(key, user.Role, cache.DefaultExpiration)
	return user.Role, true, nil
}

// UserExists reports whether id names a user holding role.
func (s *Service) UserExists(ctx context.Context, id uuid.UUID, role model.Role) (bool, error) {
	got, ok, err := s.Role(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return got == role, nil
}

// Forget drops a cached entry, e.g. after the identity service changed a role.
func (s *Service) Forget(id uuid.UUID) {
	s.cache.Delete(id.String())
}
