// Package memory keeps everything in process memory.
// Used in tests and single process development runs, data is lost on exit.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/noteauth/internal/models"
	"github.com/nkiryanov/noteauth/internal/repository"
)

type family struct {
	id            uuid.UUID
	userID        uuid.UUID
	createdAt     time.Time
	compromisedAt *time.Time
}

type state struct {
	users    map[uuid.UUID]models.User
	profiles map[uuid.UUID]models.Profile // by user id
	families map[uuid.UUID]family
	tokens   map[string]models.RefreshToken // by hash
}

func (st *state) clone() *state {
	return &state{
		users:    maps.Clone(st.users),
		profiles: maps.Clone(st.profiles),
		families: maps.Clone(st.families),
		tokens:   maps.Clone(st.tokens),
	}
}

func (st *state) restore(from *state) {
	st.users = from.users
	st.profiles = from.profiles
	st.families = from.families
	st.tokens = from.tokens
}

type Storage struct {
	mu *sync.Mutex
	st *state

	// Set for the view passed to InTx callback: the mutex is held by InTx already
	inTx bool
}

func NewStorage() *Storage {
	return &Storage{
		mu: &sync.Mutex{},
		st: &state{
			users:    make(map[uuid.UUID]models.User),
			profiles: make(map[uuid.UUID]models.Profile),
			families: make(map[uuid.UUID]family),
			tokens:   make(map[string]models.RefreshToken),
		},
	}
}

func (s *Storage) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s}
}

func (s *Storage) Profile() repository.ProfileRepo {
	return &ProfileRepo{s: s}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{s: s}
}

// Run fn holding the storage lock. Changes made by fn are discarded if it returns error
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	defer s.lock()()

	snapshot := s.st.clone()
	err := fn(&Storage{mu: s.mu, st: s.st, inTx: true})
	if err != nil {
		s.st.restore(snapshot)
	}

	return err
}
