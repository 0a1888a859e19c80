package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"semaphore/auth-core/internal/model"
)

type memoryRecord struct {
	user model.User
	hash string
}

// MemoryStore keeps users in process. Uniqueness checks and writes happen under
// one lock, so concurrent registrations of the same identifier cannot both win.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memoryRecord
	byEmail map[string]string
	byPhone map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memoryRecord),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, user model.User, passwordHash string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !user.Role.Valid() {
		return model.User{}, fmt.Errorf("invalid role %q", user.Role)
	}
	if _, ok := s.byID[user.ID]; ok {
		return model.User{}, &DuplicateError{Field: "id"}
	}
	if err := s.checkUnique(user); err != nil {
		return model.User{}, err
	}
	record := &memoryRecord{user: cloneUser(user), hash: passwordHash}
	s.byID[user.ID] = record
	s.index(record.user)
	return cloneUser(record.user), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return cloneUser(record.user), nil
}

func (s *MemoryStore) GetByIDFresh(ctx context.Context, id string) (model.User, error) {
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (model.User, error) {
	user, _, err := s.GetByEmailWithPassword(ctx, email)
	return user, err
}

func (s *MemoryStore) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	user, _, err := s.GetByPhoneWithPassword(ctx, phone)
	return user, err
}

func (s *MemoryStore) GetByEmailWithPassword(_ context.Context, email string) (model.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byEmail, email)
}

func (s *MemoryStore) GetByPhoneWithPassword(_ context.Context, phone string) (model.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byPhone, phone)
}

func (s *MemoryStore) Update(_ context.Context, user model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[user.ID]
	if !ok {
		return model.User{}, ErrNotFound
	}
	if !user.Role.Valid() {
		return model.User{}, fmt.Errorf("invalid role %q", user.Role)
	}
	if err := s.checkUnique(user); err != nil {
		return model.User{}, err
	}
	s.unindex(record.user)
	record.user.Email = cloneString(user.Email)
	record.user.Phone = cloneString(user.Phone)
	record.user.Role = user.Role
	record.user.UpdatedAt = cloneTime(user.UpdatedAt)
	s.index(record.user)
	return cloneUser(record.user), nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	record.hash = passwordHash
	record.user.Touch(updatedAt)
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, id string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	record.user.IsActive = false
	record.user.Touch(updatedAt)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) lookup(index map[string]string, key string) (model.User, string, error) {
	id, ok := index[key]
	if !ok {
		return model.User{}, "", ErrNotFound
	}
	record := s.byID[id]
	return cloneUser(record.user), record.hash, nil
}

// checkUnique must be called with the write lock held.
func (s *MemoryStore) checkUnique(user model.User) error {
	if user.Email != nil {
		if owner, ok := s.byEmail[*user.Email]; ok && owner != user.ID {
			return &DuplicateError{Field: "email"}
		}
	}
	if user.Phone != nil {
		if owner, ok := s.byPhone[*user.Phone]; ok && owner != user.ID {
			return &DuplicateError{Field: "phone"}
		}
	}
	return nil
}

func (s *MemoryStore) index(user model.User) {
	if user.Email != nil {
		s.byEmail[*user.Email] = user.ID
	}
	if user.Phone != nil {
		s.byPhone[*user.Phone] = user.ID
	}
}

func (s *MemoryStore) unindex(user model.User) {
	if user.Email != nil {
		delete(s.byEmail, *user.Email)
	}
	if user.Phone != nil {
		delete(s.byPhone, *user.Phone)
	}
}

func cloneUser(user model.User) model.User {
	user.Email = cloneString(user.Email)
	user.Phone = cloneString(user.Phone)
	user.UpdatedAt = cloneTime(user.UpdatedAt)
	return user
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
