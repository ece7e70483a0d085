package basic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
)

// ErrUserNotFound indicates that a user does not exist in the store.
var ErrUserNotFound = errors.New("user not found")

// User is a locally configured user.
type User struct {
	Username     string
	PasswordHash string
	Groups       []string
}

// MemoryStore verifies Basic credentials against bcrypt hashes held in
// memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User

	// dummy is compared against for unknown users so response time does
	// not reveal which usernames exist.
	dummy []byte
}

// NewMemoryStore creates a store holding users.
func NewMemoryStore(users ...User) (*MemoryStore, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("apimlgw-dummy"), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare store: %w", err)
	}
	s := &MemoryStore{users: make(map[string]*User, len(users)), dummy: dummy}
	for i := range users {
		if err := s.Add(users[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add inserts or replaces a user.
func (s *MemoryStore) Add(u User) error {
	if u.Username == "" {
		return errors.New("username is required")
	}
	if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
		return fmt.Errorf("user %s: invalid bcrypt hash: %w", u.Username, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = &u
	return nil
}

// Get returns a user by name.
func (s *MemoryStore) Get(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// VerifyBasic implements auth.BasicVerifier.
func (s *MemoryStore) VerifyBasic(ctx context.Context, username, password string) (*auth.Principal, error) {
	u, err := s.Get(ctx, username)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return nil, auth.NewError(auth.KindBadCredentials, "invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, auth.NewError(auth.KindBadCredentials, "invalid username or password")
	}
	return &auth.Principal{UserID: u.Username, Groups: u.Groups}, nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

var _ auth.BasicVerifier = (*MemoryStore)(nil)
