package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/congo-pay/walletd/internal/journal"
)

const journalStream = "identity"

// userRecord is the journal encoding of a User.
type userRecord struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CredentialHash []byte    `json:"credential_hash"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

type memoryRepository struct {
	mu      sync.RWMutex
	users   map[string]User
	byName  map[string]string
	order   []string
	journal *journal.Journal
}

// NewMemoryRepository builds an in-memory user store. When j is non-nil every
// user is journaled and the store is rebuilt from it.
func NewMemoryRepository(j *journal.Journal) (Repository, error) {
	r := &memoryRepository{
		users:   make(map[string]User),
		byName:  make(map[string]string),
		journal: j,
	}
	if j == nil {
		return r, nil
	}
	err := j.Replay(journalStream, func(raw []byte) error {
		var rec userRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		r.apply(User(rec))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recover identity journal: %w", err)
	}
	return r, nil
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[nameKey(user.Name)]; exists {
		return ErrDuplicateUser
	}
	if _, exists := r.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	if r.journal != nil {
		if err := r.journal.Append(journalStream, userRecord(user)); err != nil {
			return err
		}
	}
	r.apply(user)
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByName(_ context.Context, name string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[nameKey(name)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *memoryRepository) List(_ context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.users[id])
	}
	return users, nil
}

func (r *memoryRepository) apply(user User) {
	r.users[user.ID] = user
	r.byName[nameKey(user.Name)] = user.ID
	r.order = append(r.order, user.ID)
}
