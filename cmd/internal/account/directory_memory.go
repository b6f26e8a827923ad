package account

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory for dev and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[string]User
	byUsername map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
	}
}

func (d *MemoryDirectory) Create(_ context.Context, in CreateUserInput) (User, error) {
	const op = "account.MemoryDirectory.Create"
	if err := validateCreate(op, &in); err != nil {
		return User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byUsername[in.Username]; taken {
		return User{}, OpError{Op: op, Kind: ErrConflict, Msg: "username"}
	}
	u := User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now.UTC(),
	}
	d.byID[u.ID] = u
	d.byUsername[u.Username] = u.ID
	return u, nil
}

func (d *MemoryDirectory) ByID(_ context.Context, id string) (User, error) {
	canonical, err := ParseUserID(id)
	if err != nil {
		return User{}, OpError{Op: "account.MemoryDirectory.ByID", Kind: ErrUserNotFound}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[canonical]
	if !ok {
		return User{}, OpError{Op: "account.MemoryDirectory.ByID", Kind: ErrUserNotFound}
	}
	return u, nil
}

func (d *MemoryDirectory) ByUsername(_ context.Context, username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byUsername[NormalizeUsername(username)]
	if !ok {
		return User{}, OpError{Op: "account.MemoryDirectory.ByUsername", Kind: ErrUserNotFound}
	}
	return d.byID[id], nil
}
