package accounts

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process AccountRepository and DepartmentRepository.
// It backs single-node development setups and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	accounts    map[int64]*Account
	departments map[int64]*Department
	now         func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[int64]*Account),
		departments: make(map[int64]*Department),
		now:         time.Now,
	}
}

// Accounts returns the store as an AccountRepository
func (s *MemoryStore) Accounts() AccountRepository { return (*memAccounts)(s) }

// Departments returns the store as a DepartmentRepository
func (s *MemoryStore) Departments() DepartmentRepository { return (*memDepartments)(s) }

// AllAccounts returns copies of every stored account ordered by id
func (s *MemoryStore) AllAccounts() []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for id := int64(1); id <= s.nextID; id++ {
		if a, ok := s.accounts[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out
}

// AllDepartments returns copies of every stored department ordered by id
func (s *MemoryStore) AllDepartments() []*Department {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Department, 0, len(s.departments))
	for id := int64(1); id <= s.nextID; id++ {
		if d, ok := s.departments[id]; ok {
			out = append(out, d.Clone())
		}
	}
	return out
}

type memAccounts MemoryStore

type memDepartments MemoryStore

func (s *memAccounts) FindByID(ctx context.Context, id int64) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *memAccounts) FindByEmailOrUsername(ctx context.Context, tenantID int64, email, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Account
	for _, a := range s.accounts {
		if a.TenantID != tenantID {
			continue
		}
		if (email != "" && strings.EqualFold(a.Email, email)) || (username != "" && a.Username == username) {
			if found == nil || a.ID < found.ID {
				found = a
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

func (s *memAccounts) FindByBoundRemoteID(ctx context.Context, remoteUserID string) (*Account, error) {
	if remoteUserID == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.boundRemoteID() == remoteUserID {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// bindingTaken must be called with the lock held
func (s *memAccounts) bindingTaken(a *Account) bool {
	remoteID := a.boundRemoteID()
	if remoteID == "" {
		return false
	}
	for id, other := range s.accounts {
		if id != a.ID && other.boundRemoteID() == remoteID {
			return true
		}
	}
	return false
}

func (s *memAccounts) Insert(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindingTaken(a) {
		return ErrBindingConflict
	}

	s.nextID++
	now := s.now()
	a.ID = s.nextID
	a.CreatedAt = now
	a.UpdatedAt = now
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *memAccounts) Update(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if s.bindingTaken(a) {
		return ErrBindingConflict
	}

	a.TenantID = existing.TenantID
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now()
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *memDepartments) FindByCode(ctx context.Context, tenantID int64, code string) (*Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.departments {
		if d.TenantID == tenantID && d.Code == code {
			return d.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memDepartments) Insert(ctx context.Context, d *Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.now()
	d.ID = s.nextID
	d.CreatedAt = now
	d.UpdatedAt = now
	s.departments[d.ID] = d.Clone()
	return nil
}

func (s *memDepartments) Update(ctx context.Context, d *Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.departments[d.ID]
	if !ok {
		return ErrNotFound
	}
	d.TenantID = existing.TenantID
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = s.now()
	s.departments[d.ID] = d.Clone()
	return nil
}
