package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[common.Address]types.InvestmentPolicy
	auths    map[common.Address]*types.SpendAuthorization
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[common.Address]types.InvestmentPolicy),
		auths:    make(map[common.Address]*types.SpendAuthorization),
	}
}

func (s *MemoryStore) GetPolicy(_ context.Context, user common.Address) (types.InvestmentPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[user]
	if !ok {
		return types.InvestmentPolicy{}, ErrNotFound
	}
	return policy.Clone(), nil
}

func (s *MemoryStore) SavePolicy(_ context.Context, user common.Address, policy types.InvestmentPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[user] = policy.Clone()
	return nil
}

func (s *MemoryStore) GetAuthorization(_ context.Context, user common.Address) (*types.SpendAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	auth, ok := s.auths[user]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *auth
	return &copied, nil
}

func (s *MemoryStore) SaveAuthorization(_ context.Context, user common.Address, auth *types.SpendAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *auth
	s.auths[user] = &copied
	return nil
}

func (s *MemoryStore) DeleteAuthorization(_ context.Context, user common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.auths, user)
	return nil
}
