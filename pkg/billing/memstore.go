package billing

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and local development. It applies
// the same uniqueness rule as the SQL store: one row per remote subscription.
type MemStore struct {
	mu         sync.RWMutex
	byProvider map[string]*Subscription
}

// NewMemStore returns an empty in-memory subscription store.
func NewMemStore() *MemStore {
	return &MemStore{byProvider: make(map[string]*Subscription)}
}

func (m *MemStore) GetByProviderID(_ context.Context, providerSubID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.byProvider[providerSubID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MemStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, sub := range m.byProvider {
		if sub.UserID == userID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CurrentPeriodEnd.After(out[j].CurrentPeriodEnd)
	})
	return out, nil
}

func (m *MemStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byProvider[sub.ProviderSubID]; exists {
		return ErrSubscriptionAlreadyExists
	}
	cp := *sub
	m.byProvider[sub.ProviderSubID] = &cp
	return nil
}

func (m *MemStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byProvider[sub.ProviderSubID]; !exists {
		return ErrSubscriptionNotFound
	}
	cp := *sub
	m.byProvider[sub.ProviderSubID] = &cp
	return nil
}

func (m *MemStore) AddUsage(_ context.Context, providerSubID string, res Resource, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, exists := m.byProvider[providerSubID]
	if !exists {
		return ErrSubscriptionNotFound
	}
	sub.Usage = sub.Usage.Add(res, delta)
	return nil
}

// MemUserStore is an in-memory UserStore honoring the projection Version
// guard.
type MemUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

// NewMemUserStore returns an empty in-memory user store.
func NewMemUserStore() *MemUserStore {
	return &MemUserStore{users: make(map[uuid.UUID]*User)}
}

// Put seeds a user, for tests and dev fixtures.
func (m *MemUserStore) Put(user *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.ID] = &cp
}

func (m *MemUserStore) Get(_ context.Context, userID uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	cp.Projection.Features = slices.Clone(user.Projection.Features)
	return &cp, nil
}

func (m *MemUserStore) ByProviderCustID(_ context.Context, customerID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.ProviderCustID == customerID {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemUserStore) SaveProjection(_ context.Context, userID uuid.UUID, p Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	// Last-write-wins by version: a retry carrying older canonical state
	// must not clobber a newer projection.
	if user.Projection.Version > p.Version {
		return nil
	}
	user.Projection = p
	return nil
}

func (m *MemUserStore) RecordCheckout(_ context.Context, userID uuid.UUID, sessionID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	now := time.Now().UTC()
	if sessionID != "" {
		user.CheckoutSessionID = sessionID
		user.CheckoutStartedAt = &now
	}
	if customerID != "" {
		user.ProviderCustID = customerID
	}
	return nil
}

func (m *MemUserStore) StaleCheckouts(_ context.Context, cutoff time.Time) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, user := range m.users {
		if user.CheckoutSessionID == "" || user.CheckoutStartedAt == nil {
			continue
		}
		if user.CheckoutStartedAt.After(cutoff) {
			continue
		}
		if user.Projection.Entitled(time.Now().UTC()) {
			continue
		}
		cp := *user
		out = append(out, &cp)
	}
	return out, nil
}
