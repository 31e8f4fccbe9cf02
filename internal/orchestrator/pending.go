package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/concierge/pkg/models"
)

// PendingTTL is how long a proposed action stays confirmable.
const PendingTTL = 10 * time.Minute

// PendingAction records an action the model proposed that still needs the
// user's confirmation. The loop mints one when it denies a tier 2-4 call
// and consumes it when a later confirmed call executes.
type PendingAction struct {
	ID        string
	UserID    string
	Action    string
	Args      json.RawMessage
	Tier      models.Tier
	ExpiresAt time.Time
}

// PendingStore holds pending-action records. One record per (user, action);
// a newer proposal replaces an older one.
type PendingStore interface {
	Put(ctx context.Context, p *PendingAction) error
	// Get returns the unexpired record for the pair, or nil.
	Get(ctx context.Context, userID, action string) (*PendingAction, error)
	Delete(ctx context.Context, userID, action string) error
}

type pendingKey struct {
	userID string
	action string
}

// MemoryPendingStore is an in-process PendingStore.
type MemoryPendingStore struct {
	mu      sync.Mutex
	records map[pendingKey]*PendingAction
	now     func() time.Time
}

// NewMemoryPendingStore creates an empty store.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		records: make(map[pendingKey]*PendingAction),
		now:     time.Now,
	}
}

func (s *MemoryPendingStore) Put(_ context.Context, p *PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.records[pendingKey{p.UserID, p.Action}] = &cp
	return nil
}

func (s *MemoryPendingStore) Get(_ context.Context, userID, action string) (*PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey{userID, action}
	p, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if s.now().After(p.ExpiresAt) {
		delete(s.records, key)
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPendingStore) Delete(_ context.Context, userID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, pendingKey{userID, action})
	return nil
}

// NewPendingAction mints a record for a proposed call.
func NewPendingAction(userID, action string, args json.RawMessage, tier models.Tier, now time.Time) *PendingAction {
	return &PendingAction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Args:      args,
		Tier:      tier,
		ExpiresAt: now.Add(PendingTTL),
	}
}
