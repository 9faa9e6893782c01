package loyalty

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// MemoryRepository keeps all loyalty state in process memory. It backs tests
// and local runs without a database. Transactions buffer their writes and
// apply them on commit, so a failed transaction leaves nothing behind.
type MemoryRepository struct {
	mu            sync.RWMutex
	customers     map[string]models.Customer
	entries       map[string][]models.LedgerEntry
	subscriptions map[string]models.Subscription
	redemptions   map[string]models.RedemptionState
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers:     make(map[string]models.Customer),
		entries:       make(map[string][]models.LedgerEntry),
		subscriptions: make(map[string]models.Subscription),
		redemptions:   make(map[string]models.RedemptionState),
	}
}

func (r *MemoryRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	tx := newMemoryTx(r)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (r *MemoryRepository) GetCustomer(ctx context.Context, id string, forUpdate bool) (*models.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return r.SaveCustomer(ctx, c)
}

func (r *MemoryRepository) SaveCustomer(ctx context.Context, c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putCustomer(*c)
	return nil
}

func (r *MemoryRepository) ListActiveCustomers(ctx context.Context, offset, limit int) ([]models.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := make([]models.Customer, 0, len(r.customers))
	for _, c := range r.customers {
		if c.IsActive() {
			active = append(active, c)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return page(active, offset, limit), nil
}

func (r *MemoryRepository) AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendEntry(*e)
	return nil
}

func (r *MemoryRepository) ListLedgerEntries(ctx context.Context, customerID string, since time.Time) ([]models.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterEntries(r.entries[customerID], since), nil
}

func (r *MemoryRepository) GetCurrentSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return currentSubscription(r.subscriptions, customerID)
}

func (r *MemoryRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putSubscription(*sub)
	return nil
}

func (r *MemoryRepository) ListDueSubscriptions(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return selectSubscriptions(r.subscriptions, limit, func(s models.Subscription) bool {
		return s.ArchivedAt == nil && s.Status == models.SubscriptionStatusActive && s.AutoRenew &&
			!s.NextBillingDate.After(now) && chargeClaimable(&s, staleBefore)
	}), nil
}

func (r *MemoryRepository) ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return selectSubscriptions(r.subscriptions, limit, func(s models.Subscription) bool {
		return s.ArchivedAt == nil && EffectiveSubscriptionState(&s, now) == SubscriptionExpired
	}), nil
}

func (r *MemoryRepository) GetRedemptionState(ctx context.Context, customerID string) (*models.RedemptionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.redemptions[customerID]
	if !ok {
		return &models.RedemptionState{CustomerID: customerID}, nil
	}
	return copyRedemptionState(s), nil
}

func (r *MemoryRepository) SaveRedemptionState(ctx context.Context, s *models.RedemptionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redemptions[s.CustomerID] = *copyRedemptionState(*s)
	return nil
}

func (r *MemoryRepository) putCustomer(c models.Customer) {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.customers[c.ID] = c
}

func (r *MemoryRepository) appendEntry(e models.LedgerEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.entries[e.CustomerID] = append(r.entries[e.CustomerID], e)
}

func (r *MemoryRepository) putSubscription(s models.Subscription) {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	r.subscriptions[s.ID] = s
}

// memoryTx is a write overlay on top of a MemoryRepository.
type memoryTx struct {
	base          *MemoryRepository
	customers     map[string]models.Customer
	entries       []models.LedgerEntry
	subscriptions map[string]models.Subscription
	redemptions   map[string]models.RedemptionState
}

func newMemoryTx(base *MemoryRepository) *memoryTx {
	return &memoryTx{
		base:          base,
		customers:     make(map[string]models.Customer),
		subscriptions: make(map[string]models.Subscription),
		redemptions:   make(map[string]models.RedemptionState),
	}
}

func (tx *memoryTx) commit() {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	for _, c := range tx.customers {
		tx.base.putCustomer(c)
	}
	for _, e := range tx.entries {
		tx.base.appendEntry(e)
	}
	for _, s := range tx.subscriptions {
		tx.base.putSubscription(s)
	}
	for id, s := range tx.redemptions {
		tx.base.redemptions[id] = s
	}
}

func (tx *memoryTx) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return fn(tx)
}

func (tx *memoryTx) GetCustomer(ctx context.Context, id string, forUpdate bool) (*models.Customer, error) {
	if c, ok := tx.customers[id]; ok {
		return &c, nil
	}
	return tx.base.GetCustomer(ctx, id, forUpdate)
}

func (tx *memoryTx) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return tx.SaveCustomer(ctx, c)
}

func (tx *memoryTx) SaveCustomer(ctx context.Context, c *models.Customer) error {
	tx.customers[c.ID] = *c
	return nil
}

func (tx *memoryTx) ListActiveCustomers(ctx context.Context, offset, limit int) ([]models.Customer, error) {
	return tx.base.ListActiveCustomers(ctx, offset, limit)
}

func (tx *memoryTx) AppendLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	tx.entries = append(tx.entries, *e)
	return nil
}

func (tx *memoryTx) ListLedgerEntries(ctx context.Context, customerID string, since time.Time) ([]models.LedgerEntry, error) {
	entries, err := tx.base.ListLedgerEntries(ctx, customerID, since)
	if err != nil {
		return nil, err
	}
	for _, e := range tx.entries {
		if e.CustomerID == customerID && !e.OccurredAt.Before(since) {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].OccurredAt.Before(entries[j].OccurredAt) })
	return entries, nil
}

func (tx *memoryTx) GetCurrentSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	tx.base.mu.RLock()
	merged := make(map[string]models.Subscription, len(tx.base.subscriptions)+len(tx.subscriptions))
	for id, s := range tx.base.subscriptions {
		if s.CustomerID == customerID {
			merged[id] = s
		}
	}
	tx.base.mu.RUnlock()
	for id, s := range tx.subscriptions {
		if s.CustomerID == customerID {
			merged[id] = s
		}
	}
	return currentSubscription(merged, customerID)
}

func (tx *memoryTx) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	s := *sub
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	tx.subscriptions[s.ID] = s
	return nil
}

func (tx *memoryTx) ListDueSubscriptions(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.Subscription, error) {
	return tx.base.ListDueSubscriptions(ctx, now, staleBefore, limit)
}

func (tx *memoryTx) ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	return tx.base.ListLapsedSubscriptions(ctx, now, limit)
}

func (tx *memoryTx) GetRedemptionState(ctx context.Context, customerID string) (*models.RedemptionState, error) {
	if s, ok := tx.redemptions[customerID]; ok {
		return copyRedemptionState(s), nil
	}
	return tx.base.GetRedemptionState(ctx, customerID)
}

func (tx *memoryTx) SaveRedemptionState(ctx context.Context, s *models.RedemptionState) error {
	tx.redemptions[s.CustomerID] = *copyRedemptionState(*s)
	return nil
}

func filterEntries(entries []models.LedgerEntry, since time.Time) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out
}

func currentSubscription(subs map[string]models.Subscription, customerID string) (*models.Subscription, error) {
	var current *models.Subscription
	for _, s := range subs {
		if s.CustomerID != customerID || s.ArchivedAt != nil {
			continue
		}
		if current == nil || s.CreatedAt.After(current.CreatedAt) {
			c := s
			current = &c
		}
	}
	if current == nil {
		return nil, ErrNoSubscription
	}
	return current, nil
}

func selectSubscriptions(subs map[string]models.Subscription, limit int, match func(models.Subscription) bool) []models.Subscription {
	out := make([]models.Subscription, 0)
	for _, s := range subs {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextBillingDate.Before(out[j].NextBillingDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyRedemptionState(s models.RedemptionState) *models.RedemptionState {
	c := s
	if s.LastRedemptionAt != nil {
		t := *s.LastRedemptionAt
		c.LastRedemptionAt = &t
	}
	return &c
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
