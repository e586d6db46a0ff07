package repo

import (
	"sort"
	"sync"

	"storefront-backend/internal/domain"
)

type MemoryOrderRepo struct {
	mu    sync.RWMutex
	m     map[string]*domain.Order
	byRef map[string]string
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{m: make(map[string]*domain.Order), byRef: make(map[string]string)}
}

func (r *MemoryOrderRepo) PutOrder(o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.m[o.OrderID] = &cp
	if o.PaymentRef != "" {
		r.byRef[o.PaymentRef] = o.OrderID
	}
	return nil
}

func (r *MemoryOrderRepo) GetOrder(id string) (*domain.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.m[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

func (r *MemoryOrderRepo) GetOrderByPaymentRef(ref string) (*domain.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRef[ref]
	if !ok {
		return nil, false
	}
	o, ok := r.m[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

func (r *MemoryOrderRepo) ListOrders(page, pageSize int) ([]domain.Order, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]domain.Order, 0, len(r.m))
	for _, o := range r.m {
		all = append(all, *o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if page < 1 {
		page = 1
	}
	if pageSize < 0 {
		pageSize = 0
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total
}

// MemoryEventRepo records processed webhook event ids for dedup.
type MemoryEventRepo struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{seen: make(map[string]struct{})}
}

// MarkEventProcessed returns true the first time an event id is seen.
func (r *MemoryEventRepo) MarkEventProcessed(eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[eventID]; ok {
		return false, nil
	}
	r.seen[eventID] = struct{}{}
	return true, nil
}
