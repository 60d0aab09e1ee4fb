package order

import (
	"context"
	"sync"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	orders  []Order
	patches map[string][]Patch
}

func newMemStore() *memStore {
	return &memStore{patches: make(map[string][]Patch)}
}

func (s *memStore) GetAllOrders(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, len(s.orders))
	for i := range s.orders {
		out[len(s.orders)-1-i] = s.orders[i]
	}
	return out, nil
}

func (s *memStore) AddOrder(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	return nil
}

func (s *memStore) UpdateOrder(ctx context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches[id] = append(s.patches[id], p)
	return nil
}

func (s *memStore) lastPatch(id string) (Patch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.patches[id]
	if len(ps) == 0 {
		return Patch{}, false
	}
	return ps[len(ps)-1], true
}

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	return true
}

func (r *recordingRemover) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func fptr(v float64) *float64 { return &v }

func testOrder(id string, status Status) Order {
	return Order{
		ID:            id,
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		Type:          TypeMarket,
		Quantity:      0.01,
		Price:         100,
		Status:        status,
		Purpose:       PurposeEntry,
		ExecutionMode: ModeTrigger,
		TriggerPrice:  fptr(101),
		StopLoss:      fptr(99),
		TakeProfit:    fptr(102),
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
