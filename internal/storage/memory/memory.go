// Package memory implements an in-memory order store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/order-pipeline/internal/domain/order"
)

var _ order.Store = (*Store)(nil)

// Store provides an in-memory implementation of order.Store. Transactions
// are serialized: InTx holds the write lock until fn returns.
type Store struct {
	mu          sync.RWMutex
	orders      map[int64]order.Order
	byReference map[string]int64
	lines       map[int64][]order.Line
	nextOrderID int64
	nextLineID  int64
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		orders:      make(map[int64]order.Order),
		byReference: make(map[string]int64),
		lines:       make(map[int64][]order.Line),
		now:         time.Now,
	}
}

// InTx runs fn with a transaction that is applied only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
		s.byReference[o.Reference] = o.ID
	}
	for _, l := range tx.lines {
		s.lines[l.OrderID] = append(s.lines[l.OrderID], l)
	}
	return nil
}

// FindByID returns the order with the given id.
func (s *Store) FindByID(_ context.Context, id int64) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

// FindByReference returns the order with the given reference.
func (s *Store) FindByReference(_ context.Context, reference string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReference[reference]
	if !ok {
		return nil, order.ErrNotFound
	}
	o := s.orders[id]
	return &o, nil
}

// FindAll returns all orders ordered by id.
func (s *Store) FindAll(_ context.Context) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindLines returns the lines of an order in insertion order.
func (s *Store) FindLines(_ context.Context, orderID int64) ([]order.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]order.Line(nil), s.lines[orderID]...), nil
}

// UpdateStatus changes the status of an existing order.
func (s *Store) UpdateStatus(_ context.Context, id int64, status order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	s.orders[id] = o
	return nil
}

// tx stages writes made while Store.mu is held.
type tx struct {
	store  *Store
	orders []order.Order
	lines  []order.Line
}

func (t *tx) InsertOrder(_ context.Context, o *order.Order) error {
	if _, ok := t.store.byReference[o.Reference]; ok {
		return order.ErrDuplicateReference
	}
	for _, staged := range t.orders {
		if staged.Reference == o.Reference {
			return order.ErrDuplicateReference
		}
	}

	t.store.nextOrderID++
	o.ID = t.store.nextOrderID
	o.CreatedAt = t.store.now().UTC()
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	t.orders = append(t.orders, *o)
	return nil
}

func (t *tx) InsertOrderLine(_ context.Context, l *order.Line) error {
	if !t.orderExists(l.OrderID) {
		return order.ErrUnknownOrder
	}
	t.store.nextLineID++
	l.ID = t.store.nextLineID
	t.lines = append(t.lines, *l)
	return nil
}

func (t *tx) orderExists(id int64) bool {
	if _, ok := t.store.orders[id]; ok {
		return true
	}
	for _, o := range t.orders {
		if o.ID == id {
			return true
		}
	}
	return false
}
