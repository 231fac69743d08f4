package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/dulus-bm/server/internal/agent/model"
	errx "github.com/dulus-bm/server/internal/core/error"
)

type memoryUser struct {
	tasks      []model.Task
	clients    []model.Client
	invoices   []model.Invoice
	quotes     []model.Quote
	stock      []model.StockItem
	activity   []model.Activity // newest first
	invoiceSeq int64
	quoteSeq   int64
}

// MemoryStore is an in-process Provider for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	opts  Options
	users map[string]*memoryUser
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts.withDefaults(), users: map[string]*memoryUser{}}
}

// user returns the bucket for userID; callers hold the write lock.
func (s *MemoryStore) user(userID string) *memoryUser {
	u, ok := s.users[userID]
	if !ok {
		u = &memoryUser{}
		s.users[userID] = u
	}
	return u
}

func (s *MemoryStore) record(u *memoryUser, a model.Activity) {
	u.activity = append([]model.Activity{a}, u.activity...)
	if len(u.activity) > s.opts.ActivityLimit {
		u.activity = u.activity[:s.opts.ActivityLimit]
	}
}

func (s *MemoryStore) CreateTask(ctx context.Context, userID, description, dueDate string) (*model.Task, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	t := s.opts.newTask(userID, description, dueDate)
	u.tasks = append(u.tasks, t)
	s.record(u, s.opts.newActivity(userID, "task", t.ID, fmt.Sprintf("Task added: %s", t.Description)))
	return &t, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Task{}
	if u, ok := s.users[userID]; ok {
		out = append(out, u.tasks...)
	}
	return out, nil
}

func (s *MemoryStore) CreateClient(ctx context.Context, userID, name, email, phone, address string) (*model.Client, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	c := s.opts.newClient(userID, name, email, phone, address)
	u.clients = append(u.clients, c)
	s.record(u, s.opts.newActivity(userID, "client", c.ID, fmt.Sprintf("New client: %s", c.Name)))
	return &c, nil
}

func (s *MemoryStore) ListClients(ctx context.Context, userID string) ([]model.Client, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Client{}
	if u, ok := s.users[userID]; ok {
		out = append(out, u.clients...)
	}
	return out, nil
}

func (u *memoryUser) hasClient(id string) bool {
	for _, c := range u.clients {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, userID, clientID string, amount float64, dueDate string) (*model.Invoice, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	if !u.hasClient(clientID) {
		return nil, errx.NotFound("client %q not found", clientID)
	}
	u.invoiceSeq++
	inv := s.opts.newInvoice(userID, clientID, amount, dueDate, u.invoiceSeq)
	u.invoices = append(u.invoices, inv)
	s.record(u, s.opts.newActivity(userID, "invoice", inv.ID,
		fmt.Sprintf("Invoice %s created for %s", inv.InvoiceNumber, formatAmount(inv.Amount, inv.Currency))))
	return &inv, nil
}

func (s *MemoryStore) CreateQuote(ctx context.Context, userID, clientID string, amount float64) (*model.Quote, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	if !u.hasClient(clientID) {
		return nil, errx.NotFound("client %q not found", clientID)
	}
	u.quoteSeq++
	q := s.opts.newQuote(userID, clientID, amount, u.quoteSeq)
	u.quotes = append(u.quotes, q)
	s.record(u, s.opts.newActivity(userID, "quote", q.ID,
		fmt.Sprintf("Quote %s created for %s", q.QuoteNumber, formatAmount(q.Amount, s.opts.Currency))))
	return &q, nil
}

func (s *MemoryStore) ListStock(ctx context.Context, userID string) ([]model.StockItem, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.StockItem{}
	if u, ok := s.users[userID]; ok {
		out = append(out, u.stock...)
	}
	return out, nil
}

func (s *MemoryStore) UpdateStock(ctx context.Context, userID, stockItemID string, quantity float64) (*model.StockItem, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	for i := range u.stock {
		if u.stock[i].ID != stockItemID {
			continue
		}
		u.stock[i].Quantity = quantity
		item := u.stock[i]
		s.record(u, s.opts.newActivity(userID, "stock", item.ID,
			fmt.Sprintf("Stock updated: %s now %g", item.Name, item.Quantity)))
		return &item, nil
	}
	return nil, errx.NotFound("stock item %q not found", stockItemID)
}

// CreateStockItem adds an inventory item. It is not exposed as a model tool.
func (s *MemoryStore) CreateStockItem(ctx context.Context, userID string, item model.StockItem) (*model.StockItem, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	item.ID = s.opts.NewID("item")
	item.UserID = userID
	u.stock = append(u.stock, item)
	s.record(u, s.opts.newActivity(userID, "stock", item.ID, fmt.Sprintf("Stock item added: %s", item.Name)))
	return &item, nil
}

func (s *MemoryStore) RecentActivity(ctx context.Context, userID string, limit int) ([]model.Activity, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Activity{}
	u, ok := s.users[userID]
	if !ok {
		return out, nil
	}
	if limit <= 0 || limit > len(u.activity) {
		limit = len(u.activity)
	}
	return append(out, u.activity[:limit]...), nil
}

var _ model.Store = (*MemoryStore)(nil)
