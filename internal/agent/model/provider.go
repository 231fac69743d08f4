package model

import "context"

// Provider is the domain operations contract the tool catalog delegates to.
// Every method is scoped by userID; implementations must reject an empty one.
type Provider interface {
	CreateTask(ctx context.Context, userID, description, dueDate string) (*Task, error)
	ListTasks(ctx context.Context, userID string) ([]Task, error)

	CreateClient(ctx context.Context, userID, name, email, phone, address string) (*Client, error)
	ListClients(ctx context.Context, userID string) ([]Client, error)

	// CreateInvoice uses the store's default due date when dueDate is empty.
	CreateInvoice(ctx context.Context, userID, clientID string, amount float64, dueDate string) (*Invoice, error)
	CreateQuote(ctx context.Context, userID, clientID string, amount float64) (*Quote, error)

	ListStock(ctx context.Context, userID string) ([]StockItem, error)
	UpdateStock(ctx context.Context, userID, stockItemID string, quantity float64) (*StockItem, error)
}

// ActivityLog exposes the recent-activity feed recorded by a Provider.
type ActivityLog interface {
	RecentActivity(ctx context.Context, userID string, limit int) ([]Activity, error)
}

// Inventory seeds stock items. It backs the HTTP API, not the model's tools.
type Inventory interface {
	CreateStockItem(ctx context.Context, userID string, item StockItem) (*StockItem, error)
}

// Store is everything the server needs from one backend.
type Store interface {
	Provider
	ActivityLog
	Inventory
}
