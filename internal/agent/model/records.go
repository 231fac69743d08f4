package model

import "time"

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

type Task struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Description string   `json:"description"`
	DueDate     string   `json:"dueDate"`
	Completed   bool     `json:"completed"`
	Priority    Priority `json:"priority,omitempty"`
}

type Client struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceUnpaid  InvoiceStatus = "unpaid"
	InvoiceOverdue InvoiceStatus = "overdue"
)

type Invoice struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	ClientID      string        `json:"clientId"`
	InvoiceNumber string        `json:"invoiceNumber"`
	IssueDate     string        `json:"issueDate"`
	DueDate       string        `json:"dueDate"`
	Amount        float64       `json:"amount"`
	Status        InvoiceStatus `json:"status"`
	Currency      string        `json:"currency"`
}

type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteSent     QuoteStatus = "sent"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteRejected QuoteStatus = "rejected"
)

type Quote struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	ClientID    string      `json:"clientId"`
	QuoteNumber string      `json:"quoteNumber"`
	IssueDate   string      `json:"issueDate"`
	ExpiryDate  string      `json:"expiryDate"`
	Amount      float64     `json:"amount"`
	Status      QuoteStatus `json:"status"`
}

type StockItem struct {
	ID       string   `json:"id"`
	UserID   string   `json:"userId"`
	Name     string   `json:"name"`
	SKU      string   `json:"sku,omitempty"`
	Quantity float64  `json:"quantity"`
	Price    *float64 `json:"price,omitempty"`
}

// Activity is one entry of a user's recent-activity feed, written by the store
// whenever a mutation succeeds.
type Activity struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Description string    `json:"description"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entityId"`
	Timestamp   time.Time `json:"timestamp"`
}
