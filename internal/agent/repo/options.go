package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dulus-bm/server/internal/agent/model"
	errx "github.com/dulus-bm/server/internal/core/error"
)

const (
	defaultCurrency      = "zar"
	defaultActivityLimit = 50
	defaultQuoteValidity = 30 * 24 * time.Hour
)

// Options controls record defaults shared by every store implementation.
type Options struct {
	Currency      string
	ActivityLimit int
	QuoteValidity time.Duration
	Now           func() time.Time
	NewID         func(prefix string) string
}

func OptionsFromConfig(cfg model.StoreConfig) Options {
	return Options{
		Currency:      cfg.Currency,
		ActivityLimit: cfg.ActivityLimit,
		QuoteValidity: cfg.QuoteValidity,
	}
}

func (o Options) withDefaults() Options {
	if o.Currency == "" {
		o.Currency = defaultCurrency
	}
	if o.ActivityLimit <= 0 {
		o.ActivityLimit = defaultActivityLimit
	}
	if o.QuoteValidity <= 0 {
		o.QuoteValidity = defaultQuoteValidity
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func(prefix string) string { return prefix + "-" + uuid.NewString() }
	}
	return o
}

func (o Options) timestamp() string {
	return o.Now().UTC().Format(time.RFC3339)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errx.Configuration("store: user id is required")
	}
	return nil
}

func invoiceNumber(seq int64) string {
	return fmt.Sprintf("INV-%04d", seq)
}

func quoteNumber(seq int64) string {
	return fmt.Sprintf("QT-%04d", seq)
}

func (o Options) newTask(userID, description, dueDate string) model.Task {
	if dueDate == "" {
		dueDate = o.timestamp()
	}
	return model.Task{
		ID:          o.NewID("task"),
		UserID:      userID,
		Description: description,
		DueDate:     dueDate,
		Priority:    model.PriorityMedium,
	}
}

func (o Options) newClient(userID, name, email, phone, address string) model.Client {
	return model.Client{
		ID:      o.NewID("client"),
		UserID:  userID,
		Name:    name,
		Email:   email,
		Phone:   phone,
		Address: address,
	}
}

func (o Options) newInvoice(userID, clientID string, amount float64, dueDate string, seq int64) model.Invoice {
	issued := o.timestamp()
	if dueDate == "" {
		dueDate = issued
	}
	return model.Invoice{
		ID:            o.NewID("inv"),
		UserID:        userID,
		ClientID:      clientID,
		InvoiceNumber: invoiceNumber(seq),
		IssueDate:     issued,
		DueDate:       dueDate,
		Amount:        amount,
		Status:        model.InvoiceUnpaid,
		Currency:      o.Currency,
	}
}

func (o Options) newQuote(userID, clientID string, amount float64, seq int64) model.Quote {
	now := o.Now().UTC()
	return model.Quote{
		ID:          o.NewID("qt"),
		UserID:      userID,
		ClientID:    clientID,
		QuoteNumber: quoteNumber(seq),
		IssueDate:   now.Format(time.RFC3339),
		ExpiryDate:  now.Add(o.QuoteValidity).Format(time.RFC3339),
		Amount:      amount,
		Status:      model.QuoteDraft,
	}
}

func (o Options) newActivity(userID, entity, entityID, description string) model.Activity {
	return model.Activity{
		ID:          o.NewID("act"),
		UserID:      userID,
		Description: description,
		Entity:      entity,
		EntityID:    entityID,
		Timestamp:   o.Now().UTC(),
	}
}

func formatAmount(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(currency))
}
