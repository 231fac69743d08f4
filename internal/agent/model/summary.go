package model

// DailyDigest is one user's activity for a single local day, oldest first,
// grouped by the entity it touched.
type DailyDigest struct {
	Date     string
	Tasks    []string
	Clients  []string
	Invoices []string
	Quotes   []string
	Stock    []string
}

func (d DailyDigest) Empty() bool {
	return len(d.Tasks)+len(d.Clients)+len(d.Invoices)+len(d.Quotes)+len(d.Stock) == 0
}

// Counts returns the number of entries per entity.
func (d DailyDigest) Counts() map[string]int {
	return map[string]int{
		"task":    len(d.Tasks),
		"client":  len(d.Clients),
		"invoice": len(d.Invoices),
		"quote":   len(d.Quotes),
		"stock":   len(d.Stock),
	}
}

// DailySummary is the model-written recap of a DailyDigest.
type DailySummary struct {
	Date    string         `json:"date"`
	Summary string         `json:"summary"`
	Counts  map[string]int `json:"counts"`
	CostUSD float64        `json:"costUsd,omitempty"`
}
