package summary

import (
	"time"

	"github.com/dulus-bm/server/internal/agent/model"
)

// Digest keeps the activity that happened on today's local date and groups
// it by entity, oldest first. acts is newest first, as the stores return it.
func Digest(acts []model.Activity, today time.Time) model.DailyDigest {
	day := today.Format(time.DateOnly)
	d := model.DailyDigest{Date: day}
	for i := len(acts) - 1; i >= 0; i-- {
		a := acts[i]
		if a.Timestamp.In(today.Location()).Format(time.DateOnly) != day {
			continue
		}
		switch a.Entity {
		case "task":
			d.Tasks = append(d.Tasks, a.Description)
		case "client":
			d.Clients = append(d.Clients, a.Description)
		case "invoice":
			d.Invoices = append(d.Invoices, a.Description)
		case "quote":
			d.Quotes = append(d.Quotes, a.Description)
		case "stock":
			d.Stock = append(d.Stock, a.Description)
		}
	}
	return d
}
