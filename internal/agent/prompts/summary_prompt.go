package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/dulus-bm/server/internal/agent/model"
)

var (
	//go:embed template/daily_summary_prompt.txt
	dailySummarySystem string

	//go:embed template/daily_summary_user.txt
	dailySummaryUser string
)

// RenderDailySummary builds the system and user turns asking the model to
// recap one day of activity.
func RenderDailySummary(ctx context.Context, cfg model.PromptConfig, digest model.DailyDigest) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(dailySummarySystem),
		schema.UserMessage(dailySummaryUser),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"AssistantName": cfg.AssistantName,
		"BusinessName":  cfg.BusinessName,
		"Date":          digest.Date,
		"Tasks":         digest.Tasks,
		"Clients":       digest.Clients,
		"Invoices":      digest.Invoices,
		"Quotes":        digest.Quotes,
		"Stock":         digest.Stock,
	})
	if err != nil {
		return nil, fmt.Errorf("daily summary prompt render: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("daily summary prompt render: got %d messages", len(msgs))
	}
	return msgs, nil
}

// Location resolves a configured timezone name; empty means UTC.
func Location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}
