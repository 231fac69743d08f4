package http

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/dulus-bm/server/internal/agent/model"
	errx "github.com/dulus-bm/server/internal/core/error"
	logx "github.com/dulus-bm/server/pkg/logger"
	"github.com/dulus-bm/server/pkg/metrics"
)

const maxActivityLimit = 100

// Dispatcher resolves one instruction for one user.
type Dispatcher interface {
	Dispatch(ctx context.Context, in model.CommandInput) (*model.CommandOutput, error)
}

// Summarizer recaps one user's activity for today.
type Summarizer interface {
	Summarize(ctx context.Context, userID string) (*model.DailySummary, error)
}

// Handler serves the command API.
type Handler struct {
	dispatcher Dispatcher
	summarizer Summarizer
	activity   model.ActivityLog
	inventory  model.Inventory
}

func NewHandler(dispatcher Dispatcher, summarizer Summarizer, activity model.ActivityLog, inventory model.Inventory) *Handler {
	return &Handler{dispatcher: dispatcher, summarizer: summarizer, activity: activity, inventory: inventory}
}

type commandRequest struct {
	Instruction string `json:"instruction"`
}

// commandResponse is the body of every /v1/commands reply. Failed lets a
// client style an error reply without knowing the failure taxonomy.
type commandResponse struct {
	Reply     string         `json:"reply"`
	Actions   []model.Action `json:"actions"`
	CostUSD   float64        `json:"costUsd,omitempty"`
	Failed    bool           `json:"failed"`
	Retryable bool           `json:"retryable,omitempty"`
}

type errorResponse struct {
	Reply     string `json:"reply"`
	Failed    bool   `json:"failed"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(c *app.RequestContext, err error) {
	c.JSON(errx.StatusOf(err), errorResponse{
		Reply:     errx.UserMessage(err),
		Failed:    true,
		Retryable: errx.IsRetryable(err),
	})
}

func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		logx.Ctx(ctx).Error().Err(err).Msg("failed to gather metrics")
		c.String(consts.StatusInternalServerError, err.Error())
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// Command handles POST /v1/commands.
func (h *Handler) Command(ctx context.Context, c *app.RequestContext) {
	var req commandRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(c, errx.Validation("decode command body: %v", err))
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		writeError(c, errx.Validation("instruction is required"))
		return
	}

	out, err := h.dispatcher.Dispatch(ctx, model.CommandInput{
		Instruction: req.Instruction,
		UserID:      userIDFrom(c),
	})
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Str("kind", string(errx.KindOf(err))).Msg("command failed")
		resp := commandResponse{
			Reply:     errx.UserMessage(err),
			Actions:   []model.Action{},
			Failed:    true,
			Retryable: errx.IsRetryable(err),
		}
		if out != nil {
			resp.Actions = out.Actions
			resp.CostUSD = out.CostUSD
		}
		c.JSON(errx.StatusOf(err), resp)
		return
	}

	c.JSON(consts.StatusOK, commandResponse{Reply: out.Reply, Actions: out.Actions, CostUSD: out.CostUSD})
}

// Activity handles GET /v1/activity?limit=N.
func (h *Handler) Activity(ctx context.Context, c *app.RequestContext) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxActivityLimit {
			writeError(c, errx.Validation("limit must be between 1 and %d", maxActivityLimit))
			return
		}
		limit = n
	}
	acts, err := h.activity.RecentActivity(ctx, userIDFrom(c), limit)
	if err != nil {
		logx.Ctx(ctx).Error().Err(err).Msg("failed to load activity")
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"activity": acts})
}

// Summary handles GET /v1/summary.
func (h *Handler) Summary(ctx context.Context, c *app.RequestContext) {
	out, err := h.summarizer.Summarize(ctx, userIDFrom(c))
	if err != nil {
		logx.Ctx(ctx).Warn().Err(err).Str("kind", string(errx.KindOf(err))).Msg("daily summary failed")
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, out)
}

type stockRequest struct {
	Name     string   `json:"name"`
	SKU      string   `json:"sku"`
	Quantity float64  `json:"quantity"`
	Price    *float64 `json:"price"`
}

// CreateStockItem handles POST /v1/stock. Inventory items are added here, not
// through the command model, which can only list and update them.
func (h *Handler) CreateStockItem(ctx context.Context, c *app.RequestContext) {
	var req stockRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(c, errx.Validation("decode stock body: %v", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Quantity < 0 || (req.Price != nil && *req.Price < 0) {
		writeError(c, errx.Validation("stock item needs a name and non-negative quantity and price"))
		return
	}
	item, err := h.inventory.CreateStockItem(ctx, userIDFrom(c), model.StockItem{
		Name:     req.Name,
		SKU:      strings.TrimSpace(req.SKU),
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		logx.Ctx(ctx).Error().Err(err).Msg("failed to create stock item")
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusCreated, item)
}
