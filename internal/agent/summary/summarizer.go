package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dulus-bm/server/internal/agent/model"
	"github.com/dulus-bm/server/internal/agent/prompts"
	errx "github.com/dulus-bm/server/internal/core/error"
	logx "github.com/dulus-bm/server/pkg/logger"
	"github.com/dulus-bm/server/pkg/metrics"
)

const (
	defaultTurnTimeout    = 30 * time.Second
	defaultRetryBackoff   = 500 * time.Millisecond
	defaultActivityWindow = 100
	maxRetryInterval      = 5 * time.Second
)

// QuietDay is the summary of a day with no recorded activity. No model call is made for it.
const QuietDay = "Nothing was recorded today yet. Add a task, client or invoice and it will show up here."

type Option func(*Summarizer)

func WithClock(now func() time.Time) Option {
	return func(s *Summarizer) { s.now = now }
}

func WithCallbacks(handlers ...einocb.Handler) Option {
	return func(s *Summarizer) { s.handlers = append(s.handlers, handlers...) }
}

// Summarizer writes a daily recap of a user's activity feed.
type Summarizer struct {
	cfg       model.SummaryConfig
	promptCfg model.PromptConfig
	loc       *time.Location
	activity  model.ActivityLog
	chatModel einomodel.BaseChatModel
	modelName string
	now       func() time.Time
	handlers  []einocb.Handler
}

func New(cfg model.SummaryConfig, promptCfg model.PromptConfig, activity model.ActivityLog,
	chatModel einomodel.BaseChatModel, modelName string, opts ...Option) (*Summarizer, error) {
	if activity == nil {
		return nil, errx.Configuration("summarizer: activity log is nil")
	}
	if chatModel == nil {
		return nil, errx.Configuration("summarizer: chat model is nil")
	}
	loc, err := prompts.Location(promptCfg.Timezone)
	if err != nil {
		return nil, errx.New(errx.KindConfiguration, err, "")
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.ModelRetries < 0 {
		cfg.ModelRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = defaultActivityWindow
	}

	s := &Summarizer{
		cfg:       cfg,
		promptCfg: promptCfg,
		loc:       loc,
		activity:  activity,
		chatModel: chatModel,
		modelName: modelName,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Summarize recaps today's activity (in the configured timezone) for userID.
func (s *Summarizer) Summarize(ctx context.Context, userID string) (*model.DailySummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errx.Configuration("summarizer: user id is required")
	}
	l := logx.Ctx(ctx).With().Str("user_id", userID).Logger()
	ctx = l.WithContext(ctx)

	acts, err := s.activity.RecentActivity(ctx, userID, s.cfg.ActivityWindow)
	if err != nil {
		return nil, err
	}
	digest := Digest(acts, s.now().In(s.loc))
	out := &model.DailySummary{Date: digest.Date, Counts: digest.Counts()}
	if digest.Empty() {
		out.Summary = QuietDay
		return out, nil
	}

	if len(s.handlers) > 0 {
		ctx = einocb.InitCallbacks(ctx, &einocb.RunInfo{Name: "DailySummary", Type: "Summarizer"}, s.handlers...)
	}
	msgs, err := prompts.RenderDailySummary(
		einocb.ReuseHandlers(ctx, &einocb.RunInfo{Name: "DailySummaryPrompt", Type: "GoTemplate", Component: components.ComponentOfPrompt}),
		s.promptCfg, digest)
	if err != nil {
		return nil, errx.New(errx.KindConfiguration, err, "")
	}

	msg, err := s.query(ctx, msgs)
	if err != nil {
		logx.Ctx(ctx).Error().Err(err).Msg("daily summary failed")
		return nil, err
	}
	out.CostUSD = s.account(ctx, msg)
	out.Summary = strings.TrimSpace(msg.Content)
	if out.Summary == "" {
		return nil, errx.New(errx.KindUpstream, errors.New("model returned an empty summary"), "")
	}
	logx.Ctx(ctx).Info().Str("date", out.Date).Float64("cost_usd", out.CostUSD).Msg("daily summary written")
	return out, nil
}

func (s *Summarizer) query(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	mctx := einocb.ReuseHandlers(ctx, &einocb.RunInfo{Name: s.modelName, Type: "Gemini", Component: components.ComponentOfChatModel})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryBackoff
	bo.MaxInterval = maxRetryInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.ModelRetries)), ctx)

	msg, err := backoff.RetryWithData(func() (*schema.Message, error) {
		if cerr := ctx.Err(); cerr != nil {
			return nil, backoff.Permanent(fmt.Errorf("summary abandoned by caller: %w", cerr))
		}
		m, err := s.generate(mctx, msgs)
		if err == nil {
			return m, nil
		}
		if ctx.Err() == nil && errx.IsRetryable(err) {
			metrics.ModelCallTotal.WithLabelValues("retry").Inc()
			logx.Ctx(ctx).Warn().Err(err).Msg("summary model call failed; retrying")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, policy)
	if err != nil {
		metrics.ModelCallTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ModelCallTotal.WithLabelValues("ok").Inc()
	return msg, nil
}

func (s *Summarizer) generate(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	msg, err := s.chatModel.Generate(tctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("summary abandoned by caller: %w", ctx.Err())
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errx.New(errx.KindTimeout, err, "")
		}
		return nil, errx.New(errx.KindUpstream, err, "")
	}
	if msg == nil {
		return nil, errx.New(errx.KindUpstream, errors.New("model returned no message"), "")
	}
	return msg, nil
}

func (s *Summarizer) account(ctx context.Context, msg *schema.Message) float64 {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0
	}
	usage := msg.ResponseMeta.Usage
	cost := model.ComputeCost(s.modelName, usage)
	metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(usage.CompletionTokens))
	metrics.LLMCostUSD.Add(cost.Total)
	logx.Ctx(ctx).Debug().
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Msg("summary model usage")
	return cost.Total
}
