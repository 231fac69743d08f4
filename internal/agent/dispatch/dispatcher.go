package dispatch

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
	"github.com/google/uuid"

	"github.com/dulus-bm/server/internal/agent/model"
	"github.com/dulus-bm/server/internal/agent/prompts"
	"github.com/dulus-bm/server/internal/agent/tools"
	errx "github.com/dulus-bm/server/internal/core/error"
	logx "github.com/dulus-bm/server/pkg/logger"
	"github.com/dulus-bm/server/pkg/metrics"
)

const (
	defaultMaxIterations = 5
	defaultTurnTimeout   = 30 * time.Second
	defaultRetryBackoff  = 500 * time.Millisecond
	maxRetryInterval     = 5 * time.Second
)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the clock used to tell the model today's date.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithPolicy replaces the default reasoning policy.
func WithPolicy(p prompts.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithCallbacks attaches eino callback handlers to every dispatch.
func WithCallbacks(handlers ...einocb.Handler) Option {
	return func(d *Dispatcher) { d.handlers = append(d.handlers, handlers...) }
}

// Dispatcher resolves natural-language instructions into user-scoped domain
// operations. It holds only immutable configuration; every Dispatch call
// builds its own conversation state.
type Dispatcher struct {
	cfg       model.DispatcherConfig
	promptCfg model.PromptConfig
	policy    prompts.Policy
	catalog   *tools.Catalog
	chatModel einomodel.ToolCallingChatModel
	modelName string
	now       func() time.Time
	handlers  []einocb.Handler
}

func New(cfg model.DispatcherConfig, promptCfg model.PromptConfig, catalog *tools.Catalog,
	chatModel einomodel.ToolCallingChatModel, modelName string, opts ...Option) (*Dispatcher, error) {
	if catalog == nil {
		return nil, errx.Configuration("dispatcher: tool catalog is nil")
	}
	if chatModel == nil {
		return nil, errx.Configuration("dispatcher: chat model is nil")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
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

	d := &Dispatcher{
		cfg:       cfg,
		promptCfg: promptCfg,
		policy:    prompts.DefaultPolicy(),
		catalog:   catalog,
		modelName: modelName,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.policy.Validate(); err != nil {
		return nil, errx.New(errx.KindConfiguration, err, "")
	}

	// WithTools returns a new instance, so the shared model is never mutated.
	bound, err := chatModel.WithTools(catalog.Infos())
	if err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools")
		return nil, fmt.Errorf("failed to bind tools: %w", err)
	}
	d.chatModel = bound
	return d, nil
}

// Dispatch resolves one instruction. On failure the returned output is still
// non-nil: it carries the user-safe reply and every action attempted so far.
func (d *Dispatcher) Dispatch(ctx context.Context, in model.CommandInput) (*model.CommandOutput, error) {
	start := time.Now()
	out, err := d.dispatch(ctx, in)
	outcome := "ok"
	if err != nil {
		outcome = string(errx.KindOf(err))
		out.Reply = errx.UserMessage(err)
	}
	metrics.CommandTotal.WithLabelValues(outcome).Inc()
	metrics.CommandDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return out, err
}

func (d *Dispatcher) dispatch(ctx context.Context, in model.CommandInput) (*model.CommandOutput, error) {
	out := &model.CommandOutput{Actions: []model.Action{}}

	ts, err := d.catalog.Bind(in.UserID)
	if err != nil {
		logx.Ctx(ctx).Error().Err(err).Msg("dispatch called without a user id")
		return out, err
	}

	instruction := strings.TrimSpace(in.Instruction)
	if instruction == "" {
		return out, errx.Validation("instruction is empty")
	}
	if d.cfg.MaxInstructionLen > 0 && len(instruction) > d.cfg.MaxInstructionLen {
		return out, errx.Validation("instruction exceeds %d characters", d.cfg.MaxInstructionLen)
	}

	l := logx.Ctx(ctx).With().
		Str("conversation_id", uuid.NewString()).
		Str("user_id", ts.UserID()).
		Logger()
	ctx = l.WithContext(ctx)
	if len(d.handlers) > 0 {
		ctx = einocb.InitCallbacks(ctx, &einocb.RunInfo{Name: "CommandDispatcher", Type: "Dispatcher"}, d.handlers...)
	}

	system, err := prompts.RenderCommandSystem(
		einocb.ReuseHandlers(ctx, &einocb.RunInfo{Name: "CommandPrompt", Type: "GoTemplate", Component: components.ComponentOfPrompt}),
		d.promptCfg, d.policy, d.catalog.Names(), d.now())
	if err != nil {
		return out, errx.New(errx.KindConfiguration, err, "")
	}

	r := &run{
		d:        d,
		toolset:  ts,
		out:      out,
		msgs:     []*schema.Message{schema.SystemMessage(system), schema.UserMessage(instruction)},
		resolved: map[tools.Kind]map[string]struct{}{},
	}
	return r.loop(ctx)
}

// run is the conversation state of a single instruction.
type run struct {
	d       *Dispatcher
	toolset *tools.Toolset
	out     *model.CommandOutput

	msgs     []*schema.Message
	resolved map[tools.Kind]map[string]struct{}
	state    state
	rounds   int
	calls    int
	executed int
}

func (r *run) transition(ctx context.Context, next state) {
	logx.Ctx(ctx).Debug().
		Str("from", r.state.String()).
		Str("state", next.String()).
		Int("iteration", r.rounds).
		Msg("dispatch state")
	r.state = next
}

func (r *run) loop(ctx context.Context) (*model.CommandOutput, error) {
	for {
		r.transition(ctx, stateAwaitingModel)
		msg, err := r.queryModel(ctx)
		if err != nil {
			logx.Ctx(ctx).Error().Err(err).Int("iteration", r.rounds).Msg("model query failed")
			return r.out, err
		}

		if len(msg.ToolCalls) == 0 {
			r.transition(ctx, stateFinalized)
			r.out.Reply = r.finalReply(msg.Content)
			logx.Ctx(ctx).Info().
				Int("iterations", r.rounds).
				Int("tools_executed", r.executed).
				Float64("cost_usd", r.out.CostUSD).
				Msg("instruction resolved")
			return r.out, nil
		}

		if r.rounds >= r.d.cfg.MaxIterations {
			err := errx.New(errx.KindLoopBound,
				fmt.Errorf("model still requested %d tool call(s) after %d rounds", len(msg.ToolCalls), r.rounds), "")
			logx.Ctx(ctx).Error().Err(err).
				Int("max_iterations", r.d.cfg.MaxIterations).
				Msg("loop bound exceeded; reasoning policy did not converge")
			return r.out, err
		}
		r.rounds++

		r.assignCallIDs(msg)
		r.msgs = append(r.msgs, msg)

		for i, call := range msg.ToolCalls {
			// Started calls complete; later ones are not started once the caller is gone.
			if cerr := ctx.Err(); cerr != nil {
				r.skip(ctx, msg.ToolCalls[i:])
				return r.out, fmt.Errorf("instruction abandoned by caller: %w", cerr)
			}
			if err := r.handleCall(ctx, call); err != nil {
				return r.out, err
			}
		}
	}
}

// assignCallIDs fills in ids the provider left empty so every tool-result turn
// can be paired with its request.
func (r *run) assignCallIDs(msg *schema.Message) {
	for i := range msg.ToolCalls {
		r.calls++
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = fmt.Sprintf("call_%d", r.calls)
		}
		if msg.ToolCalls[i].Type == "" {
			msg.ToolCalls[i].Type = "function"
		}
	}
}

func (r *run) queryModel(ctx context.Context) (*schema.Message, error) {
	mctx := einocb.ReuseHandlers(ctx, &einocb.RunInfo{Name: r.d.modelName, Type: "Gemini", Component: components.ComponentOfChatModel})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.d.cfg.RetryBackoff
	bo.MaxInterval = maxRetryInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.d.cfg.ModelRetries)), ctx)

	attempt := 0
	msg, err := backoff.RetryWithData(func() (*schema.Message, error) {
		attempt++
		if cerr := ctx.Err(); cerr != nil {
			return nil, backoff.Permanent(fmt.Errorf("instruction abandoned by caller: %w", cerr))
		}
		m, err := r.generate(mctx)
		if err == nil {
			return m, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if errx.IsRetryable(err) {
			metrics.ModelCallTotal.WithLabelValues("retry").Inc()
			logx.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("model query failed; retrying")
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

// generate performs one model call under the per-turn timeout.
func (r *run) generate(ctx context.Context) (*schema.Message, error) {
	tctx, cancel := context.WithTimeout(ctx, r.d.cfg.TurnTimeout)
	defer cancel()

	msg, err := r.d.chatModel.Generate(tctx, r.msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("instruction abandoned by caller: %w", ctx.Err())
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errx.New(errx.KindTimeout, err, "")
		}
		return nil, errx.New(errx.KindUpstream, err, "")
	}
	if msg == nil {
		return nil, errx.New(errx.KindUpstream, errors.New("model returned no message"), "")
	}
	r.account(ctx, msg)
	return msg, nil
}

func (r *run) account(ctx context.Context, msg *schema.Message) {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return
	}
	usage := msg.ResponseMeta.Usage
	cost := model.ComputeCost(r.d.modelName, usage)
	r.out.CostUSD += cost.Total
	metrics.LLMTokensTotal.WithLabelValues("input").Add(float64(usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues("output").Add(float64(usage.CompletionTokens))
	metrics.LLMCostUSD.Add(cost.Total)
	logx.Ctx(ctx).Debug().
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("cost_usd", cost.Total).
		Msg("model usage")
}

// finalReply returns the model's text, or a safe summary when it said nothing.
func (r *run) finalReply(content string) string {
	content = strings.TrimSpace(content)
	if content != "" {
		return content
	}
	var done []string
	for _, a := range r.out.Actions {
		if a.Status != model.ActionSucceeded {
			continue
		}
		if a.EntityID != "" {
			done = append(done, fmt.Sprintf("%s (%s)", a.Tool, a.EntityID))
			continue
		}
		done = append(done, a.Tool)
	}
	if len(done) == 0 {
		return fallbackReply
	}
	return "Done: " + strings.Join(done, ", ") + "."
}

const fallbackReply = "I'm not sure how to help with that yet. Could you tell me a bit more about what you'd like to do?"
