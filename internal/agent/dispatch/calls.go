package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dulus-bm/server/internal/agent/model"
	"github.com/dulus-bm/server/internal/agent/tools"
	errx "github.com/dulus-bm/server/internal/core/error"
	logx "github.com/dulus-bm/server/pkg/logger"
	"github.com/dulus-bm/server/pkg/metrics"
)

// rejection is the tool-result payload sent back to the model when a call is
// refused before reaching the domain provider.
type rejection struct {
	Error    string          `json:"error"`
	Message  string          `json:"message"`
	Problems []tools.Problem `json:"problems,omitempty"`
}

const (
	rejectValidation = "invalid_arguments"
	rejectReference  = "unresolved_reference"
	rejectUnknown    = "unknown_tool"
)

// handleCall validates one requested call and executes it. Only a domain
// failure is returned as an error; rejections are fed back to the model.
func (r *run) handleCall(ctx context.Context, call schema.ToolCall) error {
	name := call.Function.Name
	l := logx.Ctx(ctx).With().Str("tool", name).Str("call_id", call.ID).Logger()
	ctx = l.WithContext(ctx)

	r.transition(ctx, stateToolRequested)
	desc, ok := r.d.catalog.Lookup(name)
	if !ok {
		r.reject(ctx, call, rejectUnknown,
			fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(r.d.catalog.Names(), ", ")), nil)
		return nil
	}

	args, err := r.d.catalog.Validate(name, call.Function.Arguments)
	if err != nil {
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			r.reject(ctx, call, rejectValidation, verr.Error(), verr.Problems)
			return nil
		}
		return errx.New(errx.KindInternal, err, "")
	}

	if msg, ok := r.checkReferences(desc, args); !ok {
		r.reject(ctx, call, rejectReference, msg, nil)
		return nil
	}

	r.transition(ctx, stateToolExecuting)
	return r.execute(ctx, call, desc, args)
}

// checkReferences enforces that every id argument was produced by an earlier
// tool result of the matching entity kind in this conversation.
func (r *run) checkReferences(desc tools.Descriptor, args string) (string, bool) {
	if len(desc.References) == 0 {
		return "", true
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(args), &values); err != nil {
		return "arguments could not be read", false
	}
	for field, kind := range desc.References {
		id, _ := values[field].(string)
		if id == "" {
			continue
		}
		if _, seen := r.resolved[kind][id]; seen {
			continue
		}
		hint := ""
		if resolver, ok := r.d.catalog.Resolver(kind); ok {
			hint = fmt.Sprintf("; call %s first and use an id from its result", resolver)
		}
		return fmt.Sprintf("%s %q does not identify a known %s%s. Never guess ids", field, id, kind, hint), false
	}
	return "", true
}

func (r *run) reject(ctx context.Context, call schema.ToolCall, code, message string, problems []tools.Problem) {
	logx.Ctx(ctx).Warn().Str("reason", code).Str("detail", message).Msg("tool call rejected")
	metrics.ToolCallTotal.WithLabelValues(r.toolLabel(call.Function.Name), string(model.ActionRejected)).Inc()

	payload, err := json.Marshal(rejection{Error: code, Message: message, Problems: problems})
	if err != nil {
		payload = []byte(`{"error":"` + code + `"}`)
	}
	r.msgs = append(r.msgs, schema.ToolMessage(string(payload), call.ID, schema.WithToolName(call.Function.Name)))
	r.out.Actions = append(r.out.Actions, model.Action{
		Tool:   call.Function.Name,
		CallID: call.ID,
		Status: model.ActionRejected,
		Detail: message,
	})
}

// skip records calls that were never started because the caller went away.
func (r *run) skip(ctx context.Context, calls []schema.ToolCall) {
	logx.Ctx(ctx).Warn().Int("skipped", len(calls)).Msg("caller abandoned instruction; remaining tool calls not started")
	for _, call := range calls {
		metrics.ToolCallTotal.WithLabelValues(r.toolLabel(call.Function.Name), string(model.ActionSkipped)).Inc()
		r.out.Actions = append(r.out.Actions, model.Action{
			Tool:   call.Function.Name,
			CallID: call.ID,
			Status: model.ActionSkipped,
			Detail: "not started: request was cancelled",
		})
	}
}

// toolLabel keeps metric label values within the catalog.
func (r *run) toolLabel(name string) string {
	if _, ok := r.d.catalog.Lookup(name); ok {
		return name
	}
	return unknownToolLabel
}

const unknownToolLabel = "unknown"

// execute runs a validated call exactly once. The call is detached from the
// caller's cancellation: a started mutation always completes.
func (r *run) execute(ctx context.Context, call schema.ToolCall, desc tools.Descriptor, args string) error {
	tctx := context.WithoutCancel(ctx)
	tctx = einocb.ReuseHandlers(tctx, &einocb.RunInfo{Name: desc.Name, Type: "DomainTool", Component: components.ComponentOfTool})
	tctx = einocb.OnStart(tctx, &tool.CallbackInput{ArgumentsInJSON: args})

	start := time.Now()
	result, err := r.toolset.Run(tctx, desc.Name, args)
	metrics.ToolDuration.WithLabelValues(desc.Name).Observe(time.Since(start).Seconds())
	r.executed++

	if err != nil {
		einocb.OnError(tctx, err)
		metrics.ToolCallTotal.WithLabelValues(desc.Name, string(model.ActionFailed)).Inc()
		r.out.Actions = append(r.out.Actions, model.Action{
			Tool:   desc.Name,
			CallID: call.ID,
			Status: model.ActionFailed,
			Detail: err.Error(),
		})
		logx.Ctx(ctx).Error().Err(err).Msg("domain operation failed")
		if errx.KindOf(err) == errx.KindConfiguration {
			return err
		}
		return errx.New(errx.KindDomainOperation, err, "")
	}
	einocb.OnEnd(tctx, &tool.CallbackOutput{Response: result})
	metrics.ToolCallTotal.WithLabelValues(desc.Name, string(model.ActionSucceeded)).Inc()

	ids := tools.ResultIDs(result)
	if desc.Resolves != tools.KindNone && len(ids) > 0 {
		known, ok := r.resolved[desc.Resolves]
		if !ok {
			known = map[string]struct{}{}
			r.resolved[desc.Resolves] = known
		}
		for _, id := range ids {
			known[id] = struct{}{}
		}
	}

	action := model.Action{Tool: desc.Name, CallID: call.ID, Status: model.ActionSucceeded}
	if desc.Mutates && len(ids) > 0 {
		action.EntityID = ids[0]
	}
	r.out.Actions = append(r.out.Actions, action)
	r.msgs = append(r.msgs, schema.ToolMessage(result, call.ID, schema.WithToolName(desc.Name)))
	logx.Ctx(ctx).Debug().Int("result_ids", len(ids)).Msg("domain operation succeeded")
	return nil
}
