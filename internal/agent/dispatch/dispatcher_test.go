package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dulus-bm/server/internal/agent/model"
	"github.com/dulus-bm/server/internal/agent/observers"
	"github.com/dulus-bm/server/internal/agent/prompts"
	"github.com/dulus-bm/server/internal/agent/tools"
	errx "github.com/dulus-bm/server/internal/core/error"
	"github.com/dulus-bm/server/pkg/metrics"
)

const userID = "user-42"

func dispatch(t *testing.T, d *Dispatcher, instruction string) (*model.CommandOutput, error) {
	t.Helper()
	return d.Dispatch(context.Background(), model.CommandInput{Instruction: instruction, UserID: userID})
}

func TestDispatch_CreateTaskDueTomorrow(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		func(msgs []*schema.Message) (*schema.Message, error) {
			require.Equal(t, schema.System, msgs[0].Role)
			require.Contains(t, msgs[0].Content, "2025-03-10")
			require.Equal(t, "add a task: follow up with marketing, due tomorrow", msgs[1].Content)
			return schema.AssistantMessage("", []schema.ToolCall{
				call("c1", tools.ToolCreateTask, `{"description":"follow up with marketing","dueDate":"2025-03-11"}`),
			}), nil
		},
		reply("Done! I've added 'follow up with marketing' to your tasks, due tomorrow."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "add a task: follow up with marketing, due tomorrow")
	require.NoError(t, err)
	assert.Contains(t, out.Reply, "follow up with marketing")
	assert.Equal(t, []string{tools.ToolCreateTask}, p.ops())

	tasks, err := p.ListTasks(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "follow up with marketing", tasks[0].Description)
	assert.Equal(t, "2025-03-11", tasks[0].DueDate)

	require.Len(t, out.Actions, 1)
	assert.Equal(t, model.ActionSucceeded, out.Actions[0].Status)
	assert.Equal(t, tasks[0].ID, out.Actions[0].EntityID)
	assert.Len(t, m.tools, 8)
}

func TestDispatch_InvoiceClientByName(t *testing.T) {
	p := newRecordingProvider()
	jane, err := p.MemoryStore.CreateClient(context.Background(), userID, "Jane Doe", "jane@example.com", "555", "1 Main St")
	require.NoError(t, err)

	m := newScriptedModel(
		callTools(call("c1", tools.ToolListClients, `{}`)),
		func(msgs []*schema.Message) (*schema.Message, error) {
			ids := idsFrom(t, lastToolResult(t, msgs).Content)
			require.Equal(t, []string{jane.ID}, ids)
			return schema.AssistantMessage("", []schema.ToolCall{
				call("c2", tools.ToolCreateInvoice, `{"clientId":"`+ids[0]+`","amount":500}`),
			}), nil
		},
		reply("Invoice INV-0001 for Jane Doe has been created for R500.00."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "invoice Jane Doe for 500")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.ToolListClients, tools.ToolCreateInvoice}, p.ops())
	assert.Contains(t, out.Reply, "Jane Doe")
	assert.Contains(t, out.Reply, "500")

	acts, err := p.RecentActivity(context.Background(), userID, 1)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "invoice", acts[0].Entity)
	assert.Equal(t, acts[0].EntityID, out.Actions[1].EntityID)
}

func TestDispatch_UnknownClientAsksInsteadOfInvoicing(t *testing.T) {
	p := newRecordingProvider()
	_, err := p.MemoryStore.CreateClient(context.Background(), userID, "Jane Doe", "jane@example.com", "555", "1 Main St")
	require.NoError(t, err)

	m := newScriptedModel(
		callTools(call("c1", tools.ToolListClients, `{}`)),
		reply("I couldn't find a client named Bob. Would you like me to create a new client first?"),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "invoice Bob for 200")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.ToolListClients}, p.ops())
	assert.Contains(t, out.Reply, "create a new client")
}

func TestDispatch_ShowStockIsReadOnly(t *testing.T) {
	p := newRecordingProvider()
	price := 1200.0
	_, err := p.CreateStockItem(context.Background(), userID, model.StockItem{Name: "Laptop", Quantity: 15, Price: &price})
	require.NoError(t, err)

	m := newScriptedModel(
		callTools(call("c1", tools.ToolListStock, "")),
		func(msgs []*schema.Message) (*schema.Message, error) {
			require.Contains(t, lastToolResult(t, msgs).Content, "Laptop")
			return schema.AssistantMessage("You have 1 item in stock: Laptop (15).", nil), nil
		},
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "show my stock")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.ToolListStock}, p.ops())
	assert.Contains(t, out.Reply, "Laptop")
}

func TestDispatch_FabricatedClientIDIsRejected(t *testing.T) {
	p := newRecordingProvider()
	jane, err := p.MemoryStore.CreateClient(context.Background(), userID, "Jane Doe", "jane@example.com", "555", "1 Main St")
	require.NoError(t, err)

	m := newScriptedModel(
		// the id happens to exist, but nothing in this conversation produced it
		callTools(call("c1", tools.ToolCreateInvoice, `{"clientId":"`+jane.ID+`","amount":500}`)),
		func(msgs []*schema.Message) (*schema.Message, error) {
			res := lastToolResult(t, msgs)
			require.Equal(t, "c1", res.ToolCallID)
			require.Contains(t, res.Content, rejectReference)
			require.Contains(t, res.Content, tools.ToolListClients)
			return schema.AssistantMessage("", []schema.ToolCall{call("c2", tools.ToolListClients, `{}`)}), nil
		},
		callTools(call("c3", tools.ToolCreateInvoice, `{"clientId":"`+jane.ID+`","amount":500}`)),
		reply("Invoice INV-0001 created for Jane Doe (R500.00)."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "invoice Jane Doe for 500")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.ToolListClients, tools.ToolCreateInvoice}, p.ops())
	require.Len(t, out.Actions, 3)
	assert.Equal(t, model.ActionRejected, out.Actions[0].Status)
	assert.Equal(t, model.ActionSucceeded, out.Actions[1].Status)
	assert.Equal(t, model.ActionSucceeded, out.Actions[2].Status)
}

func TestDispatch_SameTurnDependencyRunsInOrder(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		callTools(
			call("c1", tools.ToolCreateClient, `{"name":"Sam Smith","email":"sam@example.com","phone":"555","address":"2 Side St"}`),
			call("c2", tools.ToolCreateQuote, `{"clientId":"client-1","amount":"1,250"}`),
		),
		reply("Added Sam Smith and drafted quote QT-0001 for R1250.00."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "add client Sam Smith sam@example.com 555 2 Side St and quote him 1250")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.ToolCreateClient, tools.ToolCreateQuote}, p.ops())
	require.Len(t, out.Actions, 2)
	assert.Equal(t, "client-1", out.Actions[0].EntityID)
	assert.Equal(t, model.ActionSucceeded, out.Actions[1].Status)
}

func TestDispatch_UserIDComesFromCallerOnly(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		callTools(call("c1", tools.ToolCreateTask, `{"description":"call the bank","userId":"someone-else"}`)),
		reply("Added 'call the bank'."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	_, err := dispatch(t, d, "add a task to call the bank")
	require.NoError(t, err)

	require.Len(t, p.log, 1)
	assert.Equal(t, userID, p.log[0].UserID)
	other, err := p.ListTasks(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other)
	for _, msg := range m.seen[0] {
		assert.NotContains(t, msg.Content, userID)
	}
}

func TestDispatch_ToolResultIsFedBackVerbatim(t *testing.T) {
	p := newRecordingProvider()
	_, err := p.MemoryStore.CreateClient(context.Background(), userID, "Jane Doe", "jane@example.com", "555", "1 Main St")
	require.NoError(t, err)

	m := newScriptedModel(
		callTools(call("c1", tools.ToolListClients, `{}`)),
		callTools(call("c2", tools.ToolCreateInvoice, `{"clientId":"client-1","amount":500,"dueDate":"2025-04-01"}`)),
		reply("Invoice created for Jane Doe."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	_, err = dispatch(t, d, "invoice Jane Doe for 500 due 1 April")
	require.NoError(t, err)

	res := lastToolResult(t, m.seen[2])
	assert.Equal(t, "c2", res.ToolCallID)
	assert.Equal(t, tools.ToolCreateInvoice, res.ToolName)

	var got model.Invoice
	require.NoError(t, json.Unmarshal([]byte(res.Content), &got))
	require.Len(t, p.invoices, 1)
	assert.Equal(t, *p.invoices[0], got)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, "2025-04-01", got.DueDate)
}

func TestDispatch_NoHiddenCaching(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		callTools(call("c1", tools.ToolCreateTask, `{"description":"water plants"}`)),
		reply("Added 'water plants'."),
		callTools(call("c1", tools.ToolCreateTask, `{"description":"water plants"}`)),
		reply("Added 'water plants'."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	_, err := dispatch(t, d, "add a task: water plants")
	require.NoError(t, err)
	_, err = dispatch(t, d, "add a task: water plants")
	require.NoError(t, err)

	tasks, err := p.ListTasks(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Equal(t, 4, m.calls())
}

func TestDispatch_LoopBound(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(callTools(call("", tools.ToolListTasks, `{}`)))
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "keep going")
	require.Error(t, err)
	assert.Equal(t, errx.KindLoopBound, errx.KindOf(err))
	assert.False(t, errx.IsRetryable(err))
	assert.Equal(t, 6, m.calls())
	assert.Len(t, p.ops(), 5)
	assert.Len(t, out.Actions, 5)
	assert.Equal(t, errx.UserMessage(err), out.Reply)
}

func TestDispatch_ModelRetriedOnUpstreamError(t *testing.T) {
	p := newRecordingProvider()
	boom := errors.New("503 service unavailable")
	m := newScriptedModel(fail(boom), fail(boom), reply("Hi! How can I help?"))
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help?", out.Reply)
	assert.Equal(t, 3, m.calls())
}

func TestDispatch_UpstreamRetriesExhausted(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(fail(errors.New("connection refused")))
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "hello")
	require.Error(t, err)
	assert.Equal(t, errx.KindUpstream, errx.KindOf(err))
	assert.True(t, errx.IsRetryable(err))
	assert.Equal(t, 3, m.calls())
	assert.NotEmpty(t, out.Reply)
}

func TestDispatch_ToolNotRetriedWhenModelRetries(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		callTools(call("c1", tools.ToolCreateTask, `{"description":"renew licence"}`)),
		fail(errors.New("upstream reset")),
		reply("Added 'renew licence'."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	_, err := dispatch(t, d, "add a task to renew licence")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.ToolCreateTask}, p.ops())
	assert.Equal(t, 3, m.calls())
}

func TestDispatch_TurnTimeoutIsRetryable(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(func([]*schema.Message) (*schema.Message, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, context.DeadlineExceeded
	})
	cfg := testConfig()
	cfg.TurnTimeout = 10 * time.Millisecond
	cfg.ModelRetries = 0
	d := newTestDispatcher(t, p, m, cfg)

	_, err := dispatch(t, d, "hello")
	require.Error(t, err)
	assert.Equal(t, errx.KindTimeout, errx.KindOf(err))
	assert.True(t, errx.IsRetryable(err))
	assert.Equal(t, 1, m.calls())
}

func TestDispatch_DomainErrorAbortsAndKeepsPartialActions(t *testing.T) {
	p := newRecordingProvider()
	_, err := p.MemoryStore.CreateClient(context.Background(), userID, "Jane Doe", "jane@example.com", "555", "1 Main St")
	require.NoError(t, err)
	p.before = func(_ context.Context, op string) error {
		if op == tools.ToolCreateInvoice {
			return errx.New(errx.KindDomainOperation, errors.New("write rejected"), "")
		}
		return nil
	}

	m := newScriptedModel(
		callTools(call("c1", tools.ToolListClients, `{}`)),
		callTools(call("c2", tools.ToolCreateInvoice, `{"clientId":"client-1","amount":500}`)),
		reply("unreachable"),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "invoice Jane Doe for 500")
	require.Error(t, err)
	assert.Equal(t, errx.KindDomainOperation, errx.KindOf(err))
	assert.False(t, errx.IsRetryable(err))
	assert.Equal(t, 2, m.calls())
	assert.Equal(t, []string{tools.ToolListClients, tools.ToolCreateInvoice}, p.ops())
	require.Len(t, out.Actions, 2)
	assert.Equal(t, model.ActionSucceeded, out.Actions[0].Status)
	assert.Equal(t, model.ActionFailed, out.Actions[1].Status)
}

func TestDispatch_ValidationErrorIsFedBack(t *testing.T) {
	p := newRecordingProvider()
	_, err := p.MemoryStore.CreateClient(context.Background(), userID, "Jane Doe", "jane@example.com", "555", "1 Main St")
	require.NoError(t, err)

	m := newScriptedModel(
		callTools(call("c1", tools.ToolListClients, `{}`)),
		callTools(call("c2", tools.ToolCreateInvoice, `{"clientId":"client-1","amount":"five hundred"}`)),
		func(msgs []*schema.Message) (*schema.Message, error) {
			res := lastToolResult(t, msgs)
			require.Contains(t, res.Content, rejectValidation)
			require.Contains(t, res.Content, "amount")
			return schema.AssistantMessage("", []schema.ToolCall{
				call("c3", tools.ToolCreateInvoice, `{"clientId":"client-1","amount":500}`),
			}), nil
		},
		reply("Invoice INV-0001 created for Jane Doe."),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "invoice Jane for five hundred")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.ToolListClients, tools.ToolCreateInvoice}, p.ops())
	require.Len(t, out.Actions, 3)
	assert.Equal(t, model.ActionRejected, out.Actions[1].Status)
}

func TestDispatch_UnknownToolIsRejected(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		callTools(call("c1", "deleteEverything", `{}`)),
		func(msgs []*schema.Message) (*schema.Message, error) {
			require.Contains(t, lastToolResult(t, msgs).Content, rejectUnknown)
			return schema.AssistantMessage("I can't do that.", nil), nil
		},
	)
	d := newTestDispatcher(t, p, m, testConfig())

	rejectedUnknown := metrics.ToolCallTotal.WithLabelValues(unknownToolLabel, string(model.ActionRejected))
	before := testutil.ToFloat64(rejectedUnknown)

	out, err := dispatch(t, d, "delete everything")
	require.NoError(t, err)
	assert.Empty(t, p.ops())
	require.Len(t, out.Actions, 1)
	assert.Equal(t, model.ActionRejected, out.Actions[0].Status)
	assert.Equal(t, "deleteEverything", out.Actions[0].Tool)
	assert.Equal(t, before+1, testutil.ToFloat64(rejectedUnknown))
}

func TestDispatch_MissingUserIsConfigurationError(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(reply("unreachable"))
	d := newTestDispatcher(t, p, m, testConfig())

	_, err := d.Dispatch(context.Background(), model.CommandInput{Instruction: "show my stock", UserID: "  "})
	require.Error(t, err)
	assert.Equal(t, errx.KindConfiguration, errx.KindOf(err))
	assert.False(t, errx.IsRetryable(err))
	assert.Zero(t, m.calls())
}

func TestDispatch_RejectsEmptyAndOversizedInstructions(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(reply("unreachable"))
	cfg := testConfig()
	cfg.MaxInstructionLen = 10
	d := newTestDispatcher(t, p, m, cfg)

	_, err := dispatch(t, d, "   ")
	assert.Equal(t, errx.KindValidation, errx.KindOf(err))
	_, err = dispatch(t, d, strings.Repeat("x", 11))
	assert.Equal(t, errx.KindValidation, errx.KindOf(err))
	assert.Zero(t, m.calls())
}

func TestDispatch_SynthesizesMissingCallIDs(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		callTools(call("", tools.ToolListTasks, `{}`), call("", tools.ToolListStock, `{}`)),
		func(msgs []*schema.Message) (*schema.Message, error) {
			var ids []string
			for _, msg := range msgs {
				if msg.Role == schema.Tool {
					ids = append(ids, msg.ToolCallID)
				}
			}
			require.Equal(t, []string{"call_1", "call_2"}, ids)
			return schema.AssistantMessage("You have no tasks and no stock.", nil), nil
		},
	)
	d := newTestDispatcher(t, p, m, testConfig())

	_, err := dispatch(t, d, "what do I have?")
	require.NoError(t, err)
}

func TestDispatch_EmptyFinalReply(t *testing.T) {
	p := newRecordingProvider()
	m := newScriptedModel(
		callTools(call("c1", tools.ToolCreateTask, `{"description":"file VAT return"}`)),
		reply(""),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := dispatch(t, d, "add a task to file VAT return")
	require.NoError(t, err)
	assert.Equal(t, "Done: createTask (task-1).", out.Reply)

	m = newScriptedModel(reply("  "))
	d = newTestDispatcher(t, p, m, testConfig())
	out, err = dispatch(t, d, "hmm")
	require.NoError(t, err)
	assert.Equal(t, fallbackReply, out.Reply)
}

func TestDispatch_StartedToolSurvivesCallerCancellation(t *testing.T) {
	p := newRecordingProvider()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var toolCtxErr error
	p.before = func(toolCtx context.Context, _ string) error {
		cancel()
		toolCtxErr = toolCtx.Err()
		return nil
	}
	m := newScriptedModel(
		callTools(call("c1", tools.ToolCreateTask, `{"description":"pay rent"}`)),
		reply("unreachable"),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	_, err := d.Dispatch(ctx, model.CommandInput{Instruction: "add a task to pay rent", UserID: userID})
	require.Error(t, err)
	assert.NoError(t, toolCtxErr)

	tasks, err := p.MemoryStore.ListTasks(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestDispatch_CancelledCallerStopsBeforeNextTool(t *testing.T) {
	p := newRecordingProvider()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.before = func(context.Context, string) error {
		cancel()
		return nil
	}
	m := newScriptedModel(
		callTools(
			call("c1", tools.ToolCreateTask, `{"description":"pay rent"}`),
			call("c2", tools.ToolCreateTask, `{"description":"call landlord"}`),
			call("c3", tools.ToolListTasks, `{}`),
		),
		reply("unreachable"),
	)
	d := newTestDispatcher(t, p, m, testConfig())

	out, err := d.Dispatch(ctx, model.CommandInput{Instruction: "add two tasks", UserID: userID})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{tools.ToolCreateTask}, p.ops())
	assert.Equal(t, 1, m.calls())

	require.Len(t, out.Actions, 3)
	assert.Equal(t, model.ActionSucceeded, out.Actions[0].Status)
	assert.Equal(t, "task-1", out.Actions[0].EntityID)
	for _, a := range out.Actions[1:] {
		assert.Equal(t, model.ActionSkipped, a.Status, a.CallID)
	}

	tasks, err := p.MemoryStore.ListTasks(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestDispatch_CallbacksObserveTools(t *testing.T) {
	p := newRecordingProvider()
	var toolStarts, toolEnds atomic.Int32
	counter := einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			if info.Component == components.ComponentOfTool {
				toolStarts.Add(1)
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			if info.Component == components.ComponentOfTool {
				toolEnds.Add(1)
			}
			return ctx
		}).
		Build()

	m := newScriptedModel(
		callTools(call("c1", tools.ToolListStock, `{}`), call("c2", tools.ToolListTasks, `{}`)),
		reply("Nothing in stock and no tasks."),
	)
	d := newTestDispatcher(t, p, m, testConfig(), WithCallbacks(observers.NewAllCallbacks(), counter))

	_, err := dispatch(t, d, "what's going on?")
	require.NoError(t, err)
	assert.Equal(t, int32(2), toolStarts.Load())
	assert.Equal(t, int32(2), toolEnds.Load())
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	catalog, err := tools.NewCatalog(newRecordingProvider())
	require.NoError(t, err)
	_, err = New(testConfig(), model.PromptConfig{}, catalog, newScriptedModel(reply("x")), "gemini-2.5-flash",
		WithPolicy(prompts.Policy{Version: "broken"}))
	require.Error(t, err)
	assert.Equal(t, errx.KindConfiguration, errx.KindOf(err))
}
