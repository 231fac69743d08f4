package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/dulus-bm/server/internal/agent/model"
	"github.com/dulus-bm/server/internal/agent/repo"
	"github.com/dulus-bm/server/internal/agent/tools"
)

var today = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// step produces the model's next message given the conversation so far.
type step func(msgs []*schema.Message) (*schema.Message, error)

type scriptedModel struct {
	mu    sync.Mutex
	steps []step
	seen  [][]*schema.Message
	tools []*schema.ToolInfo
}

func newScriptedModel(steps ...step) *scriptedModel {
	return &scriptedModel{steps: steps}
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	i := len(m.seen)
	m.seen = append(m.seen, append([]*schema.Message(nil), input...))
	m.mu.Unlock()
	if i >= len(m.steps) {
		i = len(m.steps) - 1
	}
	return m.steps[i](input)
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	m.tools = tools
	return m, nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func reply(text string) step {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}
}

func callTools(calls ...schema.ToolCall) step {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", append([]schema.ToolCall(nil), calls...)), nil
	}
}

func fail(err error) step {
	return func([]*schema.Message) (*schema.Message, error) { return nil, err }
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

// lastToolResult returns the most recent tool-result turn in msgs.
func lastToolResult(t *testing.T, msgs []*schema.Message) *schema.Message {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.Tool {
			return msgs[i]
		}
	}
	t.Fatalf("no tool result in conversation")
	return nil
}

type providerCall struct {
	Op     string
	UserID string
}

// recordingProvider wraps a MemoryStore and records every domain call.
type recordingProvider struct {
	*repo.MemoryStore

	mu       sync.Mutex
	log      []providerCall
	invoices []*model.Invoice
	before   func(ctx context.Context, op string) error
}

func newRecordingProvider() *recordingProvider {
	n := 0
	return &recordingProvider{MemoryStore: repo.NewMemoryStore(repo.Options{
		Now: func() time.Time { return today },
		NewID: func(prefix string) string {
			n++
			return fmt.Sprintf("%s-%d", prefix, n)
		},
	})}
}

func (p *recordingProvider) record(ctx context.Context, op, userID string) error {
	p.mu.Lock()
	p.log = append(p.log, providerCall{Op: op, UserID: userID})
	p.mu.Unlock()
	if p.before != nil {
		return p.before(ctx, op)
	}
	return nil
}

func (p *recordingProvider) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.log))
	for _, c := range p.log {
		out = append(out, c.Op)
	}
	return out
}

func (p *recordingProvider) CreateTask(ctx context.Context, userID, description, dueDate string) (*model.Task, error) {
	if err := p.record(ctx, tools.ToolCreateTask, userID); err != nil {
		return nil, err
	}
	return p.MemoryStore.CreateTask(ctx, userID, description, dueDate)
}

func (p *recordingProvider) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	if err := p.record(ctx, tools.ToolListTasks, userID); err != nil {
		return nil, err
	}
	return p.MemoryStore.ListTasks(ctx, userID)
}

func (p *recordingProvider) CreateClient(ctx context.Context, userID, name, email, phone, address string) (*model.Client, error) {
	if err := p.record(ctx, tools.ToolCreateClient, userID); err != nil {
		return nil, err
	}
	return p.MemoryStore.CreateClient(ctx, userID, name, email, phone, address)
}

func (p *recordingProvider) ListClients(ctx context.Context, userID string) ([]model.Client, error) {
	if err := p.record(ctx, tools.ToolListClients, userID); err != nil {
		return nil, err
	}
	return p.MemoryStore.ListClients(ctx, userID)
}

func (p *recordingProvider) CreateInvoice(ctx context.Context, userID, clientID string, amount float64, dueDate string) (*model.Invoice, error) {
	if err := p.record(ctx, tools.ToolCreateInvoice, userID); err != nil {
		return nil, err
	}
	inv, err := p.MemoryStore.CreateInvoice(ctx, userID, clientID, amount, dueDate)
	if err == nil {
		p.mu.Lock()
		p.invoices = append(p.invoices, inv)
		p.mu.Unlock()
	}
	return inv, err
}

func (p *recordingProvider) CreateQuote(ctx context.Context, userID, clientID string, amount float64) (*model.Quote, error) {
	if err := p.record(ctx, tools.ToolCreateQuote, userID); err != nil {
		return nil, err
	}
	return p.MemoryStore.CreateQuote(ctx, userID, clientID, amount)
}

func (p *recordingProvider) ListStock(ctx context.Context, userID string) ([]model.StockItem, error) {
	if err := p.record(ctx, tools.ToolListStock, userID); err != nil {
		return nil, err
	}
	return p.MemoryStore.ListStock(ctx, userID)
}

func (p *recordingProvider) UpdateStock(ctx context.Context, userID, stockItemID string, quantity float64) (*model.StockItem, error) {
	if err := p.record(ctx, tools.ToolUpdateStock, userID); err != nil {
		return nil, err
	}
	return p.MemoryStore.UpdateStock(ctx, userID, stockItemID, quantity)
}

func testConfig() model.DispatcherConfig {
	return model.DispatcherConfig{
		MaxIterations:     5,
		TurnTimeout:       time.Second,
		ModelRetries:      2,
		RetryBackoff:      time.Millisecond,
		MaxInstructionLen: 4000,
	}
}

func newTestDispatcher(t *testing.T, p model.Provider, m *scriptedModel, cfg model.DispatcherConfig, opts ...Option) *Dispatcher {
	t.Helper()
	catalog, err := tools.NewCatalog(p)
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time { return today })}, opts...)
	d, err := New(cfg, model.PromptConfig{AssistantName: "Sparky", BusinessName: "Acme Plumbing", Timezone: "UTC"},
		catalog, m, "gemini-2.5-flash", opts...)
	require.NoError(t, err)
	return d
}

// idsFrom decodes the ids of a list tool result.
func idsFrom(t *testing.T, content string) []string {
	t.Helper()
	var rows []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(content), &rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}
