package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/dulus-bm/server/internal/agent/model"
)

type format int

const (
	formatNone format = iota
	formatEmail
	formatDate
)

type field struct {
	name     string
	typ      schema.DataType
	desc     string
	required bool
	format   format
	// min is an inclusive lower bound unless exclusive is set.
	min       *float64
	exclusive bool
	ref       Kind
}

func floatPtr(v float64) *float64 { return &v }

func toolInfo(name, desc string, fields []field) *schema.ToolInfo {
	info := &schema.ToolInfo{Name: name, Desc: desc}
	if len(fields) == 0 {
		return info
	}
	params := make(map[string]*schema.ParameterInfo, len(fields))
	for _, f := range fields {
		params[f.name] = &schema.ParameterInfo{Type: f.typ, Desc: f.desc, Required: f.required}
	}
	info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	return info
}

type createTaskInput struct {
	Description string `json:"description"`
	DueDate     string `json:"dueDate,omitempty"`
}

type createClientInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type createInvoiceInput struct {
	ClientID string  `json:"clientId"`
	Amount   float64 `json:"amount"`
	DueDate  string  `json:"dueDate,omitempty"`
}

type createQuoteInput struct {
	ClientID string  `json:"clientId"`
	Amount   float64 `json:"amount"`
}

type updateStockInput struct {
	StockItemID string  `json:"stockItemId"`
	Quantity    float64 `json:"quantity"`
}

type noInput struct{}

func definitions() []*definition {
	var (
		createTaskFields = []field{
			{name: "description", typ: schema.String, required: true, desc: "A detailed description of the task."},
			{name: "dueDate", typ: schema.String, format: formatDate, desc: "The due date for the task in ISO format (YYYY-MM-DD). Resolve relative dates such as 'tomorrow' against today's date."},
		}
		createClientFields = []field{
			{name: "name", typ: schema.String, required: true, desc: "The client's full name."},
			{name: "email", typ: schema.String, required: true, format: formatEmail, desc: "The client's email address. Ask the user if it was not given."},
			{name: "phone", typ: schema.String, required: true, desc: "The client's phone number. Ask the user if it was not given."},
			{name: "address", typ: schema.String, required: true, desc: "The client's physical address. Ask the user if it was not given."},
		}
		createInvoiceFields = []field{
			{name: "clientId", typ: schema.String, required: true, ref: KindClient, desc: "The client's unique ID. If you only have a name, use the 'listClients' tool first to find the ID."},
			{name: "amount", typ: schema.Number, required: true, min: floatPtr(0), exclusive: true, desc: "The total amount for the invoice."},
			{name: "dueDate", typ: schema.String, format: formatDate, desc: "The payment due date in ISO format (YYYY-MM-DD)."},
		}
		createQuoteFields = []field{
			{name: "clientId", typ: schema.String, required: true, ref: KindClient, desc: "The client's unique ID. Use 'listClients' to find it if you only have a name."},
			{name: "amount", typ: schema.Number, required: true, min: floatPtr(0), exclusive: true, desc: "The total amount for the quote."},
		}
		updateStockFields = []field{
			{name: "stockItemId", typ: schema.String, required: true, ref: KindStock, desc: "The ID of the stock item to update. Use 'listStock' to find it if you only have a name."},
			{name: "quantity", typ: schema.Number, required: true, min: floatPtr(0), desc: "The new quantity for the stock item."},
		}
	)

	return []*definition{
		{
			info:     toolInfo(ToolCreateTask, "Creates a new task. Use this to add a to-do item.", createTaskFields),
			fields:   createTaskFields,
			resolves: KindTask,
			mutates:  true,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, in *createTaskInput) (*model.Task, error) {
						return p.CreateTask(ctx, userID, in.Description, in.DueDate)
					})
			},
		},
		{
			info:     toolInfo(ToolListTasks, "Lists all the tasks for the user.", nil),
			resolves: KindTask,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, _ *noInput) ([]model.Task, error) {
						return p.ListTasks(ctx, userID)
					})
			},
		},
		{
			info:     toolInfo(ToolCreateClient, "Creates a new client record. All fields are required; never invent missing values.", createClientFields),
			fields:   createClientFields,
			resolves: KindClient,
			mutates:  true,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, in *createClientInput) (*model.Client, error) {
						return p.CreateClient(ctx, userID, in.Name, in.Email, in.Phone, in.Address)
					})
			},
		},
		{
			info:     toolInfo(ToolListClients, "Lists all clients. Use it to find a client ID by name.", nil),
			resolves: KindClient,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, _ *noInput) ([]model.Client, error) {
						return p.ListClients(ctx, userID)
					})
			},
		},
		{
			info:     toolInfo(ToolCreateInvoice, "Generates a new invoice for a client.", createInvoiceFields),
			fields:   createInvoiceFields,
			resolves: KindInvoice,
			mutates:  true,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, in *createInvoiceInput) (*model.Invoice, error) {
						return p.CreateInvoice(ctx, userID, in.ClientID, in.Amount, in.DueDate)
					})
			},
		},
		{
			info:     toolInfo(ToolCreateQuote, "Generates a new price quote for a client.", createQuoteFields),
			fields:   createQuoteFields,
			resolves: KindQuote,
			mutates:  true,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, in *createQuoteInput) (*model.Quote, error) {
						return p.CreateQuote(ctx, userID, in.ClientID, in.Amount)
					})
			},
		},
		{
			info:     toolInfo(ToolListStock, "Lists all items in the stock or inventory.", nil),
			resolves: KindStock,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, _ *noInput) ([]model.StockItem, error) {
						return p.ListStock(ctx, userID)
					})
			},
		},
		{
			info:     toolInfo(ToolUpdateStock, "Updates the quantity of a stock item.", updateStockFields),
			fields:   updateStockFields,
			resolves: KindStock,
			mutates:  true,
			bind: func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool {
				return utils.NewTool(info,
					func(ctx context.Context, in *updateStockInput) (*model.StockItem, error) {
						return p.UpdateStock(ctx, userID, in.StockItemID, in.Quantity)
					})
			},
		},
	}
}
