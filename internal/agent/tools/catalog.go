package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dulus-bm/server/internal/agent/model"
	errx "github.com/dulus-bm/server/internal/core/error"
)

const (
	ToolCreateTask    = "createTask"
	ToolListTasks     = "listTasks"
	ToolCreateClient  = "createClient"
	ToolListClients   = "listClients"
	ToolCreateInvoice = "createInvoice"
	ToolCreateQuote   = "createQuote"
	ToolListStock     = "listStock"
	ToolUpdateStock   = "updateStock"
)

// Kind names the entity a tool returns or an argument refers to.
type Kind string

const (
	KindNone    Kind = ""
	KindTask    Kind = "task"
	KindClient  Kind = "client"
	KindInvoice Kind = "invoice"
	KindQuote   Kind = "quote"
	KindStock   Kind = "stock"
)

// Descriptor is the immutable, model-independent view of one tool.
type Descriptor struct {
	Name string
	// Resolves is the entity kind whose ids appear in the tool's output.
	Resolves Kind
	Mutates  bool
	// References maps argument names to the entity kind their value must identify.
	References map[string]Kind
}

type definition struct {
	info     *schema.ToolInfo
	fields   []field
	resolves Kind
	mutates  bool
	bind     func(info *schema.ToolInfo, p model.Provider, userID string) tool.InvokableTool
}

func (d *definition) descriptor() Descriptor {
	refs := map[string]Kind{}
	for _, f := range d.fields {
		if f.ref != KindNone {
			refs[f.name] = f.ref
		}
	}
	return Descriptor{Name: d.info.Name, Resolves: d.resolves, Mutates: d.mutates, References: refs}
}

// Catalog holds every tool the command model may call. It is built once at
// startup and never mutated; per-instruction execution goes through Bind.
type Catalog struct {
	provider model.Provider
	defs     []*definition
	byName   map[string]*definition
}

func NewCatalog(provider model.Provider) (*Catalog, error) {
	if provider == nil {
		return nil, fmt.Errorf("domain provider is nil")
	}
	defs := definitions()
	c := &Catalog{
		provider: provider,
		defs:     defs,
		byName:   make(map[string]*definition, len(defs)),
	}
	for _, d := range defs {
		if _, dup := c.byName[d.info.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", d.info.Name)
		}
		c.byName[d.info.Name] = d
	}
	return c, nil
}

// Infos returns the tool descriptors handed to the chat model, in catalog order.
func (c *Catalog) Infos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d.info)
	}
	return out
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d.info.Name)
	}
	return out
}

func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	d, ok := c.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.descriptor(), true
}

// Resolver names the read-only tool whose output identifies entities of kind k.
func (c *Catalog) Resolver(k Kind) (string, bool) {
	for _, d := range c.defs {
		if d.resolves == k && !d.mutates {
			return d.info.Name, true
		}
	}
	return "", false
}

// Validate checks model-supplied arguments against the tool's input contract
// and returns them normalized: trimmed strings, coerced numbers, unknown keys
// (including any user id the model echoes) removed.
func (c *Catalog) Validate(name, arguments string) (string, error) {
	d, ok := c.byName[name]
	if !ok {
		return "", &ValidationError{Tool: name, Problems: []Problem{{Reason: "unknown tool; available tools: " + strings.Join(c.Names(), ", ")}}}
	}
	return validate(d, arguments)
}

// Bind returns the executable tools for one instruction, every one of them
// scoped to userID. An empty userID is a caller bug and fails fast.
func (c *Catalog) Bind(userID string) (*Toolset, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errx.Configuration("tool catalog: user id is required")
	}
	ts := &Toolset{userID: userID, tools: make(map[string]tool.InvokableTool, len(c.defs))}
	for _, d := range c.defs {
		ts.tools[d.info.Name] = d.bind(d.info, c.provider, userID)
	}
	return ts, nil
}

// Toolset is a Catalog bound to one user. It is not shared across instructions.
type Toolset struct {
	userID string
	tools  map[string]tool.InvokableTool
}

func (t *Toolset) UserID() string {
	return t.userID
}

// Run executes one tool with already validated arguments.
func (t *Toolset) Run(ctx context.Context, name, arguments string) (string, error) {
	it, ok := t.tools[name]
	if !ok {
		return "", errx.Validation("unknown tool %q", name)
	}
	return it.InvokableRun(ctx, arguments)
}
