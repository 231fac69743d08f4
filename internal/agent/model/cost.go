package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Gemini standard text pricing.
var defaultPricing = map[string]Pricing{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
}

// ResolvePricing returns the pricing for a model, or zero pricing if unknown.
func ResolvePricing(model string) Pricing {
	return defaultPricing[model]
}

// UsageCost is the priced breakdown of one model response.
type UsageCost struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	InputCost        float64
	OutputCost       float64
	Total            float64
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(model string, usage *schema.TokenUsage) UsageCost {
	c := UsageCost{Model: model}
	if usage == nil {
		return c
	}
	p := ResolvePricing(model)
	c.PromptTokens = usage.PromptTokens
	c.CompletionTokens = usage.CompletionTokens
	c.InputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	c.OutputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	c.Total = c.InputCost + c.OutputCost
	return c
}
