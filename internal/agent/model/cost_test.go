package model

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestComputeCost(t *testing.T) {
	c := ComputeCost("gemini-2.5-flash", &schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 200_000})
	assert.InDelta(t, 0.30, c.InputCost, 1e-9)
	assert.InDelta(t, 0.50, c.OutputCost, 1e-9)
	assert.InDelta(t, 0.80, c.Total, 1e-9)
}

func TestComputeCost_UnknownModelAndNilUsage(t *testing.T) {
	assert.Zero(t, ComputeCost("some-model", &schema.TokenUsage{PromptTokens: 10}).Total)
	assert.Equal(t, UsageCost{Model: "gemini-2.5-flash"}, ComputeCost("gemini-2.5-flash", nil))
}
