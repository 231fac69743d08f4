package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/dulus-bm/server/pkg/logger"
)

// newModelHandler logs the conversation handed to the chat model and what it returned.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			l := logx.Ctx(ctx)
			l.Debug().
				Str("component", info.Name).
				Int("messages", len(input.Messages)).
				Int("tools", len(input.Tools)).
				Str("user_message", lastUserContent(input.Messages)).
				Msg("model start")
			for i, m := range input.Messages {
				if m == nil || strings.TrimSpace(m.Content) == "" {
					continue
				}
				l.Trace().Int("index", i).Str("role", string(m.Role)).Str("content", m.Content).Msg("model context")
			}
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			if output == nil || output.Message == nil {
				return ctx
			}
			ev := logx.Ctx(ctx).Debug().
				Str("component", info.Name).
				Int("tool_calls", len(output.Message.ToolCalls)).
				Str("content", strings.TrimSpace(output.Message.Content))
			if output.TokenUsage != nil {
				ev = ev.Int("prompt_tokens", output.TokenUsage.PromptTokens).
					Int("completion_tokens", output.TokenUsage.CompletionTokens)
			}
			ev.Msg("model end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Ctx(ctx).Warn().Err(err).Str("component", info.Name).Msg("model error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
