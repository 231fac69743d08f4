package model

import "time"

// ================ Config ================
type DispatcherConfig struct {
	// MaxIterations bounds the model -> tools -> model rounds for one instruction.
	MaxIterations int           `envconfig:"DISPATCH_MAX_ITERATIONS" default:"5"`
	TurnTimeout   time.Duration `envconfig:"DISPATCH_TURN_TIMEOUT" default:"30s"`
	ModelRetries  int           `envconfig:"DISPATCH_MODEL_RETRIES" default:"2"`
	RetryBackoff  time.Duration `envconfig:"DISPATCH_RETRY_BACKOFF" default:"500ms"`
	// MaxInstructionLen rejects oversized instructions before any model call.
	MaxInstructionLen int `envconfig:"DISPATCH_MAX_INSTRUCTION_LEN" default:"4000"`
}

type SummaryConfig struct {
	TurnTimeout  time.Duration `envconfig:"SUMMARY_TIMEOUT" default:"30s"`
	ModelRetries int           `envconfig:"SUMMARY_MODEL_RETRIES" default:"2"`
	RetryBackoff time.Duration `envconfig:"SUMMARY_RETRY_BACKOFF" default:"500ms"`
	// ActivityWindow is how many recent activity entries are scanned for today's.
	ActivityWindow int `envconfig:"SUMMARY_ACTIVITY_WINDOW" default:"100"`
}

type ModelConfig struct {
	APIKey         string  `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL        string  `envconfig:"GEMINI_BASE_URL"`
	Model          string  `envconfig:"COMMAND_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"COMMAND_MAX_TOKENS" default:"2000"`
	Temperature    float32 `envconfig:"COMMAND_TEMPERATURE" default:"0.2"`
	ThinkingBudget int32   `envconfig:"COMMAND_THINKING_BUDGET" default:"1024"`
}

type PromptConfig struct {
	AssistantName string `envconfig:"PROMPT_ASSISTANT_NAME" default:"Sparky"`
	BusinessName  string `envconfig:"PROMPT_BUSINESS_NAME" default:"Dulus Business Manager"`
	Timezone      string `envconfig:"PROMPT_TIMEZONE" default:"UTC"`
}

type StoreConfig struct {
	// Backend selects the domain store: "redis" or "memory".
	Backend       string        `envconfig:"STORE_BACKEND" default:"redis"`
	Currency      string        `envconfig:"STORE_CURRENCY" default:"zar"`
	ActivityLimit int           `envconfig:"STORE_ACTIVITY_LIMIT" default:"50"`
	QuoteValidity time.Duration `envconfig:"STORE_QUOTE_VALIDITY" default:"720h"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	UserHeader      string        `envconfig:"HTTP_USER_HEADER" default:"X-User-ID"`
	RatePerMinute   float64       `envconfig:"HTTP_RATE_PER_MINUTE" default:"30"`
	RateBurst       int           `envconfig:"HTTP_RATE_BURST" default:"5"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
}
