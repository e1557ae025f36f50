package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/catherinevee/driftcert/internal/logger"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicClient streams completions from the Anthropic Messages API
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	log     logger.Logger
}

// NewAnthropicFromEnv builds a client from ANTHROPIC_API_KEY. An empty
// model falls back to the DRIFTCERT_LLM_MODEL override, then the default.
// timeout bounds each completion; zero means no per-call deadline.
func NewAnthropicFromEnv(model string, timeout time.Duration) (*AnthropicClient, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if model == "" {
		model = strings.TrimSpace(os.Getenv("DRIFTCERT_LLM_MODEL"))
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		client:  anthropic.NewClient(option.WithAPIKey(key)),
		model:   model,
		timeout: timeout,
		log:     logger.New("llm-anthropic"),
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// Complete issues one streaming completion and accumulates the text blocks
// until end-of-stream. ctx cancellation aborts the streaming read.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens < 8000 {
		maxTokens = 8000
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	stream := c.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", &TransportError{Provider: c.Name(), Err: err}
		}
	}
	if err := stream.Err(); err != nil {
		return "", &TransportError{Provider: c.Name(), Err: err}
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()

	c.log.Debug("completion finished",
		logger.String("model", c.model),
		logger.Int("response_len", len(text)),
		logger.Duration("elapsed", time.Since(start)))

	return text, nil
}
