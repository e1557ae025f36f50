package llm

import (
	"context"
	"fmt"
)

// Request is one completion call. The prompt is fixed per call-site; the
// system prompt and token headroom are caller-controlled.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Client is a streaming text-completion provider. Implementations
// accumulate the stream to a single buffer; cancellation of ctx aborts the
// in-flight read.
type Client interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// TransportError wraps provider/network failures so callers can distinguish
// them from schema problems in the returned text.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
