package llm

import "context"

// Turn is one prior exchange line fed back as conversation history.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Request contains reply-generation parameters for a chatbot conversation.
type Request struct {
	System  string
	History []Turn
	Message string
}

// Reply contains a complete generation result.
type Reply struct {
	Text       string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// ChunkStream yields generation deltas in arrival order. Recv returns io.EOF
// after the final chunk. Close releases the upstream connection and is safe to
// call more than once.
type ChunkStream interface {
	Recv() (string, error)
	Close()
}

// Provider defines the interface for reply-generation backends.
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Generate produces the complete reply in one call
	Generate(ctx context.Context, req Request, model string) (*Reply, error)

	// Stream produces the reply incrementally as the backend emits it
	Stream(ctx context.Context, req Request, model string) (ChunkStream, error)
}
