package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avelkov/chatdesk/internal/llm"
)

// Provider implements llm.Provider for Ollama
type Provider struct {
	host         string
	defaultModel string
	client       *http.Client
}

// NewProvider creates a new Ollama provider
func NewProvider(host, defaultModel string) *Provider {
	if defaultModel == "" {
		defaultModel = "llama3"
	}
	return &Provider{
		host:         host,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has a host to talk to
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

func (p *Provider) post(ctx context.Context, req ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	return resp, nil
}

// Generate produces the complete reply in one call
func (p *Provider) Generate(ctx context.Context, req llm.Request, model string) (*llm.Reply, error) {
	if model == "" {
		model = p.defaultModel
	}

	start := time.Now()
	resp, err := p.post(ctx, ollamaRequest{
		Model:   model,
		Prompt:  llm.BuildPrompt(req),
		Stream:  false,
		Options: map[string]any{"temperature": 0.7},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &llm.Reply{
		Text:       out.Response,
		Model:      model,
		TokensUsed: out.EvalCount,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Stream produces the reply incrementally as newline-delimited JSON chunks
func (p *Provider) Stream(ctx context.Context, req llm.Request, model string) (llm.ChunkStream, error) {
	if model == "" {
		model = p.defaultModel
	}

	resp, err := p.post(ctx, ollamaRequest{
		Model:   model,
		Prompt:  llm.BuildPrompt(req),
		Stream:  true,
		Options: map[string]any{"temperature": 0.7},
	})
	if err != nil {
		return nil, err
	}

	return &chunkStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

type chunkStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	closed  bool
}

func (s *chunkStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		if chunk.Done {
			s.done = true
		}
		return chunk.Response, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("ollama stream error: %w", err)
	}
	return "", io.EOF
}

func (s *chunkStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.body.Close()
}
