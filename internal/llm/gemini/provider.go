package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/avelkov/chatdesk/internal/config"
	"github.com/avelkov/chatdesk/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Provider implements llm.Provider on the Gemini API.
type Provider struct {
	apiKey string
	model  string
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	return &Provider{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) newModel(ctx context.Context, model string) (*genai.Client, *genai.GenerativeModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, client.GenerativeModel(model), nil
}

func (p *Provider) Generate(ctx context.Context, req llm.Request, model string) (*llm.Reply, error) {
	if !p.IsConfigured() {
		return nil, errors.New("gemini provider is not configured (missing API key)")
	}
	if model == "" {
		model = p.DefaultModel()
	}

	client, generativeModel, err := p.newModel(ctx, model)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	start := time.Now()
	resp, err := generativeModel.GenerateContent(ctx, genai.Text(llm.BuildPrompt(req)))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	text := collectText(resp)
	if text == "" {
		return nil, errors.New("empty response from gemini")
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &llm.Reply{
		Text:       text,
		Model:      model,
		TokensUsed: tokensUsed,
		LatencyMs:  latency,
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req llm.Request, model string) (llm.ChunkStream, error) {
	if !p.IsConfigured() {
		return nil, errors.New("gemini provider is not configured (missing API key)")
	}
	if model == "" {
		model = p.DefaultModel()
	}

	client, generativeModel, err := p.newModel(ctx, model)
	if err != nil {
		return nil, err
	}

	iter := generativeModel.GenerateContentStream(ctx, genai.Text(llm.BuildPrompt(req)))
	return &chunkStream{client: client, iter: iter}, nil
}

type chunkStream struct {
	client *genai.Client
	iter   *genai.GenerateContentResponseIterator
	closed bool
}

func (s *chunkStream) Recv() (string, error) {
	resp, err := s.iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("gemini stream error: %w", err)
	}
	return collectText(resp), nil
}

func (s *chunkStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.client.Close()
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	return out
}
