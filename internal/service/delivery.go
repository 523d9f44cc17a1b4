package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/avelkov/chatdesk/internal/config"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/llm"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DeliveryMode selects how an assistant reply is rendered to the caller.
type DeliveryMode string

const (
	// ModeBuffered waits for the full reply and emits it as one chunk.
	ModeBuffered DeliveryMode = "buffered"
	// ModeSimulated re-segments a complete reply into fixed-size pieces on a
	// fixed cadence. A presentation transform: the concatenation is identical
	// to buffered mode.
	ModeSimulated DeliveryMode = "simulated-stream"
	// ModeTrue forwards chunks as the generation backend produces them.
	ModeTrue DeliveryMode = "true-stream"
)

// ParseMode validates a client-supplied mode string, falling back to def for
// the empty string.
func ParseMode(s string, def DeliveryMode) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case "":
		return def, nil
	case ModeBuffered, ModeSimulated, ModeTrue:
		return DeliveryMode(s), nil
	}
	return "", fmt.Errorf("unknown delivery mode %q", s)
}

// DeliveryState tracks one delivery session through its lifecycle.
type DeliveryState string

const (
	StateIdle       DeliveryState = "idle"
	StateRequesting DeliveryState = "requesting"
	StateEmitting   DeliveryState = "emitting"
	StateCompleted  DeliveryState = "completed"
	StateFailed     DeliveryState = "failed"
	StateCancelled  DeliveryState = "cancelled"
)

// Chunk is one emitted piece of a reply. Seq starts at 1 and increases with
// no gaps within a delivery session. A chunk, once emitted, is never
// retracted.
type Chunk struct {
	Seq  int
	Text string
}

// Sink receives the rendered reply. Complete and Fail are terminal; exactly
// one of them is called unless the caller cancels first.
type Sink interface {
	Send(chunk Chunk) error
	Complete(fullText string) error
	Fail(kind domain.ErrorKind, message string)
}

// DeliverySession is the ephemeral per-request delivery record.
type DeliverySession struct {
	ChatbotID uuid.UUID
	Mode      DeliveryMode
	State     DeliveryState
	Seq       int
	Reply     string
	Err       error
}

// DeliveryEngine renders assistant replies in one of three modes and owns
// persisting the assembled reply into the transcript. Persistence keys off
// generation completing server-side, not off the caller still listening, so a
// cancelled stream never shortens the stored transcript.
type DeliveryEngine struct {
	providers *llm.Router
	messages  domain.MessageRepository
	cfg       config.DeliveryConfig

	// background tracks detached drain/persist work from cancelled
	// true-stream sessions.
	background sync.WaitGroup
}

// NewDeliveryEngine creates a new delivery engine
func NewDeliveryEngine(providers *llm.Router, messages domain.MessageRepository, cfg config.DeliveryConfig) *DeliveryEngine {
	if cfg.SimulatedChunk <= 0 {
		cfg.SimulatedChunk = 24
	}
	if cfg.SimulatedCadence <= 0 {
		cfg.SimulatedCadence = 40 * time.Millisecond
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 90 * time.Second
	}
	return &DeliveryEngine{providers: providers, messages: messages, cfg: cfg}
}

// Wait blocks until all detached background work has finished. Used on
// shutdown and in tests.
func (e *DeliveryEngine) Wait() {
	e.background.Wait()
}

// Deliver renders one reply through sink. The returned session reports the
// terminal state; delivery is not restartable once started.
func (e *DeliveryEngine) Deliver(ctx context.Context, handle *ReplyHandle, mode DeliveryMode, sink Sink) *DeliverySession {
	session := &DeliverySession{
		ChatbotID: handle.ChatbotID,
		Mode:      mode,
		State:     StateRequesting,
	}

	provider, err := e.providers.GetProvider("")
	if err != nil {
		e.fail(session, sink, domain.E(domain.KindUpstreamUnavailable, "no generation backend", err))
		return session
	}

	switch mode {
	case ModeTrue:
		e.deliverTrueStream(ctx, provider, handle, session, sink)
	default:
		e.deliverFromFullReply(ctx, provider, handle, session, sink)
	}

	return session
}

// deliverFromFullReply handles buffered and simulated-stream: generate the
// complete reply, persist it, then render it.
func (e *DeliveryEngine) deliverFromFullReply(ctx context.Context, provider llm.Provider, handle *ReplyHandle, session *DeliverySession, sink Sink) {
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.UpstreamTimeout)
	defer cancel()

	reply, err := provider.Generate(genCtx, handle.Request, "")
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			session.State = StateCancelled
			session.Err = domain.E(domain.KindCancelled, "delivery cancelled", ctx.Err())
			return
		}
		e.fail(session, sink, domain.E(domain.KindUpstreamUnavailable, "reply generation failed", err))
		return
	}

	session.Reply = reply.Text
	// The reply exists server-side from this point on; the transcript must
	// record it even if the caller disconnects during emission.
	e.persistReply(ctx, handle, reply.Text)

	session.State = StateEmitting
	if session.Mode == ModeBuffered {
		if err := e.emit(session, sink, reply.Text); err != nil {
			e.cancelled(session, err)
			return
		}
		e.complete(session, sink, reply.Text)
		return
	}

	ticker := time.NewTicker(e.cfg.SimulatedCadence)
	defer ticker.Stop()

	for _, piece := range segment(reply.Text, e.cfg.SimulatedChunk) {
		select {
		case <-ctx.Done():
			e.cancelled(session, ctx.Err())
			return
		case <-ticker.C:
		}
		if err := e.emit(session, sink, piece); err != nil {
			e.cancelled(session, err)
			return
		}
	}
	e.complete(session, sink, reply.Text)
}

type recvResult struct {
	text     string
	err      error
	terminal bool
}

// deliverTrueStream forwards upstream chunks in arrival order. The upstream
// call runs on a detached context: if the caller cancels, emission stops but
// the drain keeps going so the full reply still lands in the transcript.
func (e *DeliveryEngine) deliverTrueStream(ctx context.Context, provider llm.Provider, handle *ReplyHandle, session *DeliverySession, sink Sink) {
	upstreamCtx, cancelUpstream := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.UpstreamTimeout)

	stream, err := provider.Stream(upstreamCtx, handle.Request, "")
	if err != nil {
		cancelUpstream()
		e.fail(session, sink, domain.E(domain.KindUpstreamUnavailable, "reply generation failed", err))
		return
	}

	results := make(chan recvResult)
	emitterGone := make(chan struct{})
	var closeEmitter sync.Once

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		defer cancelUpstream()
		defer stream.Close()

		var assembled strings.Builder
		var streamErr error
		for {
			text, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					streamErr = err
				}
				break
			}
			assembled.WriteString(text)
			select {
			case results <- recvResult{text: text}:
			case <-emitterGone:
				// Caller is gone; keep draining for the transcript.
			}
		}

		select {
		case results <- recvResult{err: streamErr, terminal: true}:
		case <-emitterGone:
		}

		if streamErr != nil {
			log.Error().Err(streamErr).Stringer("chatbot_id", handle.ChatbotID).Msg("upstream stream failed")
			return
		}
		e.persistReply(ctx, handle, assembled.String())
	}()

	defer closeEmitter.Do(func() { close(emitterGone) })

	session.State = StateEmitting
	var emitted strings.Builder
	for {
		select {
		case <-ctx.Done():
			e.cancelled(session, ctx.Err())
			return
		case res := <-results:
			if res.terminal {
				if res.err != nil {
					e.fail(session, sink, domain.E(domain.KindUpstreamUnavailable, "reply generation failed mid-stream", res.err))
					return
				}
				session.Reply = emitted.String()
				e.complete(session, sink, session.Reply)
				return
			}
			if res.text == "" {
				continue
			}
			emitted.WriteString(res.text)
			if err := e.emit(session, sink, res.text); err != nil {
				e.cancelled(session, err)
				return
			}
		}
	}
}

func (e *DeliveryEngine) emit(session *DeliverySession, sink Sink, text string) error {
	session.Seq++
	return sink.Send(Chunk{Seq: session.Seq, Text: text})
}

func (e *DeliveryEngine) complete(session *DeliverySession, sink Sink, fullText string) {
	session.State = StateCompleted
	session.Reply = fullText
	if err := sink.Complete(fullText); err != nil {
		log.Warn().Err(err).Msg("failed to send completion sentinel")
	}
}

func (e *DeliveryEngine) fail(session *DeliverySession, sink Sink, err error) {
	session.State = StateFailed
	session.Err = err
	sink.Fail(domain.KindOf(err), "reply generation failed")
	log.Error().Err(err).Stringer("chatbot_id", session.ChatbotID).Msg("delivery failed")
}

func (e *DeliveryEngine) cancelled(session *DeliverySession, cause error) {
	session.State = StateCancelled
	session.Err = domain.E(domain.KindCancelled, "delivery cancelled", cause)
}

// persistReply appends the assistant reply to the transcript. Runs on a
// detached context so a cancelled caller cannot abort the write.
func (e *DeliveryEngine) persistReply(ctx context.Context, handle *ReplyHandle, text string) {
	if text == "" {
		return
	}

	msg := &domain.ChatMessage{
		ID:        uuid.New(),
		ChatbotID: handle.ChatbotID,
		Sender:    domain.SenderAssistant,
		Body:      text,
		CreatedAt: time.Now(),
	}
	if handle.Authz.Grant != nil {
		token := handle.Authz.Grant.Token
		msg.PublicToken = &token
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.messages.Create(writeCtx, msg); err != nil {
		log.Error().Err(err).Stringer("chatbot_id", handle.ChatbotID).Msg("failed to persist assistant reply")
	}
}

// segment splits text into rune-safe pieces of at most size runes.
func segment(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	pieces := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
