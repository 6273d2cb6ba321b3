// Package answer resolves a visitor message into a chunk stream, from the
// tenant's knowledge when possible and from the generator otherwise.
package answer

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zulandar/concierge/internal/generator"
	"github.com/zulandar/concierge/internal/knowledge"
	"github.com/zulandar/concierge/internal/metrics"
	"github.com/zulandar/concierge/internal/models"
	"github.com/zulandar/concierge/internal/relay"
)

// SourceFallback marks an answer that is only the unavailability notice.
const SourceFallback = "fallback"

// FallbackNotice is sent when no generator can be reached.
const FallbackNotice = "Sorry, our assistant is unavailable right now. A team member will get back to you soon."

// DefaultHistoryLimit caps how many prior turns are sent to the generator.
const DefaultHistoryLimit = 10

// Knowledge is the subset of knowledge.Index the resolver uses.
type Knowledge interface {
	Enabled(ctx context.Context, websiteID string) (bool, error)
	Match(ctx context.Context, websiteID, text string) (knowledge.Result, error)
}

// Generator opens a raw streaming completion.
type Generator interface {
	Stream(ctx context.Context, messages []generator.Message) (io.ReadCloser, error)
}

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one message to answer.
type Request struct {
	WebsiteID    string // "" skips knowledge
	SystemPrompt string // overrides Options.SystemPrompt when set
	Message      string
	History      []Turn
}

// Answer is the resolved stream and where it came from.
type Answer struct {
	Source string // models.SourceKnowledge, models.SourceGenerator or SourceFallback
	Stream relay.Stream
}

// Options tunes the resolver.
type Options struct {
	ChunkSize    int
	ChunkDelay   time.Duration
	IdleTimeout  time.Duration
	SystemPrompt string
	HistoryLimit int
}

// Resolver picks the answer source for each message.
type Resolver struct {
	kb   Knowledge
	gen  Generator
	opts Options
}

// New creates a Resolver. Either collaborator may be nil: a nil kb skips
// knowledge and a nil gen always yields the fallback notice.
func New(kb Knowledge, gen Generator, opts Options) *Resolver {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Resolver{kb: kb, gen: gen, opts: opts}
}

// Resolve returns exactly one stream for req. The stream always closes.
func (r *Resolver) Resolve(ctx context.Context, req Request) Answer {
	if text, ok := r.fromKnowledge(ctx, req); ok {
		metrics.Answers.WithLabelValues(models.SourceKnowledge).Inc()
		return Answer{
			Source: models.SourceKnowledge,
			Stream: relay.Synthesize(ctx, text, r.opts.ChunkSize, r.opts.ChunkDelay),
		}
	}

	if r.gen == nil {
		return r.fallback()
	}
	body, genCtx, err := r.startGenerator(ctx, req)
	if err != nil {
		log.Printf("answer: generator unavailable: %v", err)
		return r.fallback()
	}
	metrics.Answers.WithLabelValues(models.SourceGenerator).Inc()
	return Answer{
		Source: models.SourceGenerator,
		Stream: relay.Relay(genCtx, body, relay.Options{IdleTimeout: r.idleTimeout()}),
	}
}

// startGenerator opens the generator stream, giving up when the backend has
// not answered within the idle timeout. The returned body cancels the
// request context when closed.
func (r *Resolver) startGenerator(ctx context.Context, req Request) (io.ReadCloser, context.Context, error) {
	genCtx, cancel := context.WithCancel(ctx)
	wait := r.idleTimeout()
	timer := time.AfterFunc(wait, cancel)

	body, err := r.gen.Stream(genCtx, r.prompt(req))
	if !timer.Stop() {
		if body != nil {
			body.Close()
		}
		cancel()
		return nil, nil, fmt.Errorf("no response within %s", wait)
	}
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return &cancelOnClose{ReadCloser: body, cancel: cancel}, genCtx, nil
}

func (r *Resolver) idleTimeout() time.Duration {
	if r.opts.IdleTimeout > 0 {
		return r.opts.IdleTimeout
	}
	return relay.DefaultIdleTimeout
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (r *Resolver) fromKnowledge(ctx context.Context, req Request) (string, bool) {
	if r.kb == nil || req.WebsiteID == "" {
		return "", false
	}
	enabled, err := r.kb.Enabled(ctx, req.WebsiteID)
	if err != nil {
		log.Printf("answer: knowledge settings for %s: %v", req.WebsiteID, err)
		return "", false
	}
	if !enabled {
		return "", false
	}
	res, err := r.kb.Match(ctx, req.WebsiteID, req.Message)
	if err != nil {
		log.Printf("answer: knowledge match for %s: %v", req.WebsiteID, err)
		return "", false
	}
	if !res.Matched {
		return "", false
	}
	return res.Answer(), true
}

func (r *Resolver) fallback() Answer {
	metrics.Answers.WithLabelValues(SourceFallback).Inc()
	return Answer{Source: SourceFallback, Stream: relay.Single(FallbackNotice)}
}

// prompt builds the system + history + message prompt.
func (r *Resolver) prompt(req Request) []generator.Message {
	system := req.SystemPrompt
	if system == "" {
		system = r.opts.SystemPrompt
	}
	var msgs []generator.Message
	if system != "" {
		msgs = append(msgs, generator.Message{Role: "system", Content: system})
	}

	history := req.History
	if len(history) > r.opts.HistoryLimit {
		history = history[len(history)-r.opts.HistoryLimit:]
	}
	for _, t := range history {
		role, ok := promptRole(t.Role)
		if !ok || t.Content == "" {
			continue
		}
		msgs = append(msgs, generator.Message{Role: role, Content: t.Content})
	}
	return append(msgs, generator.Message{Role: "user", Content: req.Message})
}

// promptRole maps stored and widget roles onto completion roles. System
// messages in the history are escalation notes and are left out.
func promptRole(role string) (string, bool) {
	switch role {
	case "user", models.RoleVisitor:
		return "user", true
	case models.RoleAssistant, "operator", "bot":
		return "assistant", true
	default:
		return "", false
	}
}

// HistoryFromMessages converts stored messages into prompt turns.
func HistoryFromMessages(msgs []models.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
