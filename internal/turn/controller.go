// Package turn drives one generation cycle per user message: it sends
// the conversation to the model backend, demultiplexes the response
// into streamed text or a tool invocation, and serializes the
// resulting state transitions back into the conversation.
package turn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/model"
	"github.com/pennaio/penna/internal/stream"
	"github.com/pennaio/penna/internal/tools"
)

// State is the per-turn lifecycle phase.
type State int

const (
	Idle State = iota
	Requesting
	StreamingText
	InvokingTool
	Finalizing
	Settled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case StreamingText:
		return "streaming-text"
	case InvokingTool:
		return "invoking-tool"
	case Finalizing:
		return "finalizing"
	case Settled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// fallbackReply is committed when a turn produced neither text nor a
// tool call, so every settled turn has a well-formed assistant message.
const fallbackReply = "I wasn't able to produce a response just now. Please try rephrasing your request."

// Archiver receives the settled conversation for durable storage.
// Implementations decide whether and where to persist.
type Archiver interface {
	ArchiveConversation(ctx context.Context, conv *conversation.Conversation) error
}

// Result is a turn's render handle: live streaming text or a resolved
// tool invocation, never both.
type Result struct {
	ID   string
	Text *stream.Text
	Tool *tools.Invocation
}

// Config carries the controller's fixed generation parameters.
type Config struct {
	// Model is the provider-qualified model name sent on every request.
	Model string

	// System is the assistant persona instruction.
	System string
}

// Controller runs generation turns. One Controller serves many
// conversations; per-conversation turn exclusivity is enforced through
// the conversation itself.
type Controller struct {
	backend model.Backend
	invoker *tools.Invoker
	// archiver may be nil when no owner is present; then settling
	// skips persistence entirely.
	archiver Archiver
	cfg      Config
	logger   *slog.Logger
}

// New creates a turn controller.
func New(backend model.Backend, invoker *tools.Invoker, archiver Archiver, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{backend: backend, invoker: invoker, archiver: archiver, cfg: cfg, logger: logger}
}

// session is the single-turn state machine. Discarded at Settled.
type session struct {
	ctrl  *Controller
	conv  *conversation.Conversation
	state State

	result Result
	ready  func(Result)
}

// Submit runs one full turn for input on conv and blocks until the
// turn settles or fails.
//
// ready, when non-nil, is called exactly once as soon as the turn's
// render shape is known: for text turns that is the first delta, with
// a live Result.Text still being written; for tool turns it is the
// resolved invocation. Callers that only want the final result may
// pass nil and use the returned Result.
//
// A second Submit against a conversation whose previous turn has not
// settled fails with conversation.ErrTurnInProgress. On backend or
// fail-hard tool errors nothing is committed; the speculative user
// append stays as a pending message and the conversation accepts a
// retry.
func (c *Controller) Submit(ctx context.Context, conv *conversation.Conversation, input string, ready func(Result)) (Result, error) {
	if err := conv.BeginTurn(); err != nil {
		return Result{}, err
	}
	defer conv.EndTurn()

	s := &session{ctrl: c, conv: conv, ready: ready}
	s.result.ID = uuid.NewString()
	return s.run(ctx, input)
}

func (s *session) run(ctx context.Context, input string) (Result, error) {
	c := s.ctrl
	s.conv.Append(conversation.NewUserMessage(input))
	s.state = Requesting

	req := model.Request{
		Model:    c.cfg.Model,
		System:   c.cfg.System,
		Messages: s.conv.Snapshot(),
	}

	err := c.backend.Generate(ctx, req, s.handleEvent)
	if s.result.Text != nil {
		// The producer side is finished either way; late consumers
		// must still observe a terminal value.
		s.result.Text.Done()
	}
	if err != nil {
		c.logger.Error("turn failed before commit",
			"conversation_id", s.conv.ID(), "state", s.state.String(), "error", err)
		return Result{}, err
	}

	s.state = Finalizing
	if s.result.Tool == nil {
		if s.result.Text == nil {
			s.result.Text = stream.NewText()
			s.result.Text.Update(fallbackReply)
			s.result.Text.Done()
		}
		text, _ := s.result.Text.Value()
		s.conv.Append(conversation.NewAssistantMessage(text))
	}
	s.conv.Commit(s.conv.Snapshot())

	if c.archiver != nil {
		if err := c.archiver.ArchiveConversation(ctx, s.conv); err != nil {
			c.logger.Error("archiving settled conversation failed",
				"conversation_id", s.conv.ID(), "error", err)
		}
	}

	s.state = Settled
	if s.ready != nil {
		// Turns with no events never announced a shape; do it now so
		// every ready callback fires exactly once.
		s.announce()
	}
	return s.result, nil
}

func (s *session) handleEvent(ctx context.Context, ev model.Event) error {
	switch ev := ev.(type) {
	case model.TextDelta:
		return s.handleDelta(ev)
	case model.ToolInvocation:
		return s.handleTool(ctx, ev)
	default:
		s.ctrl.logger.Warn("ignoring unknown backend event",
			"conversation_id", s.conv.ID(), "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (s *session) handleDelta(ev model.TextDelta) error {
	if s.state == InvokingTool {
		// First event kind won; a late text delta would corrupt the
		// turn's render shape.
		s.ctrl.logger.Warn("ignoring text delta after tool invocation",
			"conversation_id", s.conv.ID(), "delta_len", len(ev.Delta))
		return nil
	}
	if s.result.Text == nil {
		if ev.Delta == "" && ev.Final {
			// An eventless turn; finalization substitutes the
			// fallback reply.
			s.result.Text = stream.NewText()
			s.result.Text.Update(fallbackReply)
			return nil
		}
		s.state = StreamingText
		s.result.Text = stream.NewText()
		s.announce()
	}
	if ev.Delta != "" {
		s.result.Text.Update(ev.Delta)
	}
	return nil
}

func (s *session) handleTool(ctx context.Context, ev model.ToolInvocation) error {
	if s.state == StreamingText {
		s.ctrl.logger.Warn("ignoring tool invocation after text began streaming",
			"conversation_id", s.conv.ID(), "tool", ev.Name)
		return nil
	}
	s.state = InvokingTool
	inv, err := s.ctrl.invoker.Invoke(ctx, s.conv, ev.Name, ev.Arguments)
	if err != nil {
		return fmt.Errorf("invoke tool %q: %w", ev.Name, err)
	}
	if s.result.Tool == nil {
		s.result.Tool = inv
		s.announce()
	}
	return nil
}

// announce fires the ready callback once.
func (s *session) announce() {
	if s.ready == nil {
		return
	}
	ready := s.ready
	s.ready = nil
	ready(s.result)
}
