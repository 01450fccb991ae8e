// Package session drives turns on top of the stream engine: it dispatches
// prompts, cancels turns, answers agent requests and follows session id
// changes. Every step that waits on the daemon captures the session
// generation first and drops its effects when the generation has moved on.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"console/internal/client"
	"console/internal/logging"
	"console/internal/protocol"
	"console/internal/reducer"
	"console/internal/registry"
	"console/internal/types"
)

var (
	ErrNoSession   = errors.New("session id is required")
	ErrEmptyPrompt = errors.New("prompt is empty")
)

var newMessageID = func() string { return uuid.NewString() }

// Backend is the daemon surface the controller calls.
type Backend interface {
	SubmitTurn(ctx context.Context, id string, req client.SubmitTurnRequest) (*client.SubmitTurnResponse, error)
	Cancel(ctx context.Context, id string) error
	RespondPermission(ctx context.Context, id, requestID, selectedOption string) error
	RespondAskUser(ctx context.Context, id, requestID string, cancelled bool, answers []types.AskUserAnswer) error
	RestartSession(ctx context.Context, id string) (string, error)
}

// Streams is the part of the transport manager the controller drives.
type Streams interface {
	Ensure(id string) error
	WaitReady(ctx context.Context, id string) bool
	SetRunning(id string, running bool)
	Replace(oldID, newID string) error
}

// CommandResolver expands a slash command into the prompt sent to the agent.
type CommandResolver func(ctx context.Context, sessionID, prompt string) (string, error)

// TurnParams are the per-turn model settings. Empty fields keep the
// session's current value.
type TurnParams struct {
	Model           string
	ReasoningEffort string
	AutonomyLevel   string
}

type Option func(*Controller)

func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func WithCommandResolver(resolver CommandResolver) Option {
	return func(c *Controller) { c.resolver = resolver }
}

func WithRetry(policy RetryPolicy) Option {
	return func(c *Controller) { c.retry = policy.withDefaults() }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

type Controller struct {
	registry *registry.Registry
	streams  Streams
	backend  Backend
	resolver CommandResolver
	retry    RetryPolicy
	logger   logging.Logger
	tracer   trace.Tracer
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(reg *registry.Registry, streams Streams, backend Backend, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		registry: reg,
		streams:  streams,
		backend:  backend,
		retry:    DefaultRetryPolicy(),
		logger:   logging.Nop(),
		tracer:   otel.Tracer("console/internal/session"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "session"))
	return c
}

// Submit appends the prompt as an optimistic user message and dispatches it.
// When the session was cancelled or replaced while the dispatch was in
// flight it returns nil and only settles the message's pending-send mark.
func (c *Controller) Submit(ctx context.Context, id, prompt string, params TurnParams) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNoSession
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if err := c.streams.Ensure(id); err != nil {
		return err
	}

	gen := c.registry.Generation(id)
	msgID := newMessageID()
	injected := false
	c.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		injected = buf.IsRunning
		return reducer.AppendUserMessage(buf, types.Message{
			ID:        msgID,
			Blocks:    promptBlocks(prompt),
			Timestamp: c.now(),
		})
	})
	c.streams.SetRunning(id, true)

	ctx, span := c.tracer.Start(ctx, "session.submit", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("message.id", msgID),
		attribute.Bool("turn.injected", injected),
	))
	defer span.End()

	text := prompt
	if c.resolver != nil && strings.HasPrefix(prompt, "/") {
		resolved, err := c.resolver(ctx, id, prompt)
		if !c.current(id, gen, span) {
			return nil
		}
		if err != nil {
			return c.dispatchFailed(id, msgID, injected, fmt.Errorf("resolve command: %w", err), span)
		}
		text = resolved
	}

	if !c.streams.WaitReady(ctx, id) {
		span.AddEvent("stream not ready")
	}
	if !c.current(id, gen, span) {
		return nil
	}

	_, err := c.backend.SubmitTurn(ctx, id, client.SubmitTurnRequest{
		Text:            text,
		MessageID:       msgID,
		Model:           params.Model,
		ReasoningEffort: params.ReasoningEffort,
		AutonomyLevel:   params.AutonomyLevel,
	})
	if err == nil {
		c.settlePendingSend(id, msgID)
		return nil
	}
	if !c.current(id, gen, span) {
		c.settlePendingSend(id, msgID)
		return nil
	}
	return c.dispatchFailed(id, msgID, injected, err, span)
}

// settlePendingSend clears the pending-send mark for msgID in whichever
// buffer now holds the message. A replacement during dispatch moves it to
// another id.
func (c *Controller) settlePendingSend(id, msgID string) {
	holder := ""
	if buf, ok := c.registry.Get(id); ok && buf.HasPendingSend(msgID) {
		holder = id
	} else {
		for _, other := range c.registry.IDs() {
			if buf, ok := c.registry.Get(other); ok && buf.HasPendingSend(msgID) {
				holder = other
				break
			}
		}
	}
	if holder == "" {
		return
	}
	c.registry.Update(holder, func(buf *types.SessionBuffer) *types.SessionBuffer {
		return reducer.ClearPendingSend(buf, msgID)
	})
}

// dispatchFailed reports a failed dispatch. A failed first message becomes
// an error message in the conversation. A message injected into a running
// turn only leaves a trace line and the turn is ended locally.
func (c *Controller) dispatchFailed(id, msgID string, injected bool, err error, span trace.Span) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn("dispatch_failed", logging.Session(id), logging.F("injected", injected), logging.Err(err))
	at := c.now()
	if injected {
		c.registry.AppendTrace(id, "dispatch failed: "+err.Error())
		c.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
			return reducer.ForceEndTurn(buf, at)
		})
	} else {
		c.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
			return reducer.AppendError(reducer.ClearPendingSend(buf, msgID), "Failed to send message: "+err.Error(), at)
		})
	}
	c.streams.SetRunning(id, false)
	return fmt.Errorf("submit turn: %w", err)
}

func (c *Controller) current(id string, gen uint64, span trace.Span) bool {
	if c.registry.IsGenerationCurrent(id, gen) {
		return true
	}
	span.AddEvent("stale generation")
	c.logger.Debug("continuation_discarded", logging.Session(id), logging.F("generation", gen))
	return false
}

// Cancel asks the agent to stop the running turn. The turn keeps its running
// state until the agent confirms with a turn end.
func (c *Controller) Cancel(id string) {
	buf, ok := c.registry.Get(id)
	if !ok || (!buf.IsRunning && len(buf.PendingSendMessageIDs) == 0) {
		return
	}
	c.registry.BumpGeneration(id)
	c.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		next := buf
		for _, pending := range buf.PendingSendMessageIDs {
			next = reducer.ClearPendingSend(next, pending)
		}
		if next.IsRunning {
			next = reducer.SetCancelling(next, true)
		}
		return next
	})
	c.registry.AppendTrace(id, "cancel requested")
	c.fireAndForget(id, "cancel", func(ctx context.Context) error {
		return c.backend.Cancel(ctx, id)
	})
}

// ForceCancel ends the turn locally without waiting for the agent. Open tool
// calls of the latest assistant message are marked cancelled and both
// request queues are cleared.
func (c *Controller) ForceCancel(id string) {
	if _, ok := c.registry.Get(id); !ok {
		return
	}
	c.registry.BumpGeneration(id)
	at := c.now()
	c.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		return reducer.ForceEndTurn(buf, at)
	})
	c.streams.SetRunning(id, false)
	c.registry.AppendTrace(id, "turn force-cancelled")
	c.fireAndForget(id, "cancel", func(ctx context.Context) error {
		return c.backend.Cancel(ctx, id)
	})
}

// RespondPermission answers a queued permission request. The answer is sent
// only by the caller that removes the request from the queue; it reports
// whether that was this call.
func (c *Controller) RespondPermission(id, requestID, selectedOption string) bool {
	removed := false
	c.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		var callIDs []string
		for _, req := range buf.PendingPermissions {
			if req.RequestID == requestID {
				callIDs = req.CallIDs()
				break
			}
		}
		next, ok := reducer.RemovePermission(buf, requestID)
		removed = ok
		if ok && protocol.IsCancelOption(selectedOption) {
			next = reducer.MarkToolsCancelled(next, callIDs)
		}
		return next
	})
	if !removed {
		return false
	}
	c.fireAndForget(id, "respond_permission", func(ctx context.Context) error {
		return c.backend.RespondPermission(ctx, id, requestID, selectedOption)
	})
	return true
}

// RespondAskUser answers a queued ask-user request with the same
// exactly-once rule as RespondPermission.
func (c *Controller) RespondAskUser(id, requestID string, cancelled bool, answers []types.AskUserAnswer) bool {
	removed := false
	c.registry.Update(id, func(buf *types.SessionBuffer) *types.SessionBuffer {
		next, ok := reducer.RemoveAskUser(buf, requestID)
		removed = ok
		return next
	})
	if !removed {
		return false
	}
	c.fireAndForget(id, "respond_ask_user", func(ctx context.Context) error {
		return c.backend.RespondAskUser(ctx, id, requestID, cancelled, answers)
	})
	return true
}

// ReplaceSessionID moves a session to the id the agent now uses. The buffer,
// the stream subscription and the foreground selection follow.
func (c *Controller) ReplaceSessionID(oldID, newID string) error {
	if newID == "" || oldID == newID {
		return nil
	}
	if _, err := c.registry.Replace(oldID, newID); err != nil {
		return err
	}
	if err := c.streams.Replace(oldID, newID); err != nil {
		return fmt.Errorf("replace stream: %w", err)
	}
	c.logger.Info("session_replaced", logging.F("old_session_id", oldID), logging.Session(newID))
	return nil
}

// Restart restarts the agent behind id, for example after a key rotation,
// and returns the id the session now runs under. The new id is applied only
// when nothing invalidated the session meanwhile.
func (c *Controller) Restart(ctx context.Context, id string) (string, error) {
	gen := c.registry.Generation(id)
	ctx, span := c.tracer.Start(ctx, "session.restart", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	newID, err := c.backend.RestartSession(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.registry.AppendTrace(id, "restart failed: "+err.Error())
		return "", fmt.Errorf("restart session: %w", err)
	}
	if !c.current(id, gen, span) {
		return newID, nil
	}
	if newID != id {
		if err := c.ReplaceSessionID(id, newID); err != nil {
			return "", err
		}
	}
	return newID, nil
}

// Wait blocks until every fire-and-forget call has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close abandons pending retries and waits for in-flight calls or ctx.
func (c *Controller) Close(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) fireAndForget(id, op string, call func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.retry.do(c.ctx, call); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Warn("call_failed", logging.Session(id), logging.F("op", op), logging.Err(err))
			c.registry.AppendTrace(id, op+" failed: "+err.Error())
		}
	}()
}

// promptBlocks splits a leading slash command into its own tag block.
func promptBlocks(prompt string) []types.Block {
	if !strings.HasPrefix(prompt, "/") {
		return []types.Block{{Kind: types.BlockText, Text: prompt}}
	}
	command, rest, _ := strings.Cut(prompt, " ")
	blocks := []types.Block{{Kind: types.BlockCommandTag, Text: command}}
	if rest = strings.TrimSpace(rest); rest != "" {
		blocks = append(blocks, types.Block{Kind: types.BlockText, Text: rest})
	}
	return blocks
}
