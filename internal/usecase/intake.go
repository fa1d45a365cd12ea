package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"lead-qualifier/internal/domain"
)

const defaultMaxParallel = 8

// StateResolver is the part of Resolver the intake pipeline needs.
type StateResolver interface {
	Ensure(ctx context.Context, conversationID, counterpartyHint string) (*domain.ConversationState, error)
	Refresh(ctx context.Context, conversationID string) (*domain.ConversationState, error)
	Remember(state *domain.ConversationState)
}

// TurnProcessor runs one dialogue turn.
type TurnProcessor interface {
	Process(ctx context.Context, state *domain.ConversationState, batch []domain.PendingMessage) (TurnResult, error)
}

// ReceiveResult counts conversations by what happened to their messages.
type ReceiveResult struct {
	Buffered int
	Skipped  int
	Failed   int
}

// FireResult describes one delayed-fire callback.
type FireResult struct {
	Drained   int
	Processed bool
	Outcome   domain.Outcome
}

// Intake buffers inbound messages per conversation and processes each burst
// once its quiet period ends.
type Intake struct {
	resolver    StateResolver
	buffer      BufferStore
	debouncer   Debouncer
	engine      TurnProcessor
	maxParallel int
}

type IntakeOption func(*Intake)

// WithMaxParallel bounds how many conversations of one webhook call are
// handled at once.
func WithMaxParallel(n int) IntakeOption {
	return func(i *Intake) {
		if n > 0 {
			i.maxParallel = n
		}
	}
}

func NewIntake(resolver StateResolver, buffer BufferStore, debouncer Debouncer, engine TurnProcessor, opts ...IntakeOption) (*Intake, error) {
	switch {
	case resolver == nil:
		return nil, errors.New("usecase: state resolver must not be nil")
	case buffer == nil:
		return nil, errors.New("usecase: buffer store must not be nil")
	case debouncer == nil:
		return nil, errors.New("usecase: debouncer must not be nil")
	case engine == nil:
		return nil, errors.New("usecase: turn processor must not be nil")
	}
	i := &Intake{
		resolver:    resolver,
		buffer:      buffer,
		debouncer:   debouncer,
		engine:      engine,
		maxParallel: defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// BufferDelaySeconds is the quiet period reported back to the webhook caller.
func (i *Intake) BufferDelaySeconds() int {
	return int(i.debouncer.Delay().Seconds())
}

type receiveStatus int

const (
	statusBuffered receiveStatus = iota
	statusSkipped
	statusFailed
)

// Receive buffers messages and restarts each conversation's quiet period.
// Conversations are handled concurrently and independently; only a cancelled
// context is reported as an error.
func (i *Intake) Receive(ctx context.Context, msgs []domain.InboundMessage) (ReceiveResult, error) {
	groups, order := groupByConversation(msgs)
	statuses := make([]receiveStatus, len(order))

	var g errgroup.Group
	g.SetLimit(i.maxParallel)
	for idx, id := range order {
		g.Go(func() error {
			statuses[idx] = i.receiveOne(ctx, id, groups[id])
			return nil
		})
	}
	_ = g.Wait()

	var res ReceiveResult
	for _, s := range statuses {
		switch s {
		case statusBuffered:
			res.Buffered++
		case statusSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("usecase: receive: %w", err)
	}
	return res, nil
}

func (i *Intake) receiveOne(ctx context.Context, id string, msgs []domain.InboundMessage) receiveStatus {
	state, err := i.resolver.Ensure(ctx, id, msgs[0].SenderAddress)
	if errors.Is(err, ErrConversationNotFound) {
		slog.Warn("no conversation or lead for chat, skipping", "conversationId", id)
		return statusSkipped
	}
	if err != nil {
		slog.Error("failed to resolve conversation", "conversationId", id, "err", err)
		return statusFailed
	}
	if state.IsTerminal {
		slog.Info("conversation already finished, ignoring messages", "conversationId", state.ConversationID, "count", len(msgs))
		return statusSkipped
	}

	for _, m := range msgs {
		if err := i.buffer.AppendPending(ctx, state.ConversationID, domain.PendingMessage{
			Text:            m.Text,
			TimestampMillis: m.TimestampMillis,
		}); err != nil {
			slog.Error("failed to buffer message", "conversationId", state.ConversationID, "err", err)
			return statusFailed
		}
	}

	task, err := i.debouncer.Reschedule(ctx, state.ConversationID)
	if err != nil {
		slog.Error("failed to schedule buffer processing", "conversationId", state.ConversationID, "err", err)
		return statusFailed
	}
	if err := i.buffer.SetPendingTask(ctx, state.ConversationID, task.ID, task.FiresAt.UnixMilli()); err != nil {
		slog.Warn("failed to record pending task", "conversationId", state.ConversationID, "err", err)
	}
	slog.Info("messages buffered", "conversationId", state.ConversationID, "count", len(msgs), "firesAt", task.FiresAt)
	return statusBuffered
}

// Fire drains the buffer of a conversation and processes the burst. Store
// failures on the drain are returned so the caller can retry; everything
// after a successful drain is logged, since the burst has been consumed.
func (i *Intake) Fire(ctx context.Context, conversationID string) (FireResult, error) {
	batch, err := i.buffer.DrainPending(ctx, conversationID)
	if err != nil {
		return FireResult{}, fmt.Errorf("usecase: drain buffer: %w", err)
	}
	if len(batch) == 0 {
		slog.Info("buffer already drained", "conversationId", conversationID)
		return FireResult{}, nil
	}
	res := FireResult{Drained: len(batch)}

	state, err := i.resolver.Refresh(ctx, conversationID)
	if errors.Is(err, ErrConversationNotFound) {
		slog.Warn("drained messages for unknown conversation", "conversationId", conversationID, "count", len(batch))
		return res, nil
	}
	if err != nil {
		slog.Error("failed to load conversation for drained batch", "conversationId", conversationID, "err", err)
		return res, nil
	}

	turn, err := i.engine.Process(ctx, state, batch)
	i.resolver.Remember(state)
	res.Outcome = turn.Outcome
	if err != nil {
		slog.Error("dialogue turn failed", "conversationId", conversationID, "err", err)
		return res, nil
	}
	res.Processed = !turn.Skipped
	return res, nil
}

// groupByConversation buckets messages by chat id, keeping first-seen order.
func groupByConversation(msgs []domain.InboundMessage) (map[string][]domain.InboundMessage, []string) {
	groups := make(map[string][]domain.InboundMessage)
	var order []string
	for _, m := range msgs {
		if _, seen := groups[m.ConversationID]; !seen {
			order = append(order, m.ConversationID)
		}
		groups[m.ConversationID] = append(groups[m.ConversationID], m)
	}
	return groups, order
}
