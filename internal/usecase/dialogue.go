package usecase

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"lead-qualifier/internal/domain"
)

// Responder is the generation side of a dialogue turn.
type Responder interface {
	Reply(ctx context.Context, state *domain.ConversationState, style domain.BotStyle) (Reply, error)
	ExtractName(ctx context.Context, history []domain.HistoryItem) (string, error)
}

// OutcomeDispatcher runs the side effects of a terminal transition.
type OutcomeDispatcher interface {
	Dispatch(ctx context.Context, state *domain.ConversationState) DispatchReport
}

// TurnResult describes what one Process call did.
type TurnResult struct {
	Outcome  domain.Outcome
	Reply    string
	Sent     bool
	Skipped  bool
	Dispatch *DispatchReport
}

// Engine advances the qualification dialogue one batch at a time.
type Engine struct {
	store      ConversationStore
	responder  Responder
	styles     BotConfigStore
	sender     Sender
	dispatcher OutcomeDispatcher
	now        func() time.Time
}

type EngineOption func(*Engine)

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store ConversationStore, responder Responder, styles BotConfigStore, sender Sender, dispatcher OutcomeDispatcher, opts ...EngineOption) (*Engine, error) {
	switch {
	case store == nil:
		return nil, errors.New("usecase: conversation store must not be nil")
	case responder == nil:
		return nil, errors.New("usecase: responder must not be nil")
	case styles == nil:
		return nil, errors.New("usecase: bot config store must not be nil")
	case sender == nil:
		return nil, errors.New("usecase: sender must not be nil")
	case dispatcher == nil:
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	e := &Engine{
		store:      store,
		responder:  responder,
		styles:     styles,
		sender:     sender,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Process merges batch into the history of state and produces the next
// reply. Terminal conversations are left untouched. On a generation or send
// failure the conversation stays active with the user turns already saved.
func (e *Engine) Process(ctx context.Context, state *domain.ConversationState, batch []domain.PendingMessage) (TurnResult, error) {
	if state.IsTerminal {
		return TurnResult{Outcome: state.Outcome(), Skipped: true}, nil
	}
	if len(batch) == 0 {
		return TurnResult{Outcome: domain.OutcomeActive, Skipped: true}, nil
	}

	sorted := slices.Clone(batch)
	slices.SortStableFunc(sorted, func(a, b domain.PendingMessage) int {
		return cmp.Compare(a.TimestampMillis, b.TimestampMillis)
	})
	for _, m := range sorted {
		appendTurn(state, domain.RoleUser, m.Text, m.TimestampMillis)
	}

	if state.DetectedName == "" {
		name, err := e.responder.ExtractName(ctx, state.History)
		if err != nil {
			slog.Warn("name extraction failed", "conversationId", state.ConversationID, "err", err)
		} else if name != "" {
			state.DetectedName = name
		}
	}

	if err := e.store.SaveConversation(ctx, state); err != nil {
		return TurnResult{}, newError(ErrorInternal, "snapshot_persist_error", err)
	}

	reply, err := e.responder.Reply(ctx, state, e.activeStyle(ctx))
	if err != nil {
		return TurnResult{Outcome: domain.OutcomeActive}, upstreamError("generation_error", err)
	}
	if reply.Text == "" {
		return TurnResult{Outcome: domain.OutcomeActive}, newError(ErrorUpstream, "empty_reply", nil)
	}

	if _, err := e.sender.Send(ctx, domain.OutboundMessage{
		To:             state.CounterpartyAddress,
		Body:           reply.Text,
		ConversationID: state.ConversationID,
	}); err != nil {
		return TurnResult{Outcome: domain.OutcomeActive}, upstreamError("reply_send_error", err)
	}

	appendTurn(state, domain.RoleAssistant, reply.Text, e.now().UnixMilli())
	state.Finish(reply.Outcome)
	result := TurnResult{Outcome: reply.Outcome, Reply: reply.Text, Sent: true}

	persistErr := e.store.SaveConversation(ctx, state)
	if persistErr != nil {
		slog.Error("failed to persist turn", "conversationId", state.ConversationID, "err", persistErr)
	}

	if reply.Outcome.IsTerminal() {
		report := e.dispatcher.Dispatch(ctx, state)
		result.Dispatch = &report
	}

	if persistErr != nil {
		return result, newError(ErrorInternal, "turn_persist_error", persistErr)
	}
	return result, nil
}

func (e *Engine) activeStyle(ctx context.Context) domain.BotStyle {
	cfg, err := e.styles.GetBotConfig(ctx)
	if err != nil {
		slog.Warn("bot config unavailable, using default style", "err", err)
		cfg = domain.DefaultBotConfig()
	}
	style, ok := cfg.ActiveStyle()
	if !ok {
		style, _ = domain.DefaultBotConfig().ActiveStyle()
	}
	return style
}

// appendTurn keeps history non-decreasing in time by clamping ts to the
// newest existing timestamp.
func appendTurn(state *domain.ConversationState, role domain.Role, text string, ts int64) {
	if last := state.LastTimestamp(); ts < last {
		ts = last
	}
	state.History = append(state.History, domain.HistoryItem{Role: role, Text: text, TimestampMillis: ts})
}
