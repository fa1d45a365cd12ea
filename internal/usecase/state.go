package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lead-qualifier/internal/chatid"
	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/repository"
)

// Translator renders listing text in the secondary dialogue language.
type Translator interface {
	Translate(ctx context.Context, text string) string
}

// Resolver finds or builds the authoritative state of a conversation. The
// cache is consulted first but never trusted over the store on the fire path.
type Resolver struct {
	cache      StateCache
	store      ConversationStore
	leads      LeadStore
	listings   ListingStore
	translator Translator
	sender     Sender
	openers    Openers
	now        func() time.Time
}

type ResolverOption func(*Resolver)

func WithOpeners(o Openers) ResolverOption {
	return func(r *Resolver) { r.openers = o }
}

func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewResolver(c StateCache, store ConversationStore, leads LeadStore, listings ListingStore, tr Translator, sender Sender, opts ...ResolverOption) (*Resolver, error) {
	switch {
	case c == nil:
		return nil, errors.New("usecase: state cache must not be nil")
	case store == nil:
		return nil, errors.New("usecase: conversation store must not be nil")
	case leads == nil:
		return nil, errors.New("usecase: lead store must not be nil")
	case listings == nil:
		return nil, errors.New("usecase: listing store must not be nil")
	case tr == nil:
		return nil, errors.New("usecase: translator must not be nil")
	case sender == nil:
		return nil, errors.New("usecase: sender must not be nil")
	}
	r := &Resolver{
		cache:      c,
		store:      store,
		leads:      leads,
		listings:   listings,
		translator: tr,
		sender:     sender,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Ensure returns the state for conversationID, trying the cache, then the
// store, then reconstructing it from the lead and listing. It returns
// ErrConversationNotFound when none of them know the chat.
func (r *Resolver) Ensure(ctx context.Context, conversationID, counterpartyHint string) (*domain.ConversationState, error) {
	candidates := chatid.Resolve(conversationID).Candidates()
	if len(candidates) == 0 {
		return nil, ErrConversationNotFound
	}

	if state, ok := r.cache.Get(candidates...); ok {
		return state, nil
	}

	state, err := r.load(ctx, candidates)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	return r.reconstruct(ctx, candidates, counterpartyHint)
}

// Refresh reloads state from the store, bypassing a possibly stale cache, and
// falls back to Ensure when the store has no record.
func (r *Resolver) Refresh(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	state, err := r.load(ctx, chatid.Resolve(conversationID).Candidates())
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}
	return r.Ensure(ctx, conversationID, "")
}

// Remember caches state under every form of its chat id.
func (r *Resolver) Remember(state *domain.ConversationState) {
	if state == nil {
		return
	}
	r.cache.Put(state, chatid.Resolve(state.ConversationID).Candidates()...)
}

func (r *Resolver) load(ctx context.Context, candidates []string) (*domain.ConversationState, error) {
	for _, id := range candidates {
		state, err := r.store.GetConversation(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("usecase: load conversation %s: %w", id, err)
		}
		r.cache.Put(state, append(candidates, state.ConversationID)...)
		return state, nil
	}
	return nil, ErrConversationNotFound
}

func (r *Resolver) reconstruct(ctx context.Context, candidates []string, counterpartyHint string) (*domain.ConversationState, error) {
	var (
		lead *domain.Lead
		id   string
	)
	for _, c := range candidates {
		l, err := r.leads.FindLeadByConversationID(ctx, c)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("usecase: find lead %s: %w", c, err)
		}
		lead, id = l, c
		break
	}
	if lead == nil {
		return nil, ErrConversationNotFound
	}

	listing, err := r.listings.GetListing(ctx, lead.ListingCode)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Warn("lead references a missing listing", "conversationId", id, "listingCode", lead.ListingCode)
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("usecase: get listing %s: %w", lead.ListingCode, err)
	}

	phone := lead.Phone
	if phone == "" {
		phone = counterpartyHint
	}
	openers := r.openingTurns(ctx, listing, phone)
	state := newState(id, phone, listing, openers.features, openers.history)

	if err := r.store.SaveConversation(ctx, state); err != nil {
		return nil, fmt.Errorf("usecase: persist reconstructed conversation: %w", err)
	}
	r.cache.Put(state, candidates...)
	slog.Info("conversation reconstructed from lead", "conversationId", id, "listingCode", listing.Code)
	return state, nil
}

type openingTurns struct {
	features string
	messages []string
	history  []domain.HistoryItem
}

// openingTurns composes the two openers in the counterparty's language and
// stamps them at strictly increasing times.
func (r *Resolver) openingTurns(ctx context.Context, listing *domain.Listing, phone string) openingTurns {
	lang := ResolveLanguage(phone)
	features := listing.Features
	if lang == LanguageEnglish {
		features = r.translator.Translate(ctx, features)
	}
	messages := r.openers.Compose(listing.OperationKind, listing.Link, features, lang)
	base := r.now().UnixMilli()
	history := make([]domain.HistoryItem, len(messages))
	for i, m := range messages {
		history[i] = domain.HistoryItem{Role: domain.RoleAssistant, Text: m, TimestampMillis: base + int64(i)}
	}
	return openingTurns{features: features, messages: messages, history: history}
}

func newState(id, phone string, listing *domain.Listing, features string, history []domain.HistoryItem) *domain.ConversationState {
	return &domain.ConversationState{
		ConversationID:      id,
		CounterpartyAddress: phone,
		ListingReference:    listing.Code,
		OperationKind:       listing.OperationKind,
		Context: domain.DialogueContext{
			Description:                  listing.Description,
			Link:                         listing.Link,
			Features:                     features,
			ProfitabilityReport:          listing.ProfitabilityReport,
			ProfitabilityReportAvailable: listing.ProfitabilityReportAvailable,
		},
		History: history,
	}
}

// knownLeadName returns the name already recorded for a returning lead.
func (r *Resolver) knownLeadName(ctx context.Context, chatID, phone, listingCode string) string {
	known, err := r.leads.FindLead(ctx, phone, listingCode)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("failed to look up existing lead", "conversationId", chatID, "err", err)
		}
		return ""
	}
	return strings.TrimSpace(known.Name)
}

// StartInput requests a new conversation about a listing.
type StartInput struct {
	Phone       string
	ListingCode string
}

// Start opens a conversation: it sends both openers to phone, links the lead
// to the resulting chat and persists the new state. It returns the chat id.
func (r *Resolver) Start(ctx context.Context, in StartInput) (string, error) {
	phone := strings.TrimSpace(in.Phone)
	code := strings.TrimSpace(in.ListingCode)
	if phone == "" || code == "" {
		return "", newError(ErrorInvalidInput, "phone_and_listing_required", nil)
	}

	listing, err := r.listings.GetListing(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return "", newError(ErrorNotFound, "listing_not_found", err)
	}
	if err != nil {
		return "", newError(ErrorInternal, "listing_lookup_error", err)
	}

	turns := r.openingTurns(ctx, listing, phone)
	var chatID string
	for _, body := range turns.messages {
		res, err := r.sender.Send(ctx, domain.OutboundMessage{To: phone, Body: body, ConversationID: chatID})
		if err != nil {
			return "", upstreamError("opening_send_error", err)
		}
		if res.ConversationID != "" {
			chatID = res.ConversationID
		}
	}
	if chatID == "" {
		chatID = chatid.AddressFor(phone)
		slog.Info("gateway returned no chat id, using derived one", "conversationId", chatID)
	}

	knownName := r.knownLeadName(ctx, chatID, phone, listing.Code)
	if err := r.leads.UpsertLeadChatInfo(ctx, domain.Lead{
		Phone:          phone,
		ListingCode:    listing.Code,
		ConversationID: chatID,
		OperationKind:  listing.OperationKind,
	}); err != nil {
		slog.Error("failed to link lead to chat", "conversationId", chatID, "err", err)
	}

	state := newState(chatID, phone, listing, turns.features, turns.history)
	state.DetectedName = knownName
	if err := r.store.SaveConversation(ctx, state); err != nil {
		return "", newError(ErrorInternal, "conversation_persist_error", err)
	}
	r.Remember(state)
	return chatID, nil
}
