package usecase

import (
	"context"
	"time"

	"lead-qualifier/internal/domain"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Generator produces text from instructions plus an input transcript.
type Generator interface {
	Generate(ctx context.Context, model, instructions, input string) (string, error)
	GenerateJSON(ctx context.Context, model, instructions, input string) (string, error)
}

// Sender delivers a message through the chat gateway.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (domain.SendResult, error)
}

type ConversationStore interface {
	GetConversation(ctx context.Context, conversationID string) (*domain.ConversationState, error)
	SaveConversation(ctx context.Context, state *domain.ConversationState) error
}

// BufferStore holds inbound texts until their debounce window closes.
type BufferStore interface {
	AppendPending(ctx context.Context, conversationID string, msg domain.PendingMessage) error
	DrainPending(ctx context.Context, conversationID string) ([]domain.PendingMessage, error)
	SetPendingTask(ctx context.Context, conversationID, taskName string, expiresAtMillis int64) error
}

type LeadStore interface {
	FindLeadByConversationID(ctx context.Context, conversationID string) (*domain.Lead, error)
	FindLead(ctx context.Context, phone, listingCode string) (*domain.Lead, error)
	UpsertLeadChatInfo(ctx context.Context, lead domain.Lead) error
	UpdateLeadStatus(ctx context.Context, phone, listingCode string, status domain.LeadStatus) error
}

type ListingStore interface {
	GetListing(ctx context.Context, code string) (*domain.Listing, error)
}

type QualifiedLeadStore interface {
	PutQualifiedLead(ctx context.Context, q domain.QualifiedLead) error
}

type BotConfigStore interface {
	GetBotConfig(ctx context.Context) (domain.BotConfig, error)
}

// StateCache is a best-effort, process-local view of conversation state.
type StateCache interface {
	Get(keys ...string) (*domain.ConversationState, bool)
	Put(state *domain.ConversationState, keys ...string)
}

// Debouncer restarts a conversation's quiet period.
type Debouncer interface {
	Reschedule(ctx context.Context, conversationID string) (domain.Task, error)
	Delay() time.Duration
}
