package domain

import "time"

// LeadStatus tracks qualification independently of conversation history.
type LeadStatus string

const (
	LeadNotQualified LeadStatus = "not_qualified"
	LeadQualified    LeadStatus = "qualified"
	LeadRejected     LeadStatus = "rejected"
)

// Lead links a counterparty to a listing.
type Lead struct {
	Phone          string
	ListingCode    string
	ConversationID string
	OperationKind  OperationKind
	Name           string
	Status         LeadStatus
}

// Listing is the static property record a lead is interested in.
type Listing struct {
	Code                         string
	Description                  string
	Link                         string
	OperationKind                OperationKind
	Features                     string
	ProfitabilityReport          string
	ProfitabilityReportAvailable bool
}

// QualifiedLead is the record written once a conversation qualifies.
type QualifiedLead struct {
	ID             string
	Phone          string
	ConversationID string
	ListingCode    string
	Name           string
	Summary        string
	CreatedAt      time.Time
}

// LeadSummary holds the attributes extracted at qualification time. Empty
// strings mean the attribute was not mentioned.
type LeadSummary struct {
	Name              string
	People            string
	Income            string
	Pets              string
	PaymentMethod     string
	Dates             string
	VisitAvailability string
	Notes             string
}

// BotStyle is a selectable tone for generated replies.
type BotStyle struct {
	ID             string
	Name           string
	Description    string
	PromptModifier string
}

// BotConfig selects the active style.
type BotConfig struct {
	ActiveStyleID string
	Styles        []BotStyle
}

// ActiveStyle returns the configured style, falling back to the first one.
func (c BotConfig) ActiveStyle() (BotStyle, bool) {
	for _, s := range c.Styles {
		if s.ID == c.ActiveStyleID {
			return s, true
		}
	}
	if len(c.Styles) > 0 {
		return c.Styles[0], true
	}
	return BotStyle{}, false
}
