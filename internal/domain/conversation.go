package domain

// Role identifies who authored a history item.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// OperationKind is the listing operation the conversation is about.
type OperationKind string

const (
	OperationSale   OperationKind = "Venta"
	OperationRental OperationKind = "Alquiler"
)

// IsSale reports whether the operation is a sale. Anything else is framed as a rental.
func (k OperationKind) IsSale() bool { return k == OperationSale }

// InboundMessage is one normalized message extracted from a webhook call.
type InboundMessage struct {
	ConversationID  string
	SenderAddress   string
	Text            string
	TimestampMillis int64
}

// PendingMessage is an inbound text waiting in the buffer for the next drain.
type PendingMessage struct {
	Text            string `json:"text"`
	TimestampMillis int64  `json:"timestamp"`
}

// HistoryItem is a single dialogue turn.
type HistoryItem struct {
	Role            Role   `json:"role"`
	Text            string `json:"text"`
	TimestampMillis int64  `json:"timestamp"`
}

// DialogueContext is the static listing context handed to the generator.
type DialogueContext struct {
	Description                  string
	Link                         string
	Features                     string
	ProfitabilityReport          string
	ProfitabilityReportAvailable bool
}

// ConversationState is the authoritative aggregate for one conversation.
// IsTerminal is true exactly when QualificationOutcome is set.
type ConversationState struct {
	ConversationID      string
	CounterpartyAddress string
	ListingReference    string
	OperationKind       OperationKind
	Context             DialogueContext
	DetectedName        string
	History             []HistoryItem

	QualificationOutcome *bool
	IsTerminal           bool

	PendingTaskHandle string
	PendingTaskExpiry int64
	FollowUpSent      bool
}

// Clone returns a deep copy so cached values never alias live state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]HistoryItem(nil), s.History...)
	if s.QualificationOutcome != nil {
		v := *s.QualificationOutcome
		out.QualificationOutcome = &v
	}
	return &out
}

// LastTimestamp returns the newest history timestamp, or zero for an empty history.
func (s *ConversationState) LastTimestamp() int64 {
	var last int64
	for _, item := range s.History {
		if item.TimestampMillis > last {
			last = item.TimestampMillis
		}
	}
	return last
}

// Outcome derives the typed outcome; a nil QualificationOutcome is still active.
func (s *ConversationState) Outcome() Outcome {
	switch {
	case s.QualificationOutcome == nil:
		return OutcomeActive
	case *s.QualificationOutcome:
		return OutcomeQualified
	default:
		return OutcomeRejected
	}
}

// Finish moves the state into a terminal outcome. Active is ignored.
func (s *ConversationState) Finish(o Outcome) {
	if o == OutcomeActive {
		return
	}
	qualified := o == OutcomeQualified
	s.QualificationOutcome = &qualified
	s.IsTerminal = true
}

// Outcome is the typed result of a dialogue turn.
type Outcome int

const (
	OutcomeActive Outcome = iota
	OutcomeQualified
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQualified:
		return "qualified"
	case OutcomeRejected:
		return "rejected"
	default:
		return "active"
	}
}

// IsTerminal reports whether the outcome ends the dialogue.
func (o Outcome) IsTerminal() bool { return o != OutcomeActive }
