package domain

// OutboundMessage is a message sent through the messaging gateway. An empty
// ConversationID lets the gateway derive the chat from To.
type OutboundMessage struct {
	To             string
	Body           string
	ConversationID string
}

// SendResult is what the gateway reports back for a sent message.
type SendResult struct {
	ConversationID string
	MessageID      string
}
