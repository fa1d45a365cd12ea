package usecase

import (
	"strings"

	"lead-qualifier/internal/domain"
)

const (
	markerQualified = "[LEAD_CUALIFICADO]"
	markerRejected  = "[LEAD_NO_INTERESADO]"
)

// Reply is a generated message with its completion signal already decoded.
type Reply struct {
	Text    string
	Outcome domain.Outcome
}

// ParseReply turns raw generated text into a Reply. It is the only place
// that matches on marker strings. The positive marker wins when both appear.
func ParseReply(raw string) Reply {
	text := strings.TrimSpace(raw)
	switch {
	case strings.Contains(text, markerQualified):
		return Reply{Text: strip(text, markerQualified), Outcome: domain.OutcomeQualified}
	case strings.Contains(text, markerRejected):
		return Reply{Text: strip(text, markerRejected), Outcome: domain.OutcomeRejected}
	default:
		return Reply{Text: text, Outcome: domain.OutcomeActive}
	}
}

func strip(text, marker string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, marker, ""))
}
