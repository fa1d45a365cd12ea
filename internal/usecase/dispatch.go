package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"lead-qualifier/internal/domain"
)

const noDataLabel = "Sin datos"

// Tokens the summarizer uses for "not mentioned", compared with whitespace
// removed and upper-cased.
var summaryEmptyTokens = map[string]struct{}{
	"SINDATOS": {}, "NODATOS": {}, "UNKNOWN": {}, "NA": {}, "N/A": {}, "NOINFO": {}, "NOHAYDATOS": {},
}

var newUUID = func() string {
	return uuid.NewString()
}

// Summarizer extracts qualification attributes from a finished conversation.
type Summarizer interface {
	Summarize(ctx context.Context, state *domain.ConversationState) (domain.LeadSummary, error)
}

// DispatchReport records the result of each side effect. A nil error with
// the action flag unset means the action did not apply.
type DispatchReport struct {
	Outcome domain.Outcome

	SummaryErr error

	Notified     bool
	NotifyErr    error
	Notification string

	RecordID  string
	RecordErr error

	StatusUpdated bool
	StatusErr     error
}

// Err joins every failure in the report.
func (r DispatchReport) Err() error {
	return errors.Join(r.SummaryErr, r.NotifyErr, r.RecordErr, r.StatusErr)
}

// Dispatcher performs the side effects of a terminal transition. Every
// action is attempted regardless of the others failing.
type Dispatcher struct {
	summarizer Summarizer
	sender     Sender
	qualified  QualifiedLeadStore
	leads      LeadStore
	settings   *Settings
	now        func() time.Time
}

func NewDispatcher(summarizer Summarizer, sender Sender, qualified QualifiedLeadStore, leads LeadStore, settings *Settings) (*Dispatcher, error) {
	switch {
	case summarizer == nil:
		return nil, errors.New("usecase: summarizer must not be nil")
	case sender == nil:
		return nil, errors.New("usecase: sender must not be nil")
	case qualified == nil:
		return nil, errors.New("usecase: qualified lead store must not be nil")
	case leads == nil:
		return nil, errors.New("usecase: lead store must not be nil")
	case settings == nil:
		return nil, errors.New("usecase: settings must not be nil")
	}
	return &Dispatcher{
		summarizer: summarizer,
		sender:     sender,
		qualified:  qualified,
		leads:      leads,
		settings:   settings,
		now:        time.Now,
	}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, state *domain.ConversationState) DispatchReport {
	report := DispatchReport{Outcome: state.Outcome()}
	switch report.Outcome {
	case domain.OutcomeQualified:
		d.qualify(ctx, state, &report)
	case domain.OutcomeRejected:
		d.updateStatus(ctx, state, domain.LeadRejected, &report)
	default:
		return report
	}
	if err := report.Err(); err != nil {
		slog.Error("outcome side effects incomplete", "conversationId", state.ConversationID, "outcome", report.Outcome.String(), "err", err)
	} else {
		slog.Info("outcome dispatched", "conversationId", state.ConversationID, "outcome", report.Outcome.String())
	}
	return report
}

func (d *Dispatcher) qualify(ctx context.Context, state *domain.ConversationState, report *DispatchReport) {
	summary, err := d.summarizer.Summarize(ctx, state)
	if err != nil {
		report.SummaryErr = fmt.Errorf("summarize: %w", err)
		summary = domain.LeadSummary{}
	}
	body := BuildQualifiedNotification(state, summary)
	report.Notification = body

	cfg, err := d.settings.Load(ctx)
	switch {
	case err != nil:
		report.NotifyErr = fmt.Errorf("load notification number: %w", err)
	case cfg.NotificationNumber == "":
		slog.Info("no notification number configured, skipping notification", "conversationId", state.ConversationID)
	default:
		if _, err := d.sender.Send(ctx, domain.OutboundMessage{To: cfg.NotificationNumber, Body: body}); err != nil {
			report.NotifyErr = fmt.Errorf("send notification: %w", err)
		} else {
			report.Notified = true
		}
	}

	record := domain.QualifiedLead{
		ID:             newUUID(),
		Phone:          state.CounterpartyAddress,
		ConversationID: state.ConversationID,
		ListingCode:    state.ListingReference,
		Name:           pickSummaryValue(summary.Name, state.DetectedName),
		Summary:        body,
		CreatedAt:      d.now(),
	}
	if err := d.qualified.PutQualifiedLead(ctx, record); err != nil {
		report.RecordErr = fmt.Errorf("save qualified lead: %w", err)
	} else {
		report.RecordID = record.ID
	}

	d.updateStatus(ctx, state, domain.LeadQualified, report)
}

func (d *Dispatcher) updateStatus(ctx context.Context, state *domain.ConversationState, status domain.LeadStatus, report *DispatchReport) {
	if err := d.leads.UpdateLeadStatus(ctx, state.CounterpartyAddress, state.ListingReference, status); err != nil {
		report.StatusErr = fmt.Errorf("update lead status: %w", err)
		return
	}
	report.StatusUpdated = true
}

// BuildQualifiedNotification formats the operator message for a qualified
// lead. Fields the summary lacks read "Sin datos".
func BuildQualifiedNotification(state *domain.ConversationState, s domain.LeadSummary) string {
	orNoData := func(v string) string {
		if v == "" {
			return noDataLabel
		}
		return v
	}
	lines := []string{
		"Lead cualificado ✅",
		"Teléfono: " + state.CounterpartyAddress,
		"Nombre: " + orNoData(pickSummaryValue(s.Name, state.DetectedName)),
	}
	if state.Context.Description != "" {
		lines = append(lines, "Propiedad: "+state.Context.Description)
	}
	lines = append(lines, "Operación: "+string(state.OperationKind))

	if state.OperationKind.IsSale() {
		lines = append(lines,
			"Forma de pago: "+orNoData(pickSummaryValue(s.PaymentMethod)),
			"Ingresos: "+orNoData(pickSummaryValue(s.Income)),
		)
	} else {
		lines = append(lines,
			"Personas: "+orNoData(pickSummaryValue(s.People)),
			"Ingresos: "+orNoData(pickSummaryValue(s.Income)),
			"Mascotas: "+orNoData(pickSummaryValue(s.Pets)),
			"Fechas: "+orNoData(pickSummaryValue(s.Dates)),
		)
	}
	lines = append(lines, "Disponibilidad visita: "+orNoData(pickSummaryValue(s.VisitAvailability)))
	if notes := pickSummaryValue(s.Notes); notes != "" {
		lines = append(lines, "Notas: "+notes)
	}
	return strings.Join(lines, "\n")
}

// pickSummaryValue returns the first candidate that carries real data.
func pickSummaryValue(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		token := strings.ToUpper(strings.Join(strings.Fields(c), ""))
		if _, empty := summaryEmptyTokens[token]; empty {
			continue
		}
		return c
	}
	return ""
}
