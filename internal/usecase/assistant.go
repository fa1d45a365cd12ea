package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"lead-qualifier/internal/domain"
)

var errEmptyGeneration = errors.New("usecase: generator returned empty text")

// Assistant binds the generator to the configured model and prompts.
type Assistant struct {
	gen      Generator
	settings *Settings
}

func NewAssistant(gen Generator, settings *Settings) (*Assistant, error) {
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if settings == nil {
		return nil, errors.New("usecase: settings must not be nil")
	}
	return &Assistant{gen: gen, settings: settings}, nil
}

func (a *Assistant) model(ctx context.Context) (string, error) {
	cfg, err := a.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	return cfg.Model, nil
}

// Reply generates the next assistant turn for state and decodes its outcome.
func (a *Assistant) Reply(ctx context.Context, state *domain.ConversationState, style domain.BotStyle) (Reply, error) {
	model, err := a.model(ctx)
	if err != nil {
		return Reply{}, err
	}
	raw, err := a.gen.Generate(ctx, model, buildReplyInstructions(state, style), buildTranscript(state.History))
	if err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return Reply{}, errEmptyGeneration
	}
	return ParseReply(raw), nil
}

// ExtractName returns the name the counterparty introduced themselves with,
// or "" when none is evident.
func (a *Assistant) ExtractName(ctx context.Context, history []domain.HistoryItem) (string, error) {
	if !hasUserContent(history) {
		return "", nil
	}
	model, err := a.model(ctx)
	if err != nil {
		return "", err
	}
	out, err := a.gen.Generate(ctx, model, nameExtractionPrompt, buildTranscript(history))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" || strings.EqualFold(out, "UNKNOWN") {
		return "", nil
	}
	return strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(out)), nil
}

type summaryPayload struct {
	Name              any `json:"name"`
	People            any `json:"people"`
	Income            any `json:"income"`
	Pets              any `json:"pets"`
	PaymentMethod     any `json:"paymentMethod"`
	Dates             any `json:"dates"`
	VisitAvailability any `json:"visitAvailability"`
	Notes             any `json:"notes"`
}

// Summarize extracts qualification attributes from the transcript. A
// conversation without user turns yields an empty summary without a call.
func (a *Assistant) Summarize(ctx context.Context, state *domain.ConversationState) (domain.LeadSummary, error) {
	if !hasUserContent(state.History) {
		return domain.LeadSummary{}, nil
	}
	model, err := a.model(ctx)
	if err != nil {
		return domain.LeadSummary{}, err
	}
	out, err := a.gen.GenerateJSON(ctx, model, buildSummaryInstructions(state.OperationKind), buildTranscript(state.History))
	if err != nil {
		return domain.LeadSummary{}, err
	}
	return parseSummary(out), nil
}

// parseSummary reads the outermost JSON object in out. Missing, non-string
// or unparseable fields are left empty.
func parseSummary(out string) domain.LeadSummary {
	candidate := strings.TrimSpace(out)
	start, end := strings.Index(candidate, "{"), strings.LastIndex(candidate, "}")
	if start != -1 && end > start {
		candidate = candidate[start : end+1]
	}
	var p summaryPayload
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		slog.Warn("lead summary is not valid JSON", "err", err)
		return domain.LeadSummary{}
	}
	return domain.LeadSummary{
		Name:              summaryString(p.Name),
		People:            summaryString(p.People),
		Income:            summaryString(p.Income),
		Pets:              summaryString(p.Pets),
		PaymentMethod:     summaryString(p.PaymentMethod),
		Dates:             summaryString(p.Dates),
		VisitAvailability: summaryString(p.VisitAvailability),
		Notes:             summaryString(p.Notes),
	}
}

func summaryString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Translate renders listing text in British English. Failures keep the
// source text.
func (a *Assistant) Translate(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	model, err := a.model(ctx)
	if err != nil {
		slog.Warn("translation skipped", "err", err)
		return text
	}
	out, err := a.gen.Generate(ctx, model, translationPrompt, text)
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Warn("translation failed, keeping source text", "err", err)
		return text
	}
	return strings.TrimSpace(out)
}
