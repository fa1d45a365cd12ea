package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/domain"
)

type countingDispatcher struct {
	mu     sync.Mutex
	states []*domain.ConversationState
}

func (d *countingDispatcher) Dispatch(_ context.Context, state *domain.ConversationState) DispatchReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, state.Clone())
	return DispatchReport{Outcome: state.Outcome(), StatusUpdated: true}
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.states)
}

type statusError struct{ code int }

func (e statusError) Error() string       { return "upstream status" }
func (e statusError) HTTPStatusCode() int { return e.code }

func newTestEngine(t *testing.T, f *fixture) (*Engine, *countingDispatcher) {
	t.Helper()
	d := &countingDispatcher{}
	e, err := NewEngine(f.store, f.assistant, f.store, f.sender, d, WithEngineClock(fixedClock))
	require.NoError(t, err)
	return e, d
}

func TestEngineProcessTerminalIsNoop(t *testing.T) {
	f := newFixture(t)
	e, d := newTestEngine(t, f)
	state := activeState(testChat)
	state.Finish(domain.OutcomeRejected)

	res, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "hola?", TimestampMillis: 5000}})
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, domain.OutcomeRejected, res.Outcome)
	require.Len(t, state.History, 2)
	require.Empty(t, f.gen.calls)
	require.Empty(t, f.sender.messages())
	require.Zero(t, f.store.saveCount(testChat))
	require.Zero(t, d.count())
}

func TestEngineProcessActiveTurn(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"Genial. ¿Cuántas personas vivirían en la vivienda?"}
	e, d := newTestEngine(t, f)
	state := activeState(testChat)

	res, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "Sí", TimestampMillis: 2000}})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeActive, res.Outcome)
	require.True(t, res.Sent)
	require.Nil(t, res.Dispatch)

	require.Len(t, state.History, 4)
	require.Equal(t, domain.HistoryItem{Role: domain.RoleUser, Text: "Sí", TimestampMillis: 2000}, state.History[2])
	require.Equal(t, domain.RoleAssistant, state.History[3].Role)
	require.Equal(t, testNow.UnixMilli(), state.History[3].TimestampMillis)
	require.False(t, state.IsTerminal)

	require.Equal(t, 2, f.store.saveCount(testChat))
	require.Len(t, f.gen.replyCalls(), 1)
	require.Zero(t, f.gen.callsWith(nameExtractionPrompt), "name already known")

	sent := f.sender.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "34600111222", sent[0].To)
	require.Equal(t, testChat, sent[0].ConversationID)
	require.Equal(t, res.Reply, sent[0].Body)

	require.Equal(t, state.History, f.store.stored(testChat).History)
	require.Zero(t, d.count())
}

func TestEngineProcessQualifiedTurnDispatchesOnce(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"¡Perfecto! Un comercial te llamará para confirmar la visita.\n[LEAD_CUALIFICADO]"}
	e, d := newTestEngine(t, f)
	state := activeState(testChat)

	res, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "Por las tardes", TimestampMillis: 2000}})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQualified, res.Outcome)
	require.NotNil(t, res.Dispatch)
	require.Equal(t, 1, d.count())

	require.True(t, state.IsTerminal)
	require.NotContains(t, state.History[len(state.History)-1].Text, markerQualified)
	stored := f.store.stored(testChat)
	require.True(t, stored.IsTerminal)
	require.NotNil(t, stored.QualificationOutcome)
	require.True(t, *stored.QualificationOutcome)

	_, err = e.Process(context.Background(), state, []domain.PendingMessage{{Text: "Gracias", TimestampMillis: 3000}})
	require.NoError(t, err)
	require.Equal(t, 1, d.count())
	require.Len(t, f.sender.messages(), 1)
}

func TestEngineProcessSortsAndClampsBatch(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"Vale"}
	e, _ := newTestEngine(t, f)
	state := activeState(testChat)

	_, err := e.Process(context.Background(), state, []domain.PendingMessage{
		{Text: "b", TimestampMillis: 3000},
		{Text: "a", TimestampMillis: 2500},
		{Text: "c", TimestampMillis: 500},
	})
	require.NoError(t, err)

	users := state.History[2:5]
	require.Equal(t, []domain.HistoryItem{
		{Role: domain.RoleUser, Text: "c", TimestampMillis: 1001},
		{Role: domain.RoleUser, Text: "a", TimestampMillis: 2500},
		{Role: domain.RoleUser, Text: "b", TimestampMillis: 3000},
	}, users)
	for i := 1; i < len(state.History); i++ {
		require.GreaterOrEqual(t, state.History[i].TimestampMillis, state.History[i-1].TimestampMillis)
	}
}

func TestEngineProcessExtractsName(t *testing.T) {
	f := newFixture(t)
	f.gen.name = "Marta"
	f.gen.replies = []string{"Encantado, Marta."}
	e, _ := newTestEngine(t, f)
	state := activeState(testChat)
	state.DetectedName = ""

	_, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "Me llamo Marta", TimestampMillis: 2000}})
	require.NoError(t, err)
	require.Equal(t, "Marta", state.DetectedName)
	require.Equal(t, 1, f.gen.callsWith(nameExtractionPrompt))
	require.Equal(t, "Marta", f.store.stored(testChat).DetectedName)
}

func TestEngineProcessNameFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.gen.nameErr = errors.New("timeout")
	f.gen.replies = []string{"¿Cómo te llamas?"}
	e, _ := newTestEngine(t, f)
	state := activeState(testChat)
	state.DetectedName = ""

	res, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "Hola", TimestampMillis: 2000}})
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Empty(t, state.DetectedName)
}

func TestEngineProcessGenerationFailureKeepsUserTurns(t *testing.T) {
	f := newFixture(t)
	f.gen.replyErr = errors.New("upstream 500")
	e, d := newTestEngine(t, f)
	state := activeState(testChat)

	res, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "Sí", TimestampMillis: 2000}})
	expectError(t, err, ErrorUpstream, "generation_error")
	require.Equal(t, domain.OutcomeActive, res.Outcome)
	require.False(t, res.Sent)

	require.Empty(t, f.sender.messages())
	require.Zero(t, d.count())
	stored := f.store.stored(testChat)
	require.False(t, stored.IsTerminal)
	require.Len(t, stored.History, 3)
	require.Equal(t, "Sí", stored.History[2].Text)
}

func TestEngineProcessRateLimited(t *testing.T) {
	f := newFixture(t)
	f.gen.replyErr = statusError{code: 429}
	e, _ := newTestEngine(t, f)

	_, err := e.Process(context.Background(), activeState(testChat), []domain.PendingMessage{{Text: "Sí", TimestampMillis: 2000}})
	expectError(t, err, ErrorRateLimited, "generation_error_rate_limited")
}

func TestEngineProcessMarkerOnlyReplyIsNotSent(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"[LEAD_CUALIFICADO]"}
	e, d := newTestEngine(t, f)
	state := activeState(testChat)

	_, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "Sí", TimestampMillis: 2000}})
	expectError(t, err, ErrorUpstream, "empty_reply")
	require.False(t, state.IsTerminal)
	require.Empty(t, f.sender.messages())
	require.Zero(t, d.count())
}

func TestEngineProcessSendFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"[LEAD_NO_INTERESADO] Gracias por tu tiempo."}
	f.sender.err = errors.New("gateway down")
	e, d := newTestEngine(t, f)
	state := activeState(testChat)

	_, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "No me interesa", TimestampMillis: 2000}})
	expectError(t, err, ErrorUpstream, "reply_send_error")
	require.False(t, state.IsTerminal)
	require.Len(t, state.History, 3)
	require.Zero(t, d.count())
}

func TestEngineProcessPersistFailureAfterSendStillDispatches(t *testing.T) {
	f := newFixture(t)
	f.gen.replies = []string{"Gracias, no te molestamos más.\n[LEAD_NO_INTERESADO]"}
	f.store.saveErr = errors.New("dynamo unavailable")
	f.store.saveErrAfter = 1
	e, d := newTestEngine(t, f)
	state := activeState(testChat)

	res, err := e.Process(context.Background(), state, []domain.PendingMessage{{Text: "No", TimestampMillis: 2000}})
	expectError(t, err, ErrorInternal, "turn_persist_error")
	require.True(t, res.Sent)
	require.Equal(t, domain.OutcomeRejected, res.Outcome)
	require.Equal(t, 1, d.count())
}

func TestEngineProcessSnapshotFailure(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("dynamo unavailable")
	e, _ := newTestEngine(t, f)

	_, err := e.Process(context.Background(), activeState(testChat), []domain.PendingMessage{{Text: "Sí", TimestampMillis: 2000}})
	expectError(t, err, ErrorInternal, "snapshot_persist_error")
	require.Empty(t, f.gen.replyCalls())
}

func TestEngineActiveStyleFallsBack(t *testing.T) {
	f := newFixture(t)
	f.store.botConfigErr = errors.New("no table")
	f.gen.replies = []string{"Vale"}
	e, _ := newTestEngine(t, f)

	_, err := e.Process(context.Background(), activeState(testChat), []domain.PendingMessage{{Text: "Sí", TimestampMillis: 2000}})
	require.NoError(t, err)

	def, _ := domain.DefaultBotConfig().ActiveStyle()
	calls := f.gen.replyCalls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].instructions, def.PromptModifier)
}

func TestEngineUsesConfiguredStyle(t *testing.T) {
	f := newFixture(t)
	f.store.botConfig = &domain.BotConfig{
		ActiveStyleID: "custom",
		Styles:        []domain.BotStyle{{ID: "custom", PromptModifier: "- Habla como un pirata."}},
	}
	f.gen.replies = []string{"Arr"}
	e, _ := newTestEngine(t, f)

	_, err := e.Process(context.Background(), activeState(testChat), []domain.PendingMessage{{Text: "Sí", TimestampMillis: 2000}})
	require.NoError(t, err)
	require.Contains(t, f.gen.replyCalls()[0].instructions, "- Habla como un pirata.")
}
