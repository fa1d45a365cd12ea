package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/cache"
	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/integrations/paramstore"
	"lead-qualifier/internal/repository"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// memStore is an in-memory stand-in for the DynamoDB repository with the
// same atomicity: every method holds the lock for its whole operation.
type memStore struct {
	mu sync.Mutex

	convs     map[string]*domain.ConversationState
	pending   map[string][]domain.PendingMessage
	tasks     map[string]string
	leads     map[string]*domain.Lead
	listings  map[string]*domain.Listing
	qualified []domain.QualifiedLead
	statuses  map[string]domain.LeadStatus
	botConfig *domain.BotConfig
	saves     map[string]int

	getErr       error
	saveErr      error
	saveErrAfter int
	appendErr    error
	drainErr     error
	qualifiedErr error
	statusErr    error
	botConfigErr error
	leadErr      error
	listingErr   error
}

func newMemStore() *memStore {
	return &memStore{
		convs:    map[string]*domain.ConversationState{},
		pending:  map[string][]domain.PendingMessage{},
		tasks:    map[string]string{},
		leads:    map[string]*domain.Lead{},
		listings: map[string]*domain.Listing{},
		statuses: map[string]domain.LeadStatus{},
		saves:    map[string]int{},
	}
}

func (m *memStore) GetConversation(_ context.Context, id string) (*domain.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.convs[id]
	if !ok || s.CounterpartyAddress == "" {
		return nil, repository.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) SaveConversation(_ context.Context, s *domain.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves[s.ConversationID]++
	if m.saveErr != nil && m.saves[s.ConversationID] > m.saveErrAfter {
		return m.saveErr
	}
	m.convs[s.ConversationID] = s.Clone()
	return nil
}

func (m *memStore) AppendPending(_ context.Context, id string, msg domain.PendingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.pending[id] = append(m.pending[id], msg)
	return nil
}

func (m *memStore) DrainPending(_ context.Context, id string) ([]domain.PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drainErr != nil {
		return nil, m.drainErr
	}
	msgs := m.pending[id]
	delete(m.pending, id)
	delete(m.tasks, id)
	return msgs, nil
}

func (m *memStore) SetPendingTask(_ context.Context, id, task string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id] = task
	return nil
}

func (m *memStore) FindLeadByConversationID(_ context.Context, id string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leadErr != nil {
		return nil, m.leadErr
	}
	l, ok := m.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) FindLead(_ context.Context, phone, listing string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leadErr != nil {
		return nil, m.leadErr
	}
	for _, l := range m.leads {
		if l.Phone == phone && l.ListingCode == listing {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UpsertLeadChatInfo(_ context.Context, lead domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := lead
	m.leads[lead.ConversationID] = &cp
	return nil
}

func (m *memStore) UpdateLeadStatus(_ context.Context, phone, listing string, status domain.LeadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	m.statuses[phone+"#"+listing] = status
	return nil
}

func (m *memStore) GetListing(_ context.Context, code string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listingErr != nil {
		return nil, m.listingErr
	}
	l, ok := m.listings[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) PutQualifiedLead(_ context.Context, q domain.QualifiedLead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.qualifiedErr != nil {
		return m.qualifiedErr
	}
	m.qualified = append(m.qualified, q)
	return nil
}

func (m *memStore) GetBotConfig(_ context.Context) (domain.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.botConfigErr != nil {
		return domain.BotConfig{}, m.botConfigErr
	}
	if m.botConfig != nil {
		return *m.botConfig, nil
	}
	return domain.DefaultBotConfig(), nil
}

func (m *memStore) saveCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[id]
}

func (m *memStore) stored(id string) *domain.ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs[id].Clone()
}

type generateCall struct {
	json         bool
	instructions string
	input        string
}

// fakeGenerator answers by prompt kind and records every call.
type fakeGenerator struct {
	mu sync.Mutex

	replies    []string
	replyErr   error
	name       string
	nameErr    error
	summary    string
	summaryErr error
	translate  func(string) (string, error)

	calls []generateCall
}

func (f *fakeGenerator) Generate(_ context.Context, model, instructions, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if model == "" {
		return "", errors.New("model missing")
	}
	f.calls = append(f.calls, generateCall{instructions: instructions, input: input})
	switch {
	case instructions == nameExtractionPrompt:
		return f.name, f.nameErr
	case instructions == translationPrompt:
		if f.translate == nil {
			return "EN: " + input, nil
		}
		return f.translate(input)
	default:
		if f.replyErr != nil {
			return "", f.replyErr
		}
		if len(f.replies) == 0 {
			return "", nil
		}
		r := f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
		return r, nil
	}
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _, instructions, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{json: true, instructions: instructions, input: input})
	return f.summary, f.summaryErr
}

func (f *fakeGenerator) replyCalls() []generateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []generateCall
	for _, c := range f.calls {
		if !c.json && c.instructions != nameExtractionPrompt && c.instructions != translationPrompt {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGenerator) callsWith(instructions string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.instructions == instructions {
			n++
		}
	}
	return n
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []domain.OutboundMessage
	chatID string
	err    error
	failTo string
}

func (f *fakeSender) Send(_ context.Context, msg domain.OutboundMessage) (domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && (f.failTo == "" || f.failTo == msg.To) {
		return domain.SendResult{}, f.err
	}
	f.sent = append(f.sent, msg)
	return domain.SendResult{ConversationID: f.chatID, MessageID: fmt.Sprintf("m%d", len(f.sent))}, nil
}

func (f *fakeSender) messages() []domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OutboundMessage(nil), f.sent...)
}

type fakeDebouncer struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakeDebouncer) Reschedule(_ context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Task{}, f.err
	}
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[id]++
	return domain.Task{ID: "buffer-" + id, FiresAt: testNow.Add(90 * time.Second)}, nil
}

func (f *fakeDebouncer) Delay() time.Duration { return 90 * time.Second }

func (f *fakeDebouncer) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type mapParams struct {
	vals map[string]string
	err  error
}

func (m *mapParams) GetParameter(_ context.Context, name string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("get %s: %w", name, paramstore.ErrNotFound)
	}
	return v, nil
}

func defaultParams() *mapParams {
	return &mapParams{vals: map[string]string{
		"/prefix/config/openai_model":        "gpt-test",
		"/prefix/config/notification_number": "34999000111",
	}}
}

// fixture wires the real services over in-memory fakes.
type fixture struct {
	store     *memStore
	gen       *fakeGenerator
	sender    *fakeSender
	debouncer *fakeDebouncer
	cache     *cache.Conversations
	settings  *Settings
	assistant *Assistant
	resolver  *Resolver
	engine    *Engine
	dispatch  *Dispatcher
	intake    *Intake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		gen:       &fakeGenerator{},
		sender:    &fakeSender{},
		debouncer: &fakeDebouncer{},
		cache:     cache.New(time.Minute, 100),
	}
	var err error
	f.settings, err = NewSettings(defaultParams(), "/prefix")
	require.NoError(t, err)
	f.assistant, err = NewAssistant(f.gen, f.settings)
	require.NoError(t, err)
	f.resolver, err = NewResolver(f.cache, f.store, f.store, f.store, f.assistant, f.sender,
		WithResolverClock(fixedClock),
		WithOpeners(Openers{AgentName: "Agencia Sol", ProfileURL: "https://example.test/profile"}),
	)
	require.NoError(t, err)
	f.dispatch, err = NewDispatcher(f.assistant, f.sender, f.store, f.store, f.settings)
	require.NoError(t, err)
	f.dispatch.now = fixedClock
	f.engine, err = NewEngine(f.store, f.assistant, f.store, f.sender, f.dispatch, WithEngineClock(fixedClock))
	require.NoError(t, err)
	f.intake, err = NewIntake(f.resolver, f.store, f.debouncer, f.engine, WithMaxParallel(4))
	require.NoError(t, err)
	return f
}

const testChat = "34600111222@s.whatsapp.net"

func activeState(id string) *domain.ConversationState {
	return &domain.ConversationState{
		ConversationID:      id,
		CounterpartyAddress: strings.SplitN(id, "@", 2)[0],
		ListingReference:    "REF-1",
		OperationKind:       domain.OperationRental,
		Context: domain.DialogueContext{
			Description: "Piso en el centro",
			Link:        "https://example.test/ref-1",
			Features:    "3 habitaciones, 2 baños",
		},
		DetectedName: "Ana",
		History: []domain.HistoryItem{
			{Role: domain.RoleAssistant, Text: "Hola", TimestampMillis: 1000},
			{Role: domain.RoleAssistant, Text: "¿Has visto las características?", TimestampMillis: 1001},
		},
	}
}

func (f *fixture) seed(state *domain.ConversationState) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.convs[state.ConversationID] = state.Clone()
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}
