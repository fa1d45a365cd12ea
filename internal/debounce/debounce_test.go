package debounce

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/domain"
)

// fakeTasks models a slot-per-key scheduler with a controllable clock.
type fakeTasks struct {
	mu        sync.Mutex
	now       time.Time
	slots     map[string]domain.TaskSpec
	fireAt    map[string]time.Time
	upserts   int
	upsertErr error
	getErr    error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		slots:  map[string]domain.TaskSpec{},
		fireAt: map[string]time.Time{},
	}
}

func (f *fakeTasks) Upsert(_ context.Context, spec domain.TaskSpec) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return domain.Task{}, f.upsertErr
	}
	f.upserts++
	f.slots[spec.Key] = spec
	f.fireAt[spec.Key] = f.now.Add(spec.Delay)
	return domain.Task{ID: spec.Key, FiresAt: f.fireAt[spec.Key]}, nil
}

func (f *fakeTasks) Cancel(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.slots[key]
	delete(f.slots, key)
	delete(f.fireAt, key)
	return ok, nil
}

func (f *fakeTasks) Get(_ context.Context, key string) (domain.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Task{}, false, f.getErr
	}
	at, ok := f.fireAt[key]
	return domain.Task{ID: key, FiresAt: at}, ok, nil
}

func mustScheduler(t *testing.T, tasks TaskScheduler) *Scheduler {
	t.Helper()
	s, err := New(tasks, 90*time.Second, "/buffer/process")
	require.NoError(t, err)
	return s
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, time.Second, "/p")
	require.Error(t, err)
	_, err = New(newFakeTasks(), time.Second, " ")
	require.Error(t, err)

	s, err := New(newFakeTasks(), 0, "/p")
	require.NoError(t, err)
	require.Equal(t, DefaultDelay, s.Delay())
}

func TestReschedule_LastMessageWins(t *testing.T) {
	tasks := newFakeTasks()
	s := mustScheduler(t, tasks)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Reschedule(ctx, "34600111222@s.whatsapp.net")
		require.NoError(t, err)
		tasks.now = tasks.now.Add(2 * time.Second)
	}
	require.Len(t, tasks.slots, 1, "a burst occupies a single slot")

	task, ok, err := tasks.Get(ctx, TaskKey("34600111222@s.whatsapp.net"))
	require.NoError(t, err)
	require.True(t, ok)
	last := tasks.now.Add(-2 * time.Second)
	require.Equal(t, last.Add(90*time.Second), task.FiresAt)
}

func TestReschedule_PayloadAndPath(t *testing.T) {
	tasks := newFakeTasks()
	s := mustScheduler(t, tasks)

	task, err := s.Reschedule(context.Background(), "abc@c.us")
	require.NoError(t, err)
	require.Equal(t, "buffer-abc-c-us", task.ID)

	spec := tasks.slots["buffer-abc-c-us"]
	require.Equal(t, "/buffer/process", spec.Path)
	require.Equal(t, 90*time.Second, spec.Delay)
	var p FirePayload
	require.NoError(t, json.Unmarshal(spec.Payload, &p))
	require.Equal(t, "abc@c.us", p.ConversationID)
}

func TestReschedule_ConcurrentCallsShareSlot(t *testing.T) {
	tasks := newFakeTasks()
	s := mustScheduler(t, tasks)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Reschedule(context.Background(), "same@c.us")
		}()
	}
	wg.Wait()
	require.Equal(t, 10, tasks.upserts)
	require.Len(t, tasks.slots, 1)
}

func TestReschedule_Errors(t *testing.T) {
	tasks := newFakeTasks()
	s := mustScheduler(t, tasks)
	_, err := s.Reschedule(context.Background(), " ")
	require.Error(t, err)

	tasks.upsertErr = errors.New("throttled")
	_, err = s.Reschedule(context.Background(), "a")
	require.ErrorContains(t, err, "throttled")
}

func TestCancelAndHasPending(t *testing.T) {
	tasks := newFakeTasks()
	s := mustScheduler(t, tasks)
	ctx := context.Background()

	existed, err := s.Cancel(ctx, "a")
	require.NoError(t, err)
	require.False(t, existed, "cancelling nothing is not an error")

	_, err = s.Reschedule(ctx, "a")
	require.NoError(t, err)
	pending, err := s.HasPending(ctx, "a")
	require.NoError(t, err)
	require.True(t, pending)

	existed, err = s.Cancel(ctx, "a")
	require.NoError(t, err)
	require.True(t, existed)
	pending, err = s.HasPending(ctx, "a")
	require.NoError(t, err)
	require.False(t, pending)

	tasks.getErr = errors.New("boom")
	_, err = s.HasPending(ctx, "a")
	require.Error(t, err)
}

func TestTaskKey(t *testing.T) {
	require.Equal(t, "buffer-34600111222-s-whatsapp-net", TaskKey("34600111222@s.whatsapp.net"))
	require.Equal(t, TaskKey("x y"), TaskKey("x y"))

	long := strings.Repeat("9", 120) + "@c.us"
	key := TaskKey(long)
	require.Len(t, key, maxKeyLength)
	require.Equal(t, key, TaskKey(long))
	require.NotEqual(t, key, TaskKey(strings.Repeat("9", 121)+"@c.us"))
}
