// Package debounce implements "process only after a quiet period" on top of a
// reschedulable delayed-task capability. Each conversation owns one task slot;
// every new message moves the slot's fire time forward.
package debounce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lead-qualifier/internal/domain"
)

const (
	// DefaultDelay is the quiet period after the last inbound message.
	DefaultDelay = 90 * time.Second

	keyPrefix    = "buffer-"
	maxKeyLength = 64
)

// TaskScheduler is the delayed-task capability. Upsert replaces whatever task
// occupies the key; Cancel reports false, not an error, when nothing was there.
type TaskScheduler interface {
	Upsert(ctx context.Context, spec domain.TaskSpec) (domain.Task, error)
	Cancel(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (domain.Task, bool, error)
}

// FirePayload is the body delivered to the process route when a task fires.
type FirePayload struct {
	ConversationID string `json:"conversationId"`
}

// Scheduler owns the per-conversation debounce slot.
type Scheduler struct {
	tasks      TaskScheduler
	delay      time.Duration
	targetPath string
}

// New creates a Scheduler firing targetPath after delay of silence.
func New(tasks TaskScheduler, delay time.Duration, targetPath string) (*Scheduler, error) {
	if tasks == nil {
		return nil, errors.New("debounce: task scheduler must not be nil")
	}
	targetPath = strings.TrimSpace(targetPath)
	if targetPath == "" {
		return nil, errors.New("debounce: target path must not be empty")
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{tasks: tasks, delay: delay, targetPath: targetPath}, nil
}

// Delay returns the configured quiet period.
func (s *Scheduler) Delay() time.Duration { return s.delay }

// Reschedule cancels any pending fire for the conversation and schedules a new
// one a full quiet period from now.
func (s *Scheduler) Reschedule(ctx context.Context, conversationID string) (domain.Task, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Task{}, errors.New("debounce: conversation id is required")
	}
	payload, err := json.Marshal(FirePayload{ConversationID: conversationID})
	if err != nil {
		return domain.Task{}, fmt.Errorf("debounce: marshal payload: %w", err)
	}
	task, err := s.tasks.Upsert(ctx, domain.TaskSpec{
		Key:     TaskKey(conversationID),
		Path:    s.targetPath,
		Payload: payload,
		Delay:   s.delay,
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("debounce: reschedule %s: %w", conversationID, err)
	}
	return task, nil
}

// Cancel drops the pending fire, reporting whether one existed.
func (s *Scheduler) Cancel(ctx context.Context, conversationID string) (bool, error) {
	existed, err := s.tasks.Cancel(ctx, TaskKey(conversationID))
	if err != nil {
		return false, fmt.Errorf("debounce: cancel %s: %w", conversationID, err)
	}
	return existed, nil
}

// HasPending reports whether a fire is scheduled for the conversation.
func (s *Scheduler) HasPending(ctx context.Context, conversationID string) (bool, error) {
	_, ok, err := s.tasks.Get(ctx, TaskKey(conversationID))
	if err != nil {
		return false, fmt.Errorf("debounce: get %s: %w", conversationID, err)
	}
	return ok, nil
}

// TaskKey derives the task slot for a conversation. The same id always yields
// the same key so concurrent reschedules collide instead of duplicating.
func TaskKey(conversationID string) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	for _, r := range conversationID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	key := b.String()
	if len(key) <= maxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(conversationID))
	suffix := hex.EncodeToString(sum[:])[:16]
	return key[:maxKeyLength-len(suffix)-1] + "-" + suffix
}
