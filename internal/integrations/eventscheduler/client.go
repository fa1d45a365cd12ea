// Package eventscheduler implements the delayed-task capability on Amazon
// EventBridge Scheduler. A task is a one-shot schedule that invokes this
// function with a synthesized API Gateway proxy event.
package eventscheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"

	"lead-qualifier/internal/domain"
)

const (
	atLayout     = "2006-01-02T15:04:05"
	defaultGroup = "default"

	// A failed fire is redelivered while the buffer is still worth answering.
	retryAttempts      = 3
	maxEventAgeSeconds = 900
)

// schedulerAPI is the minimal EventBridge Scheduler interface required by Client.
// *scheduler.Client satisfies it.
type schedulerAPI interface {
	CreateSchedule(ctx context.Context, in *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, in *scheduler.DeleteScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error)
	GetSchedule(ctx context.Context, in *scheduler.GetScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error)
}

// Config identifies where fired tasks are delivered.
type Config struct {
	GroupName string
	TargetARN string
	RoleARN   string
}

// Client schedules delayed calls back into this function.
type Client struct {
	api schedulerAPI
	cfg Config
	now func() time.Time
}

// New creates a Client.
func New(api schedulerAPI, cfg Config) (*Client, error) {
	if api == nil {
		return nil, errors.New("eventscheduler: api must not be nil")
	}
	cfg.TargetARN = strings.TrimSpace(cfg.TargetARN)
	cfg.RoleARN = strings.TrimSpace(cfg.RoleARN)
	if cfg.TargetARN == "" || cfg.RoleARN == "" {
		return nil, errors.New("eventscheduler: target and role ARNs are required")
	}
	if strings.TrimSpace(cfg.GroupName) == "" {
		cfg.GroupName = defaultGroup
	}
	return &Client{api: api, cfg: cfg, now: time.Now}, nil
}

// Upsert replaces the schedule under spec.Key with one firing spec.Delay from
// now. A missing schedule is not an error. A conflict means a concurrent
// caller recreated the slot first; one retry is attempted and a second
// conflict leaves the other caller's schedule in place.
func (c *Client) Upsert(ctx context.Context, spec domain.TaskSpec) (domain.Task, error) {
	if strings.TrimSpace(spec.Key) == "" {
		return domain.Task{}, errors.New("eventscheduler: task key is required")
	}
	input, err := proxyEvent(spec)
	if err != nil {
		return domain.Task{}, err
	}

	var task domain.Task
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := c.Cancel(ctx, spec.Key); err != nil {
			return domain.Task{}, err
		}
		task, err = c.create(ctx, spec, input)
		if err == nil {
			return task, nil
		}
		var conflict *types.ConflictException
		if !errors.As(err, &conflict) {
			return domain.Task{}, err
		}
	}
	return task, nil
}

func (c *Client) create(ctx context.Context, spec domain.TaskSpec, input string) (domain.Task, error) {
	firesAt := c.now().UTC().Add(spec.Delay).Truncate(time.Second)
	_, err := c.api.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:                       aws.String(spec.Key),
		GroupName:                  aws.String(c.cfg.GroupName),
		ScheduleExpression:         aws.String(atExpression(firesAt)),
		ScheduleExpressionTimezone: aws.String("UTC"),
		FlexibleTimeWindow:         &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff},
		ActionAfterCompletion:      types.ActionAfterCompletionDelete,
		Target: &types.Target{
			Arn:     aws.String(c.cfg.TargetARN),
			RoleArn: aws.String(c.cfg.RoleARN),
			Input:   aws.String(input),
			RetryPolicy: &types.RetryPolicy{
				MaximumRetryAttempts:     aws.Int32(retryAttempts),
				MaximumEventAgeInSeconds: aws.Int32(maxEventAgeSeconds),
			},
		},
	})
	if err != nil {
		return domain.Task{ID: spec.Key, FiresAt: firesAt}, fmt.Errorf("eventscheduler: create %s: %w", spec.Key, err)
	}
	return domain.Task{ID: spec.Key, FiresAt: firesAt}, nil
}

// Cancel deletes the schedule, reporting false when there was none.
func (c *Client) Cancel(ctx context.Context, key string) (bool, error) {
	_, err := c.api.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{
		Name:      aws.String(key),
		GroupName: aws.String(c.cfg.GroupName),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("eventscheduler: delete %s: %w", key, err)
}

// Get returns the schedule under key, if any.
func (c *Client) Get(ctx context.Context, key string) (domain.Task, bool, error) {
	out, err := c.api.GetSchedule(ctx, &scheduler.GetScheduleInput{
		Name:      aws.String(key),
		GroupName: aws.String(c.cfg.GroupName),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return domain.Task{}, false, nil
		}
		return domain.Task{}, false, fmt.Errorf("eventscheduler: get %s: %w", key, err)
	}
	task := domain.Task{ID: key}
	if out != nil {
		task.FiresAt, _ = parseAtExpression(aws.ToString(out.ScheduleExpression))
	}
	return task, true, nil
}

// proxyEvent wraps the payload as the API Gateway event the router expects.
func proxyEvent(spec domain.TaskSpec) (string, error) {
	raw, err := json.Marshal(events.APIGatewayProxyRequest{
		Path:       spec.Path,
		HTTPMethod: http.MethodPost,
		Headers: map[string]string{
			"Content-Type":             "application/json",
			domain.HeaderScheduledTask: spec.Key,
		},
		Body: string(spec.Payload),
	})
	if err != nil {
		return "", fmt.Errorf("eventscheduler: marshal target input: %w", err)
	}
	return string(raw), nil
}

func atExpression(t time.Time) string {
	return "at(" + t.UTC().Format(atLayout) + ")"
}

func parseAtExpression(expr string) (time.Time, error) {
	inner, ok := strings.CutPrefix(strings.TrimSpace(expr), "at(")
	if !ok {
		return time.Time{}, fmt.Errorf("eventscheduler: not an at() expression: %q", expr)
	}
	return time.ParseInLocation(atLayout, strings.TrimSuffix(inner, ")"), time.UTC)
}
