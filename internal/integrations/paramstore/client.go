package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (e.g. the OpenAI client) should depend on this interface rather
// than the concrete *Client so they remain testable without real AWS calls.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("paramstore: get parameter %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

type cachedValue struct {
	value     string
	expiresAt time.Time
}

// Cached memoizes successful lookups of another Getter for a fixed TTL.
// Failures are not cached.
type Cached struct {
	next Getter
	ttl  time.Duration
	now  func() time.Time

	mu     sync.Mutex
	values map[string]cachedValue
}

// NewCached wraps next. A non-positive ttl defaults to five minutes.
func NewCached(next Getter, ttl time.Duration) (*Cached, error) {
	if next == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{next: next, ttl: ttl, now: time.Now, values: map[string]cachedValue{}}, nil
}

func (c *Cached) GetParameter(ctx context.Context, name string) (string, error) {
	now := c.now()
	c.mu.Lock()
	if v, ok := c.values[name]; ok && now.Before(v.expiresAt) {
		c.mu.Unlock()
		return v.value, nil
	}
	c.mu.Unlock()

	value, err := c.next.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.values[name] = cachedValue{value: value, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return value, nil
}
