package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	skConversation  = "STATE#"
	skLead          = "LEAD#"
	skListing       = "LISTING#"
	skQualified     = "QUALIFIED#"
	skConfig        = "CONFIG#"
	defaultLeadGSI  = "GSI1"
	attrPending     = "pendingMessages"
	attrPendingTask = "pendingTaskName"
	attrBufferExp   = "bufferExpiresAt"
)

// ErrNotFound is returned when a requested record does not exist or is only
// partially written.
var ErrNotFound = errors.New("repository: not found")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps the single table holding conversations, leads, listings,
// qualified leads and bot configuration.
type Client struct {
	api       dynamodbAPI
	tableName string
	leadIndex string
	now       func() time.Time
}

type Option func(*Client)

// WithLeadIndex overrides the GSI used to find leads by chat id.
func WithLeadIndex(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.leadIndex = name
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, leadIndex: defaultLeadGSI, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// convPK returns the partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func leadPK(phone, listingCode string) string {
	return "LEAD#" + phone + "#" + listingCode
}

func leadGSIPK(conversationID string) string {
	return "CHAT#" + conversationID
}

func listingPK(code string) string {
	return "LISTING#" + code
}

func qualifiedPK(id string) string {
	return "QUALIFIED#" + id
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)}
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
