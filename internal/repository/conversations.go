package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"lead-qualifier/internal/domain"
)

type historyRecord struct {
	Role      string `dynamodbav:"role"`
	Text      string `dynamodbav:"text"`
	Timestamp int64  `dynamodbav:"timestamp"`
}

type pendingRecord struct {
	Text      string `dynamodbav:"text"`
	Timestamp int64  `dynamodbav:"timestamp"`
}

type conversationRecord struct {
	PK                           string          `dynamodbav:"PK"`
	SK                           string          `dynamodbav:"SK"`
	ChatID                       string          `dynamodbav:"chatId"`
	Phone                        string          `dynamodbav:"phone"`
	ListingCode                  string          `dynamodbav:"listingCode"`
	OperationType                string          `dynamodbav:"operationType"`
	Name                         string          `dynamodbav:"name,omitempty"`
	Description                  string          `dynamodbav:"description"`
	Link                         string          `dynamodbav:"link"`
	Features                     string          `dynamodbav:"features"`
	ProfitabilityReport          string          `dynamodbav:"profitabilityReport"`
	ProfitabilityReportAvailable bool            `dynamodbav:"profitabilityReportAvailable"`
	History                      []historyRecord `dynamodbav:"history"`
	PendingMessages              []pendingRecord `dynamodbav:"pendingMessages,omitempty"`
	IsFinished                   bool            `dynamodbav:"isFinished"`
	QualificationStatus          *bool           `dynamodbav:"qualificationStatus,omitempty"`
	PendingTaskName              string          `dynamodbav:"pendingTaskName,omitempty"`
	BufferExpiresAt              int64           `dynamodbav:"bufferExpiresAt,omitempty"`
	FollowUpSent                 bool            `dynamodbav:"followUpSent,omitempty"`
}

// GetConversation loads the conversation stored under conversationID. Records
// without a counterparty phone are partial writes and reported as ErrNotFound.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(convPK(conversationID), skConversation),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec conversationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	if strings.TrimSpace(rec.Phone) == "" {
		return nil, ErrNotFound
	}
	if rec.ChatID == "" {
		rec.ChatID = conversationID
	}
	return rec.toDomain(), nil
}

// SaveConversation merges the aggregate fields of state into its record. The
// pending buffer is never touched so concurrent appends survive.
func (c *Client) SaveConversation(ctx context.Context, state *domain.ConversationState) error {
	if state == nil || strings.TrimSpace(state.ConversationID) == "" {
		return errors.New("repository: SaveConversation: conversation id is required")
	}

	history := make([]historyRecord, 0, len(state.History))
	for _, h := range state.History {
		history = append(history, historyRecord{Role: string(h.Role), Text: h.Text, Timestamp: h.TimestampMillis})
	}
	historyAV, err := attributevalue.Marshal(history)
	if err != nil {
		return fmt.Errorf("repository: SaveConversation marshal history: %w", err)
	}

	u := newUpdate()
	u.set("chatId", str(state.ConversationID))
	u.set("phone", str(state.CounterpartyAddress))
	u.set("listingCode", str(state.ListingReference))
	u.set("operationType", str(string(state.OperationKind)))
	u.set("description", str(state.Context.Description))
	u.set("link", str(state.Context.Link))
	u.set("features", str(state.Context.Features))
	u.set("profitabilityReport", str(state.Context.ProfitabilityReport))
	u.set("profitabilityReportAvailable", &types.AttributeValueMemberBOOL{Value: state.Context.ProfitabilityReportAvailable})
	u.set("history", historyAV)
	u.set("messageCount", num(int64(len(state.History))))
	u.set("isFinished", &types.AttributeValueMemberBOOL{Value: state.IsTerminal})
	u.set("updatedAt", str(c.timestamp()))
	if last := state.LastTimestamp(); last > 0 {
		u.set("lastMessageAt", num(last))
	}
	if state.DetectedName != "" {
		u.set("name", str(state.DetectedName))
	}
	// An open conversation saved over an ended one must not inherit its outcome.
	if state.QualificationOutcome != nil {
		u.set("qualificationStatus", &types.AttributeValueMemberBOOL{Value: *state.QualificationOutcome})
	} else {
		u.remove("qualificationStatus")
	}
	if state.FollowUpSent {
		u.set("followUpSent", &types.AttributeValueMemberBOOL{Value: true})
	} else {
		u.remove("followUpSent")
	}

	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(convPK(state.ConversationID), skConversation),
		UpdateExpression:          aws.String(u.expression()),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		return fmt.Errorf("repository: SaveConversation: %w", err)
	}
	return nil
}

// AppendPending adds a message to the conversation's buffer.
func (c *Client) AppendPending(ctx context.Context, conversationID string, msg domain.PendingMessage) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: AppendPending: conversation id is required")
	}
	entry, err := attributevalue.Marshal([]pendingRecord{{Text: msg.Text, Timestamp: msg.TimestampMillis}})
	if err != nil {
		return fmt.Errorf("repository: AppendPending marshal: %w", err)
	}
	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(convPK(conversationID), skConversation),
		UpdateExpression: aws.String("SET #pending = list_append(if_not_exists(#pending, :empty), :msg), #updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#pending":   attrPending,
			"#updatedAt": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":msg":   entry,
			":now":   str(c.timestamp()),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendPending: %w", err)
	}
	return nil
}

// DrainPending reads and clears the buffer, plus its scheduling bookkeeping,
// in one conditional update. When two drains race only one sees the messages;
// the other gets an empty slice.
func (c *Client) DrainPending(ctx context.Context, conversationID string) ([]domain.PendingMessage, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(convPK(conversationID), skConversation),
		UpdateExpression:    aws.String("REMOVE #pending, #task, #expires"),
		ConditionExpression: aws.String("attribute_exists(#pending)"),
		ExpressionAttributeNames: map[string]string{
			"#pending": attrPending,
			"#task":    attrPendingTask,
			"#expires": attrBufferExp,
		},
		ReturnValues: types.ReturnValueUpdatedOld,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: DrainPending: %w", err)
	}
	if out == nil || out.Attributes[attrPending] == nil {
		return nil, nil
	}
	var recs []pendingRecord
	if err := attributevalue.Unmarshal(out.Attributes[attrPending], &recs); err != nil {
		return nil, fmt.Errorf("repository: DrainPending unmarshal: %w", err)
	}
	msgs := make([]domain.PendingMessage, 0, len(recs))
	for _, r := range recs {
		msgs = append(msgs, domain.PendingMessage{Text: r.Text, TimestampMillis: r.Timestamp})
	}
	return msgs, nil
}

// SetPendingTask records which delayed task will drain the buffer and when.
func (c *Client) SetPendingTask(ctx context.Context, conversationID, taskName string, expiresAtMillis int64) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(convPK(conversationID), skConversation),
		UpdateExpression: aws.String("SET #task = :task, #expires = :expires"),
		ExpressionAttributeNames: map[string]string{
			"#task":    attrPendingTask,
			"#expires": attrBufferExp,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":task":    str(taskName),
			":expires": num(expiresAtMillis),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SetPendingTask: %w", err)
	}
	return nil
}

func (r conversationRecord) toDomain() *domain.ConversationState {
	state := &domain.ConversationState{
		ConversationID:      r.ChatID,
		CounterpartyAddress: r.Phone,
		ListingReference:    r.ListingCode,
		OperationKind:       domain.OperationKind(r.OperationType),
		Context: domain.DialogueContext{
			Description:                  r.Description,
			Link:                         r.Link,
			Features:                     r.Features,
			ProfitabilityReport:          r.ProfitabilityReport,
			ProfitabilityReportAvailable: r.ProfitabilityReportAvailable,
		},
		DetectedName:      r.Name,
		History:           make([]domain.HistoryItem, 0, len(r.History)),
		PendingTaskHandle: r.PendingTaskName,
		PendingTaskExpiry: r.BufferExpiresAt,
		FollowUpSent:      r.FollowUpSent,
	}
	for _, h := range r.History {
		state.History = append(state.History, domain.HistoryItem{
			Role:            domain.Role(h.Role),
			Text:            h.Text,
			TimestampMillis: h.Timestamp,
		})
	}
	// A stored outcome is what makes a conversation terminal.
	if r.QualificationStatus != nil {
		v := *r.QualificationStatus
		state.QualificationOutcome = &v
		state.IsTerminal = true
	}
	return state
}

// update accumulates SET and REMOVE clauses with placeholder names for every
// attribute, since several of them (name, link) are DynamoDB reserved words.
type update struct {
	clauses []string
	removes []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdate() *update {
	return &update{names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

func (u *update) set(attr string, v types.AttributeValue) {
	i := len(u.clauses)
	name := fmt.Sprintf("#a%d", i)
	val := fmt.Sprintf(":v%d", i)
	u.names[name] = attr
	u.values[val] = v
	u.clauses = append(u.clauses, name+" = "+val)
}

func (u *update) remove(attr string) {
	name := fmt.Sprintf("#r%d", len(u.removes))
	u.names[name] = attr
	u.removes = append(u.removes, name)
}

func (u *update) expression() string {
	expr := "SET " + strings.Join(u.clauses, ", ")
	if len(u.removes) > 0 {
		expr += " REMOVE " + strings.Join(u.removes, ", ")
	}
	return expr
}
