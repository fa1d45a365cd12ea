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

type leadRecord struct {
	PK                  string `dynamodbav:"PK"`
	SK                  string `dynamodbav:"SK"`
	GSI1PK              string `dynamodbav:"GSI1PK,omitempty"`
	Phone               string `dynamodbav:"phone"`
	ListingCode         string `dynamodbav:"listingCode"`
	ChatID              string `dynamodbav:"chatId,omitempty"`
	OperationType       string `dynamodbav:"operationType,omitempty"`
	Name                string `dynamodbav:"name,omitempty"`
	QualificationStatus string `dynamodbav:"qualificationStatus,omitempty"`
}

func (r leadRecord) toDomain() *domain.Lead {
	return &domain.Lead{
		Phone:          r.Phone,
		ListingCode:    r.ListingCode,
		ConversationID: r.ChatID,
		OperationKind:  domain.OperationKind(r.OperationType),
		Name:           r.Name,
		Status:         domain.LeadStatus(r.QualificationStatus),
	}
}

// FindLeadByConversationID looks a lead up through the chat id index.
func (c *Client) FindLeadByConversationID(ctx context.Context, conversationID string) (*domain.Lead, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(c.leadIndex),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": str(leadGSIPK(conversationID)),
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindLeadByConversationID query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	var rec leadRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("repository: FindLeadByConversationID unmarshal: %w", err)
	}
	return rec.toDomain(), nil
}

// FindLead loads a lead by its phone and listing composite key.
func (c *Client) FindLead(ctx context.Context, phone, listingCode string) (*domain.Lead, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(leadPK(phone, listingCode), skLead),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindLead get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec leadRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("repository: FindLead unmarshal: %w", err)
	}
	return rec.toDomain(), nil
}

// UpsertLeadChatInfo links a lead to its chat, creating the lead if needed.
func (c *Client) UpsertLeadChatInfo(ctx context.Context, lead domain.Lead) error {
	if strings.TrimSpace(lead.Phone) == "" || strings.TrimSpace(lead.ListingCode) == "" {
		return errors.New("repository: UpsertLeadChatInfo: phone and listing code are required")
	}
	now := c.timestamp()
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(leadPK(lead.Phone, lead.ListingCode), skLead),
		UpdateExpression: aws.String("SET phone = :phone, listingCode = :listing, chatId = :chat, GSI1PK = :gsi, " +
			"operationType = :op, createdAt = if_not_exists(createdAt, :now), " +
			"qualificationStatus = if_not_exists(qualificationStatus, :status), updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":phone":   str(lead.Phone),
			":listing": str(lead.ListingCode),
			":chat":    str(lead.ConversationID),
			":gsi":     str(leadGSIPK(lead.ConversationID)),
			":op":      str(string(lead.OperationKind)),
			":now":     str(now),
			":status":  str(string(domain.LeadNotQualified)),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertLeadChatInfo: %w", err)
	}
	return nil
}

// UpdateLeadStatus sets the qualification status of an existing lead.
func (c *Client) UpdateLeadStatus(ctx context.Context, phone, listingCode string, status domain.LeadStatus) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(leadPK(phone, listingCode), skLead),
		UpdateExpression:    aws.String("SET qualificationStatus = :status, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": str(string(status)),
			":now":    str(c.timestamp()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: UpdateLeadStatus %s/%s: %w", phone, listingCode, ErrNotFound)
		}
		return fmt.Errorf("repository: UpdateLeadStatus: %w", err)
	}
	return nil
}
