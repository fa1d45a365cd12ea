package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"lead-qualifier/internal/domain"
)

type qualifiedRecord struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	ID          string `dynamodbav:"id"`
	Phone       string `dynamodbav:"phone"`
	ChatID      string `dynamodbav:"chatId"`
	ListingCode string `dynamodbav:"listingCode"`
	Name        string `dynamodbav:"name"`
	Summary     string `dynamodbav:"conversationSummary"`
	Qualified   bool   `dynamodbav:"qualified"`
	CreatedAt   string `dynamodbav:"createdAt"`
}

// PutQualifiedLead writes a new qualified lead record.
func (c *Client) PutQualifiedLead(ctx context.Context, q domain.QualifiedLead) error {
	if q.ID == "" {
		return errors.New("repository: PutQualifiedLead: id is required")
	}
	created := q.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	item, err := attributevalue.MarshalMap(qualifiedRecord{
		PK:          qualifiedPK(q.ID),
		SK:          skQualified,
		ID:          q.ID,
		Phone:       q.Phone,
		ChatID:      q.ConversationID,
		ListingCode: q.ListingCode,
		Name:        q.Name,
		Summary:     q.Summary,
		Qualified:   true,
		CreatedAt:   created.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("repository: PutQualifiedLead marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: PutQualifiedLead: %w", err)
	}
	return nil
}
