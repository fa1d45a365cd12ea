package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"lead-qualifier/internal/domain"
)

type listingRecord struct {
	ListingCode                  string `dynamodbav:"listingCode"`
	Description                  string `dynamodbav:"description"`
	Link                         string `dynamodbav:"link"`
	OperationType                string `dynamodbav:"operationType"`
	Features                     string `dynamodbav:"features"`
	ProfitabilityReport          string `dynamodbav:"profitabilityReport"`
	ProfitabilityReportAvailable bool   `dynamodbav:"profitabilityReportAvailable"`
}

// GetListing loads a listing by code.
func (c *Client) GetListing(ctx context.Context, code string) (*domain.Listing, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(listingPK(code), skListing),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetListing get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec listingRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("repository: GetListing unmarshal: %w", err)
	}
	if rec.ListingCode == "" {
		rec.ListingCode = code
	}
	return &domain.Listing{
		Code:                         rec.ListingCode,
		Description:                  rec.Description,
		Link:                         rec.Link,
		OperationKind:                domain.OperationKind(rec.OperationType),
		Features:                     rec.Features,
		ProfitabilityReport:          rec.ProfitabilityReport,
		ProfitabilityReportAvailable: rec.ProfitabilityReportAvailable,
	}, nil
}
