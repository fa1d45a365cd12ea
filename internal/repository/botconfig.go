package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"lead-qualifier/internal/domain"
)

const configPK = "CONFIG#bot"

type botStyleRecord struct {
	ID             string `dynamodbav:"id"`
	Name           string `dynamodbav:"name"`
	Description    string `dynamodbav:"description"`
	PromptModifier string `dynamodbav:"promptModifier"`
}

type botConfigRecord struct {
	PK            string           `dynamodbav:"PK"`
	SK            string           `dynamodbav:"SK"`
	ActiveStyleID string           `dynamodbav:"activeStyleId"`
	Styles        []botStyleRecord `dynamodbav:"styles"`
}

// GetBotConfig returns the stored bot configuration. A missing record yields
// the defaults, which are seeded best-effort for later edits.
func (c *Client) GetBotConfig(ctx context.Context) (domain.BotConfig, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(configPK, skConfig),
	})
	if err != nil {
		return domain.BotConfig{}, fmt.Errorf("repository: GetBotConfig get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		cfg := domain.DefaultBotConfig()
		if err := c.seedBotConfig(ctx, cfg); err != nil {
			slog.WarnContext(ctx, "bot config seed failed", "err", err)
		}
		return cfg, nil
	}
	var rec botConfigRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.BotConfig{}, fmt.Errorf("repository: GetBotConfig unmarshal: %w", err)
	}
	cfg := domain.BotConfig{ActiveStyleID: rec.ActiveStyleID}
	for _, s := range rec.Styles {
		cfg.Styles = append(cfg.Styles, domain.BotStyle{
			ID:             s.ID,
			Name:           s.Name,
			Description:    s.Description,
			PromptModifier: s.PromptModifier,
		})
	}
	if len(cfg.Styles) == 0 {
		cfg.Styles = domain.DefaultBotConfig().Styles
	}
	return cfg, nil
}

func (c *Client) seedBotConfig(ctx context.Context, cfg domain.BotConfig) error {
	rec := botConfigRecord{PK: configPK, SK: skConfig, ActiveStyleID: cfg.ActiveStyleID}
	for _, s := range cfg.Styles {
		rec.Styles = append(rec.Styles, botStyleRecord(s))
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return err
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil && !isConditionFailed(err) {
		return err
	}
	return nil
}
