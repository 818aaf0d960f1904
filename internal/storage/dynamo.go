// Package storage persists opportunities in DynamoDB, the authoritative
// store the cache layer serves snapshots of.
package storage

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/irfndi/arb-edge/internal/apperror"
	"github.com/irfndi/arb-edge/internal/opportunity"
	"github.com/irfndi/arb-edge/internal/platform/observability"
)

// OpportunityStore is the authoritative persistence contract the validity
// engine works against.
type OpportunityStore interface {
	// GetAllOpportunities returns every opportunity still marked valid.
	GetAllOpportunities(ctx context.Context) ([]opportunity.ArbitrageOpportunity, error)

	// MarkInvalid flips an opportunity's validity flag off. It is a soft
	// delete and idempotent: marking an already-invalid id succeeds.
	MarkInvalid(ctx context.Context, id string) error

	// SaveOpportunity writes or replaces one opportunity.
	SaveOpportunity(ctx context.Context, op opportunity.ArbitrageOpportunity) error
}

// recordTTL is how long persisted opportunities live before DynamoDB
// expires them.
const recordTTL = 7 * 24 * time.Hour

// dynamoAPI is the slice of the DynamoDB client this store uses.
type dynamoAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore implements OpportunityStore on a DynamoDB table keyed by
// opportunity id.
type DynamoStore struct {
	client dynamoAPI
	table  string
	logger *observability.Logger
}

// NewDynamoStore creates a store for the given table.
func NewDynamoStore(client *dynamodb.Client, table string, logger *observability.Logger) *DynamoStore {
	return &DynamoStore{client: client, table: table, logger: logger}
}

// dynamoRecord is the persisted row shape: the opportunity plus the
// table's TTL attribute.
type dynamoRecord struct {
	opportunity.ArbitrageOpportunity
	TTL int64 `dynamodbav:"ttl" json:"ttl"`
}

// GetAllOpportunities scans for rows still marked valid, following
// pagination until the table is exhausted.
func (s *DynamoStore) GetAllOpportunities(ctx context.Context) ([]opportunity.ArbitrageOpportunity, error) {
	var (
		ops     []opportunity.ArbitrageOpportunity
		lastKey map[string]types.AttributeValue
	)

	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.table),
			FilterExpression: aws.String("is_valid = :valid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":valid": &types.AttributeValueMemberBOOL{Value: true},
			},
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, apperror.Storage("scan opportunities", err)
		}

		var page []dynamoRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, apperror.Serialization("decode opportunity rows", err)
		}
		for _, rec := range page {
			ops = append(ops, rec.ArbitrageOpportunity)
		}

		lastKey = out.LastEvaluatedKey
		if len(lastKey) == 0 {
			return ops, nil
		}
	}
}

// MarkInvalid sets is_valid = false for one opportunity id.
func (s *DynamoStore) MarkInvalid(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression: aws.String("SET is_valid = :invalid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":invalid": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return apperror.Storage("mark opportunity invalid", err)
	}
	return nil
}

// SaveOpportunity writes one opportunity with the table TTL applied.
func (s *DynamoStore) SaveOpportunity(ctx context.Context, op opportunity.ArbitrageOpportunity) error {
	item, err := attributevalue.MarshalMap(dynamoRecord{
		ArbitrageOpportunity: op,
		TTL:                  time.Now().Add(recordTTL).Unix(),
	})
	if err != nil {
		return apperror.Serialization("encode opportunity row", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return apperror.Storage("save opportunity", err)
	}
	return nil
}
