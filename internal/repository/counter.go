package repository

import (
	"context"
	"fmt"
	"strconv"

	"dhoka/internal/cache"
	"dhoka/internal/models"
	"dhoka/internal/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CounterRepository keeps labelled statistics counters in DynamoDB with a
// short-lived Redis read cache in front.
type CounterRepository struct {
	db    DynamoAPI
	table string
	cache *cache.Store
	log   *observability.StoreLogger
}

// NewCounterRepository creates a new CounterRepository. store may wrap a nil client.
func NewCounterRepository(db DynamoAPI, table string, store *cache.Store) *CounterRepository {
	return &CounterRepository{
		db:    db,
		table: table,
		cache: store,
		log:   observability.NewStoreLogger(table),
	}
}

func counterKey(label models.CounterLabel) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"CounterType": &types.AttributeValueMemberS{Value: string(label)}}
}

// GetCount returns the current value of a counter; a missing counter is zero.
func (r *CounterRepository) GetCount(ctx context.Context, label models.CounterLabel) (int64, error) {
	var count int64
	err := r.cache.CacheAside(ctx, cache.CounterKey(string(label)), &count, cache.CounterTTL, func() error {
		out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(r.table),
			Key:       counterKey(label),
		})
		if err != nil {
			return err
		}
		if len(out.Item) == 0 {
			count = 0
			return nil
		}
		var row models.PostCounter
		if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
			return fmt.Errorf("unmarshal counter %s: %w", label, err)
		}
		count = row.Count
		return nil
	})
	if err != nil {
		r.log.Fail(ctx, "get_count", err)
		return 0, err
	}
	return count, nil
}

// SetCount overwrites a counter.
func (r *CounterRepository) SetCount(ctx context.Context, label models.CounterLabel, n int64) error {
	item, err := attributevalue.MarshalMap(models.PostCounter{CounterType: label, Count: n})
	if err != nil {
		return err
	}
	if _, err := r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	}); err != nil {
		r.log.Fail(ctx, "set_count", err)
		return err
	}
	r.cache.Invalidate(ctx, cache.CounterKey(string(label)))
	return nil
}

// Increment atomically adds delta to a counter, creating it at zero first if
// needed, and returns the new value.
func (r *CounterRepository) Increment(ctx context.Context, label models.CounterLabel, delta int64) (int64, error) {
	out, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.table),
		Key:              counterKey(label),
		UpdateExpression: aws.String("SET #c = if_not_exists(#c, :zero) + :delta"),
		ExpressionAttributeNames: map[string]string{
			"#c": "Count",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":delta": &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		r.log.Fail(ctx, "increment", err)
		return 0, err
	}
	r.cache.Invalidate(ctx, cache.CounterKey(string(label)))

	var n int64
	if v, ok := out.Attributes["Count"].(*types.AttributeValueMemberN); ok {
		n, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	return n, nil
}
