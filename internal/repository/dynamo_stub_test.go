package repository

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// dynamoStub is a stub for DynamoAPI. Unset funcs panic so unexpected calls surface.
type dynamoStub struct {
	getItemFn        func(context.Context, *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putItemFn        func(context.Context, *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	updateItemFn     func(context.Context, *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	deleteItemFn     func(context.Context, *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	scanFn           func(context.Context, *dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	batchWriteItemFn func(context.Context, *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)
	describeTableFn  func(context.Context, *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
}

func (s *dynamoStub) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return s.getItemFn(ctx, in)
}
func (s *dynamoStub) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return s.putItemFn(ctx, in)
}
func (s *dynamoStub) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return s.updateItemFn(ctx, in)
}
func (s *dynamoStub) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return s.deleteItemFn(ctx, in)
}
func (s *dynamoStub) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return s.scanFn(ctx, in)
}
func (s *dynamoStub) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return s.batchWriteItemFn(ctx, in)
}
func (s *dynamoStub) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return s.describeTableFn(ctx, in)
}
