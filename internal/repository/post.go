package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dhoka/internal/models"
	"dhoka/internal/observability"
	"dhoka/internal/retry"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// batchWriteLimit is the DynamoDB cap on requests per BatchWriteItem call.
const batchWriteLimit = 25

var errUnprocessed = errors.New("unprocessed batch items remain")

// PostRepository is the primary store for posts, backed by a DynamoDB table
// keyed by Id.
type PostRepository struct {
	db    DynamoAPI
	table string
	drain retry.Policy
	now   func() time.Time
	log   *observability.StoreLogger
}

// NewPostRepository creates a new PostRepository for table.
func NewPostRepository(db DynamoAPI, table string) *PostRepository {
	return &PostRepository{
		db:    db,
		table: table,
		drain: retry.Drain(),
		now:   time.Now,
		log:   observability.NewStoreLogger(table),
	}
}

// WithDrainPolicy overrides the unprocessed-items backoff.
func (r *PostRepository) WithDrainPolicy(p retry.Policy) *PostRepository {
	r.drain = p
	return r
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"Id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Create stores a new post. It fails with ErrAlreadyExists if the id is taken.
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	if post.Version == 0 {
		post.Version = 1
	}
	item, err := attributevalue.MarshalMap(post)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}

	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(Id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrAlreadyExists
		}
		r.log.Fail(ctx, "create", err)
		return err
	}
	r.log.Write(ctx, "create", slog.String("post_id", post.ID))
	return nil
}

// GetByID performs a strongly consistent read of a post.
func (r *PostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.log.Fail(ctx, "read", err)
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var post models.Post
	if err := attributevalue.UnmarshalMap(out.Item, &post); err != nil {
		return nil, fmt.Errorf("unmarshal post %s: %w", id, err)
	}
	return &post, nil
}

// Update replaces a post if its stored version still matches post.Version.
// On success post.Version and post.UpdatedAt reflect the stored record; on a
// lost race ErrVersionConflict is returned and post is left unchanged.
func (r *PostRepository) Update(ctx context.Context, post *models.Post) error {
	expected := post.Version
	prevUpdated := post.UpdatedAt

	now := r.now().UTC()
	post.Version = expected + 1
	post.UpdatedAt = &now

	item, err := attributevalue.MarshalMap(post)
	if err != nil {
		post.Version, post.UpdatedAt = expected, prevUpdated
		return fmt.Errorf("marshal post: %w", err)
	}

	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(Id) AND (#v = :v OR attribute_not_exists(#v))"),
		ExpressionAttributeNames: map[string]string{
			"#v": "Version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: fmt.Sprint(expected)},
		},
	})
	if err != nil {
		post.Version, post.UpdatedAt = expected, prevUpdated
		if isConditionFailed(err) {
			return ErrVersionConflict
		}
		r.log.Fail(ctx, "update", err)
		return err
	}
	r.log.Write(ctx, "update",
		slog.String("post_id", post.ID),
		slog.String("status", string(post.Status)),
		slog.Int64("version", post.Version),
	)
	return nil
}

// Delete removes a post if its stored version still matches version.
// Deleting a missing post is not an error; a post changed since it was read
// yields ErrVersionConflict.
func (r *PostRepository) Delete(ctx context.Context, id string, version int64) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.table),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_not_exists(Id) OR #v = :v OR attribute_not_exists(#v)"),
		ExpressionAttributeNames: map[string]string{
			"#v": "Version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: fmt.Sprint(version)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrVersionConflict
		}
		r.log.Fail(ctx, "delete", err)
		return err
	}
	r.log.Write(ctx, "delete", slog.String("post_id", id))
	return nil
}

// ListByStatus returns one page of posts, optionally filtered by status.
// The filter is applied after DynamoDB reads limit items, so a page may hold
// fewer than limit posts while still carrying a continuation token.
func (r *PostRepository) ListByStatus(ctx context.Context, status models.Status, limit int, token string) (*models.PostPage, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(r.table),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	if status != "" {
		input.FilterExpression = aws.String("#st = :st")
		input.ExpressionAttributeNames = map[string]string{"#st": "Status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":st": &types.AttributeValueMemberS{Value: string(status)},
		}
	}
	if token != "" {
		id, err := decodeToken(token)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = idKey(id)
	}

	out, err := r.db.Scan(ctx, input)
	if err != nil {
		r.log.Fail(ctx, "list", err)
		return nil, err
	}

	page := &models.PostPage{Items: make([]*models.Post, 0, len(out.Items))}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &page.Items); err != nil {
		return nil, fmt.Errorf("unmarshal posts: %w", err)
	}
	if id, ok := out.LastEvaluatedKey["Id"].(*types.AttributeValueMemberS); ok {
		page.PaginationToken = encodeToken(id.Value)
	}
	return page, nil
}

// ErrInvalidToken is returned for a pagination token this repository did not issue.
var ErrInvalidToken = errors.New("repository: invalid pagination token")

func encodeToken(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeToken(token string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(b) == 0 {
		return "", ErrInvalidToken
	}
	return string(b), nil
}

// ScanInit returns every post still in the Init state.
func (r *PostRepository) ScanInit(ctx context.Context) ([]models.InitPostRef, error) {
	p := dynamodb.NewScanPaginator(r.db, &dynamodb.ScanInput{
		TableName:            aws.String(r.table),
		FilterExpression:     aws.String("#st = :init"),
		ProjectionExpression: aws.String("Id, ImageUrls, CreatedAt"),
		ExpressionAttributeNames: map[string]string{
			"#st": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":init": &types.AttributeValueMemberS{Value: string(models.StatusInit)},
		},
	})

	var refs []models.InitPostRef
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			r.log.Fail(ctx, "scan_init", err)
			return nil, err
		}
		var page []models.InitPostRef
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal init posts: %w", err)
		}
		refs = append(refs, page...)
	}
	r.log.Read(ctx, "scan_init", slog.Int("init_posts", len(refs)))
	return refs, nil
}

// BatchDelete removes posts in batches, resubmitting unprocessed items until
// DynamoDB accepts them all or ctx is done.
func (r *PostRepository) BatchDelete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(ids))

		reqs := make([]types.WriteRequest, 0, end-start)
		for _, id := range ids[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: idKey(id)},
			})
		}

		pending := map[string][]types.WriteRequest{r.table: reqs}
		err := retry.Do(ctx, r.drain, func(ctx context.Context) error {
			out, err := r.db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return retry.Permanent(err)
			}
			if len(out.UnprocessedItems) == 0 {
				return nil
			}
			pending = out.UnprocessedItems
			return errUnprocessed
		})
		if err != nil {
			r.log.Fail(ctx, "batch_delete", err)
			return err
		}
	}
	r.log.Write(ctx, "batch_delete", slog.Int("count", len(ids)))
	return nil
}

// Ping checks that the table is reachable.
func (r *PostRepository) Ping(ctx context.Context) error {
	_, err := r.db.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	return err
}
