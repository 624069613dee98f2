// Package docstore binds the transactional key-document model to DynamoDB.
//
// Every document carries a numeric version attribute owned by the store. A
// transaction records the versions it observes and commits all of its writes in
// one TransactWriteItems call guarded by those versions, so a concurrent commit
// to any document the transaction depends on cancels it and the whole
// read-compute-write function runs again on fresh state.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/aws"
)

// VersionAttr is the attribute holding a document's optimistic-concurrency version.
const VersionAttr = "version"

const (
	defaultMaxAttempts = 10
	defaultMaxBackoff  = 200 * time.Millisecond
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict means another writer committed first; the transaction is retried.
	ErrConflict = errors.New("write conflict")
	// ErrTransient means the transaction could not commit within the retry bound.
	ErrTransient = errors.New("transaction did not commit within retry bound")
)

// Collection names a table and its partition key attribute.
type Collection struct {
	Table string
	Key   string
}

// Store is the document store client.
type Store struct {
	client      aws.DynamoDBAPI
	maxAttempts int
	backoff     retry.BackoffDelayer
	logger      *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts bounds how many times a transaction function runs.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithMaxBackoff caps the jittered delay between attempts. Zero disables the delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *Store) { s.backoff = NewFullJitterBackoff(defaultBaseBackoff, d) }
}

// WithBackoff replaces the delay policy between attempts.
func WithBackoff(b retry.BackoffDelayer) Option {
	return func(s *Store) {
		if b != nil {
			s.backoff = b
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Store over the given DynamoDB client.
func New(client aws.DynamoDBAPI, opts ...Option) *Store {
	s := &Store{
		client:      client,
		maxAttempts: defaultMaxAttempts,
		backoff:     NewFullJitterBackoff(defaultBaseBackoff, defaultMaxBackoff),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reads a document with a strongly consistent read and unmarshals it into out.
func (s *Store) Get(ctx context.Context, c Collection, id string, out any) error {
	item, err := s.getItem(ctx, c, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%s/%s: %w", c.Table, id, ErrNotFound)
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", c.Table, id, err)
	}
	return nil
}

func (s *Store) getItem(ctx context.Context, c Collection, id string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &c.Table,
		Key:            keyOf(c, id),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s/%s: %w", c.Table, id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// RunTransaction runs fn inside a transaction and commits its buffered writes.
// On a write conflict fn runs again with a fresh Txn after a jittered backoff.
// Errors returned by fn abort immediately and are returned unchanged.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, txn *Txn) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			delay, err := s.backoff.BackoffDelay(attempt-1, lastErr)
			if err != nil {
				delay = 0
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		txn := newTxn(s)
		if err := fn(ctx, txn); err != nil {
			return err
		}
		err := txn.commit(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
		s.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrTransient, s.maxAttempts, lastErr)
}

// Query describes an equality query against a table or one of its global secondary indexes.
type Query struct {
	Collection Collection
	Index      string
	KeyAttr    string
	Value      string
	// Limit caps the number of documents returned; zero means all.
	Limit int
}

// Query pages through every matching document and unmarshals them into out, a pointer to a slice.
func (s *Store) Query(ctx context.Context, q Query, out any) error {
	input := &dyn.QueryInput{
		TableName:                 &q.Collection.Table,
		KeyConditionExpression:    strPtr("#k = :v"),
		ExpressionAttributeNames:  map[string]string{"#k": q.KeyAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: q.Value}},
	}
	if q.Index != "" {
		input.IndexName = &q.Index
	}

	var items []map[string]types.AttributeValue
	for {
		if q.Limit > 0 {
			remaining := int32(q.Limit - len(items))
			input.Limit = &remaining
		}
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("query %s: %w", q.Collection.Table, err)
		}
		items = append(items, page.Items...)
		if len(page.LastEvaluatedKey) == 0 || (q.Limit > 0 && len(items) >= q.Limit) {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("unmarshal %s query: %w", q.Collection.Table, err)
	}
	return nil
}

func keyOf(c Collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{c.Key: &types.AttributeValueMemberS{Value: id}}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
