package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// AttemptRecorder stores webhook delivery attempts for observability.
type AttemptRecorder interface {
	Record(ctx context.Context, a domain.DeliveryAttempt) error
	// Attempts returns the most recent attempts for a subscription, newest
	// first.
	Attempts(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error)
}

// MemoryRecorder keeps the last N attempts per subscription.
type MemoryRecorder struct {
	mu       sync.Mutex
	capacity int
	attempts map[string][]domain.DeliveryAttempt
}

// NewMemoryRecorder returns a recorder keeping up to capacity attempts per
// subscription (100 when capacity <= 0).
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryRecorder{capacity: capacity, attempts: make(map[string][]domain.DeliveryAttempt)}
}

// Record implements AttemptRecorder.
func (m *MemoryRecorder) Record(_ context.Context, a domain.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.attempts[a.SubscriptionID], a)
	if len(list) > m.capacity {
		list = list[len(list)-m.capacity:]
	}
	m.attempts[a.SubscriptionID] = list
	return nil
}

// Attempts implements AttemptRecorder.
func (m *MemoryRecorder) Attempts(_ context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.attempts[subscriptionID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]domain.DeliveryAttempt, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// DynamoAPI is the subset of the DynamoDB client used by DynamoRecorder.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// attemptItem is the table layout: one partition per subscription, sort
// key ordered by attempt time.
type attemptItem struct {
	PK  string `dynamodbav:"PK"`
	SK  string `dynamodbav:"SK"`
	TTL int64  `dynamodbav:"TTL,omitempty"`
	domain.DeliveryAttempt
}

// DynamoRecorder persists attempts to a DynamoDB table keyed PK/SK.
type DynamoRecorder struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
}

// NewDynamoRecorder returns a recorder writing to tableName. Items expire
// after ttl (30 days when zero).
func NewDynamoRecorder(client DynamoAPI, tableName string, ttl time.Duration) *DynamoRecorder {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &DynamoRecorder{client: client, tableName: tableName, ttl: ttl}
}

func attemptPK(subscriptionID string) string { return "WEBHOOK#" + subscriptionID }

// Record implements AttemptRecorder.
func (d *DynamoRecorder) Record(ctx context.Context, a domain.DeliveryAttempt) error {
	item := attemptItem{
		PK:              attemptPK(a.SubscriptionID),
		SK:              fmt.Sprintf("ATTEMPT#%s#%s", a.AttemptedAt.UTC().Format(time.RFC3339Nano), a.ID),
		TTL:             a.AttemptedAt.Add(d.ttl).Unix(),
		DeliveryAttempt: a,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling attempt: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting attempt to DynamoDB: %w", err)
	}
	return nil
}

// Attempts implements AttemptRecorder.
func (d *DynamoRecorder) Attempts(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: attemptPK(subscriptionID)},
			":prefix": &types.AttributeValueMemberS{Value: "ATTEMPT#"},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	result, err := d.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}

	out := make([]domain.DeliveryAttempt, 0, len(result.Items))
	for _, raw := range result.Items {
		var item attemptItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		out = append(out, item.DeliveryAttempt)
	}
	return out, nil
}
