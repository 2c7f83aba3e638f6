package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/esim-settlement/internal/aws"
	"github.com/imrishuroy/esim-settlement/internal/idempotency"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction atomically creates:
//   - the idempotency record in idempotencyTable (attribute_not_exists(idempotency_key))
//   - the order in the orders table (attribute_not_exists(order_id))
//
// Returns ErrIdempotencyConflict when the key already exists and ErrOrderExists
// when the order id is taken.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, rec idempotency.IdempotencyRecord, order Order) error {
	idempMap, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	orderMap, err := s.marshalNew(order)
	if err != nil {
		return err
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, input)
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			// reasons are positional: 0 idempotency, 1 order
			if len(tce.CancellationReasons) > 1 && awsValue(tce.CancellationReasons[1].Code) == "ConditionalCheckFailed" &&
				awsValue(tce.CancellationReasons[0].Code) != "ConditionalCheckFailed" {
				return ErrOrderExists
			}
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ApplyTransition performs t as a single conditional UpdateItem keyed on
// order_id and the expected prior statuses. On success it returns the updated
// order. If the condition fails it returns the current order together with
// ErrStatusMismatch, or ErrNotFound when no order exists.
func (s *Store) ApplyTransition(ctx context.Context, orderID string, t Transition) (*Order, error) {
	now := s.nowFunc().UTC()

	set := []string{"payment_status = :toPay", "updated_at = :ua"}
	cond := []string{"attribute_exists(order_id)", "payment_status = :fromPay"}
	values := map[string]types.AttributeValue{
		":fromPay": &types.AttributeValueMemberS{Value: t.FromPayment},
		":toPay":   &types.AttributeValueMemberS{Value: t.ToPayment},
		":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	var names map[string]string

	if t.ToPayment == PaymentPaid {
		set = append(set, "paid_at = :pa")
		values[":pa"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}
	}
	if t.Method != "" {
		set = append(set, "payment_method = :pm")
		values[":pm"] = &types.AttributeValueMemberS{Value: t.Method}
	}
	if t.FromStatus != "" {
		names = map[string]string{"#s": "status"}
		set = append(set, "#s = :toStatus")
		cond = append(cond, "#s = :fromStatus")
		values[":fromStatus"] = &types.AttributeValueMemberS{Value: t.FromStatus}
		values[":toStatus"] = &types.AttributeValueMemberS{Value: t.ToStatus}
	}

	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:                    awsString("SET " + strings.Join(set, ", ")),
		ConditionExpression:                 awsString(strings.Join(cond, " AND ")),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, ErrNotFound
			}
			var current Order
			if uerr := attributevalue.UnmarshalMap(ccf.Item, &current); uerr != nil {
				return nil, fmt.Errorf("unmarshal current order: %w", uerr)
			}
			return &current, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}

	var updated Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return nil, fmt.Errorf("unmarshal updated order: %w", err)
	}
	return &updated, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// IncrementAttempts increases the provisioning attempts counter by 1.
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// marshalNew stamps timestamps and default statuses on a new order.
func (s *Store) marshalNew(order Order) (map[string]types.AttributeValue, error) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusPending
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = PaymentPending
	}
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	return item, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

func awsValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
