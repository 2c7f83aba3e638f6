package orders

import (
	"context"
	"fmt"
	"strconv"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/esim-settlement/internal/aws"
)

// Sequence hands out order ids from an atomic counter item. Ids start at 1 and
// are never reused, even when the order write that consumed one fails.
type Sequence struct {
	client    aws.DynamoDBAPI
	tableName string
	name      string
}

// NewSequence returns a Sequence over the counter item counter_id = name.
func NewSequence(client aws.DynamoDBAPI, tableName, name string) *Sequence {
	return &Sequence{client: client, tableName: tableName, name: name}
}

// Next returns the next id.
func (q *Sequence) Next(ctx context.Context) (int64, error) {
	out, err := q.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &q.tableName,
		Key: map[string]types.AttributeValue{
			"counter_id": &types.AttributeValueMemberS{Value: q.name},
		},
		UpdateExpression: awsString("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", q.name, err)
	}
	n, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("next %s id: counter attribute missing", q.name)
	}
	id, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", q.name, err)
	}
	return id, nil
}
