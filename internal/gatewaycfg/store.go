package gatewaycfg

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/esim-settlement/internal/aws"
)

// ConfigID is the partition key of the gateway configuration item.
const ConfigID = "robokassa"

// DynamoSource reads the configuration item the admin surface maintains.
type DynamoSource struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDynamoSource returns a Source backed by a DynamoDB table keyed by config_id.
func NewDynamoSource(client aws.DynamoDBAPI, tableName string) *DynamoSource {
	return &DynamoSource{client: client, tableName: tableName}
}

// Load implements Source.
func (s *DynamoSource) Load(ctx context.Context) (*Config, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"config_id": &types.AttributeValueMemberS{Value: ConfigID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get gateway config: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var cfg Config
	if err := attributevalue.UnmarshalMap(out.Item, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal gateway config: %w", err)
	}
	return &cfg, nil
}
