package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type dynamoItem struct {
	PK    string `dynamodbav:"pk"`
	Value []byte `dynamodbav:"value"`
}

// DynamoStore keeps blobs in a DynamoDB table keyed by "pk".
type DynamoStore struct {
	client DynamoAPI
	table  string
	prefix string
}

// NewDynamoStore wraps a client.
func NewDynamoStore(client DynamoAPI, table, prefix string) *DynamoStore {
	return &DynamoStore{client: client, table: table, prefix: prefix}
}

// OpenDynamo loads the default AWS config for region and builds a store.
func OpenDynamo(ctx context.Context, region, table, prefix string) (*DynamoStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table, prefix), nil
}

// Get loads the blob stored under key.
func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	pk, err := attributevalue.Marshal(s.prefix + key)
	if err != nil {
		return nil, false, wrap("get", key, err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"pk": pk},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, wrap("get", key, fmt.Errorf("failed to get item from table '%s': %w", s.table, err))
	}
	if out.Item == nil {
		return nil, false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, wrap("get", key, err)
	}
	return item.Value, true, nil
}

// Set writes the blob under key.
func (s *DynamoStore) Set(ctx context.Context, key string, value []byte) error {
	av, err := attributevalue.MarshalMap(dynamoItem{PK: s.prefix + key, Value: value})
	if err != nil {
		return wrap("set", key, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return wrap("set", key, fmt.Errorf("failed to put item into table '%s': %w", s.table, err))
	}
	return nil
}
