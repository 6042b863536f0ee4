package store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type dynamoAPIMock struct {
	mock.Mock
}

func (m *dynamoAPIMock) GetItem(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params)
	var out *dynamodb.GetItemOutput
	if val := args.Get(0); val != nil {
		out = val.(*dynamodb.GetItemOutput)
	}
	return out, args.Error(1)
}

func (m *dynamoAPIMock) PutItem(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	var out *dynamodb.PutItemOutput
	if val := args.Get(0); val != nil {
		out = val.(*dynamodb.PutItemOutput)
	}
	return out, args.Error(1)
}

var _ DynamoAPI = (*dynamoAPIMock)(nil)

func TestDynamoStoreSet(t *testing.T) {
	api := new(dynamoAPIMock)
	s := NewDynamoStore(api, "blobs", "u1:")

	api.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		pk, ok := in.Item["pk"].(*types.AttributeValueMemberS)
		val, okVal := in.Item["value"].(*types.AttributeValueMemberB)
		return *in.TableName == "blobs" && ok && pk.Value == "u1:k" && okVal && string(val.Value) == "v"
	})).Return(&dynamodb.PutItemOutput{}, nil).Once()

	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	api.AssertExpectations(t)
}

func TestDynamoStoreGet(t *testing.T) {
	api := new(dynamoAPIMock)
	s := NewDynamoStore(api, "blobs", "")

	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
		Item: map[string]types.AttributeValue{
			"pk":    &types.AttributeValueMemberS{Value: "k"},
			"value": &types.AttributeValueMemberB{Value: []byte("v")},
		},
	}, nil).Once()
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	got, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	_, ok, err = s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	api.AssertExpectations(t)
}

func TestDynamoStoreWrapsErrors(t *testing.T) {
	api := new(dynamoAPIMock)
	s := NewDynamoStore(api, "blobs", "")
	api.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	_, _, err := s.Get(context.Background(), "k")
	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.ErrorContains(t, err, "blobs")
}
