package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// MockDynamoDB is a mock implementation of the DynamoDB client calls the backend makes
type MockDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	mock.Mock
}

func (m *MockDynamoDB) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *MockDynamoDB) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *MockDynamoDB) DescribeTable(in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*dynamodb.DescribeTableOutput)
	return out, args.Error(1)
}

func TestDynamoDBBackend_EnsureTableExisting(t *testing.T) {
	client := new(MockDynamoDB)
	client.On("DescribeTable", mock.Anything).Return(&dynamodb.DescribeTableOutput{}, nil)

	backend := newDynamoDBBackend(client, "harvester_state")
	require.NoError(t, backend.ensureTable())
	client.AssertExpectations(t)
}

func TestDynamoDBBackend_SaveCheckpoint(t *testing.T) {
	client := new(MockDynamoDB)
	store := New(newDynamoDBBackend(client, "harvester_state"))

	client.On("PutItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.StringValue(in.TableName) == "harvester_state" &&
			aws.StringValue(in.Item["id"].S) == CheckpointDoc &&
			aws.StringValue(in.Item["doc"].S) == `{"python":"42"}`
	})).Return(&dynamodb.PutItemOutput{}, nil)

	err := store.SaveCheckpoint(context.Background(), models.Checkpoint{"python": 42})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestDynamoDBBackend_LoadCheckpoint(t *testing.T) {
	client := new(MockDynamoDB)
	store := New(newDynamoDBBackend(client, "harvester_state"))

	client.On("GetItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.StringValue(in.Key["id"].S) == CheckpointDoc && aws.BoolValue(in.ConsistentRead)
	})).Return(&dynamodb.GetItemOutput{Item: map[string]*dynamodb.AttributeValue{
		"id":  {S: aws.String(CheckpointDoc)},
		"doc": {S: aws.String(`{"python":"1700000000"}`)},
	}}, nil)

	cp, err := store.LoadCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Checkpoint{"python": 1700000000}, cp)
}

func TestDynamoDBBackend_MissingItem(t *testing.T) {
	client := new(MockDynamoDB)
	store := New(newDynamoDBBackend(client, "harvester_state"))

	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	sch, err := store.LoadSchedule(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sch.Entries)
}

func TestDynamoDBBackend_PutError(t *testing.T) {
	client := new(MockDynamoDB)
	store := New(newDynamoDBBackend(client, "harvester_state"))

	client.On("PutItemWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("throughput exceeded"))

	err := store.SaveSchedule(context.Background(), models.NewSchedule("python"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throughput exceeded")
}
