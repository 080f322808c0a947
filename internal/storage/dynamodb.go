package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
)

// DynamoDBBackend keeps each document as one item of a DynamoDB table
type DynamoDBBackend struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

type dynamoDocument struct {
	ID        string `dynamodbav:"id"`
	Doc       string `dynamodbav:"doc"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

// NewDynamoDBBackend creates a new DynamoDB backend instance
func NewDynamoDBBackend(cfg config.StorageConfig) (*DynamoDBBackend, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	backend := newDynamoDBBackend(dynamodb.New(sess), cfg.TableName)
	if err := backend.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}

	return backend, nil
}

func newDynamoDBBackend(client dynamodbiface.DynamoDBAPI, tableName string) *DynamoDBBackend {
	return &DynamoDBBackend{client: client, tableName: tableName}
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoDBBackend) ensureTable() error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: aws.String("HASH")},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: aws.String("S")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

// Get reads one document with a strongly consistent read.
func (d *DynamoDBBackend) Get(ctx context.Context, name string) ([]byte, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(name)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var doc dynamoDocument
	if err := dynamodbattribute.UnmarshalMap(result.Item, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return []byte(doc.Doc), nil
}

// Put replaces one document; a single PutItem is atomic.
func (d *DynamoDBBackend) Put(ctx context.Context, name string, data []byte) error {
	item, err := dynamodbattribute.MarshalMap(dynamoDocument{
		ID:        name,
		Doc:       string(data),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBBackend) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
