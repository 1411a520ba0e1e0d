package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches"
)

const (
	keyAttribute       = "id"
	expiredAtAttribute = "expired_at"
)

// API is the subset of the DynamoDB client used by Cache.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Config defines the configuration options for the DynamoDB cache implementation.
type Config struct {
	Table string
}

// Cache implements the condprovider.Store interface using Amazon DynamoDB as the storage backend.
// The TTL hint is written to the expired_at attribute so DynamoDB TTL can delete
// the item; until it does, Get treats the item as missing.
type Cache struct {
	client API

	table string
	now   func() time.Time
}

type cacheItem struct {
	ID        string `json:"id" dynamodbav:"id"`
	Namespace string `json:"namespace" dynamodbav:"namespace"`
	URL       string `json:"url" dynamodbav:"url"`
	Entry     string `json:"entry" dynamodbav:"entry"`
	CreatedAt int64  `json:"created_at" dynamodbav:"created_at"`
	ExpiredAt int64  `json:"expired_at" dynamodbav:"expired_at"`
}

// Get retrieves a cache entry from DynamoDB by namespace and key. It returns
// caches.ErrNoCacheItem if the item is missing or its TTL hint has passed.
func (c *Cache) Get(ctx context.Context, namespace, key string) (*condprovider.CacheEntry, error) {
	id, err := attributevalue.Marshal(caches.NamespacedKey(namespace, key))
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			keyAttribute: id,
		},
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", caches.ErrMalformedEntry, err)
	}

	if c.now().UTC().Unix() >= item.ExpiredAt {
		return nil, caches.ErrNoCacheItem
	}

	return condprovider.DecodeEntry([]byte(item.Entry))
}

// Set stores a cache entry in DynamoDB, replacing any item under the same
// namespace and key.
func (c *Cache) Set(ctx context.Context, namespace, key string, v *condprovider.CacheEntry, ttlMinutes int) error {
	entry, err := condprovider.EncodeEntry(v)
	if err != nil {
		return err
	}

	createdAt := c.now().UTC()
	av, err := attributevalue.MarshalMap(cacheItem{
		ID:        caches.NamespacedKey(namespace, key),
		Namespace: namespace,
		URL:       key,
		Entry:     string(entry),
		CreatedAt: createdAt.Unix(),
		ExpiredAt: createdAt.Add(caches.TTL(ttlMinutes)).Unix(),
	})
	if err != nil {
		return err
	}

	if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("dynamodb put: %w", err)
	}
	return nil
}

// New creates a new DynamoDB cache instance with the provided configuration.
// Returns an error if the client is nil or if the configuration is invalid.
func New(client API, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "table is required",
		}
	}

	return &Cache{
		client: client,

		table: config.Table,
		now:   time.Now,
	}, nil
}
