package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	condprovider "github.com/dgduncan/go-cond-provider"
	dynamocache "github.com/dgduncan/go-cond-provider/caches/dynamodb"
	"github.com/dgduncan/go-cond-provider/caches/local"
	"github.com/dgduncan/go-cond-provider/caches/postgres"
	rediscache "github.com/dgduncan/go-cond-provider/caches/redis"
	"github.com/dgduncan/go-cond-provider/caches/sqlite"
	"github.com/dgduncan/go-cond-provider/internal/config"
)

// openStore builds the store selected by b. The returned func releases its
// connections.
func openStore(ctx context.Context, b config.Backend, logger zerolog.Logger) (condprovider.Store, func() error, error) {
	noop := func() error { return nil }

	switch b.Type {
	case config.BackendMemory:
		return local.NewBasicCache(), noop, nil

	case config.BackendSQLite:
		c, db, err := sqlite.Open(ctx, b.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if b.DeleteExpiredItems {
			n, err := c.DeleteExpired(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("error deleting expired cache items")
			} else {
				logger.Debug().Int64("deleted", n).Msg("deleted expired cache items")
			}
		}
		return c, db.Close, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", b.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		c, err := postgres.New(ctx, db, &postgres.Config{
			DeleteExpiredItems: b.DeleteExpiredItems,
			ExpiredTaskTimer:   b.ExpiredTaskInterval,
			Logger:             &logger,
		})
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return c, db.Close, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: b.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		c, err := rediscache.New(client, &rediscache.Config{Prefix: b.Prefix})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return c, client.Close, nil

	case config.BackendDynamoDB:
		client, err := dynamoClient(ctx, b)
		if err != nil {
			return nil, nil, err
		}
		if b.CreateTable {
			if err := dynamocache.CreateTable(ctx, client, b.Table); err != nil {
				return nil, nil, fmt.Errorf("create table: %w", err)
			}
		}
		c, err := dynamocache.New(client, &dynamocache.Config{Table: b.Table})
		if err != nil {
			return nil, nil, err
		}
		return c, noop, nil
	}

	return nil, nil, fmt.Errorf("unknown backend type %q", b.Type)
}

func dynamoClient(ctx context.Context, b config.Backend) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if b.Region != "" {
		opts = append(opts, awsconfig.WithRegion(b.Region))
	}
	if b.Endpoint != "" {
		// dynamodb-local accepts any credentials
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")))
		if b.Region == "" {
			opts = append(opts, awsconfig.WithRegion("local"))
		}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if b.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.Endpoint)
		}
	}), nil
}
