package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andreyvit/pathdb"
	"github.com/andreyvit/pathdb/config"
	"github.com/andreyvit/pathdb/dynamostore"
	"github.com/andreyvit/pathdb/redisstore"
)

// openBackend opens the configured backend. DynamoDB comes back as a
// LazyBackend that becomes ready once the tables are verified.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pathdb.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendBolt:
		return pathdb.OpenBolt(cfg.Bolt.Path, pathdb.KVOptions{
			Logger:  logger,
			Verbose: cfg.Store.Verbose,
			Timeout: cfg.Bolt.Timeout,
		})

	case config.BackendMemory:
		return pathdb.OpenMemory(pathdb.KVOptions{Logger: logger, Verbose: cfg.Store.Verbose}), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		return redisstore.New(client, redisstore.Options{
			Prefix:  cfg.Redis.Prefix,
			Logger:  logger,
			Verbose: cfg.Store.Verbose,
		}), nil

	case config.BackendDynamoDB:
		client, err := dynamostore.NewClient(ctx, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
		if err != nil {
			return nil, err
		}
		backend := dynamostore.New(client, dynamostore.TableConfig{
			Env:           cfg.Dynamo.Env,
			Base:          cfg.Dynamo.Base,
			Suffix:        cfg.Dynamo.Suffix,
			ReadCapacity:  cfg.Dynamo.ReadCapacity,
			WriteCapacity: cfg.Dynamo.WriteCapacity,
			CreateTables:  cfg.Dynamo.CreateTables,
		}, logger)
		initTables := func(ctx context.Context) (pathdb.Backend, error) {
			ctx, cancel := context.WithTimeout(ctx, cfg.Dynamo.InitTimeout)
			defer cancel()
			return backend.Init(ctx)
		}
		return pathdb.Initialize(context.WithoutCancel(ctx), initTables, pathdb.LifecycleOptions{
			FailFast: cfg.Store.FailFast,
			Logger:   logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
	}
}
