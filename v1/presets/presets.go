// Package presets provides ready-made registry.StoreFactory constructors for
// every supported backend.
package presets

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/bobg/errors"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-verrou/v1/adapter"
	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/lock"
	"github.com/mirkobrombin/go-verrou/v1/registry"
	"github.com/mirkobrombin/go-verrou/v1/syncbus"
)

// Memory returns a factory for a process-local store.
func Memory(opts ...adapter.MemoryOption) registry.StoreFactory {
	return func() (lock.Store, error) {
		return adapter.NewMemoryStore(opts...), nil
	}
}

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// Redis returns a factory that dials Redis with opts.
func Redis(opts RedisOptions) registry.StoreFactory {
	return func() (lock.Store, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		return RedisClient(client, redisStoreOptions(opts)...)()
	}
}

// RedisClient returns a factory over an existing client, which may be a
// cluster or sentinel client. The store closes client on Disconnect.
func RedisClient(client redis.UniversalClient, opts ...adapter.RedisOption) registry.StoreFactory {
	return func() (lock.Store, error) {
		return adapter.NewRedisStore(client, opts...), nil
	}
}

// RedisBus returns a release-notification bus over Redis pub/sub. Close it
// when done.
func RedisBus(opts RedisOptions) *syncbus.RedisBus {
	return syncbus.NewRedisBus(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

func redisStoreOptions(opts RedisOptions) []adapter.RedisOption {
	var out []adapter.RedisOption
	if opts.KeyPrefix != "" {
		out = append(out, adapter.WithRedisPrefix(opts.KeyPrefix))
	}
	if opts.Timeout > 0 {
		out = append(out, adapter.WithRedisTimeout(opts.Timeout))
	}
	return out
}

// DatabaseOptions configures a SQL store.
type DatabaseOptions struct {
	// Dialect is one of sqlite, mysql or postgres.
	Dialect string
	DSN     string
	// Table defaults to "verrou".
	Table string
	// SkipTableCreation assumes the table already exists.
	SkipTableCreation bool
	Timeout           time.Duration
}

// Dialector resolves a GORM dialector for dialect.
func Dialector(dialect, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(dialect) {
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	case "mysql", "mariadb":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql", "pg":
		return postgres.Open(dsn), nil
	default:
		return nil, errors.Wrapf(verrouerrors.ErrUnknownDriver, "sql dialect %q", dialect)
	}
}

// Database returns a factory that opens a GORM connection with opts.
func Database(opts DatabaseOptions) registry.StoreFactory {
	return func() (lock.Store, error) {
		dialector, err := Dialector(opts.Dialect, opts.DSN)
		if err != nil {
			return nil, err
		}
		db, err := gorm.Open(dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s database", opts.Dialect)
		}
		return Gorm(db, opts)()
	}
}

// Gorm returns a factory over an open GORM connection. Dialect and DSN in
// opts are ignored.
func Gorm(db *gorm.DB, opts DatabaseOptions) registry.StoreFactory {
	return func() (lock.Store, error) {
		var storeOpts []adapter.DatabaseOption
		if opts.SkipTableCreation {
			storeOpts = append(storeOpts, adapter.WithoutTableCreation())
		}
		if opts.Timeout > 0 {
			storeOpts = append(storeOpts, adapter.WithDatabaseTimeout(opts.Timeout))
		}
		a := adapter.NewGormAdapter(db, adapter.WithGormTableName(opts.Table))
		return adapter.NewDatabaseStore(a, storeOpts...), nil
	}
}

// DynamoDBOptions configures a DynamoDB store. Empty credentials fall back
// to the default AWS credential chain.
type DynamoDBOptions struct {
	Table             string
	Region            string
	Endpoint          string
	AccessKeyID       string
	SecretAccessKey   string
	SkipTableCreation bool
	Timeout           time.Duration
}

// DynamoDB returns a factory that loads the AWS configuration and builds a
// DynamoDB client.
func DynamoDB(opts DynamoDBOptions) registry.StoreFactory {
	return func() (lock.Store, error) {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
		}
		if opts.AccessKeyID != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
			))
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "loading aws config")
		}
		client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(opts.Endpoint)
			}
		})
		return DynamoDBClient(client, opts)()
	}
}

// DynamoDBClient returns a factory over an existing client. Region, Endpoint
// and credentials in opts are ignored.
func DynamoDBClient(client adapter.DynamoDBAPI, opts DynamoDBOptions) registry.StoreFactory {
	return func() (lock.Store, error) {
		var storeOpts []adapter.DynamoDBOption
		if opts.Table != "" {
			storeOpts = append(storeOpts, adapter.WithDynamoTableName(opts.Table))
		}
		if opts.SkipTableCreation {
			storeOpts = append(storeOpts, adapter.WithoutDynamoTableCreation())
		}
		if opts.Timeout > 0 {
			storeOpts = append(storeOpts, adapter.WithDynamoTimeout(opts.Timeout))
		}
		return adapter.NewDynamoDBStore(client, storeOpts...), nil
	}
}
