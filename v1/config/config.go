// Package config builds a registry.Registry from YAML files or environment
// variables through viper.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bobg/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/lock"
	"github.com/mirkobrombin/go-verrou/v1/presets"
	"github.com/mirkobrombin/go-verrou/v1/registry"
	"github.com/mirkobrombin/go-verrou/v1/syncbus"
)

// Driver names accepted in StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverDatabase = "database"
	DriverDynamoDB = "dynamodb"
)

// EnvPrefix prefixes environment overrides, e.g. VERROU_TTL or
// VERROU_RETRY_DELAY.
const EnvPrefix = "VERROU"

// Config is the top-level configuration.
type Config struct {
	// Default names the store used by Registry.CreateLock.
	Default string `mapstructure:"default"`
	// TTL is the default lease; "none" disables expiry.
	TTL    time.Duration          `mapstructure:"ttl"`
	Retry  RetryConfig            `mapstructure:"retry"`
	Stores map[string]StoreConfig `mapstructure:"stores"`
	// Notify enables release notifications between waiting acquirers.
	Notify NotifyConfig `mapstructure:"notify"`
}

// NotifyConfig selects the release-notification bus. An empty driver
// disables notifications.
type NotifyConfig struct {
	Driver   string `mapstructure:"driver"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RetryConfig mirrors lock.RetryConfig.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StoreConfig describes one named store. Only the fields of its driver are
// read.
type StoreConfig struct {
	Driver  string        `mapstructure:"driver"`
	Timeout time.Duration `mapstructure:"timeout"`

	// redis
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// database
	Dialect         string `mapstructure:"dialect"`
	DSN             string `mapstructure:"dsn"`
	AutoCreateTable *bool  `mapstructure:"auto_create_table"`

	// database and dynamodb
	Table string `mapstructure:"table"`

	// dynamodb
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default", DriverMemory)
	v.SetDefault("ttl", lock.DefaultTTL.String())
	v.SetDefault("retry.attempts", 0)
	v.SetDefault("retry.delay", lock.DefaultRetryDelay.String())
	v.SetDefault("retry.timeout", "0")
}

// Load decodes the configuration held by v, applying defaults and
// VERROU_* environment overrides. A "memory" store is always present.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DurationHook())); err != nil {
		return nil, errors.Wrap(err, "decoding verrou config")
	}
	if cfg.Stores == nil {
		cfg.Stores = make(map[string]StoreConfig)
	}
	if _, ok := cfg.Stores[DriverMemory]; !ok {
		cfg.Stores[DriverMemory] = StoreConfig{Driver: DriverMemory}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads the configuration file at path. The format follows the
// file extension.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Load(v)
}

// Validate checks the default store and every driver name.
func (c *Config) Validate() error {
	if _, ok := c.Stores[c.Default]; !ok {
		return errors.Wrapf(verrouerrors.ErrUnknownStore, "default store %q", c.Default)
	}
	switch strings.ToLower(c.Notify.Driver) {
	case "", DriverMemory, DriverRedis:
	default:
		return errors.Wrapf(verrouerrors.ErrUnknownDriver, "notify driver %q", c.Notify.Driver)
	}
	for name, sc := range c.Stores {
		switch strings.ToLower(sc.Driver) {
		case DriverMemory, DriverRedis, DriverDatabase, DriverDynamoDB:
		default:
			return errors.Wrapf(verrouerrors.ErrUnknownDriver, "store %q uses driver %q", name, sc.Driver)
		}
	}
	return nil
}

// Bus builds the configured notification bus, nil when notifications are
// disabled. The caller owns the returned bus.
func (c *Config) Bus() syncbus.Bus {
	switch strings.ToLower(c.Notify.Driver) {
	case DriverMemory:
		return syncbus.NewInMemoryBus()
	case DriverRedis:
		return presets.RedisBus(presets.RedisOptions{
			Addr:     c.Notify.Addr,
			Password: c.Notify.Password,
			DB:       c.Notify.DB,
		})
	default:
		return nil
	}
}

// FactoryOptions returns the lock factory options described by c, not
// including the notification bus.
func (c *Config) FactoryOptions() []lock.FactoryOption {
	return []lock.FactoryOption{
		lock.WithDefaultTTL(c.TTL),
		lock.WithRetry(lock.RetryConfig{
			Attempts: c.Retry.Attempts,
			Delay:    c.Retry.Delay,
			Timeout:  c.Retry.Timeout,
		}),
	}
}

// Registry builds a registry over the configured stores, sharing one
// notification bus when Notify is set. Extra options are applied after the
// configured ones.
func (c *Config) Registry(opts ...lock.FactoryOption) (*registry.Registry, error) {
	stores := make(map[string]registry.StoreFactory, len(c.Stores))
	for name, sc := range c.Stores {
		f, err := sc.StoreFactory()
		if err != nil {
			return nil, errors.Wrapf(err, "store %q", name)
		}
		stores[name] = f
	}
	factoryOpts := c.FactoryOptions()
	if bus := c.Bus(); bus != nil {
		factoryOpts = append(factoryOpts, lock.WithBus(bus))
	}
	return registry.New(c.Default, stores, append(factoryOpts, opts...)...)
}

// StoreFactory returns the preset matching the store driver.
func (sc StoreConfig) StoreFactory() (registry.StoreFactory, error) {
	switch strings.ToLower(sc.Driver) {
	case DriverMemory:
		return presets.Memory(), nil
	case DriverRedis:
		return presets.Redis(presets.RedisOptions{
			Addr:      sc.Addr,
			Password:  sc.Password,
			DB:        sc.DB,
			KeyPrefix: sc.KeyPrefix,
			Timeout:   sc.Timeout,
		}), nil
	case DriverDatabase:
		if _, err := presets.Dialector(sc.Dialect, sc.DSN); err != nil {
			return nil, err
		}
		return presets.Database(presets.DatabaseOptions{
			Dialect:           sc.Dialect,
			DSN:               sc.DSN,
			Table:             sc.Table,
			SkipTableCreation: sc.AutoCreateTable != nil && !*sc.AutoCreateTable,
			Timeout:           sc.Timeout,
		}), nil
	case DriverDynamoDB:
		return presets.DynamoDB(presets.DynamoDBOptions{
			Table:           sc.Table,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			Timeout:         sc.Timeout,
		}), nil
	default:
		return nil, errors.Wrapf(verrouerrors.ErrUnknownDriver, "driver %q", sc.Driver)
	}
}

// DurationHook decodes strings and numbers into time.Duration with
// lock.ParseTTL: bare numbers are milliseconds and "none" is zero.
func DurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return lock.ParseTTL(v)
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return lock.ParseDuration(fmt.Sprint(v))
		case float32, float64:
			return lock.ParseDuration(fmt.Sprintf("%.0f", v))
		case time.Duration:
			return v, nil
		}
		return data, nil
	}
}
