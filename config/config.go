// Package config loads server configuration from the environment and an
// optional .env file.
//
// Variables are PATHDB_<SECTION>_<KEY> (e.g. PATHDB_STORE_BACKEND), except for
// the deployment names inherited from the original service: PORT,
// _DEPLOY_ENV, AWS_DYNAMO_REGION and AWS_DYNAMO_ENDPOINT.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	BackendBolt     = "bolt"
	BackendMemory   = "memory" // not persisted; tests and demos
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	Environment string `validate:"required,oneof=development test staging production"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	HTTP    HTTPConfig
	Store   StoreConfig
	Bolt    BoltConfig
	Redis   RedisConfig
	Dynamo  DynamoConfig
	Metrics MetricsConfig
}

type HTTPConfig struct {
	Port            string        `validate:"required,numeric"`
	ReadTimeout     time.Duration `validate:"gte=0"`
	WriteTimeout    time.Duration `validate:"gte=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	MaxBodySize     int64         `validate:"gt=0"`
}

func (c HTTPConfig) Addr() string {
	return ":" + c.Port
}

type StoreConfig struct {
	Backend         string `validate:"required,oneof=bolt memory redis dynamodb"`
	MandatoryField  string `validate:"required,excludes=."`
	SerializeWrites bool
	Verbose         bool

	// FailFast makes requests fail instead of waiting while the backend is
	// still initializing.
	FailFast bool
}

type BoltConfig struct {
	Path    string
	Timeout time.Duration `validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
	Prefix   string
}

type DynamoConfig struct {
	Region        string
	Endpoint      string `validate:"omitempty,url"`
	Env           string
	Base          string
	Suffix        string
	ReadCapacity  int64 `validate:"gte=0"`
	WriteCapacity int64 `validate:"gte=0"`
	CreateTables  bool
	InitTimeout   time.Duration `validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string `validate:"required_if=Enabled true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.port", "80")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_body_size", 1<<20)

	v.SetDefault("store.backend", BackendBolt)
	v.SetDefault("store.mandatory_field", "email")

	v.SetDefault("bolt.path", "pathdb.db")
	v.SetDefault("bolt.timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "pathdb:")

	v.SetDefault("dynamo.region", "us-west-1")
	v.SetDefault("dynamo.base", "who-is-who-db")
	v.SetDefault("dynamo.suffix", "us-west-2")
	v.SetDefault("dynamo.read_capacity", 5)
	v.SetDefault("dynamo.write_capacity", 5)
	v.SetDefault("dynamo.init_timeout", 3*time.Minute)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "pathdb")
}

// Load reads envFile (if it exists; pass "" to skip it) and the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("PATHDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, env := range map[string]string{
		"http.port":       "PORT",
		"dynamo.env":      "_DEPLOY_ENV",
		"dynamo.region":   "AWS_DYNAMO_REGION",
		"dynamo.endpoint": "AWS_DYNAMO_ENDPOINT",
	} {
		if err := v.BindEnv(key, "PATHDB_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),
		HTTP: HTTPConfig{
			Port:            v.GetString("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
		},
		Store: StoreConfig{
			Backend:         v.GetString("store.backend"),
			MandatoryField:  v.GetString("store.mandatory_field"),
			SerializeWrites: v.GetBool("store.serialize_writes"),
			Verbose:         v.GetBool("store.verbose"),
			FailFast:        v.GetBool("store.fail_fast"),
		},
		Bolt: BoltConfig{
			Path:    v.GetString("bolt.path"),
			Timeout: v.GetDuration("bolt.timeout"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Dynamo: DynamoConfig{
			Region:        v.GetString("dynamo.region"),
			Endpoint:      v.GetString("dynamo.endpoint"),
			Env:           v.GetString("dynamo.env"),
			Base:          v.GetString("dynamo.base"),
			Suffix:        v.GetString("dynamo.suffix"),
			ReadCapacity:  v.GetInt64("dynamo.read_capacity"),
			WriteCapacity: v.GetInt64("dynamo.write_capacity"),
			InitTimeout:   v.GetDuration("dynamo.init_timeout"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
		},
	}
	// Test environments provision their own tables.
	v.SetDefault("dynamo.create_tables", cfg.Environment == "test" || cfg.Environment == "development")
	cfg.Dynamo.CreateTables = v.GetBool("dynamo.create_tables")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateBackendSettings, Config{})
	return v
}

// validateBackendSettings requires the settings of the selected backend.
func validateBackendSettings(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	switch cfg.Store.Backend {
	case BackendBolt:
		if cfg.Bolt.Path == "" {
			sl.ReportError(cfg.Bolt.Path, "Bolt.Path", "Path", "required_for_backend", cfg.Store.Backend)
		}
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			sl.ReportError(cfg.Redis.Addr, "Redis.Addr", "Addr", "required_for_backend", cfg.Store.Backend)
		}
	case BackendDynamoDB:
		if cfg.Dynamo.Env == "" {
			sl.ReportError(cfg.Dynamo.Env, "Dynamo.Env", "Env", "required_for_backend", cfg.Store.Backend)
		}
	}
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// NewLogger returns a JSON production logger in production and a console
// development logger elsewhere, at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if c.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
