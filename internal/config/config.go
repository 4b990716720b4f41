package config

import (
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every env-sourced setting the binaries use. Only this struct
// may be used to read configuration; no direct env access elsewhere.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"pos_backend"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr         string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpServerReadTimeout  int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	LogLevel []string `env:"LOG_LEVEL"`

	EventStreamName        string        `env:"EVENT_STREAM_NAME" default:"pos:events"`
	EventConsumerGroup     string        `env:"EVENT_CONSUMER_GROUP" default:"notifier"`
	EventConsumerName      string        `env:"EVENT_CONSUMER_NAME"`
	EventMaxRetries        int           `env:"EVENT_MAX_RETRIES"`
	EventVisibilityTimeout time.Duration `env:"EVENT_VISIBILITY_TIMEOUT"`
	EventPollInterval      time.Duration `env:"EVENT_POLL_INTERVAL"`
	EventBatchSize         int64         `env:"EVENT_BATCH_SIZE"`
	EventMaxLen            int64         `env:"EVENT_MAX_LEN"`
	EventEnableDLQ         bool          `env:"EVENT_ENABLE_DLQ"`
	EventObserverURLs      []string      `env:"EVENT_OBSERVER_URLS"`

	MpesaBaseURL        string        `env:"MPESA_BASE_URL"`
	MpesaConsumerKey    string        `env:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret string        `env:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode      string        `env:"MPESA_SHORT_CODE"`
	MpesaPasskey        string        `env:"MPESA_PASSKEY"`
	MpesaCallbackURL    string        `env:"MPESA_CALLBACK_URL"`
	MpesaTimeout        time.Duration `env:"MPESA_TIMEOUT" default:"30s"`

	PendingTimeoutHorizon time.Duration `env:"PENDING_TIMEOUT_HORIZON" default:"24h"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
