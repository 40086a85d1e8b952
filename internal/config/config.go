package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database     *dbConfig
	Service      *svcConfig
	Switchboard  *switchboardConfig
	Worker       *workerConfig
	Notification *notificationConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"qiita"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string   `envconfig:"QIITA_ADDRESS" default:":3443"`
	MetricsAddress  string   `envconfig:"QIITA_METRICS_ADDRESS" default:":8080"`
	LogLevel        string   `envconfig:"QIITA_LOG_LEVEL" default:"info"`
	LogFormat       string   `envconfig:"QIITA_LOG_FORMAT" default:"console"`
	MigrationFolder string   `envconfig:"QIITA_MIGRATIONS_FOLDER" default:""`
	CorsOrigins     []string `envconfig:"QIITA_CORS_ORIGINS" default:"http://localhost:8888"`
	Auth            Auth
}

type Auth struct {
	AuthenticationType string   `envconfig:"QIITA_AUTH" default:"header"`
	UserHeader         string   `envconfig:"QIITA_AUTH_USER_HEADER" default:"X-Qiita-User"`
	Admins             []string `envconfig:"QIITA_ADMINS" default:"admin"`
	DevUser            string   `envconfig:"QIITA_AUTH_DEV_USER" default:"admin"`
}

type switchboardConfig struct {
	JobTimeout        time.Duration `envconfig:"QIITA_JOB_TIMEOUT" default:"30m"`
	FinishMaxInterval time.Duration `envconfig:"QIITA_FINISH_MAX_INTERVAL" default:"30s"`
	SweepInterval     time.Duration `envconfig:"QIITA_SWEEP_INTERVAL" default:"5m"`
	ResultsDir        string        `envconfig:"QIITA_RESULTS_DIR" default:"results"`
}

type workerConfig struct {
	Pool        string `envconfig:"QIITA_WORKER_POOL" default:"local"`
	Concurrency int    `envconfig:"QIITA_WORKER_CONCURRENCY" default:"4"`
	QueueSize   int    `envconfig:"QIITA_WORKER_QUEUE_SIZE" default:"64"`
}

type notificationConfig struct {
	Transport     string `envconfig:"QIITA_NOTIFICATION_TRANSPORT" default:"memory"`
	RedisAddress  string `envconfig:"QIITA_REDIS_ADDRESS" default:"localhost:6379"`
	RedisPassword string `envconfig:"QIITA_REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"QIITA_REDIS_DB" default:"0"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a self-contained configuration: sqlite database,
// in-memory notifications and the local worker pool.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type: "sqlite",
			Name: "file::memory:?cache=shared",
		},
		Service: &svcConfig{
			Address:        ":3443",
			MetricsAddress: ":8080",
			LogLevel:       "debug",
			LogFormat:      "console",
			Auth: Auth{
				AuthenticationType: "header",
				UserHeader:         "X-Qiita-User",
				Admins:             []string{"admin"},
				DevUser:            "admin",
			},
		},
		Switchboard: &switchboardConfig{
			JobTimeout:        30 * time.Minute,
			FinishMaxInterval: 30 * time.Second,
			SweepInterval:     5 * time.Minute,
			ResultsDir:        "results",
		},
		Worker: &workerConfig{
			Pool:        "local",
			Concurrency: 4,
			QueueSize:   64,
		},
		Notification: &notificationConfig{
			Transport: "memory",
		},
	}
}
