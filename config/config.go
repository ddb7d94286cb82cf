package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	LogLevel   string           `mapstructure:"log_level"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Shopify    ShopifyConfig    `mapstructure:"shopify"`
	Bluefly    BlueflyConfig    `mapstructure:"bluefly"`
	Lookup     LookupConfig     `mapstructure:"lookup"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	EventLog   EventLogConfig   `mapstructure:"eventlog"`
	Settings   SettingsConfig   `mapstructure:"settings"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServerConfig struct {
	Port int
	Host string
}

type MonitoringConfig struct {
	PrometheusPort int    `mapstructure:"prometheusPort"`
	MetricsPath    string `mapstructure:"metricsPath"`
}

type ShopifyConfig struct {
	Store         string `mapstructure:"store"`
	AccessToken   string `mapstructure:"accessToken"`
	APIVersion    string `mapstructure:"apiVersion"`
	WebhookSecret string `mapstructure:"webhookSecret"`
}

type BlueflyConfig struct {
	APIURL      string `mapstructure:"apiUrl"`
	SellerID    string `mapstructure:"sellerId"`
	SellerToken string `mapstructure:"sellerToken"`
}

type LookupConfig struct {
	Server   string `mapstructure:"server"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type RabbitMQConfig struct {
	URL       string `mapstructure:"url"`
	Exchange  string `mapstructure:"exchange"`
	QueueName string `mapstructure:"queueName"`
}

// EventLogConfig selects the durable log backend. "file" is the default;
// "mongo" switches both logs to MongoDB collections.
type EventLogConfig struct {
	Backend        string `mapstructure:"backend"`
	LogDir         string `mapstructure:"logDir"`
	PipelineLogDir string `mapstructure:"pipelineLogDir"`
	MongoURI       string `mapstructure:"mongoUri"`
	MongoDatabase  string `mapstructure:"mongoDatabase"`
}

type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

type WorkerConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("monitoring.prometheusPort", 9090)
	viper.SetDefault("monitoring.metricsPath", "/metrics")
	viper.SetDefault("shopify.apiVersion", "2025-01")
	viper.SetDefault("eventlog.backend", "file")
	viper.SetDefault("eventlog.logDir", "webhook_logs")
	viper.SetDefault("eventlog.pipelineLogDir", "pipeline_logs")
	viper.SetDefault("settings.path", "sync_settings.json")
	viper.SetDefault("worker.sweepIntervalSeconds", 60)

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional when the environment carries everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if promPort := os.Getenv("PROMETHEUS_PORT"); promPort != "" {
		if p, err := strconv.Atoi(promPort); err == nil {
			cfg.Monitoring.PrometheusPort = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if store := os.Getenv("SHOPIFY_STORE"); store != "" {
		cfg.Shopify.Store = store
	}
	if token := os.Getenv("SHOPIFY_ACCESS_TOKEN"); token != "" {
		cfg.Shopify.AccessToken = token
	}
	if version := os.Getenv("SHOPIFY_API_VERSION"); version != "" {
		cfg.Shopify.APIVersion = version
	}
	if secret := os.Getenv("SHOPIFY_WEBHOOK_SECRET"); secret != "" {
		cfg.Shopify.WebhookSecret = secret
	}

	if url := os.Getenv("BLUEFLY_API_URL"); url != "" {
		cfg.Bluefly.APIURL = url
	}
	if id := os.Getenv("BLUEFLY_SELLER_ID"); id != "" {
		cfg.Bluefly.SellerID = id
	}
	if token := os.Getenv("BLUEFLY_SELLER_TOKEN"); token != "" {
		cfg.Bluefly.SellerToken = token
	}

	if server := os.Getenv("LOOKUP_DB_SERVER"); server != "" {
		cfg.Lookup.Server = server
	}
	if db := os.Getenv("LOOKUP_DB_NAME"); db != "" {
		cfg.Lookup.Database = db
	}
	if user := os.Getenv("LOOKUP_DB_USER"); user != "" {
		cfg.Lookup.User = user
	}
	if password := os.Getenv("LOOKUP_DB_PASSWORD"); password != "" {
		cfg.Lookup.Password = password
	}

	// Support both CLOUDAMQP_URL and RABBITMQ_URI for backwards compatibility
	if cloudamqpURL := os.Getenv("CLOUDAMQP_URL"); cloudamqpURL != "" {
		cfg.RabbitMQ.URL = cloudamqpURL
	} else if rabbitURL := os.Getenv("RABBITMQ_URI"); rabbitURL != "" {
		cfg.RabbitMQ.URL = rabbitURL
	}
	if exchange := os.Getenv("RABBITMQ_EXCHANGE"); exchange != "" {
		cfg.RabbitMQ.Exchange = exchange
	}
	if queue := os.Getenv("RABBITMQ_QUEUE"); queue != "" {
		cfg.RabbitMQ.QueueName = queue
	}

	if backend := os.Getenv("EVENTLOG_BACKEND"); backend != "" {
		cfg.EventLog.Backend = backend
	}
	if dir := os.Getenv("WEBHOOK_LOG_DIR"); dir != "" {
		cfg.EventLog.LogDir = dir
	}
	if dir := os.Getenv("PIPELINE_LOG_DIR"); dir != "" {
		cfg.EventLog.PipelineLogDir = dir
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.EventLog.MongoURI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		cfg.EventLog.MongoDatabase = db
	}

	if path := os.Getenv("SYNC_SETTINGS_PATH"); path != "" {
		cfg.Settings.Path = path
	}
	if interval := os.Getenv("WORKER_SWEEP_INTERVAL"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			cfg.Worker.SweepIntervalSeconds = v
		}
	}

	return &cfg, nil
}
