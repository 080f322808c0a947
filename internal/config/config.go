package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HARVEST_INGESTION_PAGE_DELAY.
const EnvPrefix = "HARVEST"

// Config holds all configuration for the application
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	Server     ServerConfig     `mapstructure:"server"`
}

// APIConfig holds StackExchange API settings
type APIConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Key              string        `mapstructure:"key"`
	Site             string        `mapstructure:"site"`
	QuestionFilter   string        `mapstructure:"question_filter"`
	AnswerFilter     string        `mapstructure:"answer_filter"`
	PageSize         int           `mapstructure:"page_size"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SearchDelay      time.Duration `mapstructure:"search_delay"` // before every question search
	ThrottleCooldown time.Duration `mapstructure:"throttle_cooldown"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// IngestionConfig holds ingestion loop settings
type IngestionConfig struct {
	Tags                  []string      `mapstructure:"tags"`
	QuotaFloor            int           `mapstructure:"quota_floor"`
	PageDelay             time.Duration `mapstructure:"page_delay"` // between pages of one cycle
	RerunCooldown         time.Duration `mapstructure:"rerun_cooldown"`
	InitialTimeoutRetries int           `mapstructure:"initial_timeout_retries"`
	MoreTimeoutRetries    int           `mapstructure:"more_timeout_retries"`
	InitialAnswerAttempts int           `mapstructure:"initial_answer_attempts"`
	MoreAnswerAttempts    int           `mapstructure:"more_answer_attempts"`
	AnswerRetryDelay      time.Duration `mapstructure:"answer_retry_delay"`
	SaveThreshold         int           `mapstructure:"save_threshold"`
}

// StorageConfig holds checkpoint/schedule storage configuration
type StorageConfig struct {
	Type           string `mapstructure:"type"` // "file", "bolt", "badger", "dynamodb"
	CheckpointPath string `mapstructure:"checkpoint_path"`
	SchedulePath   string `mapstructure:"schedule_path"`
	StatusPath     string `mapstructure:"status_path"`
	BoltPath       string `mapstructure:"bolt_path"`
	BadgerDir      string `mapstructure:"badger_dir"`
	Region         string `mapstructure:"region"` // For AWS DynamoDB
	TableName      string `mapstructure:"table_name"`
	Endpoint       string `mapstructure:"endpoint"` // Custom endpoint for local testing
}

// SinkConfig holds output sink configuration
type SinkConfig struct {
	Types          []string `mapstructure:"types"` // "csv", "sql", "mongodb", "bleve"
	QuestionsDir   string   `mapstructure:"questions_dir"`
	AnswersDir     string   `mapstructure:"answers_dir"`
	SQLDriver      string   `mapstructure:"sql_driver"` // "postgres", "sqlite"
	SQLDSN         string   `mapstructure:"sql_dsn"`
	QuestionsTable string   `mapstructure:"questions_table"`
	AnswersTable   string   `mapstructure:"answers_table"`
	MongoDBURI     string   `mapstructure:"mongodb_uri"`
	MongoDatabase  string   `mapstructure:"mongodb_database"`
	BlevePath      string   `mapstructure:"bleve_path"`
}

// DownstreamConfig holds the steps run after a cycle reports "continue".
// Each step is enabled by its main setting being non-empty.
type DownstreamConfig struct {
	BucketURL     string        `mapstructure:"bucket_url"`
	CopyLog       string        `mapstructure:"copy_log"`
	UploadWorkers int           `mapstructure:"upload_workers"`
	Command       []string      `mapstructure:"command"`
	CommandDir    string        `mapstructure:"command_dir"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	Statements    []string      `mapstructure:"statements"`
	NATSURL       string        `mapstructure:"nats_url"`
	NATSSubject   string        `mapstructure:"nats_subject"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds HTTP status server configuration
type ServerConfig struct {
	Port int `mapstructure:"port"` // 0 disables the server
}

var (
	storageTypes = map[string]bool{"file": true, "bolt": true, "badger": true, "dynamodb": true}
	sinkTypes    = map[string]bool{"csv": true, "sql": true, "mongodb": true, "bleve": true}
	sqlDrivers   = map[string]bool{"postgres": true, "sqlite": true}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.stackexchange.com/2.3")
	v.SetDefault("api.key", "")
	v.SetDefault("api.site", "stackoverflow")
	v.SetDefault("api.question_filter", "!)riR7ZJuB__VlNdi-mPJ")
	v.SetDefault("api.answer_filter", "!apyOS4)o)GxWu6")
	v.SetDefault("api.page_size", 100)
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.search_delay", 9*time.Second)
	v.SetDefault("api.throttle_cooldown", 30*time.Second)
	v.SetDefault("api.user_agent", "newsletter-harvester/1.0")

	v.SetDefault("ingestion.tags", []string{})
	v.SetDefault("ingestion.quota_floor", 0)
	v.SetDefault("ingestion.page_delay", 2*time.Second)
	v.SetDefault("ingestion.rerun_cooldown", 60*time.Second)
	v.SetDefault("ingestion.initial_timeout_retries", 10)
	v.SetDefault("ingestion.more_timeout_retries", 1)
	v.SetDefault("ingestion.initial_answer_attempts", 10)
	v.SetDefault("ingestion.more_answer_attempts", 1)
	v.SetDefault("ingestion.answer_retry_delay", 1*time.Second)
	v.SetDefault("ingestion.save_threshold", 1000)

	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.checkpoint_path", "checkpoint.json")
	v.SetDefault("storage.schedule_path", "schedule.json")
	v.SetDefault("storage.status_path", "status.json")
	v.SetDefault("storage.bolt_path", "harvester.db")
	v.SetDefault("storage.badger_dir", "harvester-state")
	v.SetDefault("storage.region", "us-west-2")
	v.SetDefault("storage.table_name", "harvester_state")
	v.SetDefault("storage.endpoint", "") // For local DynamoDB

	v.SetDefault("sink.types", []string{"csv"})
	v.SetDefault("sink.questions_dir", "data/questions")
	v.SetDefault("sink.answers_dir", "data/answers")
	v.SetDefault("sink.sql_driver", "postgres")
	v.SetDefault("sink.sql_dsn", "")
	v.SetDefault("sink.questions_table", "temp_questions")
	v.SetDefault("sink.answers_table", "temp_answers")
	v.SetDefault("sink.mongodb_uri", "")
	v.SetDefault("sink.mongodb_database", "stackoverflow")
	v.SetDefault("sink.bleve_path", "data/index.bleve")

	v.SetDefault("downstream.bucket_url", "")
	v.SetDefault("downstream.copy_log", "copy_log.txt")
	v.SetDefault("downstream.upload_workers", 4)
	v.SetDefault("downstream.command", []string{})
	v.SetDefault("downstream.command_dir", "")
	v.SetDefault("downstream.postgres_dsn", "")
	v.SetDefault("downstream.statements", []string{})
	v.SetDefault("downstream.nats_url", "")
	v.SetDefault("downstream.nats_subject", "harvester.cycles")
	v.SetDefault("downstream.timeout", 30*time.Minute)

	v.SetDefault("server.port", 8080)
}

// Load reads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.key", EnvPrefix+"_API_KEY", "STACKEXCHANGE_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding api key: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for values the components cannot work with.
func (c *Config) Validate() error {
	if !govalidator.IsURL(c.API.BaseURL) {
		return fmt.Errorf("api.base_url %q is not a valid URL", c.API.BaseURL)
	}
	if c.API.Site == "" {
		return fmt.Errorf("api.site is required")
	}
	if c.API.PageSize < 1 || c.API.PageSize > 100 {
		return fmt.Errorf("api.page_size must be between 1 and 100, got %d", c.API.PageSize)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	in := c.Ingestion
	if in.QuotaFloor < 0 {
		return fmt.Errorf("quota floor must not be negative, got %d", in.QuotaFloor)
	}
	if in.InitialTimeoutRetries < 0 || in.MoreTimeoutRetries < 0 {
		return fmt.Errorf("timeout retries must not be negative")
	}
	if in.InitialAnswerAttempts < 1 || in.MoreAnswerAttempts < 1 {
		return fmt.Errorf("answer attempts must be at least 1")
	}
	if in.SaveThreshold < 0 {
		return fmt.Errorf("ingestion.save_threshold must not be negative")
	}

	if !storageTypes[c.Storage.Type] {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if len(c.Sink.Types) == 0 {
		return fmt.Errorf("at least one sink type is required")
	}
	for _, t := range c.Sink.Types {
		if !sinkTypes[t] {
			return fmt.Errorf("unsupported sink type: %s", t)
		}
		if t == "sql" && !sqlDrivers[c.Sink.SQLDriver] {
			return fmt.Errorf("unsupported sql driver: %s", c.Sink.SQLDriver)
		}
		if t == "mongodb" && c.Sink.MongoDBURI != "" && !strings.HasPrefix(c.Sink.MongoDBURI, "mongodb") {
			return fmt.Errorf("sink.mongodb_uri must be a mongodb:// or mongodb+srv:// URI")
		}
	}

	if c.Downstream.NATSURL != "" && c.Downstream.NATSSubject == "" {
		return fmt.Errorf("downstream.nats_subject is required when nats_url is set")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	return nil
}
