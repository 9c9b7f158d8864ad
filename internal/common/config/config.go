package config

import (
	"fmt"
	"time"
)

type Config struct {
	App            AppConfig               `mapstructure:"app"`
	Server         ServerConfig            `mapstructure:"server"`
	LLM            LLMConfig               `mapstructure:"llm"`
	Pipeline       PipelineConfig          `mapstructure:"pipeline"`
	InteractionLog InteractionLogConfig    `mapstructure:"interaction_log"`
	Database       DatabaseConfig          `mapstructure:"database"`
	Collaborators  CollaboratorsConfig     `mapstructure:"collaborators"`
	Camunda        CamundaConfig           `mapstructure:"camunda"`
	Workers        map[string]WorkerConfig `mapstructure:"workers"`
	Notifications  NotificationConfig      `mapstructure:"notifications"`
	Logging        LoggingConfig           `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int `mapstructure:"write_timeout"` // milliseconds
}

// LLMConfig describes the OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	APIKey       string  `mapstructure:"api_key"`
	Timeout      int     `mapstructure:"timeout"` // milliseconds
	MaxRetries   int     `mapstructure:"max_retries"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	RateBurst    int     `mapstructure:"rate_burst"`
	CacheSize    int     `mapstructure:"cache_size"`
}

func (l LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Millisecond
}

type PipelineConfig struct {
	ReviewConfidenceThreshold float64           `mapstructure:"review_confidence_threshold"`
	DisagreementPenalty       float64           `mapstructure:"disagreement_penalty"`
	CampusTable               CampusTableConfig `mapstructure:"campus_table"`
	CampusNames               map[string]string `mapstructure:"campus_names"`
}

// CampusTableConfig is the fixed campus lookup used by the rule-based
// recommendation path.
type CampusTableConfig struct {
	Default    string `mapstructure:"default"`
	NICU       string `mapstructure:"nicu"`
	PICU       string `mapstructure:"picu"`
	PICUTrauma string `mapstructure:"picu_trauma"`
	Burns      string `mapstructure:"burns"`
	Neuro      string `mapstructure:"neuro"`
}

type InteractionLogConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses      []string `mapstructure:"addresses"`
	Username       string   `mapstructure:"username"`
	Password       string   `mapstructure:"password"`
	ExclusionIndex string   `mapstructure:"exclusion_index"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	CensusTTL int    `mapstructure:"census_ttl"` // seconds
}

// CollaboratorsConfig selects where hospital and exclusion data come from.
type CollaboratorsConfig struct {
	HospitalSource  string `mapstructure:"hospital_source"` // file | postgres | none
	HospitalsFile   string `mapstructure:"hospitals_file"`
	CensusSource    string `mapstructure:"census_source"` // redis | none
	ExclusionSource string `mapstructure:"exclusion_source"` // file | elasticsearch | none
	ExclusionsFile  string `mapstructure:"exclusions_file"`
}

type CamundaConfig struct {
	BrokerAddress string `mapstructure:"broker_address"`
	MaxJobsActive int    `mapstructure:"max_jobs_active"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
	RegistryPath  string `mapstructure:"registry_path"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
}

type NotificationConfig struct {
	AWSRegion string `mapstructure:"aws_region"`
	SNS       struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		ToEmails  []string `mapstructure:"to_emails"`
	} `mapstructure:"ses"`
}

func (n NotificationConfig) Enabled() bool {
	return n.SNS.Enabled || n.SES.Enabled
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
