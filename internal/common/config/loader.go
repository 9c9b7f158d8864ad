package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads .env, configs/config.yaml, the per-environment overlay and
// environment variables, in that order of increasing precedence.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName("config." + env)
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile reads a single config file plus environment overrides.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
	return v
}

// bindEnvKeys makes AutomaticEnv see keys that are absent from every file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"llm.base_url", "llm.model", "llm.api_key", "llm.timeout", "llm.max_retries",
		"server.port", "logging.level", "logging.format",
		"interaction_log.enabled", "interaction_log.directory",
		"database.postgres.host", "database.postgres.user", "database.postgres.password",
		"database.redis.address", "database.redis.password",
		"camunda.broker_address",
		"notifications.sns.topic_arn", "notifications.ses.from_email",
	} {
		_ = v.BindEnv(key)
	}
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	candidates := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		candidates = append(candidates, filepath.Join(root, ".env"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
			v.Set(key, expanded)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "transfer-advisor"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120000
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:1234/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "LM Studio Community/Meta-Llama-3-8B-Instruct-GGUF"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60000
	}
	if cfg.LLM.RateBurst == 0 {
		cfg.LLM.RateBurst = 1
	}

	if cfg.Pipeline.ReviewConfidenceThreshold == 0 {
		cfg.Pipeline.ReviewConfidenceThreshold = 50
	}
	if cfg.Pipeline.DisagreementPenalty == 0 {
		cfg.Pipeline.DisagreementPenalty = 15
	}

	if cfg.InteractionLog.Directory == "" {
		cfg.InteractionLog.Directory = filepath.Join("logs", "llm_interactions")
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.ExclusionIndex == "" {
		cfg.Database.Elasticsearch.ExclusionIndex = "exclusion-criteria"
	}
	if cfg.Database.Redis.CensusTTL == 0 {
		cfg.Database.Redis.CensusTTL = 900
	}

	if cfg.Collaborators.HospitalSource == "" {
		cfg.Collaborators.HospitalSource = "none"
	}
	if cfg.Collaborators.CensusSource == "" {
		cfg.Collaborators.CensusSource = "none"
	}
	if cfg.Collaborators.ExclusionSource == "" {
		cfg.Collaborators.ExclusionSource = "none"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 5
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 300000
	}
	if cfg.Workers == nil {
		cfg.Workers = map[string]WorkerConfig{}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func validateConfig(cfg *Config) error {
	if !strings.HasPrefix(cfg.LLM.BaseURL, "http://") && !strings.HasPrefix(cfg.LLM.BaseURL, "https://") {
		return fmt.Errorf("llm.base_url must be an http(s) URL, got %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Timeout < 0 || cfg.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.timeout and llm.max_retries must not be negative")
	}
	if cfg.Pipeline.ReviewConfidenceThreshold < 0 || cfg.Pipeline.ReviewConfidenceThreshold > 100 {
		return fmt.Errorf("pipeline.review_confidence_threshold must be within [0,100]")
	}

	switch cfg.Collaborators.HospitalSource {
	case "none", "postgres":
	case "file":
		if cfg.Collaborators.HospitalsFile == "" {
			return fmt.Errorf("collaborators.hospitals_file is required when hospital_source=file")
		}
	default:
		return fmt.Errorf("unknown collaborators.hospital_source %q", cfg.Collaborators.HospitalSource)
	}

	switch cfg.Collaborators.CensusSource {
	case "none", "redis":
	default:
		return fmt.Errorf("unknown collaborators.census_source %q", cfg.Collaborators.CensusSource)
	}

	switch cfg.Collaborators.ExclusionSource {
	case "none", "elasticsearch":
	case "file":
		if cfg.Collaborators.ExclusionsFile == "" {
			return fmt.Errorf("collaborators.exclusions_file is required when exclusion_source=file")
		}
	default:
		return fmt.Errorf("unknown collaborators.exclusion_source %q", cfg.Collaborators.ExclusionSource)
	}

	if cfg.Notifications.SNS.Enabled && cfg.Notifications.SNS.TopicARN == "" {
		return fmt.Errorf("notifications.sns.topic_arn is required when sns is enabled")
	}
	if cfg.Notifications.SES.Enabled && (cfg.Notifications.SES.FromEmail == "" || len(cfg.Notifications.SES.ToEmails) == 0) {
		return fmt.Errorf("notifications.ses.from_email and to_emails are required when ses is enabled")
	}
	return nil
}
