package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"waorganizer/internal/domain"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderGemini    = "gemini"
	ProviderGenAI     = "genai"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const (
	DefaultGeminiEndpoint    = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash-exp:generateContent"
	DefaultGenAIBaseURL      = "https://generativelanguage.googleapis.com/"
	DefaultAnthropicBaseURL  = "https://api.anthropic.com/"
	DefaultOpenAIEndpoint    = "https://api.openai.com/v1/chat/completions"
	defaultPruneSchedule     = "0 3 * * *"
	defaultHistoryRetainDays = 30
)

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	LLMAPIEndpoint  string `yaml:"llm_api_endpoint"`
	LLMPromptPath   string `yaml:"llm_prompt_path"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	CounterMode            string `yaml:"counter_mode"`
	DefaultSortBy          string `yaml:"default_sort_by"`
	DefaultMergeDuplicates bool   `yaml:"default_merge_duplicates"`
	DefaultShowOnlyIDs     bool   `yaml:"default_show_only_ids"`

	DBPath                     string `yaml:"db_path"`
	ExportDir                  string `yaml:"export_dir"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	WebListenAddr string `yaml:"web_listen_addr"`
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackAppToken string `yaml:"slack_app_token"`

	HistoryRetentionDays int    `yaml:"history_retention_days"`
	HistoryPruneSchedule string `yaml:"history_prune_schedule"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMAPIEndpoint, "LLM_API_ENDPOINT")
	envOverride(&cfg.LLMPromptPath, "LLM_PROMPT_PATH")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.CounterMode, "COUNTER_MODE")
	envOverride(&cfg.DefaultSortBy, "DEFAULT_SORT_BY")
	envOverrideBool(&cfg.DefaultMergeDuplicates, "DEFAULT_MERGE_DUPLICATES")
	envOverrideBool(&cfg.DefaultShowOnlyIDs, "DEFAULT_SHOW_ONLY_IDS")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ExportDir, "EXPORT_DIR")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverrideAllowEmpty(&cfg.WebListenAddr, "WEB_LISTEN_ADDR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverrideInt(&cfg.HistoryRetentionDays, "HISTORY_RETENTION_DAYS")
	envOverride(&cfg.HistoryPruneSchedule, "HISTORY_PRUNE_SCHEDULE")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderGemini
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.CounterMode == "" {
		cfg.CounterMode = "heuristic"
	}
	if cfg.DefaultSortBy == "" {
		cfg.DefaultSortBy = "original"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./waorganizer.db"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "./exports"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if _, ok := os.LookupEnv("WEB_LISTEN_ADDR"); !ok && cfg.WebListenAddr == "" {
		cfg.WebListenAddr = ":8080"
	}
	if cfg.HistoryRetentionDays == 0 {
		cfg.HistoryRetentionDays = defaultHistoryRetainDays
	}
	if cfg.HistoryPruneSchedule == "" {
		cfg.HistoryPruneSchedule = defaultPruneSchedule
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	switch cfg.LLMProvider {
	case ProviderGemini, ProviderGenAI, ProviderAnthropic, ProviderOpenAI:
	default:
		log.Fatalf("llm_provider must be one of gemini, genai, anthropic, openai, got '%s'", cfg.LLMProvider)
	}
	if cfg.DefaultAPIKey() == "" {
		// Not fatal: the key may already be stored in the settings table.
		log.Printf("WARNING: no API key configured for llm_provider=%s; set one via settings before processing", cfg.LLMProvider)
	}

	switch strings.ToLower(cfg.CounterMode) {
	case "heuristic", "simple":
	default:
		log.Fatalf("invalid counter_mode '%s': must be heuristic or simple", cfg.CounterMode)
	}
	switch strings.ToLower(cfg.DefaultSortBy) {
	case "original", "agency", "location", "amount":
	default:
		log.Fatalf("invalid default_sort_by '%s': must be original, agency, location or amount", cfg.DefaultSortBy)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.HistoryRetentionDays < 0 {
		log.Fatalf("invalid history_retention_days '%d': must be >= 0", cfg.HistoryRetentionDays)
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		log.Fatalf("invalid log_level '%s': %v", cfg.LogLevel, err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		log.Fatalf("invalid log_format '%s': must be text or json", cfg.LogFormat)
	}
	if (cfg.SlackBotToken == "") != (cfg.SlackAppToken == "") {
		log.Fatalf("slack_bot_token and slack_app_token must be set together")
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

// DefaultAPIKey is the configured key for the active provider. The
// persisted settings value wins over it once set.
func (c Config) DefaultAPIKey() string {
	switch c.LLMProvider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	default:
		return c.GeminiAPIKey
	}
}

func (c Config) DefaultEndpoint() string {
	if strings.TrimSpace(c.LLMAPIEndpoint) != "" {
		return strings.TrimSpace(c.LLMAPIEndpoint)
	}
	switch c.LLMProvider {
	case ProviderGenAI:
		return DefaultGenAIBaseURL
	case ProviderAnthropic:
		return DefaultAnthropicBaseURL
	case ProviderOpenAI:
		return DefaultOpenAIEndpoint
	default:
		return DefaultGeminiEndpoint
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) WebConfigured() bool {
	return strings.TrimSpace(c.WebListenAddr) != ""
}

// DefaultOptions are the processing options a new session starts with.
func (c Config) DefaultOptions() domain.ProcessingOptions {
	opts := domain.DefaultOptions()
	if sortBy, err := domain.ParseSortBy(c.DefaultSortBy); err == nil {
		opts.SortBy = sortBy
	}
	opts.MergeDuplicates = c.DefaultMergeDuplicates
	opts.ShowOnlyIDs = c.DefaultShowOnlyIDs
	return opts
}
