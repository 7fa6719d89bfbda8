package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "evermind.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// CLIFlags holds optional command-line overrides. A nil field means the
// flag was not set on the command line.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments into CLIFlags. Only flags the
// user actually set are non-nil.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("evermind", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configPath, port, logLevel, dsn, natsURL string
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&configPath, "c", "", "path to YAML config file (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "HTTP listen port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL connection string")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &configPath
		case "port", "p":
			flags.Port = &port
		case "log-level":
			flags.LogLevel = &logLevel
		case "dsn":
			flags.DSN = &dsn
		case "nats-url":
			flags.NatsURL = &natsURL
		}
	})
	return flags, nil
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. It also reports the config file path
// that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// applyCLI overlays set CLI flags onto cfg.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "EVERMIND_PORT")
	setString(&cfg.Server.CORSOrigin, "EVERMIND_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "EVERMIND_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "EVERMIND_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "EVERMIND_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "EVERMIND_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "EVERMIND_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.BaseURL, "EVERMIND_LLM_URL")
	setString(&cfg.LLM.APIKey, "EVERMIND_LLM_API_KEY")
	setString(&cfg.LLM.ChatModel, "EVERMIND_CHAT_MODEL")
	setString(&cfg.LLM.SummaryModel, "EVERMIND_SUMMARY_MODEL")
	setString(&cfg.LLM.EmbedModel, "EVERMIND_EMBED_MODEL")
	setInt(&cfg.LLM.EmbedDims, "EVERMIND_EMBED_DIMS")
	setDuration(&cfg.LLM.Timeout, "EVERMIND_LLM_TIMEOUT")
	setString(&cfg.LLM.ProfilesFile, "EVERMIND_MODEL_PROFILES")
	setString(&cfg.Logging.Level, "EVERMIND_LOG_LEVEL")
	setString(&cfg.Logging.Service, "EVERMIND_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "EVERMIND_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "EVERMIND_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "EVERMIND_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.RecallTTL, "EVERMIND_CACHE_RECALL_TTL")
	setDuration(&cfg.Cache.StatsTTL, "EVERMIND_CACHE_STATS_TTL")

	// Recall
	setFloat64(&cfg.Recall.MinSimilarity, "EVERMIND_RECALL_MIN_SIMILARITY")
	setFloat64(&cfg.Recall.SimilarityWeight, "EVERMIND_RECALL_SIM_WEIGHT")
	setFloat64(&cfg.Recall.ImportanceWeight, "EVERMIND_RECALL_IMP_WEIGHT")
	setFloat64(&cfg.Recall.RecencyWeight, "EVERMIND_RECALL_REC_WEIGHT")
	setFloat64(&cfg.Recall.RecencyDays, "EVERMIND_RECALL_RECENCY_DAYS")
	setInt(&cfg.Recall.Limit, "EVERMIND_RECALL_LIMIT")
	setInt(&cfg.Recall.ConversationTop, "EVERMIND_RECALL_CONVERSATION_TOP")

	// Budget
	setFloat64(&cfg.Budget.SafetyMargin, "EVERMIND_BUDGET_SAFETY_MARGIN")
	setInt(&cfg.Budget.MaxChunkTokens, "EVERMIND_BUDGET_MAX_CHUNK")
	setInt(&cfg.Budget.ChunkCeiling, "EVERMIND_BUDGET_CHUNK_CEILING")
	setInt(&cfg.Budget.ModerateTokens, "EVERMIND_BUDGET_MODERATE")
	setInt(&cfg.Budget.MinResponseTokens, "EVERMIND_BUDGET_MIN_RESPONSE")
	setInt(&cfg.Budget.SystemBufferTokens, "EVERMIND_BUDGET_SYSTEM_BUFFER")

	// Prompt
	setInt(&cfg.Prompt.MaxHistoryTokens, "EVERMIND_PROMPT_MAX_HISTORY_TOKENS")
	setInt(&cfg.Prompt.MemoryDisplayCap, "EVERMIND_PROMPT_MEMORY_CAP")
	setInt(&cfg.Prompt.MemoryTruncChars, "EVERMIND_PROMPT_MEMORY_TRUNC")
	setInt(&cfg.Prompt.RequestTruncChars, "EVERMIND_PROMPT_REQUEST_TRUNC")

	// Agent
	setInt(&cfg.Agent.MaxSteps, "EVERMIND_AGENT_MAX_STEPS")
	setInt(&cfg.Agent.HistoryLimit, "EVERMIND_AGENT_HISTORY_LIMIT")
	setInt(&cfg.Agent.MessageTruncTokens, "EVERMIND_AGENT_MESSAGE_TRUNC")
	setInt(&cfg.Agent.ChunkOverlapTokens, "EVERMIND_AGENT_CHUNK_OVERLAP")
	setInt(&cfg.Agent.ChunkConcurrency, "EVERMIND_AGENT_CHUNK_CONCURRENCY")
	setFloat64(&cfg.Agent.ChunkWindowFactor, "EVERMIND_AGENT_CHUNK_WINDOW_FACTOR")
	setInt(&cfg.Agent.ResummarizeTokens, "EVERMIND_AGENT_RESUMMARIZE")

	// Otel
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set and tunables are coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.LLM.BaseURL == "" {
		return errors.New("llm.base_url is required")
	}
	if cfg.LLM.ChatModel == "" {
		return errors.New("llm.chat_model is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Budget.SafetyMargin < 0 || cfg.Budget.SafetyMargin >= 1 {
		return errors.New("budget.safety_margin must be in [0, 1)")
	}
	if w := cfg.Recall.SimilarityWeight + cfg.Recall.ImportanceWeight + cfg.Recall.RecencyWeight; w <= 0 {
		return errors.New("recall weights must sum to a positive value")
	}
	if cfg.Agent.ChunkConcurrency < 1 {
		return errors.New("agent.chunk_concurrency must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
