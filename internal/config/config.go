package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting the gateway recognizes. It is loaded
// once at startup and treated as read-only afterwards.
type Config struct {
	Host string `env:"RSP4COPILOT_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8787"`

	// OpenAI Responses upstream. OpenAIBaseURL may hold several
	// comma-separated bases tried in order.
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	ResponsesPath   string `env:"RESP_RESPONSES_PATH"`
	ReasoningEffort string `env:"RESP_REASONING_EFFORT"`

	// Gemini upstream.
	GeminiBaseURL      string `env:"GEMINI_BASE_URL"`
	GeminiAPIKey       string `env:"GEMINI_API_KEY"`
	GeminiDefaultModel string `env:"GEMINI_DEFAULT_MODEL"`

	// Anthropic upstream.
	ClaudeBaseURL      string `env:"CLAUDE_BASE_URL"`
	ClaudeAPIKey       string `env:"CLAUDE_API_KEY"`
	ClaudeMessagesPath string `env:"CLAUDE_MESSAGES_PATH"`
	ClaudeDefaultModel string `env:"CLAUDE_DEFAULT_MODEL"`
	ClaudeMaxTokens    int    `env:"CLAUDE_MAX_TOKENS" envDefault:"8192"`

	// Client authentication.
	WorkerAuthKey     string   `env:"WORKER_AUTH_KEY"`
	WorkerAuthKeyList []string `env:"WORKER_AUTH_KEYS" envSeparator:","`

	// Static model catalog.
	DefaultModel  string   `env:"DEFAULT_MODEL"`
	Models        []string `env:"MODELS" envSeparator:","`
	AdapterModels []string `env:"ADAPTER_MODELS" envSeparator:","`

	// History trimming limits for multi-turn delta requests.
	MaxTurns      int `env:"RSP4COPILOT_MAX_TURNS" envDefault:"12"`
	MaxMessages   int `env:"RSP4COPILOT_MAX_MESSAGES" envDefault:"40"`
	MaxInputChars int `env:"RSP4COPILOT_MAX_INPUT_CHARS" envDefault:"300000"`

	// Stream buffering and empty-stream probing. Sizes accept plain byte
	// counts or human-readable forms such as "4KiB" and "8MiB".
	MaxBufferedSSESize string `env:"RESP_MAX_BUFFERED_SSE_BYTES" envDefault:"8MiB"`
	ProbeTimeoutMS     int    `env:"RESP_PROBE_TIMEOUT_MS" envDefault:"150"`
	ProbeMaxSize       string `env:"RESP_PROBE_MAX_BYTES" envDefault:"4KiB"`

	// Session persistence. Backend is one of memory, redis, sqlite.
	SessionBackend string        `env:"RSP4COPILOT_SESSION_STORE" envDefault:"memory"`
	SessionTTL     time.Duration `env:"RSP4COPILOT_SESSION_TTL" envDefault:"24h"`
	Stateless      string        `env:"RSP4COPILOT_STATELESS"`
	RedisAddr      string        `env:"RSP4COPILOT_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword  string        `env:"RSP4COPILOT_REDIS_PASSWORD"`
	RedisDB        int           `env:"RSP4COPILOT_REDIS_DB" envDefault:"0"`
	SQLitePath     string        `env:"RSP4COPILOT_SQLITE_PATH" envDefault:"data/sessions.db"`

	// Logging.
	Debug         string `env:"RSP4COPILOT_DEBUG"`
	LogFile       string `env:"RSP4COPILOT_LOG_FILE"`
	LogMaxSizeMB  int    `env:"RSP4COPILOT_LOG_MAX_SIZE" envDefault:"100"`
	LogMaxBackups int    `env:"RSP4COPILOT_LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int    `env:"RSP4COPILOT_LOG_MAX_AGE" envDefault:"7"`

	// Parsed byte sizes, filled by Load.
	MaxBufferedSSEBytes int64 `env:"-"`
	ProbeMaxBytes       int64 `env:"-"`
}

// Load reads a .env file if present (existing environment wins), parses the
// environment into a Config, and resolves derived values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var err error
	cfg.MaxBufferedSSEBytes, err = units.RAMInBytes(cfg.MaxBufferedSSESize)
	if err != nil {
		return nil, fmt.Errorf("invalid RESP_MAX_BUFFERED_SSE_BYTES %q: %w", cfg.MaxBufferedSSESize, err)
	}
	cfg.ProbeMaxBytes, err = units.RAMInBytes(cfg.ProbeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("invalid RESP_PROBE_MAX_BYTES %q: %w", cfg.ProbeMaxSize, err)
	}

	return cfg, nil
}

// ValidateUpstreams checks the settings the gateway cannot serve without.
// Called once at startup so a missing key fails the process instead of the
// first request.
func (c *Config) ValidateUpstreams() error {
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if len(c.OpenAIBases()) == 0 {
		return fmt.Errorf("OPENAI_BASE_URL is required")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DebugEnabled reports whether verbose logging was requested.
func (c *Config) DebugEnabled() bool {
	return toggleOn(c.Debug)
}

// StatelessMode reports whether session persistence is disabled entirely.
func (c *Config) StatelessMode() bool {
	return toggleOn(c.Stateless)
}

// ProbeTimeout returns the empty-stream probe budget as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// AuthKeys merges WORKER_AUTH_KEY and WORKER_AUTH_KEYS into the list of
// accepted client tokens. Keys pasted with surrounding quotes or an
// accidental "Bearer " prefix are normalized before comparison.
func (c *Config) AuthKeys() []string {
	raw := make([]string, 0, len(c.WorkerAuthKeyList)+1)
	if c.WorkerAuthKey != "" {
		raw = append(raw, c.WorkerAuthKey)
	}
	raw = append(raw, c.WorkerAuthKeyList...)

	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if k = NormalizeAuthKey(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// OpenAIBases splits OPENAI_BASE_URL into its comma-separated entries.
func (c *Config) OpenAIBases() []string {
	return SplitList(c.OpenAIBaseURL)
}

// NormalizeAuthKey strips surrounding quotes and a leading "Bearer " from a
// configured worker token.
func NormalizeAuthKey(k string) string {
	k = strings.TrimSpace(k)
	k = strings.Trim(k, `"'`)
	k = strings.TrimSpace(k)
	if len(k) >= 7 && strings.EqualFold(k[:7], "bearer ") {
		k = strings.TrimSpace(k[7:])
	}
	return k
}

// SplitList splits a comma-separated value, trimming whitespace and dropping
// empty entries.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toggleOn(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
