package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/chatdigest/chatdigest/internal/llm"
)

type Config struct {
	Storage   StorageConfig
	LLM       LLMConfig
	Sync      SyncConfig
	Summarize SummarizeConfig
	Server    ServerConfig
	Log       LogConfig
}

type StorageConfig struct {
	DataDir string
}

// LLMConfig selects a summarization provider. Model, BaseURL and
// RequestsPerMinute override the builtin provider entry when non-zero.
// APIKey is resolved from the provider's environment variable or the
// platform secret store and is never read from the plain config backend.
type LLMConfig struct {
	Provider          string
	Model             string
	BaseURL           string
	RequestsPerMinute int
	APIKey            string
}

// SyncConfig controls the server's periodic re-import of tracked rooms.
// IntervalMinutes = 0 disables the timer; `chatdigest sync` still works.
type SyncConfig struct {
	IntervalMinutes int
}

type SummarizeConfig struct {
	Parallelism int
}

type ServerConfig struct {
	Port    int
	MCPPort int
	Token   string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider: llm.DefaultProvider,
		},
		Sync: SyncConfig{
			IntervalMinutes: 30,
		},
		Summarize: SummarizeConfig{
			Parallelism: 2,
		},
		Server: ServerConfig{
			Port:    4300,
			MCPPort: 4301,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.chatdigest.app) and
// secrets fall back to macOS Keychain (service: chatdigest). On Linux the
// backend is a JSON file at $XDG_CONFIG_HOME/chatdigest/config.json and
// secrets fall back to a secrets file under $XDG_DATA_HOME.
//
// Environment variables (CHATDIGEST_*) override backend values on all
// platforms. The LLM API key additionally honors the provider's own
// environment variable (ZAI_API_KEY, OPENAI_API_KEY, ...). A missing API
// key is not a load error: read-only commands never need one, and the
// summarizer reports it when actually asked to call the provider.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	provider, ok := llm.BuiltinProviders()[cfg.LLM.Provider]
	if !ok {
		return Config{}, fmt.Errorf("unknown llm provider %q (have: %s)",
			cfg.LLM.Provider, strings.Join(providerNames(), ", "))
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(provider.APIKeyEnv)
	}
	if cfg.LLM.APIKey == "" {
		if key, err := kc.Get("chatdigest", cfg.LLM.Provider); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.Server.Token == "" {
		if token, err := kc.Get("chatdigest", "server_token"); err == nil && token != "" {
			cfg.Server.Token = token
		}
	}

	if cfg.Sync.IntervalMinutes < 0 {
		cfg.Sync.IntervalMinutes = 0
	}
	if cfg.Summarize.Parallelism < 1 {
		cfg.Summarize.Parallelism = 1
	}

	return cfg, nil
}

// Provider resolves the configured provider entry with any overrides applied.
func (c Config) Provider() (llm.ProviderConfig, error) {
	pc, ok := llm.BuiltinProviders()[c.LLM.Provider]
	if !ok {
		return llm.ProviderConfig{}, fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Model != "" {
		pc.Model = c.LLM.Model
	}
	if c.LLM.BaseURL != "" {
		pc.BaseURL = c.LLM.BaseURL
	}
	if c.LLM.RequestsPerMinute > 0 {
		pc.RequestsPerMinute = c.LLM.RequestsPerMinute
	}
	return pc, nil
}

func providerNames() []string {
	var names []string
	for name := range llm.BuiltinProviders() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
