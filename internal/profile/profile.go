package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Generation backend (OpenAI-compatible protocol).
	// All providers (openai, deepseek, siliconflow, ollama, openrouter) share
	// the same client configuration.
	LLMProvider string // Provider identifier
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has default per provider
	LLMModel    string
	LLMTimeout  int // Total generation timeout in seconds (default: 60)

	// Embedding backend configuration
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int

	// Speech synthesis backend configuration
	SpeechAPIKey  string
	SpeechBaseURL string
	SpeechModel   string
	SpeechEnabled bool

	// Conversation engine tuning
	RetrievalK       int // Turns recalled per query (default: 5)
	RetryBudget      int // Generation retries after the first attempt (default: 2)
	ProfileThreshold int // Turns between cognitive profile refreshes (default: 15)
	ProfileWindow    int // Recent turns fed to the profile summarizer (default: 30)
	PromptBudget     int // Composed prompt token budget (default: 4096)

	// Audit trail output path. Empty disables the file consumer.
	AuditLogPath string

	Mode        string
	Addr        string
	Port        int
	UNIXSock    string
	Data        string
	Driver      string
	DSN         string
	Version     string
	InstanceURL string
}

// Provider default configurations for the generation backend.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the generation backend is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("CONFIDANT_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("CONFIDANT_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("CONFIDANT_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("CONFIDANT_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("CONFIDANT_LLM_TIMEOUT_SECONDS", 60)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
		p.LLMProvider = "openai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.EmbeddingAPIKey = getEnvOrDefault("CONFIDANT_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("CONFIDANT_EMBEDDING_BASE_URL", "")
	p.EmbeddingModel = getEnvOrDefault("CONFIDANT_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDimensions = getEnvOrDefaultInt("CONFIDANT_EMBEDDING_DIMENSIONS", 1024)

	p.SpeechAPIKey = getEnvOrDefault("CONFIDANT_SPEECH_API_KEY", p.LLMAPIKey)
	p.SpeechBaseURL = getEnvOrDefault("CONFIDANT_SPEECH_BASE_URL", "")
	p.SpeechModel = getEnvOrDefault("CONFIDANT_SPEECH_MODEL", "tts-1")
	p.SpeechEnabled = getEnvOrDefault("CONFIDANT_SPEECH_ENABLED", "true") == "true"

	p.RetrievalK = getEnvOrDefaultInt("CONFIDANT_RETRIEVAL_K", 5)
	p.RetryBudget = getEnvOrDefaultInt("CONFIDANT_RETRY_BUDGET", 2)
	p.ProfileThreshold = getEnvOrDefaultInt("CONFIDANT_PROFILE_THRESHOLD", 15)
	p.ProfileWindow = getEnvOrDefaultInt("CONFIDANT_PROFILE_WINDOW", 30)
	p.PromptBudget = getEnvOrDefaultInt("CONFIDANT_PROMPT_BUDGET", 4096)

	p.AuditLogPath = getEnvOrDefault("CONFIDANT_AUDIT_LOG_PATH", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and rejects unusable combinations.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/confidant"
	}
	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(p.Data, fmt.Sprintf("confidant_%s.db", p.Mode))
		}
	default:
		return errors.Errorf("unsupported database driver: %s", p.Driver)
	}

	if p.RetryBudget < 0 {
		p.RetryBudget = 0
	}
	if p.RetrievalK <= 0 {
		p.RetrievalK = 5
	}
	if p.ProfileThreshold <= 0 {
		p.ProfileThreshold = 15
	}
	if p.ProfileWindow < p.ProfileThreshold {
		p.ProfileWindow = p.ProfileThreshold * 2
	}
	if p.PromptBudget <= 0 {
		p.PromptBudget = 4096
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 60
	}

	return nil
}
