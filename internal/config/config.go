package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config is the root configuration for Jarvis.
type Config struct {
	General     GeneralConfig             `json:"general"`
	WhatsApp    WhatsAppConfig            `json:"whatsapp"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Memory      MemoryConfig              `json:"memory"`
	Interaction InteractionConfig         `json:"interaction"`
	Admin       AdminConfig               `json:"admin"`
	Documents   DocumentsConfig           `json:"documents"`
	Events      EventsConfig              `json:"events"`
	Business    BusinessConfig            `json:"business"`
}

type GeneralConfig struct {
	DataDir               string   `json:"dataDir"`
	LogLevel              string   `json:"logLevel"`
	LogFile               string   `json:"logFile,omitempty"`
	DefaultProvider       string   `json:"defaultProvider"`
	FailoverChain         []string `json:"failoverChain,omitempty"`
	MaxConcurrentMessages int      `json:"maxConcurrentMessages"` // warn threshold, never a queue
	MetricsAddr           string   `json:"metricsAddr,omitempty"` // e.g. "127.0.0.1:9091"; empty disables
	SystemPrompt          string   `json:"systemPrompt,omitempty"`
}

type WhatsAppConfig struct {
	Enabled bool `json:"enabled"`
	// SessionDB is the whatsmeow device store (sqlite3).
	SessionDB string `json:"sessionDb"`
	LogLevel  string `json:"logLevel"` // whatsmeow client log level
	// ReplyInGroups lets the bot answer when it is mentioned or quoted in a group.
	ReplyInGroups bool `json:"replyInGroups"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
}

type MemoryConfig struct {
	DBPath                    string `json:"dbPath"`
	MaxHistoryPerConversation int    `json:"maxHistoryPerConversation"`
}

// InteractionConfig drives human-like delivery: chunking, delays and
// the feature switches read by the dispatcher.
type InteractionConfig struct {
	Chunking ChunkingConfig `json:"chunking"`
	Delays   DelaysConfig   `json:"delays"`
	Features FeaturesConfig `json:"features"`
	Voice    VoiceConfig    `json:"voice"`
}

type ChunkingConfig struct {
	MaxLinesPerChunk int `json:"maxLinesPerChunk"`
	MaxChunkLength   int `json:"maxChunkLength"`
	MinChunkLength   int `json:"minChunkLength"`
}

// DelaysConfig values are in milliseconds.
type DelaysConfig struct {
	InitialTyping  int `json:"initialTyping"`
	TypingBase     int `json:"typingBase"`
	TypingPerWord  int `json:"typingPerWord"`
	TypingPerPunct int `json:"typingPerPunctuation"`
	TypingMin      int `json:"typingMin"`
	TypingMax      int `json:"typingMax"`
	ReadingPerWord int `json:"readingPerWord"`
	ReadingMin     int `json:"readingMin"`
	ReadingMax     int `json:"readingMax"`
	ShortPause     int `json:"shortPause"`
	MediumPause    int `json:"mediumPause"`
	LongPause      int `json:"longPause"`
}

type FeaturesConfig struct {
	VoiceMessages   bool `json:"voiceMessages"`
	MessageChunking bool `json:"messageChunking"`
	HumanSimulation bool `json:"humanSimulation"`
	Reading         bool `json:"reading"`
	TypingIndicator bool `json:"typingIndicator"`
}

type VoiceConfig struct {
	Enabled              bool   `json:"enabled"`
	Provider             string `json:"provider"` // provider entry holding the Whisper credentials
	MaxFileSizeMB        int    `json:"maxFileSizeMb"`
	TranscriptionTimeout int    `json:"transcriptionTimeoutSeconds"`
	WhisperModel         string `json:"whisperModel"`
	Language             string `json:"language"` // "auto" disables the hint
	SilentErrors         bool   `json:"silentErrors"`
	ErrorFallback        string `json:"errorFallback"`
}

type AdminConfig struct {
	// Numbers are seeded into the admins collection at startup.
	Numbers           FlexStringList `json:"numbers"`
	BackupDir         string         `json:"backupDir"`
	DefaultDailyLimit int            `json:"defaultDailyLimit"` // 0 = unlimited
}

type DocumentsConfig struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"maxSizeMb"`
	MaxPerUser int  `json:"maxPerUser"`
	ChunkSize  int  `json:"chunkSize"`
	SearchTopK int  `json:"searchTopK"`
}

// EventsConfig enables forwarding dispatch events to RabbitMQ.
type EventsConfig struct {
	AMQPURL  string `json:"amqpUrl,omitempty"`
	Exchange string `json:"exchange"`
	Source   string `json:"source"`
}

type BusinessConfig struct {
	Timezone  string `json:"timezone"`
	OpenHour  int    `json:"openHour"`
	CloseHour int    `json:"closeHour"`
	Company   string `json:"company"`
}

// Location returns the business timezone, falling back to UTC.
func (b BusinessConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultConfigDir returns the default config directory (~/.jarvis).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jarvis"
	}
	return filepath.Join(home, ".jarvis")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", filepath.Join(DefaultConfigDir(), ".env")}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.WhatsApp.SessionDB = ExpandPath(cfg.WhatsApp.SessionDB)
	cfg.Admin.BackupDir = ExpandPath(cfg.Admin.BackupDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Memory.MaxHistoryPerConversation < 1 {
		errs = append(errs, "memory.maxHistoryPerConversation must be >= 1")
	}

	ch := cfg.Interaction.Chunking
	if ch.MaxLinesPerChunk < 1 {
		errs = append(errs, "interaction.chunking.maxLinesPerChunk must be >= 1")
	}
	if ch.MinChunkLength < 0 || ch.MaxChunkLength <= ch.MinChunkLength {
		errs = append(errs, "interaction.chunking.maxChunkLength must be greater than minChunkLength")
	}

	d := cfg.Interaction.Delays
	if d.TypingMin > d.TypingMax {
		errs = append(errs, "interaction.delays.typingMin must be <= typingMax")
	}
	if d.ReadingMin > d.ReadingMax {
		errs = append(errs, "interaction.delays.readingMin must be <= readingMax")
	}

	v := cfg.Interaction.Voice
	if v.Enabled {
		if v.MaxFileSizeMB < 1 {
			errs = append(errs, "interaction.voice.maxFileSizeMb must be >= 1")
		}
		if v.TranscriptionTimeout < 1 {
			errs = append(errs, "interaction.voice.transcriptionTimeoutSeconds must be >= 1")
		}
	}

	if cfg.Documents.Enabled && (cfg.Documents.MaxPerUser < 1 || cfg.Documents.ChunkSize < 100) {
		errs = append(errs, "documents.maxPerUser must be >= 1 and documents.chunkSize >= 100")
	}

	if cfg.Admin.DefaultDailyLimit < 0 {
		errs = append(errs, "admin.defaultDailyLimit must be >= 0")
	}

	if cfg.Business.OpenHour < 0 || cfg.Business.CloseHour > 24 || cfg.Business.OpenHour >= cfg.Business.CloseHour {
		errs = append(errs, "business.openHour must be before business.closeHour (0-24)")
	}
	if _, err := time.LoadLocation(cfg.Business.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("business.timezone: %v", err))
	}

	if cfg.Events.AMQPURL != "" && cfg.Events.Exchange == "" {
		errs = append(errs, "events.exchange is required when events.amqpUrl is set")
	}

	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// FlexStringList is a []string that also accepts numbers and a single comma
// separated string, so phone numbers can be written unquoted in hand-edited
// configs.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		var out []string
		for _, item := range strings.Split(single, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*f = out
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}
