// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// HostBridgeAddr is the WebSocket endpoint of the agent host process.
	HostBridgeAddr string
	// HostCallTimeout bounds a single request/response call to the host.
	HostCallTimeout time.Duration

	// ContainerRuntime selects the Docker runtime for workspace containers:
	// "" = default (runc), "runsc" = gVisor.
	ContainerRuntime string

	Chat       ChatConfig
	Terminal   TerminalConfig
	Transcript TranscriptConfig
}

// ChatConfig controls the chat stream surface.
type ChatConfig struct {
	DefaultProviderID string
	DefaultModelID    string
	SystemPrompt      string
	StreamBufferSize  int
}

// TerminalConfig controls the embedded terminal and command gateway.
type TerminalConfig struct {
	ScrollbackBytes int
	// ScrollbackPageLines is the default page size when the agent omits count.
	ScrollbackPageLines int
	// CommandRetention is how long a completed/failed command stays visible
	// before it is removed from the pending set.
	CommandRetention time.Duration
	// RejectedRetention is the shorter retention for rejected commands.
	RejectedRetention time.Duration
}

// TranscriptConfig controls NDJSON conversation/audit logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

const defaultSystemPrompt = "You are a coding assistant embedded in a developer control panel. " +
	"You can request terminal commands; every command is subject to user approval."

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8091"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/agentdeck.db"),
		HostBridgeAddr:   getEnv("HOST_BRIDGE_ADDR", "ws://localhost:8790/bridge"),
		HostCallTimeout:  getEnvDuration("HOST_CALL_TIMEOUT", 30*time.Second),
		ContainerRuntime: getEnv("CONTAINER_RUNTIME", ""),
		Chat: ChatConfig{
			DefaultProviderID: getEnv("CHAT_PROVIDER_ID", "anthropic"),
			DefaultModelID:    getEnv("CHAT_MODEL_ID", "claude-sonnet-4-20250514"),
			SystemPrompt:      getEnv("CHAT_SYSTEM_PROMPT", defaultSystemPrompt),
			StreamBufferSize:  getEnvInt("CHAT_STREAM_BUFFER", 256),
		},
		Terminal: TerminalConfig{
			ScrollbackBytes:     getEnvInt("TERMINAL_SCROLLBACK_BYTES", 256*1024),
			ScrollbackPageLines: getEnvInt("TERMINAL_SCROLLBACK_PAGE_LINES", 200),
			CommandRetention:    getEnvDuration("COMMAND_RETENTION", 5*time.Second),
			RejectedRetention:   getEnvDuration("REJECTED_RETENTION", 2*time.Second),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.HostBridgeAddr == "" {
		return fmt.Errorf("HOST_BRIDGE_ADDR cannot be empty")
	}
	if c.Terminal.ScrollbackPageLines <= 0 {
		return fmt.Errorf("TERMINAL_SCROLLBACK_PAGE_LINES must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
