package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8091" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.HostBridgeAddr == "" {
		t.Error("HostBridgeAddr empty")
	}
	if cfg.Terminal.ScrollbackPageLines != 200 {
		t.Errorf("ScrollbackPageLines = %d", cfg.Terminal.ScrollbackPageLines)
	}
	if cfg.Terminal.CommandRetention != 5*time.Second {
		t.Errorf("CommandRetention = %v", cfg.Terminal.CommandRetention)
	}
	if !cfg.Transcript.Enabled {
		t.Error("transcript disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CHAT_PROVIDER_ID", "other")
	t.Setenv("COMMAND_RETENTION", "30s")
	t.Setenv("TRANSCRIPT_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.Chat.DefaultProviderID != "other" {
		t.Errorf("DefaultProviderID = %q", cfg.Chat.DefaultProviderID)
	}
	if cfg.Terminal.CommandRetention != 30*time.Second {
		t.Errorf("CommandRetention = %v", cfg.Terminal.CommandRetention)
	}
	if cfg.Transcript.Enabled {
		t.Error("TRANSCRIPT_ENABLED=false not honored")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TERMINAL_SCROLLBACK_PAGE_LINES", "-5")

	if _, err := Load(); err == nil {
		t.Error("Load accepted negative page size")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }, ok: false},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = "" }, ok: false},
		{name: "empty bridge addr", mutate: func(c *Config) { c.HostBridgeAddr = "" }, ok: false},
		{name: "transcript enabled without dir", mutate: func(c *Config) { c.Transcript.Dir = "" }, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Port:           "8091",
				DBPath:         "./data/test.db",
				HostBridgeAddr: "ws://localhost:8790/bridge",
				Terminal:       TerminalConfig{ScrollbackPageLines: 200},
				Transcript:     TranscriptConfig{Enabled: true, Dir: "./data/t", QueueSize: 10},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{url: "", want: true},
		{url: "http://localhost:5173", want: true},
		{url: "http://127.0.0.1:5173", want: true},
		{url: "https://panel.example.com", want: false},
	}
	for _, tt := range tests {
		c := &Config{FrontendURL: tt.url}
		if got := c.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
