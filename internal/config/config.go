package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DBPath           string `toml:"db_path"`
	ListenAddr       string `toml:"listen_addr"`
	SubmitURL        string `toml:"submit_url"`
	DiagnosticsURL   string `toml:"diagnostics_url"`
	HelpURL          string `toml:"help_url"`
	ParticipantID    string `toml:"participant_id"`
	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	ExportDir        string `toml:"export_dir"`
	MaxUploadMB      int    `toml:"max_upload_mb"`
	SortByCreateTime bool   `toml:"sort_by_create_time"`
}

// Path is where Load looks for the config file.
func Path(home string) string {
	return filepath.Join(home, ".config", "chatmask", "config.toml")
}

func defaults(home string) *Config {
	return &Config{
		DBPath:      filepath.Join(home, ".config", "chatmask", "chatmask.db"),
		ListenAddr:  "127.0.0.1:8765",
		LogLevel:    "info",
		LogFormat:   "console",
		ExportDir:   ".",
		MaxUploadMB: 512,
	}
}

// Load reads ~/.config/chatmask/config.toml if present, then applies
// CHATMASK_* environment overrides.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFile(Path(home), home)
}

// LoadFile is Load with an explicit file and home directory. A missing file
// yields the defaults.
func LoadFile(cfgPath, home string) (*Config, error) {
	cfg := defaults(home)

	if _, err := os.Stat(cfgPath); err == nil {
		if _, err := toml.DecodeFile(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	cfg.DBPath = envStr("CHATMASK_DB_PATH", cfg.DBPath)
	cfg.ListenAddr = envStr("CHATMASK_LISTEN_ADDR", cfg.ListenAddr)
	cfg.SubmitURL = envStr("CHATMASK_SUBMIT_URL", cfg.SubmitURL)
	cfg.DiagnosticsURL = envStr("CHATMASK_DIAGNOSTICS_URL", cfg.DiagnosticsURL)
	cfg.HelpURL = envStr("CHATMASK_HELP_URL", cfg.HelpURL)
	cfg.ParticipantID = envStr("CHATMASK_PARTICIPANT_ID", cfg.ParticipantID)
	cfg.LogLevel = envStr("CHATMASK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("CHATMASK_LOG_FORMAT", cfg.LogFormat)
	cfg.MaxUploadMB = envInt("CHATMASK_MAX_UPLOAD_MB", cfg.MaxUploadMB)

	// expand ~ in paths
	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.ExportDir = expandHome(cfg.ExportDir, home)

	if cfg.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("max_upload_mb must be positive, got %d", cfg.MaxUploadMB)
	}
	return cfg, nil
}

// MaxUploadBytes is the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func expandHome(path, home string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
