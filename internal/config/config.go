// Package config loads the server's JSON configuration file, following the
// same XDG-aware default/overlay pattern used throughout the pack: start
// from DefaultConfig, then unmarshal whatever the file on disk overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Config is the top-level server configuration.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	TLSCert    string `json:"tls_cert"`
	TLSKey     string `json:"tls_key"`

	StoreDSN string `json:"store_dsn"`

	UploadDir     string `json:"upload_dir"`
	MaxUploadSize int64  `json:"max_upload_size"`

	StaticSiteAddr string `json:"static_site_addr"`
	StaticSiteDir  string `json:"static_site_dir"`

	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	SMTPFrom string `json:"smtp_from"`

	LogLevel string `json:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "comcore")
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "comcore")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "comcore")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "comcore")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "comcore")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "comcore")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "comcore")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "comcore")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "comcore")
	}
}

// DefaultConfig returns the configuration a fresh install starts with.
func DefaultConfig() *Config {
	configDir := defaultConfigDir()
	stateDir := defaultStateDir()

	return &Config{
		ListenAddr:     ":6667",
		TLSCert:        filepath.Join(configDir, "cert.pem"),
		TLSKey:         filepath.Join(configDir, "key.pem"),
		StoreDSN:       filepath.Join(stateDir, "comcore.db"),
		UploadDir:      filepath.Join(stateDir, "uploads"),
		MaxUploadSize:  10 * 1024 * 1024,
		StaticSiteAddr: ":8080",
		StaticSiteDir:  filepath.Join(configDir, "site"),
		SMTPHost:       "localhost",
		SMTPPort:       587,
		SMTPFrom:       "noreply@comcore.chat",
		LogLevel:       "info",
		LogPath:        filepath.Join(stateDir, "comcore.log"),
	}
}

// Load reads configuration from path, overlaying it on DefaultConfig. A
// missing file is not an error: the caller gets the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), "comcore.log")
	}
	if config.MaxUploadSize == 0 {
		config.MaxUploadSize = 10 * 1024 * 1024
	}

	return config, nil
}

// Save writes configuration to path, creating its parent directory if needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config file path.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
