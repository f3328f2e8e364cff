package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MarchanoGG/Watchdog/internal/cryptoutil"
)

const (
	envPrefix = "WATCHDOG"

	// secretEnvPrefix marks a secret resolved from the named environment variable.
	secretEnvPrefix = "env:"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("WATCHDOG_CONFIG_KEY")
			if key == "" {
				return nil, errors.New("config file is encrypted but WATCHDOG_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("WATCHDOG_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"watchdog.yaml",
		"watchdog.yml",
		"watchdog.toml",
		"watchdog.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "watchdog")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"watchdog.yaml.enc", "watchdog.yml.enc", "watchdog.toml.enc", "watchdog.json.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "12h")
	vp.SetDefault("backup.root", "/mnt/ssd/backups")
	vp.SetDefault("backup.remote_tmp_dir", "/tmp")
	vp.SetDefault("backup.compression", "gzip")
	vp.SetDefault("backup.transfer_retries", 1)
	vp.SetDefault("backup.retry_backoff", "10s")
	vp.SetDefault("verify.workers", 1)
	vp.SetDefault("mirror.backend", "s3")
	vp.SetDefault("schedule.at", "22:30")
	vp.SetDefault("schedule.timezone", "")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Backup.RetryBackoff == 0 {
		cfg.Backup.RetryBackoff = 10 * time.Second
	}
	if cfg.Backup.TransferRetries < 1 {
		cfg.Backup.TransferRetries = 1
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 12 * time.Hour
	}
	if cfg.Verify.Workers < 1 {
		cfg.Verify.Workers = 1
	}
	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		if srv.SSH.Port == 0 {
			srv.SSH.Port = 22
		}
		if srv.SSH.User == "" {
			srv.SSH.User = "root"
		}
		if srv.SSH.Timeout == 0 {
			srv.SSH.Timeout = 30 * time.Second
		}
		if srv.MySQL != nil {
			if srv.MySQL.Port == 0 {
				srv.MySQL.Port = 3306
			}
			if srv.MySQL.Host == "" {
				srv.MySQL.Host = "127.0.0.1"
			}
		}
	}
	if len(cfg.Notifications.Discord) == 0 {
		if url := os.Getenv("DISCORD_WEBHOOK_URL"); url != "" {
			cfg.Notifications.Discord = []DiscordConfig{{Name: "default", URL: url}}
		}
	}
}

func expandEnv(cfg *Config) {
	cfg.Backup.Root = os.ExpandEnv(cfg.Backup.Root)
	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		srv.SSH.Password = resolveSecret(srv.SSH.Password)
		srv.SSH.KeyFile = os.ExpandEnv(srv.SSH.KeyFile)
		if srv.MySQL != nil {
			srv.MySQL.Password = resolveSecret(srv.MySQL.Password)
			srv.MySQL.User = os.ExpandEnv(srv.MySQL.User)
		}
	}
	cfg.Mirror.S3.AccessKey = resolveSecret(cfg.Mirror.S3.AccessKey)
	cfg.Mirror.S3.SecretKey = resolveSecret(cfg.Mirror.S3.SecretKey)
	cfg.Mirror.S3.SessionToken = resolveSecret(cfg.Mirror.S3.SessionToken)
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

// resolveSecret reads "env:NAME" values from the environment and expands
// $VAR references in everything else.
func resolveSecret(v string) string {
	if name, ok := strings.CutPrefix(v, secretEnvPrefix); ok {
		return os.Getenv(name)
	}
	return os.ExpandEnv(v)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Discord {
		cfg.Discord[i].URL = resolveSecret(cfg.Discord[i].URL)
	}
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = resolveSecret(cfg.Webhooks[i].URL)
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = resolveSecret(cfg.Mattermost[i].URL)
	}
	for i := range cfg.Matrix {
		cfg.Matrix[i].ServerURL = os.ExpandEnv(cfg.Matrix[i].ServerURL)
		cfg.Matrix[i].AccessToken = resolveSecret(cfg.Matrix[i].AccessToken)
		cfg.Matrix[i].RoomID = os.ExpandEnv(cfg.Matrix[i].RoomID)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
