package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Backup        BackupConfig        `mapstructure:"backup"`
	Servers       []ServerConfig      `mapstructure:"servers"`
	Verify        VerifyConfig        `mapstructure:"verify"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Mirror        MirrorConfig        `mapstructure:"mirror"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type BackupConfig struct {
	Root            string        `mapstructure:"root"`
	RemoteTmpDir    string        `mapstructure:"remote_tmp_dir"`
	Compression     string        `mapstructure:"compression"` // local archives: gzip, zstd, lz4
	TransferRetries int           `mapstructure:"transfer_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

type ServerConfig struct {
	Name     string         `mapstructure:"name"`
	Host     string         `mapstructure:"host"`
	Local    bool           `mapstructure:"local"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Targets  []TargetConfig `mapstructure:"targets"`
	Excludes []string       `mapstructure:"excludes"` // applied to every target
	MySQL    *MySQLConfig   `mapstructure:"mysql"`
}

type SSHConfig struct {
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	Port       int           `mapstructure:"port"`
	KeyFile    string        `mapstructure:"key_file"`
	KnownHosts string        `mapstructure:"known_hosts"` // empty: host key not verified
	NoSudo     bool          `mapstructure:"no_sudo"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type TargetConfig struct {
	Path     string   `mapstructure:"path"`
	Excludes []string `mapstructure:"excludes"`
}

type MySQLConfig struct {
	Enabled     *bool  `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DumpOptions string `mapstructure:"dump_options"`
}

// DumpEnabled treats an unset flag as enabled.
func (m *MySQLConfig) DumpEnabled() bool {
	return m != nil && (m.Enabled == nil || *m.Enabled)
}

type VerifyConfig struct {
	Workers int `mapstructure:"workers"`
}

type NotificationsConfig struct {
	Discord    []DiscordConfig  `mapstructure:"discord"`
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type DiscordConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Username  string `mapstructure:"username"`
	AvatarURL string `mapstructure:"avatar_url"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

// MirrorConfig copies a verified run to a second store.
type MirrorConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	Backend string     `mapstructure:"backend"` // local, s3
	Prefix  string     `mapstructure:"prefix"`
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // node_exporter textfile collector path
}

type ScheduleConfig struct {
	At       string `mapstructure:"at"` // HH:MM, daily
	Timezone string `mapstructure:"timezone"`
}
