package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultConfigFile = "config.toml"
	ConfigFileEnv     = "CHAT_CONFIG_FILE"
	EnvPrefix         = "CHAT"
)

// Framing modes
const (
	FramingRaw  = "raw"
	FramingLine = "line"
)

// Duplicate login policies
const (
	LoginReplace = "replace"
	LoginReject  = "reject"
	LoginKick    = "kick"
)

// Credential sources
const (
	SourceFile  = "file"
	SourceMongo = "mongo"
)

type ServerConfig struct {
	Host           string `toml:"host" envconfig:"host"`
	Port           int    `toml:"port" envconfig:"port" validate:"min=1,max=65535"`
	BufferSize     int    `toml:"buffer_size" envconfig:"buffer_size" validate:"min=16,max=1048576"`
	Framing        string `toml:"framing" envconfig:"framing" validate:"oneof=raw line"`
	DuplicateLogin string `toml:"duplicate_login" envconfig:"duplicate_login" validate:"oneof=replace reject kick"`
	MaxConnections int    `toml:"max_connections" envconfig:"max_connections" validate:"min=0"`
	WriteTimeout   string `toml:"write_timeout" envconfig:"write_timeout"`
	WebSocketAddr  string `toml:"websocket_addr" envconfig:"websocket_addr"`
	MetricsAddr    string `toml:"metrics_addr" envconfig:"metrics_addr"`
}

type CredentialsConfig struct {
	Source string `toml:"source" envconfig:"source" validate:"oneof=file mongo"`
	File   string `toml:"file" envconfig:"file" validate:"required_if=Source file"`
}

type DatabaseConfig struct {
	Host               string `toml:"host" envconfig:"host"`
	Port               uint64 `toml:"port" envconfig:"port" validate:"max=65535"`
	Username           string `toml:"username" envconfig:"username"`
	Password           string `toml:"password" envconfig:"password"`
	Database           string `toml:"database" envconfig:"database"`
	UseTLS             bool   `toml:"use_tls" envconfig:"use_tls"`
	ConnectTimeout     string `toml:"connect_timeout" envconfig:"connect_timeout"`
	SocketTimeout      string `toml:"socket_timeout" envconfig:"socket_timeout"`
	ConnectIdleTimeout string `toml:"connect_idle_timeout" envconfig:"connect_idle_timeout"`
	OperationTimeout   string `toml:"operation_timeout" envconfig:"operation_timeout"`
	Heartbeat          string `toml:"heartbeat" envconfig:"heartbeat"`
	MinPoolSize        uint64 `toml:"min_pool_size" envconfig:"min_pool_size"`
	MaxPoolSize        uint64 `toml:"max_pool_size" envconfig:"max_pool_size" validate:"gtefield=MinPoolSize"`
}

type Config struct {
	Server      ServerConfig      `toml:"server" envconfig:"server"`
	Credentials CredentialsConfig `toml:"credentials" envconfig:"credentials"`
	Database    DatabaseConfig    `toml:"database" envconfig:"database"`
	DebugMode   bool              `toml:"debug_mode" envconfig:"debug_mode"`
	AppName     string            `toml:"app_name" envconfig:"app_name"`
	LogDir      string            `toml:"log_dir" envconfig:"log_dir" validate:"required"`
}

var (
	config      Config
	initialized = false
	validate    = validator.New()
)

// DefaultConfig mirrors the constants the server historically shipped with:
// port 12345, 1024 byte reads, unframed replies, users.txt.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:           12345,
			BufferSize:     1024,
			Framing:        FramingRaw,
			DuplicateLogin: LoginReplace,
			MaxConnections: 10000,
			WriteTimeout:   "0s",
		},
		Credentials: CredentialsConfig{
			Source: SourceFile,
			File:   "users.txt",
		},
		Database: DatabaseConfig{
			Host:               "localhost",
			Port:               27017,
			Database:           "chat",
			ConnectTimeout:     "10s",
			SocketTimeout:      "30s",
			ConnectIdleTimeout: "5m",
			OperationTimeout:   "5s",
			Heartbeat:          "10s",
			MinPoolSize:        1,
			MaxPoolSize:        10,
		},
		AppName: "life-stream-chat",
		LogDir:  "logs",
	}
}

// Load reads path on top of the defaults and then applies CHAT_* environment
// overrides. A missing file is created with the default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// best effort, the defaults are usable without the file
		_ = writeDefaultConfig(path, cfg)
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("the configuration file %s does not contain valid TOML: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Credentials.Source == SourceMongo && cfg.Database.Host == "" {
		return errors.New("invalid configuration: database.host is required when credentials.source is mongo")
	}
	return nil
}

func writeDefaultConfig(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(cfg)
}

// ReadConfig loads .env (if present) and the configuration file named by
// CHAT_CONFIG_FILE, falling back to config.toml, and caches the result.
func ReadConfig() (Config, error) {
	_ = godotenv.Load()

	path := os.Getenv(ConfigFileEnv)
	if path == "" {
		path = DefaultConfigFile
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}

	config = cfg
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
