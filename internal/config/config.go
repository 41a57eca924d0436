// Package config loads settings for the server and the CLI.
//
// Sources, highest precedence first: TASKBOARD_* environment variables, a
// .env file in the working directory, a taskboard.yaml config file, and the
// defaults below.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/TWRT/taskboard/internal/client/blob"
)

const (
	EnvPrefix = "TASKBOARD"

	BackendLocal = "local"
	BackendS3    = "s3"
)

type Server struct {
	Addr   string `mapstructure:"addr"`
	DBPath string `mapstructure:"db_path"`
	JWT    JWT    `mapstructure:"jwt"`
	Blob   Blob   `mapstructure:"blob"`
	Log    Log    `mapstructure:"log"`
}

type JWT struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type Blob struct {
	Backend         string `mapstructure:"backend"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	LocalDir        string `mapstructure:"local_dir"`
	PublicURL       string `mapstructure:"public_url"`
}

func (b Blob) S3() blob.S3Config {
	return blob.S3Config{
		Bucket:          b.Bucket,
		Region:          b.Region,
		Endpoint:        b.Endpoint,
		AccessKeyID:     b.AccessKeyID,
		SecretAccessKey: b.SecretAccessKey,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Client is the CLI's configuration.
type Client struct {
	ServerURL string `mapstructure:"server_url"`
	TokenFile string `mapstructure:"token_file"`
	Output    string `mapstructure:"output"`
}

// LoadServer reads server settings. configFile may be empty, in which case
// taskboard.yaml is looked up in the working directory.
func LoadServer(configFile string) (*Server, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "./taskboard.db")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("blob.backend", BackendLocal)
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key_id", "")
	v.SetDefault("blob.secret_access_key", "")
	v.SetDefault("blob.local_dir", "./data/blobs")
	v.SetDefault("blob.public_url", "http://localhost:8080/files")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Server) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required (set TASKBOARD_JWT_SECRET)")
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("jwt ttl must be positive, got %s", c.JWT.TTL)
	}
	switch c.Blob.Backend {
	case BackendLocal:
	case BackendS3:
		if c.Blob.Bucket == "" || c.Blob.Region == "" {
			return errors.New("s3 blob backend needs blob.bucket and blob.region")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blob.Backend)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// LoadClient reads CLI settings. The token file defaults to a path under the
// user config directory.
func LoadClient(configFile string) (*Client, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	tokenFile := "taskboard-token"
	if dir, err := os.UserConfigDir(); err == nil {
		tokenFile = filepath.Join(dir, "taskboard", "token")
	}
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("token_file", tokenFile)
	v.SetDefault("output", "")

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func newViper(configFile string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("taskboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func ParseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
	return level, nil
}

// NewLogger builds the process logger from c.
func (c Log) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
