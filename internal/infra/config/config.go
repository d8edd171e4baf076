package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Download     DownloadConfig     `mapstructure:"download" yaml:"download"`
	Intervals    IntervalsConfig    `mapstructure:"intervals" yaml:"intervals"`
	OnCompletion OnCompletionConfig `mapstructure:"on_completion" yaml:"on_completion"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Signal       SignalConfig       `mapstructure:"signal" yaml:"signal"`

	Port string `mapstructure:"port" yaml:"port"`

	v *viper.Viper
}

type DownloadConfig struct {
	Folder          string `mapstructure:"folder" yaml:"folder"`
	MaxConcurrent   int    `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries"`
	AutoRename      bool   `mapstructure:"auto_rename" yaml:"auto_rename"`
	Thumbnail       bool   `mapstructure:"thumbnail" yaml:"thumbnail"`
	Checksum        bool   `mapstructure:"checksum" yaml:"checksum"`
	ServerTimestamp bool   `mapstructure:"server_timestamp" yaml:"server_timestamp"`
	Notify          bool   `mapstructure:"notify" yaml:"notify"`
	YtDlpPath       string `mapstructure:"ytdlp_path" yaml:"ytdlp_path"`
	FFmpegPath      string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	ChunkSize       int    `mapstructure:"chunk_size" yaml:"chunk_size"`
}

type IntervalsConfig struct {
	Pending  time.Duration `mapstructure:"pending" yaml:"pending"`
	Schedule time.Duration `mapstructure:"schedule" yaml:"schedule"`
	Flush    time.Duration `mapstructure:"flush" yaml:"flush"`
	Watchdog time.Duration `mapstructure:"watchdog" yaml:"watchdog"`
}

// OnCompletionConfig is the post-batch action fired once every job has completed.
type OnCompletionConfig struct {
	Command  string `mapstructure:"command" yaml:"command"`
	Shutdown bool   `mapstructure:"shutdown" yaml:"shutdown"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

type SignalConfig struct {
	RatePerSec float64 `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Burst      int     `mapstructure:"burst" yaml:"burst"`
}

// Load reads path (default config.yaml) layered over defaults, a .env file
// and DLQUEUE_* environment variables. A missing default file is not an
// error; a missing explicit path is.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		switch {
		case explicit:
			return nil, fmt.Errorf("config file not found: %s", path)
		case fileExists("/config/config.yaml"):
			// Docker volume
			path = "/config/config.yaml"
		default:
			path = ""
		}
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("DLQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("download.folder", "./downloads")
	v.SetDefault("download.max_concurrent", 3)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.auto_rename", false)
	v.SetDefault("download.thumbnail", true)
	v.SetDefault("download.checksum", false)
	v.SetDefault("download.server_timestamp", true)
	v.SetDefault("download.notify", false)
	v.SetDefault("download.ytdlp_path", "yt-dlp")
	v.SetDefault("download.ffmpeg_path", "ffmpeg")
	v.SetDefault("download.chunk_size", 256*1024)
	v.SetDefault("intervals.pending", "3s")
	v.SetDefault("intervals.schedule", "60s")
	v.SetDefault("intervals.flush", "500ms")
	v.SetDefault("intervals.watchdog", "5s")
	v.SetDefault("on_completion.command", "")
	v.SetDefault("on_completion.shutdown", false)
	v.SetDefault("log.path", "dlqueue.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "dlqueue.db")
	v.SetDefault("signal.rate_per_sec", 1.0)
	v.SetDefault("signal.burst", 3)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.v = v
	return &cfg, nil
}

// Watch re-decodes the file on every change and hands the result to fn.
// Invalid edits are reported through onErr and otherwise ignored.
func (c *Config) Watch(fn func(*Config), onErr func(error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		fn(next)
	})
	c.v.WatchConfig()
}

// FileUsed is the config file in effect, empty when running on defaults.
func (c *Config) FileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

func (c *Config) validate() error {
	if c.Download.Folder == "" {
		c.Download.Folder = "./downloads"
	}

	if c.Download.MaxConcurrent <= 0 {
		// Default to a sane value
		c.Download.MaxConcurrent = 3
	}

	if c.Download.MaxRetries < 0 {
		return errors.New("download.max_retries can't be negative")
	}

	if c.Download.ChunkSize <= 0 {
		c.Download.ChunkSize = 256 * 1024
	}

	if c.Intervals.Pending <= 0 {
		c.Intervals.Pending = 3 * time.Second
	}
	if c.Intervals.Schedule <= 0 {
		c.Intervals.Schedule = time.Minute
	}
	if c.Intervals.Flush <= 0 {
		c.Intervals.Flush = 500 * time.Millisecond
	}
	if c.Intervals.Watchdog <= 0 {
		c.Intervals.Watchdog = 5 * time.Second
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "dlqueue.db"
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if c.Signal.RatePerSec <= 0 {
		c.Signal.RatePerSec = 1
	}
	if c.Signal.Burst <= 0 {
		c.Signal.Burst = 1
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
