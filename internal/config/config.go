// Package config loads wavesync settings from YAML. Missing fields keep the
// values of the embedded default document.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultConfigYAML = `# wavesync configuration
log:
  level: info     # debug | info | warn | error
  format: logfmt  # logfmt | json

server:
  listen: ":8080"
  wavelet: "wave://default"
  metrics: true
  commit_interval: 5s
  # Messages buffered per session before a slow client is dropped.
  session_buffer: 256
  store:
    kind: memory  # memory | bolt
    path: wavesync.db

client:
  url: "ws://localhost:8080/ws"
  author: ""      # a random author is generated when empty
  document: main
  reconnect:
    initial: 250ms
    max: 10s
    max_elapsed: 0s  # 0 retries forever
`

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	Wavelet        string        `yaml:"wavelet"`
	Metrics        bool          `yaml:"metrics"`
	CommitInterval time.Duration `yaml:"commit_interval"`
	SessionBuffer  int           `yaml:"session_buffer"`
	Store          StoreConfig   `yaml:"store"`
}

type ReconnectConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

type ClientConfig struct {
	URL       string          `yaml:"url"`
	Author    string          `yaml:"author"`
	Document  string          `yaml:"document"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// Config is the full configuration of the server and client binaries.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &c); err != nil {
		panic(errors.Wrap(err, "parsing default config"))
	}
	return c
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, c.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config")
	}
	return Parse(data, c)
}

// Parse decodes data over base and validates the result.
func Parse(data []byte, base Config) (Config, error) {
	if err := yaml.Unmarshal(data, &base); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if err := base.Validate(); err != nil {
		return Config{}, err
	}
	return base, nil
}

// Validate checks values the binaries cannot run with.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "logfmt", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	switch c.Server.Store.Kind {
	case "memory":
	case "bolt":
		if c.Server.Store.Path == "" {
			return errors.New("bolt store needs a path")
		}
	default:
		return errors.Errorf("unknown store kind %q", c.Server.Store.Kind)
	}
	if c.Server.Wavelet == "" {
		return errors.New("server wavelet name is empty")
	}
	if c.Server.CommitInterval < 0 {
		return errors.New("commit interval is negative")
	}
	if c.Server.SessionBuffer <= 0 {
		return errors.New("session buffer must be positive")
	}
	if r := c.Client.Reconnect; r.Initial <= 0 || r.Max < r.Initial {
		return errors.Errorf("bad reconnect backoff %v..%v", r.Initial, r.Max)
	}
	return nil
}
