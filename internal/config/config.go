// Package config provides runtime configuration values for the simulator and the cart client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds configuration knobs for the HTTP simulator and the cart client.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CatalogFile     string        `yaml:"catalog_file"`
	AuthSecret      string        `yaml:"auth_secret"`
	LogLevel        string        `yaml:"log_level"`

	BackendURL    string        `yaml:"backend_url"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	DebounceDelay time.Duration `yaml:"debounce_delay"`
	DataPath      string        `yaml:"data_path"`

	Keys   StorageKeys  `yaml:"keys"`
	Outbox OutboxConfig `yaml:"outbox"`
}

// StorageKeys names the entries the client keeps in local and session storage.
type StorageKeys struct {
	Cart          string `yaml:"cart"`
	User          string `yaml:"user"`
	Token         string `yaml:"token"`
	Selection     string `yaml:"selection"`
	CheckoutItems string `yaml:"checkout_items"`
	CheckoutTotal string `yaml:"checkout_total"`
}

// OutboxConfig controls replay of remote calls that failed.
type OutboxConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Key            string        `yaml:"key"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
		BackendURL:      "http://localhost:8080",
		RemoteTimeout:   10 * time.Second,
		DebounceDelay:   500 * time.Millisecond,
		DataPath:        "cart.db",
		Keys: StorageKeys{
			Cart:          "cart",
			User:          "user",
			Token:         "token",
			Selection:     "cart.selection",
			CheckoutItems: "checkout.items",
			CheckoutTotal: "checkout.total",
		},
		Outbox: OutboxConfig{
			Enabled:        true,
			Key:            "cart.outbox",
			ReplayInterval: 30 * time.Second,
			MaxAttempts:    5,
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvms(key string, def time.Duration) time.Duration {
	ms := atoienv(key, int(def/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, def time.Duration) time.Duration {
	sec := atoienv(key, int(def/time.Second))
	return time.Duration(sec) * time.Second
}

// applyEnv overlays environment variables on top of c.
func (c *Config) applyEnv() {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.ShutdownTimeout = durenvs("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.CatalogFile = getenv("CATALOG_FILE", c.CatalogFile)
	c.AuthSecret = getenv("AUTH_SECRET", c.AuthSecret)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)

	c.BackendURL = getenv("BACKEND_URL", c.BackendURL)
	c.RemoteTimeout = durenvms("REMOTE_TIMEOUT_MS", c.RemoteTimeout)
	c.DebounceDelay = durenvms("DEBOUNCE_MS", c.DebounceDelay)
	c.DataPath = getenv("DATA_PATH", c.DataPath)

	c.Keys.Cart = getenv("CART_KEY", c.Keys.Cart)
	c.Keys.User = getenv("USER_KEY", c.Keys.User)
	c.Keys.Token = getenv("TOKEN_KEY", c.Keys.Token)
	c.Keys.Selection = getenv("SELECTION_KEY", c.Keys.Selection)
	c.Keys.CheckoutItems = getenv("CHECKOUT_ITEMS_KEY", c.Keys.CheckoutItems)
	c.Keys.CheckoutTotal = getenv("CHECKOUT_TOTAL_KEY", c.Keys.CheckoutTotal)

	c.Outbox.Enabled = boolenv("OUTBOX_ENABLED", c.Outbox.Enabled)
	c.Outbox.Key = getenv("OUTBOX_KEY", c.Outbox.Key)
	c.Outbox.ReplayInterval = durenvms("OUTBOX_REPLAY_INTERVAL_MS", c.Outbox.ReplayInterval)
	c.Outbox.MaxAttempts = atoienv("OUTBOX_MAX_ATTEMPTS", c.Outbox.MaxAttempts)
}

// loadDotEnv reads a .env file into the process environment when one exists.
// Variables already set in the environment win.
func loadDotEnv() {
	path := getenv("DOTENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Load collects configuration from the environment (and .env) with defaults.
func Load() Config {
	loadDotEnv()
	c := Default()
	c.applyEnv()
	return c
}

// LoadFile reads a YAML file over the defaults, then applies .env and environment overrides.
// An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Load(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	loadDotEnv()
	c.applyEnv()
	return c, nil
}

// Validate reports configuration values the client cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.RemoteTimeout <= 0 {
		errs = append(errs, errors.New("remote_timeout must be > 0"))
	}
	if c.DebounceDelay <= 0 {
		errs = append(errs, errors.New("debounce_delay must be > 0"))
	}
	if c.Keys.Cart == "" || c.Keys.User == "" || c.Keys.Selection == "" {
		errs = append(errs, errors.New("storage keys must not be empty"))
	}
	if c.Outbox.Enabled {
		if c.Outbox.ReplayInterval <= 0 {
			errs = append(errs, errors.New("outbox.replay_interval must be > 0"))
		}
		if c.Outbox.MaxAttempts <= 0 {
			errs = append(errs, errors.New("outbox.max_attempts must be > 0"))
		}
	}
	return errors.Join(errs...)
}
