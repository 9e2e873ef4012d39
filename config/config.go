// Package config loads the service settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

type Storage struct {
	ConnectionString string `yaml:"connectionString"`
	BoardsTable      string `yaml:"boardsTable"`
	SectionsTable    string `yaml:"sectionsTable"`
	TasksTable       string `yaml:"tasksTable"`
	RepairQueue      string `yaml:"repairQueue"`
}

type Redis struct {
	ConnectionString string        `yaml:"connectionString"`
	CacheTTL         time.Duration `yaml:"cacheTTL"`
	DeduperTTL       time.Duration `yaml:"deduperTTL"`
	UpdatesChannel   string        `yaml:"updatesChannel"`
}

type Auth struct {
	Domain   string `yaml:"domain"`
	Audience string `yaml:"audience"`
	// LocalMode verifies HS256 tokens signed with LocalSecret instead of
	// fetching the Auth0 JWKS.
	LocalMode   bool   `yaml:"localMode"`
	LocalSecret string `yaml:"localSecret"`
}

type Config struct {
	ListenAddr string  `yaml:"listenAddr"`
	Debug      bool    `yaml:"debug"`
	Storage    Storage `yaml:"storage"`
	Redis      Redis   `yaml:"redis"`
	Auth       Auth    `yaml:"auth"`
}

// Default returns the settings used when neither file nor environment set a
// value.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Storage: Storage{
			BoardsTable:   "boards",
			SectionsTable: "sections",
			TasksTable:    "tasks",
			RepairQueue:   "scope-repairs",
		},
		Redis: Redis{
			CacheTTL:       10 * time.Minute,
			DeduperTTL:     24 * time.Hour,
			UpdatesChannel: "kanvo-updates",
		},
	}
}

// Load reads path when it is not empty and overlays the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORAGE_CONNECTION_STRING": &c.Storage.ConnectionString,
		"BOARDS_TABLE":              &c.Storage.BoardsTable,
		"SECTIONS_TABLE":            &c.Storage.SectionsTable,
		"TASKS_TABLE":               &c.Storage.TasksTable,
		"REPAIR_QUEUE":              &c.Storage.RepairQueue,
		"REDIS_CONNECTION_STRING":   &c.Redis.ConnectionString,
		"UPDATES_CHANNEL":           &c.Redis.UpdatesChannel,
		"AUTH0_DOMAIN":              &c.Auth.Domain,
		"AUTH0_AUDIENCE":            &c.Auth.Audience,
		"LOCAL_AUTH_SHARED_SECRET":  &c.Auth.LocalSecret,
		"LISTEN_ADDR":               &c.ListenAddr,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"DEBUG":           &c.Debug,
		"LOCAL_AUTH_MODE": &c.Auth.LocalMode,
	}
	for name, dst := range bools {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = b
		}
	}
	durations := map[string]*time.Duration{
		"CACHE_TTL":   &c.Redis.CacheTTL,
		"DEDUPER_TTL": &c.Redis.DeduperTTL,
	}
	for name, dst := range durations {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return fmt.Errorf("invalid %s: %q", name, v)
			}
			*dst = d
		}
	}
	// FUNCTIONS_CUSTOMHANDLER_PORT is set by the Azure Functions host.
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		c.ListenAddr = ":" + port
	}
	return nil
}

// ValidateStorage reports missing table storage settings.
func (c Config) ValidateStorage() error {
	s := c.Storage
	if s.ConnectionString == "" || s.BoardsTable == "" || s.SectionsTable == "" || s.TasksTable == "" || s.RepairQueue == "" {
		return errors.New("missing storage config")
	}
	return nil
}

// ValidateAuth reports missing auth settings for the selected mode.
func (c Config) ValidateAuth() error {
	if c.Auth.LocalMode {
		if c.Auth.LocalSecret == "" {
			return errors.New("missing LOCAL_AUTH_SHARED_SECRET")
		}
		return nil
	}
	if c.Auth.Domain == "" || c.Auth.Audience == "" {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// JWKSURL is the key set location of the configured Auth0 tenant.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Issuer is the expected iss claim of the configured Auth0 tenant.
func (a Auth) Issuer() string {
	return "https://" + a.Domain + "/"
}

// ParseRedisOptions accepts a redis:// URL or an Azure style connection
// string "host:port,password=...,ssl=True".
func ParseRedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(v), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
