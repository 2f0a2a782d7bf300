// Package config loads the Panoptes configuration document.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"panoptes.zcraft.fr/internal/area"
	"panoptes.zcraft.fr/internal/cache"
	"panoptes.zcraft.fr/internal/persistence/prism"
	"panoptes.zcraft.fr/internal/ratios"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "Panoptes.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANOPTES_"

type Config struct {
	Listen    string  `toml:"listen" yaml:"listen" env:"LISTEN"`
	CORS      string  `toml:"cors" yaml:"cors" env:"CORS"`
	LogLevel  string  `toml:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string  `toml:"log_format" yaml:"log_format" env:"LOG_FORMAT"`
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `toml:"rate_burst" yaml:"rate_burst" env:"RATE_BURST"`
	Pprof     bool    `toml:"pprof" yaml:"pprof" env:"ENABLE_PPROF"`

	Database     Database     `toml:"database" yaml:"database" envPrefix:"DATABASE_"`
	Cache        Cache        `toml:"cache" yaml:"cache" envPrefix:"CACHE_"`
	Translations Translations `toml:"translations" yaml:"translations" envPrefix:"TRANSLATIONS_"`
	QueryLog     QueryLog     `toml:"query_log" yaml:"query_log" envPrefix:"QUERY_LOG_"`

	Areas map[string]AreaSpec `toml:"areas" yaml:"areas"`
}

type Database struct {
	Driver       string   `toml:"driver" yaml:"driver" env:"DRIVER"`
	DSN          string   `toml:"dsn" yaml:"dsn" env:"DSN"`
	MaxOpenConns int      `toml:"max_open_conns" yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	QueryTimeout Duration `toml:"query_timeout" yaml:"query_timeout" env:"QUERY_TIMEOUT"`
}

type Cache struct {
	Size            int      `toml:"size" yaml:"size" env:"SIZE"`
	RatiosTTL       Duration `toml:"ratios_ttl" yaml:"ratios_ttl" env:"RATIOS_TTL"`
	PlayersTTL      Duration `toml:"players_ttl" yaml:"players_ttl" env:"PLAYERS_TTL"`
	CleanupInterval Duration `toml:"cleanup_interval" yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

type Translations struct {
	Directory     string `toml:"directory" yaml:"directory" env:"DIRECTORY"`
	DefaultLocale string `toml:"default_locale" yaml:"default_locale" env:"DEFAULT_LOCALE"`
}

type QueryLog struct {
	Directory string `toml:"directory" yaml:"directory" env:"DIRECTORY"`
}

// AreaSpec is an area as written in the document; its id is the table key.
type AreaSpec struct {
	Name  string  `toml:"name" yaml:"name"`
	World string  `toml:"world" yaml:"world"`
	Pos1  []int64 `toml:"pos1" yaml:"pos1"`
	Pos2  []int64 `toml:"pos2" yaml:"pos2"`
}

// Defaults returns the configuration used for absent keys.
func Defaults() Config {
	return Config{
		Listen:    ":8000",
		CORS:      "*",
		LogLevel:  "info",
		LogFormat: "text",
		Database: Database{
			Driver:       string(prism.MySQL),
			MaxOpenConns: 8,
			QueryTimeout: Duration(30 * time.Second),
		},
		Cache: Cache{
			Size:            128,
			RatiosTTL:       Duration(ratios.DefaultRatiosTTL),
			PlayersTTL:      Duration(ratios.DefaultPlayersTTL),
			CleanupInterval: Duration(time.Minute),
		},
		Translations: Translations{
			Directory:     "translations",
			DefaultLocale: "en_us",
		},
	}
}

// LoadDotEnv loads variables from a .env file when it exists. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadDefault loads path when it is set, else the document named by
// PANOPTES_CONFIG. Without either, Panoptes.toml is read when it exists in
// the working directory; when it does not, defaults and environment
// overrides alone make the configuration.
func LoadDefault(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if strings.TrimSpace(path) != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultPath); errors.Is(err, fs.ErrNotExist) {
		return Load("")
	}
	return Load(DefaultPath)
}

// Load reads the document at path, TOML unless the extension says YAML,
// checks it against the schema, applies PANOPTES_* overrides and validates
// the result. An empty path gives the defaults with overrides applied.
func Load(path string) (Config, error) {
	cfg := Defaults()
	name := filepath.Base(path)
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := decode(path, b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// decode validates the raw document against the schema, then decodes it
// over cfg so that absent keys keep their defaults.
func decode(path string, b []byte, cfg *Config) error {
	var raw any
	if isYAML(path) {
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		if err := toml.Unmarshal(b, &raw); err != nil {
			return err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateSchema(raw); err != nil {
		return err
	}
	if isYAML(path) {
		return yaml.Unmarshal(b, cfg)
	}
	return toml.Unmarshal(b, cfg)
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Listen = strings.TrimSpace(c.Listen)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Translations.Directory = strings.TrimSpace(c.Translations.Directory)
	c.Translations.DefaultLocale = strings.ToLower(strings.TrimSpace(c.Translations.DefaultLocale))
	c.QueryLog.Directory = strings.TrimSpace(c.QueryLog.Directory)
	if c.Cache.Size <= 0 {
		c.Cache.Size = 128
	}
	for id, a := range c.Areas {
		a.World = strings.TrimSpace(a.World)
		if strings.TrimSpace(a.Name) == "" {
			a.Name = id
		}
		c.Areas[id] = a
	}
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if _, err := prism.ParseDialect(c.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must be >= 0")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate_limit and rate_burst must be >= 0")
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		return fmt.Errorf("rate_burst must be > 0 when rate_limit is set")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Cache.RatiosTTL.Std() <= 0 || c.Cache.PlayersTTL.Std() <= 0 {
		return fmt.Errorf("cache ttls must be > 0")
	}
	if c.Cache.CleanupInterval.Std() < 0 {
		return fmt.Errorf("cache.cleanup_interval must be >= 0")
	}
	for _, id := range c.AreaIDs() {
		a := c.Areas[id]
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("areas: empty area id")
		}
		if a.World == "" {
			return fmt.Errorf("areas.%s: world is required", id)
		}
		if len(a.Pos1) != 3 || len(a.Pos2) != 3 {
			return fmt.Errorf("areas.%s: pos1 and pos2 need 3 coordinates", id)
		}
	}
	return nil
}

// AreaIDs returns the configured area ids, sorted.
func (c Config) AreaIDs() []string {
	ids := make([]string, 0, len(c.Areas))
	for id := range c.Areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Registry builds the area registry. Corners are normalized here.
func (c Config) Registry() (*area.Registry, error) {
	areas := make([]area.Area, 0, len(c.Areas))
	for _, id := range c.AreaIDs() {
		a := c.Areas[id]
		if len(a.Pos1) != 3 || len(a.Pos2) != 3 {
			return nil, fmt.Errorf("areas.%s: pos1 and pos2 need 3 coordinates", id)
		}
		areas = append(areas, area.New(id, a.Name, a.World,
			area.Vec3{a.Pos1[0], a.Pos1[1], a.Pos1[2]},
			area.Vec3{a.Pos2[0], a.Pos2[1], a.Pos2[2]}))
	}
	return area.NewRegistry(areas...)
}

// Store returns the database settings.
func (c Config) Store() prism.Config {
	return prism.Config{
		Driver:       c.Database.Driver,
		DSN:          c.Database.DSN,
		MaxOpenConns: c.Database.MaxOpenConns,
		QueryTimeout: c.Database.QueryTimeout.Std(),
	}
}

// Service returns the cache settings of the ratios service. A zero
// cleanup interval leaves expired entries to be dropped on lookup.
func (c Config) Service() ratios.Config {
	cfg := ratios.Config{
		CacheSize:  c.Cache.Size,
		RatiosTTL:  c.Cache.RatiosTTL.Std(),
		PlayersTTL: c.Cache.PlayersTTL.Std(),
	}
	if d := c.Cache.CleanupInterval.Std(); d > 0 {
		cfg.CacheOptions = append(cfg.CacheOptions, cache.WithCleanupInterval(d))
	}
	return cfg
}
