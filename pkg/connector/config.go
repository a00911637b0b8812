// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/util/random"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "MINECRAFT_BRIDGE_"

// Config holds the whole bridge configuration.
type Config struct {
	Homeserver HomeserverConfig  `yaml:"homeserver" envPrefix:"HOMESERVER_"`
	AppService AppServiceConfig  `yaml:"appservice" envPrefix:"APPSERVICE_"`
	Gateway    GatewayConfig     `yaml:"gateway" envPrefix:"GATEWAY_"`
	Database   dbutil.Config     `yaml:"database"`
	Bridge     BridgeConfig      `yaml:"bridge" envPrefix:"BRIDGE_"`
	Players    PlayersConfig     `yaml:"players" envPrefix:"PLAYERS_"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type HomeserverConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
	Domain  string `yaml:"domain" env:"DOMAIN"`
}

type AppServiceConfig struct {
	Address  string `yaml:"address" env:"ADDRESS"`
	Hostname string `yaml:"hostname" env:"HOSTNAME"`
	Port     int    `yaml:"port" env:"PORT"`

	ID             string `yaml:"id"`
	BotUsername    string `yaml:"bot_username"`
	BotDisplayname string `yaml:"bot_displayname"`
	UsernamePrefix string `yaml:"username_prefix"`
	Registration   string `yaml:"registration" env:"REGISTRATION"`
}

// ListenAddr is the host:port the HTTP listener binds to.
func (asc *AppServiceConfig) ListenAddr() string {
	return asc.Hostname + ":" + strconv.Itoa(asc.Port)
}

type GatewayConfig struct {
	// SigningSecret keys the bridge token MAC. Rotating it invalidates every
	// issued token.
	SigningSecret string `yaml:"signing_secret" env:"SIGNING_SECRET"`
	MaxBodySize   int64  `yaml:"max_body_size"`

	// RequestTimeout bounds a whole plugin request, player lookup and
	// homeserver calls included.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// responseWriteGrace is how long a request that ran into RequestTimeout
// still has to write its error response.
const responseWriteGrace = 5 * time.Second

// WriteTimeout is the HTTP server write deadline.
func (gc *GatewayConfig) WriteTimeout() time.Duration {
	return gc.RequestTimeout + responseWriteGrace
}

type BridgeConfig struct {
	CommandPrefix string        `yaml:"command_prefix" env:"COMMAND_PREFIX"`
	UserWhitelist []string      `yaml:"user_whitelist" env:"USER_WHITELIST"`
	QueueLimit    int           `yaml:"queue_limit"`
	QueueMaxAge   time.Duration `yaml:"queue_max_age"`
}

// IsWhitelisted reports whether userID may bridge rooms. An empty whitelist
// allows everyone.
func (bc *BridgeConfig) IsWhitelisted(userID id.UserID) bool {
	return len(bc.UserWhitelist) == 0 || slices.Contains(bc.UserWhitelist, string(userID))
}

type PlayersConfig struct {
	APIURL            string        `yaml:"api_url" env:"API_URL"`
	SessionURL        string        `yaml:"session_url" env:"SESSION_URL"`
	LookupTimeout     time.Duration `yaml:"lookup_timeout" env:"LOOKUP_TIMEOUT"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	SyncAvatars       bool          `yaml:"sync_avatars" env:"SYNC_AVATARS"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the config and fills in derived defaults.
func (c *Config) PostProcess() error {
	var errs []error
	if c.Homeserver.Domain == "" {
		errs = append(errs, errors.New("homeserver.domain is required"))
	}
	if _, err := url.Parse(c.Homeserver.Address); err != nil || c.Homeserver.Address == "" {
		errs = append(errs, fmt.Errorf("homeserver.address is invalid: %q", c.Homeserver.Address))
	}
	if c.AppService.Port <= 0 || c.AppService.Port > 65535 {
		errs = append(errs, fmt.Errorf("appservice.port is out of range: %d", c.AppService.Port))
	}
	if c.AppService.BotUsername == "" {
		errs = append(errs, errors.New("appservice.bot_username is required"))
	}
	if c.Gateway.SigningSecret == "" || c.Gateway.SigningSecret == "generate" {
		errs = append(errs, errors.New("gateway.signing_secret is not set"))
	}
	if c.AppService.UsernamePrefix == "" {
		c.AppService.UsernamePrefix = "_mc_"
	}
	if c.AppService.ID == "" {
		c.AppService.ID = "minecraft"
	}
	if c.Gateway.MaxBodySize <= 0 {
		c.Gateway.MaxBodySize = 64 * 1024
	}
	c.Bridge.CommandPrefix = strings.TrimSpace(c.Bridge.CommandPrefix)
	if c.Bridge.CommandPrefix == "" {
		c.Bridge.CommandPrefix = "!minecraft"
	}
	if c.Bridge.QueueLimit <= 0 {
		c.Bridge.QueueLimit = 500
	}
	if c.Players.LookupTimeout <= 0 {
		c.Players.LookupTimeout = 5 * time.Second
	}
	if c.Gateway.RequestTimeout <= 0 {
		c.Gateway.RequestTimeout = 30 * time.Second
	}
	if c.Players.LookupTimeout >= c.Gateway.RequestTimeout {
		errs = append(errs, fmt.Errorf("players.lookup_timeout (%s) must be shorter than gateway.request_timeout (%s)",
			c.Players.LookupTimeout, c.Gateway.RequestTimeout))
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "homeserver", "domain")

	helper.Copy(up.Str, "appservice", "address")
	helper.Copy(up.Str, "appservice", "hostname")
	helper.Copy(up.Int, "appservice", "port")
	helper.Copy(up.Str, "appservice", "id")
	helper.Copy(up.Str, "appservice", "bot_username")
	helper.Copy(up.Str, "appservice", "bot_displayname")
	helper.Copy(up.Str, "appservice", "username_prefix")
	helper.Copy(up.Str, "appservice", "registration")

	if secret, ok := helper.Get(up.Str, "gateway", "signing_secret"); !ok || secret == "" || secret == "generate" {
		helper.Set(up.Str, random.String(64), "gateway", "signing_secret")
	} else {
		helper.Copy(up.Str, "gateway", "signing_secret")
	}
	helper.Copy(up.Int, "gateway", "max_body_size")
	helper.Copy(up.Str, "gateway", "request_timeout")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")
	helper.Copy(up.Str|up.Null, "database", "conn_max_idle_time")
	helper.Copy(up.Str|up.Null, "database", "conn_max_lifetime")

	helper.Copy(up.Str, "bridge", "command_prefix")
	helper.Copy(up.List, "bridge", "user_whitelist")
	helper.Copy(up.Int, "bridge", "queue_limit")
	helper.Copy(up.Str, "bridge", "queue_max_age")

	helper.Copy(up.Str, "players", "api_url")
	helper.Copy(up.Str, "players", "session_url")
	helper.Copy(up.Str, "players", "lookup_timeout")
	helper.Copy(up.Str, "players", "cache_ttl")
	helper.Copy(up.Int|up.Float, "players", "requests_per_second")
	helper.Copy(up.Bool, "players", "sync_avatars")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user config onto the embedded example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"appservice"},
		{"gateway"},
		{"database"},
		{"bridge"},
		{"players"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// LoadConfig reads the config at path, writing the example config first if
// the file doesn't exist. When save is set, the upgraded config (including a
// freshly generated signing secret) is written back. Environment variables
// prefixed with EnvPrefix override file values.
func LoadConfig(path string, save bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	}
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config data and applies environment overrides.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
