// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	defaultIRCPort       = 6667
	defaultBindingsPath  = "channels.json"
	defaultNoticeRate    = 2.0
	defaultNoticeBurst   = 5
	defaultMaxReconnects = 10
	defaultDisplayCache  = 512
	legacyJoinChannel    = "#general"
)

// Config holds the bridge configuration.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	IRC      IRCConfig      `yaml:"irc"`
	Bindings BindingsConfig `yaml:"bindings"`
	// AdminAPIAddr is the listen address of the admin HTTP API serving
	// /api/bindings, /api/reload-bindings and /metrics. Empty disables it
	// unless BRIDGE_API_ADDR is set.
	AdminAPIAddr string            `yaml:"admin_api_addr"`
	Logging      zeroconfig.Config `yaml:"logging"`
}

type DiscordConfig struct {
	Token               string `yaml:"token"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// ConvertFormatting turns Discord markdown into IRC control codes.
	ConvertFormatting bool `yaml:"convert_formatting"`
	DisplayCacheSize  int  `yaml:"display_cache_size"`

	displaynameTemplate *template.Template `yaml:"-"`
}

type IRCConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Password     string   `yaml:"password"`
	Nick         string   `yaml:"nick"`
	RealName     string   `yaml:"real_name"`
	TLS          bool     `yaml:"tls"`
	JoinChannels []string `yaml:"join_channels"`
	// ConvertFormatting turns IRC control codes into Discord markdown
	// instead of passing them through.
	ConvertFormatting bool `yaml:"convert_formatting"`
	// StripFormatting removes IRC control codes when ConvertFormatting is off.
	StripFormatting bool    `yaml:"strip_formatting"`
	NoticeRate      float64 `yaml:"notice_rate"`
	NoticeBurst     int     `yaml:"notice_burst"`
	MaxReconnects   int     `yaml:"max_reconnects"`
}

type BindingsConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	ID            string
	Username      string
	GlobalName    string
	Nick          string
	Discriminator string
}

// legacyConfig is the flat key layout of the old config.json. JSON is
// valid YAML, so an old config file decodes through the same path.
type legacyConfig struct {
	Token    string `yaml:"TOKEN"`
	Host     string `yaml:"IRC_HOST"`
	Port     int    `yaml:"IRC_PORT"`
	Password string `yaml:"IRC_PASS"`
	Nick     string `yaml:"IRC_NICK"`
	RealName string `yaml:"IRC_REAL"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	if err := node.Decode((*rawConfig)(c)); err != nil {
		return err
	}
	var legacy legacyConfig
	if err := node.Decode(&legacy); err != nil {
		return err
	}
	setIfEmpty(&c.Discord.Token, legacy.Token)
	setIfEmpty(&c.IRC.Host, legacy.Host)
	setIfEmpty(&c.IRC.Password, legacy.Password)
	setIfEmpty(&c.IRC.Nick, legacy.Nick)
	setIfEmpty(&c.IRC.RealName, legacy.RealName)
	if c.IRC.Port == 0 {
		c.IRC.Port = legacy.Port
	}
	// The flat layout had no channel list and always joined #general.
	if legacy != (legacyConfig{}) && len(c.IRC.JoinChannels) == 0 {
		c.IRC.JoinChannels = []string{legacyJoinChannel}
	}
	return nil
}

func setIfEmpty(dst *string, val string) {
	if *dst == "" {
		*dst = val
	}
}

// LoadConfig reads and post-processes the config file at path. A missing
// file is an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess fills defaults, compiles templates and validates required fields.
func (c *Config) PostProcess() error {
	if c.IRC.Port == 0 {
		c.IRC.Port = defaultIRCPort
	}
	if c.IRC.RealName == "" {
		c.IRC.RealName = c.IRC.Nick
	}
	if c.IRC.NoticeRate <= 0 {
		c.IRC.NoticeRate = defaultNoticeRate
	}
	if c.IRC.NoticeBurst <= 0 {
		c.IRC.NoticeBurst = defaultNoticeBurst
	}
	if c.IRC.MaxReconnects <= 0 {
		c.IRC.MaxReconnects = defaultMaxReconnects
	}
	if c.Bindings.Path == "" {
		c.Bindings.Path = defaultBindingsPath
	}
	if c.Discord.DisplayCacheSize <= 0 {
		c.Discord.DisplayCacheSize = defaultDisplayCache
	}
	if c.Discord.DisplaynameTemplate == "" {
		c.Discord.DisplaynameTemplate = "{{.Username}}"
	}
	if c.AdminAPIAddr == "" {
		c.AdminAPIAddr = os.Getenv("BRIDGE_API_ADDR")
	}

	var err error
	c.Discord.displaynameTemplate, err = template.New("displayname").Parse(c.Discord.DisplaynameTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse displayname template: %w", err)
	}
	return c.Validate()
}

// Validate reports every missing required field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if c.IRC.Host == "" {
		errs = append(errs, errors.New("irc.host is required"))
	}
	if c.IRC.Nick == "" {
		errs = append(errs, errors.New("irc.nick is required"))
	}
	if c.IRC.Port < 1 || c.IRC.Port > 65535 {
		errs = append(errs, fmt.Errorf("irc.port %d is out of range", c.IRC.Port))
	}
	return errors.Join(errs...)
}

// FormatDisplayname renders the Discord author tag shown on IRC.
func (c *DiscordConfig) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Username
	}
	var sb strings.Builder
	if err := c.displaynameTemplate.Execute(&sb, params); err != nil || sb.Len() == 0 {
		return params.Username
	}
	return sb.String()
}

// NewLogger builds the root logger from the logging block, defaulting to
// colored output on stdout.
func (c *Config) NewLogger() (*zerolog.Logger, error) {
	logCfg := c.Logging
	if len(logCfg.Writers) == 0 {
		logCfg.Writers = []zeroconfig.WriterConfig{{
			Type:   zeroconfig.WriterTypeStdout,
			Format: zeroconfig.LogFormatPrettyColored,
		}}
	}
	if logCfg.MinLevel == nil {
		logCfg.MinLevel = ptr.Ptr(zerolog.DebugLevel)
	}
	log, err := logCfg.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return log, nil
}
