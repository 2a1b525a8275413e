// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Browser() BrowserConfig
	Fill() FillConfig
	LLM() LLMConfig
	Profile() ProfileConfig
	Database() DatabaseConfig

	// Fill setters used by CLI flags and tests.
	SetFillMaxSectionEntries(int)
	SetFillDropdownMatchThreshold(int)
	SetBrowserCDPURL(string)
}

// Config holds the entire application configuration. It uses private
// fields to enforce access through the Interface's getter methods.
type Config struct {
	logger   LoggerConfig
	server   ServerConfig
	browser  BrowserConfig
	fill     FillConfig
	llm      LLMConfig
	profile  ProfileConfig
	database DatabaseConfig
}

// fileConfig mirrors Config with exported fields so viper can decode into
// it. Decoded values are copied into the private Config fields.
type fileConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Fill     FillConfig     `mapstructure:"fill" yaml:"fill"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Profile  ProfileConfig  `mapstructure:"profile" yaml:"profile"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

func (f *fileConfig) toConfig() *Config {
	return &Config{
		logger:   f.Logger,
		server:   f.Server,
		browser:  f.Browser,
		fill:     f.Fill,
		llm:      f.LLM,
		profile:  f.Profile,
		database: f.Database,
	}
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Server() ServerConfig     { return c.server }
func (c *Config) Browser() BrowserConfig   { return c.browser }
func (c *Config) Fill() FillConfig         { return c.fill }
func (c *Config) LLM() LLMConfig           { return c.llm }
func (c *Config) Profile() ProfileConfig   { return c.profile }
func (c *Config) Database() DatabaseConfig { return c.database }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetFillMaxSectionEntries(n int)      { c.fill.MaxSectionEntries = n }
func (c *Config) SetFillDropdownMatchThreshold(n int) { c.fill.DropdownMatchThreshold = n }
func (c *Config) SetBrowserCDPURL(u string)           { c.browser.CDPURL = u }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig holds the listen address of the HTTP/WebSocket server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BrowserConfig holds settings for the remote browser connection.
type BrowserConfig struct {
	// CDPURL is the DevTools endpoint of an already-running browser.
	CDPURL        string        `mapstructure:"cdp_url" yaml:"cdp_url"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// FillConfig tunes the form-fill engine.
type FillConfig struct {
	// FillDelayMin/Max bound the random pause between field fills.
	FillDelayMin time.Duration `mapstructure:"fill_delay_min" yaml:"fill_delay_min"`
	FillDelayMax time.Duration `mapstructure:"fill_delay_max" yaml:"fill_delay_max"`
	// DropdownMatchThreshold is the fuzzy-match cutoff (0-100).
	DropdownMatchThreshold int `mapstructure:"dropdown_match_threshold" yaml:"dropdown_match_threshold"`
	// ComboboxOpenTimeout bounds the wait for a listbox to appear.
	ComboboxOpenTimeout time.Duration `mapstructure:"combobox_open_timeout" yaml:"combobox_open_timeout"`
	// AddButtonWait is the settle delay after clicking an Add control.
	AddButtonWait time.Duration `mapstructure:"add_button_wait" yaml:"add_button_wait"`
	// ExtractionTimeout bounds one correlated re-extraction request.
	ExtractionTimeout time.Duration `mapstructure:"extraction_timeout" yaml:"extraction_timeout"`
	MaxSectionEntries int           `mapstructure:"max_section_entries" yaml:"max_section_entries"`
	// SectionPatterns classify selectors into repeatable sections. Each
	// entry maps a section keyword to an ordered list of selector regexes.
	SectionPatterns map[string][]string `mapstructure:"section_patterns" yaml:"section_patterns"`
	// AddButtonSelector locates section Add controls by role when a
	// section only addresses its control by index.
	AddButtonSelector string `mapstructure:"add_button_selector" yaml:"add_button_selector"`
	// ResumePath is attached to file inputs.
	ResumePath string `mapstructure:"resume_path" yaml:"resume_path"`
}

// LLMConfig defines the reasoning-service connection.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
}

// ProfileConfig locates the candidate profile on disk.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DatabaseConfig holds the optional Postgres connection string. An empty
// URL disables persistence entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// LLM providers.
const (
	ProviderGemini = "gemini"
)

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return fc.toConfig()
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "applyflow")
	v.SetDefault("logger.log_file", "applyflow.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8765)

	// -- Browser --
	v.SetDefault("browser.cdp_url", "http://localhost:9222")
	v.SetDefault("browser.action_timeout", "10s")

	// -- Fill --
	v.SetDefault("fill.fill_delay_min", "200ms")
	v.SetDefault("fill.fill_delay_max", "800ms")
	v.SetDefault("fill.dropdown_match_threshold", 70)
	v.SetDefault("fill.combobox_open_timeout", "3s")
	v.SetDefault("fill.add_button_wait", "1500ms")
	v.SetDefault("fill.extraction_timeout", "10s")
	v.SetDefault("fill.max_section_entries", 10)
	v.SetDefault("fill.add_button_selector", `[data-automation-id="add-button"]`)
	v.SetDefault("fill.section_patterns", map[string][]string{
		"education":       {`education-?\d`},
		"work experience": {`workExperience-?\d`, `work-experience-?\d`},
		"certifications":  {`certification-?\d`},
		"languages":       {`language-?\d`},
	})

	// -- LLM --
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 8192)

	// -- Profile --
	v.SetDefault("profile.path", "~/.applyflow/profile.yaml")
}

// NewConfigFromViper creates a new configuration instance from a viper
// object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "GEMINI_API_KEY")
	v.BindEnv("database.url", "APPLYFLOW_DATABASE_URL")

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := *fc.toConfig()

	// Manually load the key if Unmarshal didn't pick it up.
	if cfg.llm.APIKey == "" {
		cfg.llm.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if expanded, err := homedir.Expand(cfg.profile.Path); err == nil {
		cfg.profile.Path = expanded
	}
	if expanded, err := homedir.Expand(cfg.fill.ResumePath); err == nil {
		cfg.fill.ResumePath = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.server.Port <= 0 || c.server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.fill.DropdownMatchThreshold < 0 || c.fill.DropdownMatchThreshold > 100 {
		return fmt.Errorf("fill.dropdown_match_threshold must be between 0 and 100")
	}
	if c.fill.MaxSectionEntries <= 0 {
		return fmt.Errorf("fill.max_section_entries must be a positive integer")
	}
	if c.fill.FillDelayMax < c.fill.FillDelayMin {
		return fmt.Errorf("fill.fill_delay_max must be >= fill.fill_delay_min")
	}
	if c.fill.ExtractionTimeout <= 0 {
		return fmt.Errorf("fill.extraction_timeout must be a positive duration")
	}
	if c.llm.Provider != ProviderGemini {
		return fmt.Errorf("unsupported llm.provider: %q. Supported: [%s]", c.llm.Provider, ProviderGemini)
	}
	return nil
}
