// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// ErrConfiguration is wrapped by every validation failure so callers can fail
// fast before any traversal starts.
var ErrConfiguration = errors.New("configuration error")

// Isolation modes for sibling actions.
const (
	IsolationFresh  = "fresh"
	IsolationShared = "shared"
)

// Viewport budget modes.
const (
	BudgetIndependent = "independent"
	BudgetShared      = "shared"
)

// Fingerprint sensitivity tiers.
const (
	SensitivityLow    = "low"
	SensitivityMedium = "medium"
	SensitivityHigh   = "high"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Explore() ExploreConfig
	Viewports() []schemas.Viewport
	Patterns() PatternsConfig
	Backend() BackendConfig
	Report() ReportConfig

	// Explore Setters
	SetExploreMaxDepth(int)
	SetExploreMaxStates(int)
	SetExploreConcurrency(int)
	SetExploreIsolation(string)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig     `mapstructure:"database" yaml:"database"`
	BrowserCfg   BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	ExploreCfg   ExploreConfig      `mapstructure:"explore" yaml:"explore"`
	ViewportsCfg []schemas.Viewport `mapstructure:"viewports" yaml:"viewports"`
	PatternsCfg  PatternsConfig     `mapstructure:"patterns" yaml:"patterns"`
	BackendCfg   BackendConfig      `mapstructure:"backend" yaml:"backend"`
	ReportCfg    ReportConfig       `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Explore() ExploreConfig   { return c.ExploreCfg }
func (c *Config) Patterns() PatternsConfig { return c.PatternsCfg }
func (c *Config) Backend() BackendConfig   { return c.BackendCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }

// Viewports returns the configured viewports, falling back to the default
// desktop viewport when none are set.
func (c *Config) Viewports() []schemas.Viewport {
	if len(c.ViewportsCfg) == 0 {
		return []schemas.Viewport{schemas.DefaultViewport}
	}
	return c.ViewportsCfg
}

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetExploreMaxDepth(d int)        { c.ExploreCfg.MaxDepth = d }
func (c *Config) SetExploreMaxStates(n int)       { c.ExploreCfg.MaxStates = n }
func (c *Config) SetExploreConcurrency(n int)     { c.ExploreCfg.Concurrency = n }
func (c *Config) SetExploreIsolation(mode string) { c.ExploreCfg.Isolation = mode }
func (c *Config) SetBrowserHeadless(b bool)       { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// persistence of finished runs. Migrate creates missing tables on startup.
type DatabaseConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Migrate bool   `mapstructure:"migrate" yaml:"migrate"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// IdleQuiet is how long the network must stay quiet before a page counts as settled.
	IdleQuiet time.Duration `mapstructure:"idle_quiet" yaml:"idle_quiet"`
	// IdleTimeout caps the wait for network quiescence after each action.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// ExploreConfig bounds and tunes the traversal.
type ExploreConfig struct {
	MaxDepth          int           `mapstructure:"max_depth" yaml:"max_depth"`
	MaxStates         int           `mapstructure:"max_states" yaml:"max_states"`
	MaxIterations     int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	ActionsPerState   int           `mapstructure:"actions_per_state" yaml:"actions_per_state"`
	MaxActionsPerPage int           `mapstructure:"max_actions_per_page" yaml:"max_actions_per_page"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// RunTimeout is the per-viewport (or shared) time budget. Zero disables it.
	RunTimeout       time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	Isolation        string        `mapstructure:"isolation" yaml:"isolation"`
	ViewportBudget   string        `mapstructure:"viewport_budget" yaml:"viewport_budget"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	ActionsPerSecond float64       `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	Burst            int           `mapstructure:"burst" yaml:"burst"`

	// Identity
	IncludeQuery bool   `mapstructure:"include_query" yaml:"include_query"`
	IncludeHash  bool   `mapstructure:"include_hash" yaml:"include_hash"`
	Sensitivity  string `mapstructure:"sensitivity" yaml:"sensitivity"`

	// Discovery
	IncludeDisabled   bool     `mapstructure:"include_disabled" yaml:"include_disabled"`
	IncludeOffscreen  bool     `mapstructure:"include_offscreen" yaml:"include_offscreen"`
	MinElementSize    float64  `mapstructure:"min_element_size" yaml:"min_element_size"`
	ExtraSelectors    []string `mapstructure:"extra_selectors" yaml:"extra_selectors"`
	IgnoreSelectors   []string `mapstructure:"ignore_selectors" yaml:"ignore_selectors"`
	ExcludePaths      []string `mapstructure:"exclude_paths" yaml:"exclude_paths"`
	IncludeSubdomains bool     `mapstructure:"include_subdomains" yaml:"include_subdomains"`
	UploadFixture     string   `mapstructure:"upload_fixture" yaml:"upload_fixture"`

	// Validation
	ValidatorConcurrency int           `mapstructure:"validator_concurrency" yaml:"validator_concurrency"`
	ValidatorTimeout     time.Duration `mapstructure:"validator_timeout" yaml:"validator_timeout"`
	Validators           []string      `mapstructure:"validators" yaml:"validators"`
}

// PatternsConfig holds the keyword tables used to classify element labels.
// Entries are matched case-insensitively as whole words.
type PatternsConfig struct {
	Destructive []string `mapstructure:"destructive" yaml:"destructive"`
	Navigation  []string `mapstructure:"navigation" yaml:"navigation"`
	Submit      []string `mapstructure:"submit" yaml:"submit"`
}

// BackendConfig configures the optional Postgres verification adapter.
type BackendConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	// Queries maps a snapshot name to a SQL statement returning a single integer.
	Queries      map[string]string   `mapstructure:"queries" yaml:"queries"`
	Expectations []ExpectationConfig `mapstructure:"expectations" yaml:"expectations"`
}

// ExpectationConfig binds an action label glob to a backend expectation.
type ExpectationConfig struct {
	Action  string `mapstructure:"action" yaml:"action"`
	Adapter string `mapstructure:"adapter" yaml:"adapter"`
	Query   string `mapstructure:"query" yaml:"query"`
	Delta   int64  `mapstructure:"delta" yaml:"delta"`
}

// ReportConfig controls how a finished run is rendered.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
	FailOn string `mapstructure:"fail_on" yaml:"fail_on"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-explorer")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.idle_quiet", "500ms")
	v.SetDefault("browser.idle_timeout", "5s")

	// -- Explore --
	v.SetDefault("explore.max_depth", 3)
	v.SetDefault("explore.max_states", 100)
	v.SetDefault("explore.max_iterations", 2000)
	v.SetDefault("explore.actions_per_state", 20)
	v.SetDefault("explore.max_actions_per_page", 200)
	v.SetDefault("explore.action_timeout", "10s")
	v.SetDefault("explore.run_timeout", "15m")
	v.SetDefault("explore.isolation", IsolationFresh)
	v.SetDefault("explore.viewport_budget", BudgetIndependent)
	v.SetDefault("explore.concurrency", 1)
	v.SetDefault("explore.actions_per_second", 0.0)
	v.SetDefault("explore.burst", 1)
	v.SetDefault("explore.include_query", false)
	v.SetDefault("explore.include_hash", false)
	v.SetDefault("explore.sensitivity", SensitivityMedium)
	v.SetDefault("explore.include_disabled", false)
	v.SetDefault("explore.include_offscreen", false)
	v.SetDefault("explore.min_element_size", 4.0)
	v.SetDefault("explore.include_subdomains", false)
	v.SetDefault("explore.validator_concurrency", 4)
	v.SetDefault("explore.validator_timeout", "30s")
	v.SetDefault("explore.validators", []string{"page-basics"})

	// -- Viewports --
	v.SetDefault("viewports", []map[string]interface{}{
		{"name": schemas.DefaultViewport.Name, "width": schemas.DefaultViewport.Width, "height": schemas.DefaultViewport.Height},
	})

	// -- Patterns --
	v.SetDefault("patterns.destructive", []string{
		"delete", "remove", "destroy", "drop", "erase", "purge", "logout", "log out", "sign out", "deactivate", "cancel subscription", "reset",
	})
	v.SetDefault("patterns.navigation", []string{
		"home", "back", "next", "previous", "menu", "dashboard", "settings", "profile", "about", "help", "more", "view", "details", "open",
	})
	v.SetDefault("patterns.submit", []string{
		"submit", "save", "create", "add", "confirm", "continue", "send", "apply", "update",
	})

	// -- Database --
	v.SetDefault("database.migrate", true)

	// -- Backend --
	v.SetDefault("backend.enabled", false)

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "")
	v.SetDefault("report.fail_on", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "SCALPEL_EXPLORER_DATABASE_URL")
	_ = v.BindEnv("backend.url", "SCALPEL_EXPLORER_BACKEND_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: error unmarshaling config: %v", ErrConfiguration, err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in user supplied file paths.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.ReportCfg.Output, &c.ExploreCfg.UploadFixture, &c.BrowserCfg.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values. Every
// returned error wraps ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.ExploreCfg.Validate(); err != nil {
		return err
	}
	if err := ValidateViewports(c.ViewportsCfg); err != nil {
		return err
	}
	if err := c.BackendCfg.Validate(); err != nil {
		return err
	}
	if c.ReportCfg.FailOn != "" {
		if _, ok := schemas.ParseSeverity(c.ReportCfg.FailOn); !ok {
			return configErrorf("report.fail_on must be one of critical, serious, moderate, minor")
		}
	}
	switch c.ReportCfg.Format {
	case "json", "sarif":
	default:
		return configErrorf("report.format must be one of json, sarif")
	}
	return nil
}

// Validate checks the traversal bounds.
func (e *ExploreConfig) Validate() error {
	if e.MaxDepth < 0 {
		return configErrorf("explore.max_depth must not be negative")
	}
	if e.MaxStates <= 0 {
		return configErrorf("explore.max_states must be a positive integer")
	}
	if e.MaxIterations <= 0 {
		return configErrorf("explore.max_iterations must be a positive integer")
	}
	if e.ActionsPerState <= 0 {
		return configErrorf("explore.actions_per_state must be a positive integer")
	}
	if e.MaxActionsPerPage <= 0 {
		return configErrorf("explore.max_actions_per_page must be a positive integer")
	}
	if e.ActionTimeout <= 0 {
		return configErrorf("explore.action_timeout must be a positive duration")
	}
	if e.RunTimeout < 0 {
		return configErrorf("explore.run_timeout must not be negative")
	}
	if e.Concurrency <= 0 {
		return configErrorf("explore.concurrency must be a positive integer")
	}
	if e.ActionsPerSecond < 0 {
		return configErrorf("explore.actions_per_second must not be negative")
	}
	switch e.Isolation {
	case IsolationFresh:
	case IsolationShared:
		if e.Concurrency > 1 {
			return configErrorf("explore.concurrency must be 1 when explore.isolation is %q", IsolationShared)
		}
	default:
		return configErrorf("explore.isolation must be one of %q, %q", IsolationFresh, IsolationShared)
	}
	switch e.ViewportBudget {
	case BudgetIndependent, BudgetShared:
	default:
		return configErrorf("explore.viewport_budget must be one of %q, %q", BudgetIndependent, BudgetShared)
	}
	switch e.Sensitivity {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
	default:
		return configErrorf("explore.sensitivity must be one of low, medium, high")
	}
	for _, p := range e.ExcludePaths {
		if _, err := glob.Compile(p, '/'); err != nil {
			return configErrorf("explore.exclude_paths contains an invalid pattern %q: %v", p, err)
		}
	}
	return nil
}

// Validate checks the backend adapter settings.
func (b *BackendConfig) Validate() error {
	if !b.Enabled {
		return nil
	}
	if b.URL == "" {
		return configErrorf("backend.url is required when the backend adapter is enabled")
	}
	for i, exp := range b.Expectations {
		if strings.TrimSpace(exp.Action) == "" {
			return configErrorf("backend.expectations[%d].action must not be empty", i)
		}
		if _, err := glob.Compile(exp.Action); err != nil {
			return configErrorf("backend.expectations[%d].action is not a valid pattern: %v", i, err)
		}
		if _, ok := b.Queries[exp.Query]; !ok {
			return configErrorf("backend.expectations[%d].query %q is not defined in backend.queries", i, exp.Query)
		}
	}
	return nil
}

// ValidateViewports checks that every viewport is named uniquely and sized.
func ValidateViewports(viewports []schemas.Viewport) error {
	seen := make(map[string]struct{}, len(viewports))
	for i, vp := range viewports {
		if vp.Name == "" {
			return configErrorf("viewports[%d].name must not be empty", i)
		}
		if vp.Width <= 0 || vp.Height <= 0 {
			return configErrorf("viewports[%d] (%s) must have positive dimensions", i, vp.Name)
		}
		if _, dup := seen[vp.Name]; dup {
			return configErrorf("viewports[%d] duplicates the name %q", i, vp.Name)
		}
		seen[vp.Name] = struct{}{}
	}
	return nil
}

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
