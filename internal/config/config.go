package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/homereach/contact-cli/internal/cost"
	"github.com/homereach/contact-cli/internal/portal"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig             `yaml:"store" mapstructure:"store"`
	Solver   SolverConfig            `yaml:"solver" mapstructure:"solver"`
	Browser  BrowserConfig           `yaml:"browser" mapstructure:"browser"`
	Identity IdentityConfig          `yaml:"identity" mapstructure:"identity"`
	Portals  map[string]PortalConfig `yaml:"portals" mapstructure:"portals"`
	Proxy    ProxyConfig             `yaml:"proxy" mapstructure:"proxy"`
	Contact  ContactConfig           `yaml:"contact" mapstructure:"contact"`
	Cost     cost.Rates              `yaml:"cost" mapstructure:"cost"`
	Alerting AlertingConfig          `yaml:"alerting" mapstructure:"alerting"`
	Server   ServerConfig            `yaml:"server" mapstructure:"server"`
	Log      LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job-queue and session backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// SolverConfig holds the challenge-solving service credentials and the
// circuit breaker guarding calls to it.
type SolverConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	BreakerFailures  int    `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// BrowserConfig configures the Chrome session.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	UserDataDir    string `yaml:"user_data_dir" mapstructure:"user_data_dir"`
	ExecPath       string `yaml:"exec_path" mapstructure:"exec_path"`
	NavTimeoutSecs int    `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	NavEverySecs   int    `yaml:"nav_every_secs" mapstructure:"nav_every_secs"`
}

// IdentityConfig is the sender identity filled into portal contact forms.
type IdentityConfig struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Email string `yaml:"email" mapstructure:"email"`
	Phone string `yaml:"phone" mapstructure:"phone"`
}

// PortalConfig holds one portal account's login pair.
type PortalConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// ProxyConfig holds egress proxy settings.
type ProxyConfig struct {
	ResidentialURL string `yaml:"residential_url" mapstructure:"residential_url"`
}

// ContactConfig tunes pacing and the daily contact quota.
type ContactConfig struct {
	Tenant          string `yaml:"tenant" mapstructure:"tenant"`
	MaxPerDay       int    `yaml:"max_per_day" mapstructure:"max_per_day"`
	DwellMinSecs    int    `yaml:"dwell_min_secs" mapstructure:"dwell_min_secs"`
	DwellMaxSecs    int    `yaml:"dwell_max_secs" mapstructure:"dwell_max_secs"`
	JobDelayMinSecs int    `yaml:"job_delay_min_secs" mapstructure:"job_delay_min_secs"`
	JobDelayMaxSecs int    `yaml:"job_delay_max_secs" mapstructure:"job_delay_max_secs"`
	TemplatesPath   string `yaml:"templates_path" mapstructure:"templates_path"`
}

// AlertingConfig configures the failure webhook.
type AlertingConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the job intake server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "contact-cli.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("solver.base_url", "https://api.solvium.io/v1")
	v.SetDefault("solver.breaker_failures", 5)
	v.SetDefault("solver.breaker_reset_secs", 60)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_secs", 45)
	v.SetDefault("browser.nav_every_secs", 2)
	v.SetDefault("contact.tenant", "default")
	v.SetDefault("contact.max_per_day", 5)
	v.SetDefault("contact.dwell_min_secs", 2)
	v.SetDefault("contact.dwell_max_secs", 4)
	v.SetDefault("contact.job_delay_min_secs", 120)
	v.SetDefault("contact.job_delay_max_secs", 300)
	v.SetDefault("contact.templates_path", "templates.yaml")
	v.SetDefault("alerting.timeout_secs", 10)
	v.SetDefault("cost.solves.checkbox_v2", 0.003)
	v.SetDefault("cost.solves.slider_v3", 0.004)
	v.SetDefault("cost.solves.slider_v4", 0.005)
	v.SetDefault("cost.solves.behavioral_slider", 0.012)
	v.SetDefault("cost.proxy_per_gb", 8.50)

	// Empty defaults register secret keys with viper so environment
	// variables bind without a config file.
	v.SetDefault("store.database_url", "")
	v.SetDefault("solver.key", "")
	v.SetDefault("proxy.residential_url", "")
	v.SetDefault("alerting.webhook_url", "")
	v.SetDefault("identity.name", "")
	v.SetDefault("identity.email", "")
	v.SetDefault("identity.phone", "")
	for _, p := range []string{"hogarix", "pisea", "ventora"} {
		v.SetDefault("portals."+p+".username", "")
		v.SetDefault("portals."+p+".password", "")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Credentials returns the configured login pair for a portal. Portals
// without an account entry get empty credentials.
func (c *Config) Credentials(p string) portal.Credentials {
	pc := c.Portals[p]
	return portal.Credentials{Username: pc.Username, Password: pc.Password}
}

// Validate checks that every key a contact run against the given portal
// needs is present. Problems are aggregated so the operator sees the whole
// list at once instead of fixing them one failed run at a time.
func (c *Config) Validate(p portal.Profile) error {
	problems := c.storeProblems()

	if c.Identity.Name == "" {
		problems = append(problems, "identity.name is required")
	}
	if c.Identity.Email == "" {
		problems = append(problems, "identity.email is required")
	}
	if c.Contact.MaxPerDay < 1 || c.Contact.MaxPerDay > 20 {
		problems = append(problems, "contact.max_per_day must be between 1 and 20")
	}
	if c.Contact.JobDelayMaxSecs < c.Contact.JobDelayMinSecs {
		problems = append(problems, "contact.job_delay_max_secs must be >= contact.job_delay_min_secs")
	}

	name := string(p.Portal)
	if len(p.Challenges) > 0 && c.Solver.Key == "" {
		problems = append(problems, fmt.Sprintf("solver.key is required for %s", name))
	}
	if p.RequiresLogin {
		creds := c.Credentials(name)
		if creds.Username == "" {
			problems = append(problems, fmt.Sprintf("portals.%s.username is required", name))
		}
		if creds.Password == "" {
			problems = append(problems, fmt.Sprintf("portals.%s.password is required", name))
		}
	}
	if p.NeedsProxy && c.Proxy.ResidentialURL == "" {
		problems = append(problems, fmt.Sprintf("proxy.residential_url is required for %s", name))
	}

	return joinProblems(problems)
}

// ValidateServe checks the keys the intake server needs.
func (c *Config) ValidateServe() error {
	problems := c.storeProblems()
	if c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}
	return joinProblems(problems)
}

// ValidateStore checks only the persistence keys, enough for the queue
// management commands.
func (c *Config) ValidateStore() error {
	return joinProblems(c.storeProblems())
}

func (c *Config) storeProblems() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	return problems
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return eris.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
