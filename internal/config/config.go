package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Crawler configuration
	Crawler CrawlerConfig `mapstructure:"crawler"`

	// Browser configuration
	Browser BrowserConfig `mapstructure:"browser"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig holds HTTP crawler configuration
type CrawlerConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	RespectRobotsTxt  bool          `mapstructure:"respect_robots_txt"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// BrowserConfig holds browser crawler configuration
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	NavigationDelay   time.Duration `mapstructure:"navigation_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("$HOME/.schemasmith")
	}

	// Set defaults
	setDefaults()

	// Bind environment variables
	viper.SetEnvPrefix("SCHEMASMITH")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults and env
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Crawler defaults
	viper.SetDefault("crawler.user_agent", "SchemaSmith/1.0")
	viper.SetDefault("crawler.timeout", "30s")
	viper.SetDefault("crawler.requests_per_second", 10)
	viper.SetDefault("crawler.respect_robots_txt", false)
	viper.SetDefault("crawler.concurrency", 1)

	// Browser defaults
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("browser.navigation_timeout", "30s")
	viper.SetDefault("browser.navigation_delay", "1500ms")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be positive")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must not be negative")
	}
	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("crawler.concurrency must be at least 1")
	}
	return nil
}
