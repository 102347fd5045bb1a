package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the main config struct
type Config struct {
	Environment string          `yaml:"environment" env:"ENVIRONMENT" env-default:"production" env-description:"Environment name"`
	Secret      string          `yaml:"secret" env:"SECRET" env-default:"" env-description:"Bearer token protecting the admin API group; empty disables the check"`
	Verbose     string          `yaml:"verbose" env:"VERBOSE" env-default:"info" env-description:"Verbose mode for debug output"`
	BaseURL     string          `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:8080" env-description:"Public base URL embedded in applicant links"`
	Database    DatabaseConfig  `yaml:"database"`
	API         APIConfig       `yaml:"api"`
	Evaluator   EvaluatorConfig `yaml:"evaluator"`
	Image       ImageConfig     `yaml:"image"`
	Proxy       ProxyConfig     `yaml:"proxy"`
	Influx      InfluxConfig    `yaml:"influx"`
	Telegram    TelegramConfig  `yaml:"telegram"`
}

// API config
type APIConfig struct {
	Host         string        `yaml:"host" env:"API_HOST" env-default:"localhost" env-description:"API host address to bind to"`
	Port         int           `yaml:"port" env:"API_PORT" env-default:"8080" env-description:"API port to bind to"`
	Timeout      time.Duration `yaml:"timeout" env:"API_TIMEOUT" env-default:"60s" env-description:"Per-request timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"API_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"API_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"API_IDLE_TIMEOUT" env-default:"15s"`
}

// SQLite, PostgreSQL or MySQL config
type DatabaseConfig struct {
	// Driver is the database driver to use. Supported drivers are "sqlite3", "postgres" and "mysql".
	Driver     string `yaml:"driver" env:"DATABASE_DRIVER" env-default:"sqlite3" env-description:"Database driver to use"`
	Connection string `yaml:"connection" env:"DATABASE_CONNECTION" env-default:":memory:" env-description:"Database connection string"`
}

// Address-match evaluator config. An empty API key switches the evaluator to
// its deterministic offline fallback.
type EvaluatorConfig struct {
	APIKey       string        `yaml:"api_key" env:"EVALUATOR_API_KEY" env-default:"" env-description:"Generative geocoding service API key"`
	Model        string        `yaml:"model" env:"EVALUATOR_MODEL" env-default:"gemini-3-flash-preview" env-description:"Model name for the generateContent call"`
	Endpoint     string        `yaml:"endpoint" env:"EVALUATOR_ENDPOINT" env-default:"https://generativelanguage.googleapis.com/v1beta" env-description:"Service base URL"`
	Timeout      time.Duration `yaml:"timeout" env:"EVALUATOR_TIMEOUT" env-default:"30s" env-description:"Bound on a single evaluation call"`
	RadiusMeters int           `yaml:"radius_meters" env:"EVALUATOR_RADIUS_METERS" env-default:"200" env-description:"Pass/fail distance threshold in meters"`
}

// Evidence image compression config
type ImageConfig struct {
	MaxWidth int `yaml:"max_width" env:"IMAGE_MAX_WIDTH" env-default:"800" env-description:"Downscale bound for evidence images"`
	Quality  int `yaml:"quality" env:"IMAGE_QUALITY" env-default:"60" env-description:"JPEG re-encode quality (1-100)"`
}

// Optional SOCKS5 proxy for outbound evaluator calls
type ProxyConfig struct {
	Address  string `yaml:"address" env:"PROXY_ADDRESS" env-default:"" env-description:"SOCKS5 proxy address"`
	Port     int    `yaml:"port" env:"PROXY_PORT" env-default:"0" env-description:"SOCKS5 proxy port"`
	Username string `yaml:"username" env:"PROXY_USERNAME" env-default:""`
	Password string `yaml:"password" env:"PROXY_PASSWORD" env-default:""`
}

// InfluxDB metrics config; empty URL disables metrics
type InfluxConfig struct {
	URL    string `yaml:"url" env:"INFLUX_URL" env-default:"" env-description:"InfluxDB URL"`
	Token  string `yaml:"token" env:"INFLUX_TOKEN" env-default:""`
	Org    string `yaml:"org" env:"INFLUX_ORG" env-default:""`
	Bucket string `yaml:"bucket" env:"INFLUX_BUCKET" env-default:""`
}

// Optional Telegram notifications for administrators
type TelegramConfig struct {
	Token  string `yaml:"token" env:"TELEGRAM_TOKEN" env-default:"" env-description:"Telegram bot token; empty disables notifications"`
	ChatID int64  `yaml:"chat_id" env:"TELEGRAM_CHAT_ID" env-default:"0" env-description:"Chat receiving submission notifications"`
}

// ConfigError - configuration loading failure
type ConfigError struct {
	Message string
}

// Error - implementation of the error interface
func (e *ConfigError) Error() string {
	return e.Message
}

func MustLoadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yml"
	}

	var config Config

	// Without a config file the environment alone drives the configuration.
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(&config); err != nil {
			return nil, &ConfigError{
				Message: fmt.Sprintf("Cannot read config from environment: %s", err),
			}
		}

		return &config, nil
	}

	if err := cleanenv.ReadConfig(configPath, &config); err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("Cannot read config file: %s", err),
		}
	}

	return &config, nil
}
