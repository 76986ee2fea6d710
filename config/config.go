package config

import (
	"fmt"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"strings"
	"sync"
	"time"
)

// ErrConfiguration marks missing or invalid settings, the process must stop before doing any work
var ErrConfiguration = errors.New("configuration error")

var once sync.Once

type PriceSource struct {
	URL      string `mapstructure:"url"`
	Fallback string `mapstructure:"fallback"`
	APIKey   string `mapstructure:"api_pro_key"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (s SMTP) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Telegram struct {
	Token  string `mapstructure:"bot_token"`
	ChatID int64  `mapstructure:"chat_id"`
}

func (t Telegram) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

type Worker struct {
	Asset       string        `mapstructure:"asset"`
	Concurrency int           `mapstructure:"concurrency"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type Config struct {
	PriceSource    PriceSource `mapstructure:"price_source"`
	Store          Store       `mapstructure:"store"`
	SMTP           SMTP        `mapstructure:"smtp"`
	Telegram       Telegram    `mapstructure:"telegram"`
	Worker         Worker      `mapstructure:"worker"`
	PushgatewayURL string      `mapstructure:"pushgateway_url"`
	APIAddr        string      `mapstructure:"api_addr"`
	Debug          bool        `mapstructure:"debug"`
	Lang           string      `mapstructure:"lang"`
	LocalesDir     string      `mapstructure:"locales_dir"`
}

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		viper.BindEnv("price_source.url", "PRICE_SOURCE_URL")
		viper.BindEnv("price_source.fallback", "PRICE_SOURCE_FALLBACK")
		viper.BindEnv("price_source.api_pro_key", "API_PRO_KEY")
		viper.BindEnv("store.driver", "STORE_DRIVER")
		viper.BindEnv("store.dsn", "STORE_DSN", "SUPABASE_DB_URL")
		viper.BindEnv("smtp.host", "SMTP_HOST")
		viper.BindEnv("smtp.port", "SMTP_PORT")
		viper.BindEnv("smtp.user", "SMTP_USER")
		viper.BindEnv("smtp.password", "SMTP_PASSWORD")
		viper.BindEnv("smtp.from", "FROM_EMAIL")
		viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
		viper.BindEnv("worker.asset", "WORKER_ASSET")
		viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
		viper.BindEnv("worker.call_timeout", "WORKER_CALL_TIMEOUT")
		viper.BindEnv("pushgateway_url", "PUSHGATEWAY_URL")
		viper.BindEnv("api_addr", "API_ADDR")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")
		viper.BindEnv("locales_dir", "LOCALES_DIR")

		viper.SetDefault("price_source.url", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd")
		viper.SetDefault("price_source.fallback", "coinpaprika")
		viper.SetDefault("store.driver", "sqlite")
		viper.SetDefault("store.dsn", "data/alerts.db")
		viper.SetDefault("smtp.host", "smtp.gmail.com")
		viper.SetDefault("smtp.port", 587)
		viper.SetDefault("worker.asset", "BTC")
		viper.SetDefault("worker.concurrency", 4)
		viper.SetDefault("worker.call_timeout", "20s")
		viper.SetDefault("api_addr", ":8080")
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
		viper.SetDefault("locales_dir", "locales")
	})
}

// Load reads the environment into a Config. It does not validate, see Config.ValidateWorker and Config.ValidateAPI.
func Load() (*Config, error) {
	InitConfig()
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}

	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Lang = normalizeLang(cfg.Lang)

	return &cfg, nil
}

// ValidateWorker checks everything the alert worker needs before it touches the network
func (c *Config) ValidateWorker() error {
	var missing []string
	if c.PriceSource.URL == "" {
		missing = append(missing, "PRICE_SOURCE_URL")
	}
	missing = append(missing, c.missingStore()...)
	if c.SMTP.Host == "" {
		missing = append(missing, "SMTP_HOST")
	}
	if c.SMTP.User == "" {
		missing = append(missing, "SMTP_USER")
	}
	if c.SMTP.Password == "" {
		missing = append(missing, "SMTP_PASSWORD")
	}
	if c.SMTP.From == "" {
		missing = append(missing, "FROM_EMAIL")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrConfiguration, "missing %s", strings.Join(missing, ", "))
	}

	switch {
	case c.SMTP.Port <= 0:
		return errors.Wrapf(ErrConfiguration, "invalid SMTP_PORT %d", c.SMTP.Port)
	case c.Worker.Concurrency <= 0:
		return errors.Wrapf(ErrConfiguration, "invalid WORKER_CONCURRENCY %d", c.Worker.Concurrency)
	case c.Worker.CallTimeout <= 0:
		return errors.Wrapf(ErrConfiguration, "invalid WORKER_CALL_TIMEOUT %s", c.Worker.CallTimeout)
	case c.Worker.Asset == "":
		return errors.Wrap(ErrConfiguration, "missing WORKER_ASSET")
	case !strings.EqualFold(c.Worker.Asset, "BTC"):
		// the price sources only quote bitcoin
		return errors.Wrapf(ErrConfiguration, "unsupported WORKER_ASSET %q, only BTC is priced", c.Worker.Asset)
	}
	return c.validateStoreDriver()
}

// ValidateAPI checks the settings used by the management server
func (c *Config) ValidateAPI() error {
	if missing := c.missingStore(); len(missing) > 0 {
		return errors.Wrapf(ErrConfiguration, "missing %s", strings.Join(missing, ", "))
	}
	if c.APIAddr == "" {
		return errors.Wrap(ErrConfiguration, "missing API_ADDR")
	}
	return c.validateStoreDriver()
}

func (c *Config) missingStore() []string {
	var missing []string
	if c.Store.Driver == "" {
		missing = append(missing, "STORE_DRIVER")
	}
	if c.Store.DSN == "" {
		missing = append(missing, "STORE_DSN")
	}
	return missing
}

func (c *Config) validateStoreDriver() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
		return nil
	}
	return errors.Wrapf(ErrConfiguration, "unsupported STORE_DRIVER %q", c.Store.Driver)
}

// LANG is often set to a POSIX locale like en_US.UTF-8
func normalizeLang(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexAny(lang, "_.-"); i > 0 {
		lang = lang[:i]
	}
	lang = strings.ToLower(lang)
	if lang == "" || lang == "c" || lang == "posix" {
		return "en"
	}
	return lang
}
