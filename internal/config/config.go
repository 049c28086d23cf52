// Package config loads and validates fetchcore configuration via Viper.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fetchcore/internal/connpool"
	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/fetcher"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Output  OutputConfig  `mapstructure:"output"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// FetcherConfig holds per-worker fetch behavior.
type FetcherConfig struct {
	RedirectLimit int    `mapstructure:"redirect_limit"`
	UserAgent     string `mapstructure:"user_agent"`
	AcceptCookies bool   `mapstructure:"accept_cookies"`
	// Cookies are "name=value" pairs seeded into every worker's jar.
	Cookies     []string      `mapstructure:"cookies"`
	Proxies     []string      `mapstructure:"proxies"`
	ProxyFile   string        `mapstructure:"proxy_file"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Verbose     bool          `mapstructure:"verbose"`
}

// WorkerConfig sizes the worker pool and its pacing.
type WorkerConfig struct {
	Count       int           `mapstructure:"count"`
	Delay       time.Duration `mapstructure:"delay"`
	DelayJitter time.Duration `mapstructure:"delay_jitter"`
	// HostRPS caps fetches per host across all workers; zero disables it.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// QueueConfig bounds the job queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// OutputConfig selects the JSON lines destination. "-" is stdout, "" disables it.
type OutputConfig struct {
	Path        string `mapstructure:"path"`
	IncludeBody bool   `mapstructure:"include_body"`
}

// StorageConfig sets where page bodies are written.
type StorageConfig struct {
	LocalDir string `mapstructure:"local_dir"`
}

// DBConfig controls access to the page table.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetcher.redirect_limit", fetcher.DefaultRedirectLimit)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.accept_cookies", false)
	v.SetDefault("fetcher.cookies", []string{})
	v.SetDefault("fetcher.proxies", []string{})
	v.SetDefault("fetcher.proxy_file", "")
	v.SetDefault("fetcher.read_timeout", time.Duration(0))
	v.SetDefault("fetcher.stale_after", connpool.DefaultStaleAfter)
	v.SetDefault("fetcher.max_retries", fetcher.DefaultMaxRetries)
	v.SetDefault("fetcher.verbose", false)
	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.delay", time.Duration(0))
	v.SetDefault("worker.delay_jitter", time.Duration(0))
	v.SetDefault("worker.host_rps", 0.0)
	v.SetDefault("worker.host_burst", 1)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("output.path", "-")
	v.SetDefault("output.include_body", false)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "pages")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Fetcher.RedirectLimit <= 0 {
		errs = append(errs, errors.New("fetcher.redirect_limit must be > 0"))
	}
	if c.Fetcher.MaxRetries <= 0 {
		errs = append(errs, errors.New("fetcher.max_retries must be > 0"))
	}
	if c.Fetcher.ReadTimeout < 0 || c.Fetcher.StaleAfter < 0 {
		errs = append(errs, errors.New("fetcher durations must be >= 0"))
	}
	for _, p := range c.Fetcher.Proxies {
		if err := connpool.ValidateProxy(p); err != nil {
			errs = append(errs, fmt.Errorf("fetcher.proxies: %w", err))
		}
	}
	for _, kv := range c.Fetcher.Cookies {
		if name, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("fetcher.cookies: %q is not name=value", kv))
		}
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, errors.New("worker.count must be > 0"))
	}
	if c.Worker.Delay < 0 || c.Worker.DelayJitter < 0 {
		errs = append(errs, errors.New("worker delays must be >= 0"))
	}
	if c.Worker.HostRPS < 0 || c.Worker.HostBurst < 0 {
		errs = append(errs, errors.New("worker.host_rps and worker.host_burst must be >= 0"))
	}
	if c.Queue.Depth <= 0 {
		errs = append(errs, errors.New("queue.depth must be > 0"))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	return errors.Join(errs...)
}

// FetcherConfig translates the fetcher section for fetcher.New.
func (c Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		RedirectLimit: c.Fetcher.RedirectLimit,
		MaxRetries:    c.Fetcher.MaxRetries,
		UserAgent:     c.Fetcher.UserAgent,
		AcceptCookies: c.Fetcher.AcceptCookies,
		Cookies:       c.cookieSeed(),
		Proxies:       c.ProxyProvider(),
		ReadTimeout:   c.Fetcher.ReadTimeout,
		StaleAfter:    c.Fetcher.StaleAfter,
	}
}

// cookieSeed returns nil when no cookies are configured so the fetcher
// does not treat an empty list as an explicit seed.
func (c Config) cookieSeed() map[string]string {
	if len(c.Fetcher.Cookies) == 0 {
		return nil
	}
	seed := make(map[string]string, len(c.Fetcher.Cookies))
	for _, kv := range c.Fetcher.Cookies {
		name, value, _ := strings.Cut(kv, "=")
		seed[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return seed
}

// ProxyProvider returns a provider that re-reads proxy_file on every call
// when it is set, the static proxy list otherwise, or nil for direct
// connections.
func (c Config) ProxyProvider() crawler.ProxyProvider {
	if c.Fetcher.ProxyFile != "" {
		path := c.Fetcher.ProxyFile
		return crawler.ProxyFunc(func() []string {
			proxies, err := ReadProxyFile(path)
			if err != nil {
				return nil
			}
			return proxies
		})
	}
	if len(c.Fetcher.Proxies) > 0 {
		return crawler.StaticProxies(c.Fetcher.Proxies)
	}
	return nil
}

// ReadProxyFile returns the non-blank, non-comment lines of path.
func ReadProxyFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close()

	var proxies []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxies = append(proxies, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}
	return proxies, nil
}

// DelayProvider returns a fixed delay, or one with random jitter added on
// every call when worker.delay_jitter is set.
func (c Config) DelayProvider() crawler.DelayProvider {
	base, jitter := c.Worker.Delay, c.Worker.DelayJitter
	if jitter <= 0 {
		return crawler.FixedDelay(base)
	}
	return crawler.DelayFunc(func() time.Duration {
		return base + rand.N(jitter) //nolint:gosec // pacing, not security
	})
}
