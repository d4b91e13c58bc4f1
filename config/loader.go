package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_MAX_PAGES.
const EnvPrefix = "SCRAPER"

// RegisterFlags adds one command-line flag per configuration key, using the
// defaults from DefaultConfig.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()

	fs.String("url", d.TargetURL, "Shop listing URL to scrape")
	fs.StringP("output", "o", d.OutputFile, "Output file path")
	fs.String("format", d.OutputFormat, "Output format: csv, json, or dual")
	fs.Int("max-pages", d.MaxPages, "Maximum listing pages to fetch")
	fs.Int("max-attempts", d.MaxAttempts, "Maximum fetch attempts per page")
	fs.Duration("retry-backoff", d.RetryBackoff, "Initial retry backoff")
	fs.Duration("retry-backoff-max", d.RetryBackoffMax, "Maximum retry backoff")
	fs.Duration("delay", d.RequestDelay, "Minimum delay between any two requests")
	fs.Duration("random-delay", d.RandomDelay, "Random jitter added after each request")
	fs.Duration("timeout", d.Timeout, "Request timeout")
	fs.String("first-page-failure", string(d.FirstPageFailure), "Policy when the first page cannot be fetched: abort or skip")
	fs.String("later-page-failure", string(d.LaterPageFailure), "Policy when a later page cannot be fetched: abort or skip")
	fs.Bool("infer-pagination", d.InferPagination, "Guess numeric page URLs when no next link is present")
	fs.Bool("fetch-details", d.FetchDetails, "Fetch each product page to fill missing description and categories")
	fs.Int("dedupe-max-size", d.DedupeMaxSize, "Maximum product identities remembered for de-duplication; past this the oldest are forgotten and a product seen again much later can be written twice")
	fs.String("user-agent", d.UserAgent, "User-Agent header sent with every request")
	fs.Bool("respect-robots", d.RespectRobotsTxt, "Respect robots.txt directives")
	fs.String("metrics-addr", d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolP("verbose", "v", d.Verbose, "Enable verbose logging")
}

// Load resolves the configuration. Priority (highest to lowest): flags set on
// the command line > SCRAPER_* environment variables > config file > defaults.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("url", cfg.TargetURL)
	v.SetDefault("max_pages", cfg.MaxPages)
	v.SetDefault("delay", cfg.RequestDelay)
	v.SetDefault("random_delay", cfg.RandomDelay)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("max_attempts", cfg.MaxAttempts)
	v.SetDefault("retry_backoff", cfg.RetryBackoff)
	v.SetDefault("retry_backoff_max", cfg.RetryBackoffMax)
	v.SetDefault("first_page_failure", string(cfg.FirstPageFailure))
	v.SetDefault("later_page_failure", string(cfg.LaterPageFailure))
	v.SetDefault("infer_pagination", cfg.InferPagination)
	v.SetDefault("fetch_details", cfg.FetchDetails)
	v.SetDefault("dedupe_max_size", cfg.DedupeMaxSize)
	v.SetDefault("output", cfg.OutputFile)
	v.SetDefault("format", cfg.OutputFormat)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("respect_robots", cfg.RespectRobotsTxt)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
}
