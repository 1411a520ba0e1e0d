// Command condfetch fetches URLs through the conditional cache provider.
//
//	condfetch -backend sqlite -dsn cache.db https://registry.npmjs.org/left-pad
//
// With -interval the URLs are fetched repeatedly until interrupted, and with
// -metrics the provider counters are served on /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/internal/config"
	"github.com/dgduncan/go-cond-provider/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "condfetch:", err)
		os.Exit(1)
	}
}

type headerFlags map[string]string

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header %q is not of the form 'Name: value'", s)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

type options struct {
	configPath string
	interval   time.Duration
	printBody  bool
	headers    headerFlags
}

// parseFlags reads args into a configuration. Flags override values from the
// config file.
func parseFlags(args []string, stderr io.Writer) (config.Config, options, []string, error) {
	fs := flag.NewFlagSet("condfetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := options{headers: headerFlags{}}
	fs.StringVar(&opts.configPath, "config", "", "Path to YAML config file")
	fs.DurationVar(&opts.interval, "interval", 0, "Refetch the URLs at this interval until interrupted")
	fs.BoolVar(&opts.printBody, "body", false, "Print response bodies")
	fs.Var(opts.headers, "header", "Request header 'Name: value', repeatable")

	namespace := fs.String("namespace", "", "Cache namespace")
	ttl := fs.Int("ttl", 0, "Soft TTL in minutes")
	noCacheControl := fs.Bool("no-cache-control", false, "Store responses regardless of Cache-Control: private")
	cachePrivate := fs.Bool("cache-private", false, "Store Cache-Control: private responses")
	backend := fs.String("backend", "", "Store backend: memory, sqlite, postgres, redis or dynamodb")
	dsn := fs.String("dsn", "", "sqlite path or postgres connection string")
	addr := fs.String("addr", "", "redis address")
	table := fs.String("table", "", "dynamodb table")
	endpoint := fs.String("endpoint", "", "dynamodb endpoint override")
	metricsAddr := fs.String("metrics", "", "Serve prometheus metrics on this address")
	level := fs.String("log-level", "", "Log level")
	pretty := fs.Bool("pretty", false, "Human readable logs")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, options{}, nil, err
	}

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return config.Config{}, options{}, nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "namespace":
			cfg.Namespace = *namespace
		case "ttl":
			cfg.TTLMinutes = *ttl
		case "no-cache-control":
			cfg.IgnoreCacheControl = *noCacheControl
		case "cache-private":
			cfg.CachePrivatePackages = *cachePrivate
		case "backend":
			cfg.Backend.Type = *backend
		case "dsn":
			cfg.Backend.DSN = *dsn
		case "addr":
			cfg.Backend.Addr = *addr
		case "table":
			cfg.Backend.Table = *table
		case "endpoint":
			cfg.Backend.Endpoint = *endpoint
		case "metrics":
			cfg.Metrics.Address = *metricsAddr
		case "log-level":
			cfg.Logging.Level = *level
		case "pretty":
			cfg.Logging.Pretty = *pretty
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, options{}, nil, err
	}

	if fs.NArg() == 0 {
		return config.Config{}, options{}, nil, errors.New("no url given")
	}
	return cfg, opts, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, opts, urls, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg.Logging.Output = stderr
	logging.Setup(cfg.Logging)
	logger := logging.Component("condfetch")

	store, closeStore, err := openStore(ctx, cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("error closing store")
		}
	}()

	providerLogger := logging.Component("provider")
	p, err := condprovider.NewProvider(
		store,
		condprovider.NewHTTPTransport(&http.Client{Timeout: 30 * time.Second}),
		cfg.ProviderConfig(cfg.NewSettings()),
		nil,
		&providerLogger,
	)
	if err != nil {
		return err
	}
	c := condprovider.NewCoalescer(p)

	if cfg.Metrics.Address != "" {
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: metricsHandler()}
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	if err := fetchAll(ctx, c, urls, opts, stdout); err != nil {
		return err
	}
	if opts.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fetchAll(ctx, c, urls, opts, stdout); err != nil {
				logger.Error().Err(err).Msg("fetch failed")
			}
		}
	}
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type result struct {
	url     string
	resp    *condprovider.Response
	outcome condprovider.Outcome
}

// fetchAll fetches urls concurrently and prints one line per url in argument
// order.
func fetchAll(ctx context.Context, c *condprovider.Coalescer, urls []string, opts options, w io.Writer) error {
	results := make([]result, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			resp, outcome, _, err := c.FetchWithOutcome(ctx, u, condprovider.RequestOptions{Headers: opts.headers})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", u, err)
			}
			results[i] = result{url: u, resp: resp, outcome: outcome}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		cs := condprovider.CacheStatusFromOutcome(r.outcome, r.resp.StatusCode)
		fmt.Fprintf(w, "%d %s %s (%s)\n", r.resp.StatusCode, r.url, r.outcome.State, cs)
		if opts.printBody {
			fmt.Fprintln(w, r.resp.Body)
		}
	}
	return nil
}
