// Command authcache-http starts the authcache HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"authcache/internal/cache"
	"authcache/internal/config"
	"authcache/internal/logging"
	"authcache/internal/server"
	"authcache/internal/users"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	// A missing .env is normal; real environment variables still apply.
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newCommand(func(ctx context.Context, cfg config.Config) error {
		logging.Init(cfg.LogLevel)
		if envErr != nil {
			log.WithError(envErr).Debug(".env file not loaded")
		}
		return serve(ctx, cfg)
	})
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config) error {
	if cfg.Demo {
		log.Warn("demo mode: admin/12345 is accepted until a user named admin registers. Disable with --demo=false.")
	}

	store := cache.New(cfg.CacheFile, cfg.CacheTTL)
	if err := store.EnsureDir(); err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": store.Path(), "ttl": store.TTL()}).Info("data cache ready")

	srv := server.New(cfg, server.Deps{
		Users: users.NewStore(users.WithDemoAccount(cfg.Demo)),
		Cache: store,
	})
	return srv.ListenAndServe(ctx)
}

// newCommand builds the CLI. Precedence, lowest first: defaults, the YAML
// file named by --config, then flags and their environment variables.
func newCommand(run func(context.Context, config.Config) error) *cli.Command {
	return &cli.Command{
		Name:  "authcache-http",
		Usage: "session-authenticated demo server with a file-backed data cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("AUTHCACHE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				Sources: cli.EnvVars("AUTHCACHE_ADDR"),
			},
			&cli.StringFlag{
				Name:    "port",
				Usage:   "listen port on all interfaces; overrides --addr",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "cache-file",
				Usage:   "path of the data cache file",
				Sources: cli.EnvVars("AUTHCACHE_CACHE_FILE"),
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "how long a cached payload stays fresh",
				Sources: cli.EnvVars("AUTHCACHE_CACHE_TTL"),
			},
			&cli.DurationFlag{
				Name:    "session-lifetime",
				Usage:   "absolute session lifetime",
				Sources: cli.EnvVars("AUTHCACHE_SESSION_LIFETIME"),
			},
			&cli.StringFlag{
				Name:    "cookie-name",
				Usage:   "session cookie name",
				Sources: cli.EnvVars("AUTHCACHE_COOKIE_NAME"),
			},
			&cli.BoolFlag{
				Name:    "cookie-secure",
				Usage:   "mark the session cookie Secure",
				Sources: cli.EnvVars("AUTHCACHE_COOKIE_SECURE"),
			},
			&cli.BoolFlag{
				Name:    "demo",
				Usage:   "accept the built-in admin/12345 account",
				Sources: cli.EnvVars("AUTHCACHE_DEMO"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Sources: cli.EnvVars("AUTHCACHE_LOG"),
			},
			&cli.StringFlag{
				Name:    "tls-cert",
				Usage:   "TLS certificate file",
				Sources: cli.EnvVars("TLS_CERT_FILE"),
			},
			&cli.StringFlag{
				Name:    "tls-key",
				Usage:   "TLS key file",
				Sources: cli.EnvVars("TLS_KEY_FILE"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

func resolveConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}

	if cmd.IsSet("addr") {
		cfg.Addr = cmd.String("addr")
	}
	if cmd.IsSet("port") {
		cfg.Addr = ":" + strings.TrimPrefix(cmd.String("port"), ":")
	}
	if cmd.IsSet("cache-file") {
		cfg.CacheFile = cmd.String("cache-file")
	}
	if cmd.IsSet("cache-ttl") {
		cfg.CacheTTL = cmd.Duration("cache-ttl")
	}
	if cmd.IsSet("session-lifetime") {
		cfg.SessionLifetime = cmd.Duration("session-lifetime")
	}
	if cmd.IsSet("cookie-name") {
		cfg.CookieName = cmd.String("cookie-name")
	}
	if cmd.IsSet("cookie-secure") {
		cfg.CookieSecure = cmd.Bool("cookie-secure")
	}
	if cmd.IsSet("demo") {
		cfg.Demo = cmd.Bool("demo")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("tls-cert") {
		cfg.TLSCertFile = cmd.String("tls-cert")
	}
	if cmd.IsSet("tls-key") {
		cfg.TLSKeyFile = cmd.String("tls-key")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
