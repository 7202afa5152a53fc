package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/calcn/app/web"
	"github.com/umputun/calcn/app/web/persistence"
)

var opts struct {
	Listen      string  `short:"l" long:"listen" env:"LISTEN" default:":8080" description:"web server listen address"`
	DatabaseURL string  `long:"db" env:"DATABASE_URL" description:"database url, postgres://... or sqlite://path, empty for stateless mode"`
	BaseURL     string  `long:"base-url" env:"BASE_URL" description:"base URL path for reverse proxy (e.g., /calc)"`
	RateLimit   float64 `long:"rate-limit" env:"RATE_LIMIT" default:"10" description:"calculate requests per second per client ip, 0 disables"`
	DebugParams bool    `long:"debug-params" env:"DEBUG_PARAMS" description:"allow ?debug=1 diagnostics on api endpoints"`
	Dbg         bool    `long:"dbg" env:"DEBUG" description:"debug mode"`

	DB struct {
		Attempts      int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"connection attempts during bootstrap"`
		Duration      time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial delay between connection attempts"`
		Factor        float64       `long:"factor" env:"FACTOR" default:"2" description:"backoff factor"`
		Timeout       time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"bootstrap timeout"`
		LegacyMigrate bool          `long:"legacy-migrate" env:"LEGACY_MIGRATE" description:"copy legacy operation column into op"`
	} `group:"db" namespace:"db" env-namespace:"DB"`

	Auth struct {
		PasswordHash string `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash for basic auth of /api/v1 (user calcn)"`
	} `group:"auth" namespace:"auth" env-namespace:"AUTH"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"file" env:"FILE" default:"calcn.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old log files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of old log files in days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("calcn %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogging(setupLogs(), opts.Dbg)

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Printf("[INFO] calcn stopped")
}

// run opens the store when configured, starts bootstrap in background and runs web server until ctx is canceled
func run(ctx context.Context) error {
	store, err := makeStore()
	if err != nil {
		return err
	}

	cfg := web.Config{
		DatabaseURLSet: opts.DatabaseURL != "",
		BaseURL:        validateBaseURL(opts.BaseURL),
		Version:        revision,
		PasswordHash:   opts.Auth.PasswordHash,
		RateLimit:      opts.RateLimit,
		DebugParams:    opts.DebugParams,
	}

	if store != nil {
		defer func() {
			if e := store.Close(); e != nil {
				log.Printf("[WARN] failed to close store: %v", e)
			}
		}()
		cfg.Store = store // set only for non-nil store, typed nil would break stateless check
		go func() {
			// failure is logged and kept by the store, handlers proceed regardless
			_ = store.Bootstrap(ctx)
		}()
	} else {
		log.Printf("[INFO] no database url, running in stateless mode")
	}

	if opts.DebugParams {
		log.Printf("[WARN] debug params enabled, ?debug=1 exposes request diagnostics")
	}

	srv, err := web.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	return srv.Run(ctx, opts.Listen)
}

// makeStore opens persistence store, returns nil store for empty database url
func makeStore() (*persistence.Store, error) {
	if opts.DatabaseURL == "" {
		return nil, nil
	}
	store, err := persistence.Open(persistence.Params{
		URL:           opts.DatabaseURL,
		Attempts:      opts.DB.Attempts,
		Duration:      opts.DB.Duration,
		Factor:        opts.DB.Factor,
		Timeout:       opts.DB.Timeout,
		LegacyMigrate: opts.DB.LegacyMigrate,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrUnsupportedURL) {
			return nil, fmt.Errorf("invalid database url: %w", err)
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// validateBaseURL normalizes base URL, strips trailing slash and returns empty for root
func validateBaseURL(u string) string {
	u = strings.TrimRight(u, "/")
	if u != "" && !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return u
}

// setupLogs returns log destination, rotated file if enabled or stdout
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func setupLogging(out io.Writer, dbg bool) {
	logOpts := []log.Option{log.Msec, log.LevelBraces, log.Out(out), log.Err(out)}
	if dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFunc, log.CallerPkg, log.CallerFile)
	}
	log.Setup(logOpts...)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %s received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
