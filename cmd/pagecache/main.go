package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/pagecache"
	"github.com/always-cache/pagecache/cache"
	"github.com/always-cache/pagecache/config"
	"github.com/always-cache/pagecache/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	addrFlag           string
	hostFlag           string
	legacyModeFlag     bool
	verbosityTraceFlag bool
	logFilenameFlag    string
	metricsFlag        string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config, addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config, default 8080)")
	flag.BoolVar(&legacyModeFlag, "legacy", false, "Legacy mode: do not update, only invalidate if needed")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	flag.StringVar(&metricsFlag, "metrics", "", "Metrics exporter: prometheus, stdout or none (overrides config)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogging(cfg)

	originURL, originHost, err := getOrigin(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Please specify origin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := cfg.CacheOptions()
	opts.Logger = &log.Logger
	store := cache.New(opts)

	meterProvider, err := metrics.NewMeterProvider(ctx, cfg.Metrics.Exporter)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up metrics")
	}
	cacheMetrics, err := metrics.New(meterProvider.Meter(metrics.MeterName), store)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not set up metrics")
	}
	store.Subscribe(cacheMetrics)

	pc := pagecache.CreateCache(pagecache.Config{
		Cache:                store,
		OriginURL:            *originURL,
		OriginHost:           originHost,
		Logger:               &log.Logger,
		Rules:                cfg.Rules,
		DisableUpdates:       cfg.DisableUpdates,
		RevalidateTimeout:    cfg.RevalidateTimeout(),
		MaxConcurrentUpdates: cfg.Cache.MaxConcurrentUpdates,
		MaxValueSize:         cfg.Cache.MaxValueSize,
	})
	store.Subscribe(pc)

	sweeper := cache.NewSweeper(store, cfg.SweepInterval())
	go sweeper.Run(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, store, pc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", cfg.Port, originURL.String(), originHost)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server gracefully")
	}
	pc.Close()
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down metrics")
	}
}

// loadConfig merges defaults, config file, environment and flags, in that order.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configFilenameFlag != "" {
		var err error
		if cfg, err = config.Load(configFilenameFlag); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if originFlag != "" {
		cfg.Origin = originFlag
	}
	if hostFlag != "" {
		cfg.Host = hostFlag
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if legacyModeFlag {
		cfg.DisableUpdates = true
	}
	if metricsFlag != "" {
		cfg.Metrics.Exporter = metricsFlag
	}
	if logFilenameFlag != "" {
		cfg.Log.File = logFilenameFlag
	}
	if verbosityTraceFlag {
		cfg.Log.Level = zerolog.TraceLevel.String()
	}
	return cfg, cfg.Validate()
}

func setupLogging(cfg config.Config) {
	// validated before
	logLevel, _ := cfg.LogLevel()

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if cfg.Log.File != "" {
		if logFileOutput, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}

// getOrigin returns the origin URL and the hostname to use with it.
func getOrigin(cfg config.Config) (*url.URL, string, error) {
	if cfg.Origin != "" {
		originURL, err := url.Parse(cfg.Origin)
		return originURL, cfg.Host, err
	}
	if addrFlag != "" {
		originURL, err := url.Parse("https://" + addrFlag)
		return originURL, cfg.Host, err
	}
	return nil, "", errors.New("no origin configured")
}

func newRouter(cfg config.Config, store *cache.Store, pc http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))

	if cfg.Metrics.Exporter == config.ExporterPrometheus {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	r.Get("/.pagecache/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/.pagecache/stats", statsHandler(store))
	// exported hit and miss metrics keep counting across a reset
	r.Post("/.pagecache/stats/reset", func(w http.ResponseWriter, r *http.Request) {
		store.ResetStats()
		hlog.FromRequest(r).Info().Msg("Cache stats reset")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/*", pc)
	return r
}

func statsHandler(store *cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := store.Stats()
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"keys":       s.KeyCount,
			"hits":       s.Hits,
			"misses":     s.Misses,
			"hitRatio":   s.HitRatio(),
			"keyBytes":   s.KeySize,
			"valueBytes": s.ValueSize,
		})
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Could not write stats")
		}
	}
}
