package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unitygate/internal/allowlist"
	"unitygate/internal/circuitbreaker"
	"unitygate/internal/config"
	"unitygate/internal/gate"
	"unitygate/internal/ledger"
	"unitygate/internal/metrics"
	"unitygate/internal/rate"
	"unitygate/internal/server"
	"unitygate/internal/state"
	"unitygate/internal/stats"
	"unitygate/internal/token"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (overrides UNITYGATE_CONFIG env var)")
	levelFlag := flag.Int("level", 0, "security level 1-3 (overrides config)")
	flag.Parse()

	// Determine config path: CLI flag > env var > ./config.yaml > built-in defaults
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("UNITYGATE_CONFIG")
	}
	if cfgPath == "" {
		if _, err := os.Stat("./config.yaml"); err == nil {
			cfgPath = "./config.yaml"
		}
	}
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
	}
	if *levelFlag != 0 {
		cfg.Security.Level = *levelFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	startTime := time.Now()

	secrets, err := token.NewPair(cfg.Tokens.AccessLength, cfg.Tokens.AdminLength)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate secrets")
	}
	if cfg.Tokens.File != "" {
		// the service keeps running; the secrets are still printed below
		if err := (token.FileStore{Path: cfg.Tokens.File}).Persist(secrets); err != nil {
			log.Error().Err(err).Msg("failed to persist secrets")
		}
	}

	store := state.New(secrets, cfg.BanDuration())
	list, err := allowlist.New(cfg.Security.AllowedIPs)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid allow-list")
	}

	sinks := []ledger.Sink{}
	if cfg.Ledger.File != "" {
		fileSink, err := ledger.OpenFile(cfg.Ledger.File)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open ledger file")
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.Ledger.Console {
		sinks = append(sinks, ledger.LogSink{Logger: log.Logger.With().Str("component", "access").Logger()})
	}
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	auditLog := ledger.New(log.Logger, cfg.Ledger.BufferSize, breakers, sinks...)

	pipeline := gate.NewPipeline(gate.Options{
		Level:             cfg.Security.Level,
		AllowList:         list,
		MaxFailedAttempts: cfg.Security.MaxFailedAttempts,
		TimeLimit:         cfg.TimeLimit(),
		StartTime:         startTime,
		HealthPath:        cfg.Paths.Health,
		APIPrefix:         cfg.Paths.APIPrefix,
	}, store, auditLog, log.Logger)

	hostname, _ := os.Hostname()
	reporter := stats.NewReporter(store, stats.Options{
		Level:      cfg.Security.Level,
		StartTime:  startTime,
		TimeLimit:  cfg.TimeLimit(),
		ContentDir: cfg.Server.ContentDir,
		Hostname:   hostname,
	})

	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.NewLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour, cfg.RateLimit.Capacity)
	}

	metrics.MustRegister()
	metrics.BuildInfo.Set(1)

	srv := server.New(cfg, server.Deps{
		Pipeline: pipeline,
		Admin:    gate.NewAdminGuard(store, auditLog),
		Reporter: reporter,
		Ledger:   auditLog,
		Limiter:  limiter,
		Logger:   log.Logger,
	}).HTTPServer()

	logSummary(cfgPath, cfg, pipeline, secrets)

	// Graceful shutdown setup
	serverErrors := make(chan error, 1)
	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().
				Str("cert", cfg.Server.TLSCertFile).
				Str("key", cfg.Server.TLSKeyFile).
				Msg("starting with TLS")
			serverErrors <- srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			serverErrors <- srv.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = auditLog.Close()
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed, forcing close")
			srv.Close()
		}
	}

	if err := auditLog.Close(); err != nil {
		log.Error().Err(err).Msg("ledger close failed")
	}
	log.Info().Msg("shutdown complete")
}

func logSummary(cfgPath string, cfg *config.Config, pipeline *gate.Pipeline, secrets token.Pair) {
	if cfgPath == "" {
		cfgPath = "(built-in defaults)"
	}
	log.Info().Msg("=== UnityGate Configuration Summary ===")
	log.Info().
		Str("config_path", cfgPath).
		Str("log_level", cfg.Logging.Level).
		Str("listen", cfg.Server.Listen).
		Bool("tls_enabled", cfg.Server.TLSEnabled).
		Str("content_dir", cfg.Server.ContentDir).
		Msg("server configuration")
	log.Info().
		Int("level", cfg.Security.Level).
		Strs("steps", pipeline.Steps()).
		Int("max_failed_attempts", cfg.Security.MaxFailedAttempts).
		Int("ban_duration_min", cfg.Security.BanDurationMin).
		Msg("security configuration")
	if cfg.Security.Level >= 2 {
		log.Info().Strs("allowed_ips", cfg.Security.AllowedIPs).Msg("allow-list enabled")
	}
	if cfg.Security.Level >= 3 {
		log.Info().Int("time_limit_min", cfg.Security.TimeLimitMin).Msg("service window enabled")
	}
	log.Info().
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Int("per_minute", cfg.RateLimit.PerMinute).
		Int("per_hour", cfg.RateLimit.PerHour).
		Bool("cors", cfg.CORS.Enabled).
		Str("ledger_file", cfg.Ledger.File).
		Str("tokens_file", cfg.Tokens.File).
		Msg("feature configuration")

	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}
	for _, host := range listenHosts(cfg.Server.Listen) {
		base := fmt.Sprintf("%s://%s", scheme, host)
		log.Info().
			Str("content", base+"/?token="+secrets.Access).
			Str("stats", base+cfg.Paths.APIPrefix+"stats?admin_token="+secrets.Admin).
			Msg("access URLs")
	}
}

// listenHosts expands the listen address into host:port pairs a browser
// can open. An unspecified host yields localhost plus each interface address.
func listenHosts(listen string) []string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return []string{listen}
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		return []string{net.JoinHostPort(host, port)}
	}
	hosts := []string{net.JoinHostPort("localhost", port)}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return hosts
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		hosts = append(hosts, net.JoinHostPort(ipNet.IP.String(), port))
	}
	return hosts
}
