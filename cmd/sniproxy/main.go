package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	prometheusmetrics "github.com/deathowl/go-metrics-prometheus"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pkg/profile"

	"github.com/snirelay/snirelay/pkg/acl"
	"github.com/snirelay/snirelay/pkg/config"
	"github.com/snirelay/snirelay/pkg/dnsredirect"
	"github.com/snirelay/snirelay/pkg/listener"
	"github.com/snirelay/snirelay/pkg/pool"
	"github.com/snirelay/snirelay/pkg/socksclient"
	"github.com/snirelay/snirelay/pkg/whitelist"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath string
	var showDefault bool
	var showVersion bool
	var profileMode string

	cmd := &cobra.Command{
		Use:   "sniproxy",
		Short: "SNI-based transparent forward proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("sniproxy version %s, commit %s\n", version, commit)
				return nil
			}
			if showDefault {
				fmt.Fprint(os.Stdout, string(config.DefaultYAML()))
				return nil
			}
			return run(configPath, profileMode)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().BoolVar(&showDefault, "defaultconfig", false, "write the default config yaml file to stdout")
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show version info and exit")
	cmd.Flags().StringVar(&profileMode, "profile", "", "enable profiling: cpu, mem, or empty to disable")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, profileMode string) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, k, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.LogFormat == "json" {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	switch cfg.Server.LogLevel {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	switch profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile).Stop()
	}

	acls, err := acl.StartAll(&logger, k)
	if err != nil {
		return fmt.Errorf("starting acl chain: %w", err)
	}

	if cfg.Server.BindPrometheus != "" {
		provider := prometheusmetrics.NewPrometheusProvider(metrics.DefaultRegistry, "sniproxy", "", prometheus.DefaultRegisterer, time.Second)
		go provider.UpdatePrometheusMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			srv := handlers.LoggingHandler(os.Stdout, mux)
			logger.Info().Str("addr", cfg.Server.BindPrometheus).Msg("listening metrics")
			if err := http.ListenAndServe(cfg.Server.BindPrometheus, srv); err != nil {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	socks5Client := socksclient.New(cfg.Socks5.Addr, socksclient.Auth{
		Username: cfg.Socks5.Username,
		Password: cfg.Socks5.Password,
	}, cfg.Socks5.Timeout)

	var connPool *pool.Pool
	if cfg.Socks5.MaxConnections > 0 {
		connPool = pool.New(pool.Config{MaxConnections: cfg.Socks5.MaxConnections})
	}

	listenerCfg := listener.Config{
		Socks5:    socks5Client,
		Whitelist: whitelist.New(cfg.Rules.Allow),
		Pool:      connPool,
		Metrics:   listener.NewMetrics(),
		ACLs:      acls,
		Logger:    logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("shutting down")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenHTTPSAddr != "" {
		g.Go(func() error {
			return listener.RunHTTPS(gctx, cfg.Server.ListenHTTPSAddr, listenerCfg)
		})
	}
	if cfg.Server.ListenHTTPAddr != "" {
		g.Go(func() error {
			return listener.RunHTTP(gctx, cfg.Server.ListenHTTPAddr, listenerCfg)
		})
	}
	if cfg.Server.ListenQUICAddr != "" {
		g.Go(func() error {
			return listener.RunQUIC(gctx, cfg.Server.ListenQUICAddr, listenerCfg)
		})
	}

	if cfg.Server.BindDNSOverUDP != "" || cfg.Server.BindDNSOverTCP != "" {
		dnsSrv, err := buildDNSRedirector(cfg, listenerCfg.Whitelist, logger)
		if err != nil {
			return err
		}
		if cfg.Server.BindDNSOverUDP != "" {
			g.Go(func() error { return dnsSrv.ListenAndServe("udp", cfg.Server.BindDNSOverUDP) })
		}
		if cfg.Server.BindDNSOverTCP != "" {
			g.Go(func() error { return dnsSrv.ListenAndServe("tcp", cfg.Server.BindDNSOverTCP) })
		}
	}

	logger.Info().Msgf("sniproxy %s (%s) starting", version, commit)
	return g.Wait()
}

func buildDNSRedirector(cfg *config.Config, wl *whitelist.Whitelist, logger zerolog.Logger) (*dnsredirect.Server, error) {
	upstream, err := dnsredirect.NewUpstream(cfg.DNS.Upstream)
	if err != nil {
		return nil, fmt.Errorf("configuring dns upstream: %w", err)
	}

	if cfg.Server.PublicIPv4 == "" && cfg.Server.PublicIPv6 == "" {
		return nil, fmt.Errorf("server.public_ipv4 or server.public_ipv6 must be set when a DNS listener is enabled")
	}

	var v4, v6 netip.Addr
	if cfg.Server.PublicIPv4 != "" {
		v4, err = netip.ParseAddr(cfg.Server.PublicIPv4)
		if err != nil {
			return nil, fmt.Errorf("parsing server.public_ipv4: %w", err)
		}
	}
	if cfg.Server.PublicIPv6 != "" {
		v6, err = netip.ParseAddr(cfg.Server.PublicIPv6)
		if err != nil {
			return nil, fmt.Errorf("parsing server.public_ipv6: %w", err)
		}
	}

	return dnsredirect.New(dnsredirect.Config{
		PublicIPv4: v4,
		PublicIPv6: v6,
		Whitelist:  wl,
		Upstream:   upstream,
		Logger:     logger.With().Str("service", "dns").Logger(),
	}), nil
}
