package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	twitter "github.com/anatolykoptev/go-twitter-timeline"
	"github.com/anatolykoptev/go-twitter-timeline/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	maxFlag         = "max"
	accountsFlag    = "accounts"
	proxyFlag       = "proxy"
	sessionDirFlag  = "session-dir"
	modeFlag        = "mode"
	kindFlag        = "kind"
	metricsAddrFlag = "metrics-addr"
	logLevelFlag    = "log-level"
	parallelFlag    = "parallel"
)

// config is the resolved flag, environment and config-file state of one run.
type config struct {
	Max         int
	Accounts    string
	Proxy       string
	SessionDir  string
	Mode        string
	Kind        string
	MetricsAddr string
	LogLevel    string
	Parallel    int
}

func loadConfig() config {
	return config{
		Max:         viper.GetInt(maxFlag),
		Accounts:    viper.GetString(accountsFlag),
		Proxy:       viper.GetString(proxyFlag),
		SessionDir:  viper.GetString(sessionDirFlag),
		Mode:        viper.GetString(modeFlag),
		Kind:        viper.GetString(kindFlag),
		MetricsAddr: viper.GetString(metricsAddrFlag),
		LogLevel:    viper.GetString(logLevelFlag),
		Parallel:    viper.GetInt(parallelFlag),
	}
}

// mustBindPFlag binds a viper key to a cobra flag and panics if the binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// NewRootCommand reads settings from flags, XTIMELINE_* environment variables, or
// xtimeline.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("xtimeline")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("XTIMELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, path := range []string{"$HOME/.xtimeline", "."} {
		viper.AddConfigPath(path)
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "xtimeline: reading config:", err)
		}
	}

	root := &cobra.Command{
		Use:          "xtimeline",
		Short:        "Walk Twitter timelines and print their items as JSON lines",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.Int(maxFlag, 100, "maximum number of items per argument")
	mustBindPFlag(maxFlag, flags.Lookup(maxFlag))
	flags.String(accountsFlag, "", "comma-separated accounts: user:pass[:auth_token:ct0[:totp_secret]]")
	mustBindPFlag(accountsFlag, flags.Lookup(accountsFlag))
	flags.String(proxyFlag, "", "default proxy URL for accounts without their own")
	mustBindPFlag(proxyFlag, flags.Lookup(proxyFlag))
	flags.String(sessionDirFlag, "", "directory for persisted sessions (default ~/.go-twitter/sessions)")
	mustBindPFlag(sessionDirFlag, flags.Lookup(sessionDirFlag))
	flags.String(metricsAddrFlag, "", "serve Prometheus metrics on this host:port")
	mustBindPFlag(metricsAddrFlag, flags.Lookup(metricsAddrFlag))
	flags.String(logLevelFlag, "info", "log level: debug, info, warn or error")
	mustBindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))
	flags.Int(parallelFlag, 4, "number of arguments traversed concurrently")
	mustBindPFlag(parallelFlag, flags.Lookup(parallelFlag))

	for _, cmd := range commands {
		root.AddCommand(cmd.cobra())
	}
	root.AddCommand(ipCommand())
	return root
}

// ipCommand prints the public address the client's requests leave from.
func ipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Show the public IP address requests are sent from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig()
			setupLogging(cfg.LogLevel)

			client, shutdown, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			info, err := client.IPInfo(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
		},
	}
}

// cobra turns a traversal command into its cobra form.
func (tc traversalCommand) cobra() *cobra.Command {
	cmd := &cobra.Command{
		Use:   tc.name + " <" + tc.arg + ">...",
		Short: tc.short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setupLogging(cfg.LogLevel)

			client, shutdown, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			var resolve resolver = passThrough
			if tc.handles {
				resolve = handleResolver(client)
			}
			return runTraversals(cmd.Context(), args, resolve, tc.build(client, cfg), cfg.Parallel, cmd.OutOrStdout())
		},
	}
	if tc.name == "search" {
		flags := cmd.Flags()
		flags.String(modeFlag, "top", "search tab: top, latest, photos, videos, people or lists")
		mustBindPFlag(modeFlag, flags.Lookup(modeFlag))
		flags.String(kindFlag, "tweets", "search result kind: tweets, profiles or lists")
		mustBindPFlag(kindFlag, flags.Lookup(kindFlag))
	}
	return cmd
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// newClient builds the Twitter client, wiring metrics and page logging into it.
// The returned func releases the metrics server, if one was started.
func newClient(cfg config) (*twitter.Client, func(), error) {
	reg := prometheus.NewRegistry()
	metrics := twitter.NewMetrics(reg)
	countPage := metrics.PageHook()

	client, err := twitter.NewClient(twitter.ClientConfig{
		Accounts:     twitter.ParseAccounts(cfg.Accounts),
		DefaultProxy: cfg.Proxy,
		SessionDir:   cfg.SessionDir,
		MetricsHook:  metrics.APIHook(),
		PageHook: func(operation string, ev timeline.PageEvent) {
			countPage(operation, ev)
			slog.Debug("page fetched",
				slog.String("operation", operation),
				slog.String("query", ev.Query),
				slog.Int("page", ev.Page),
				slog.Int("items", ev.Items),
				slog.Int("empty_run", ev.EmptyRun))
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}

	if cfg.MetricsAddr == "" {
		return client, func() {}, nil
	}
	return client, serveMetrics(cfg.MetricsAddr, reg), nil
}

// serveMetrics exposes reg on addr under /metrics until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
