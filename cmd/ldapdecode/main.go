// Command ldapdecode offline-decodes LDAP traffic from one or more
// packet capture files (snoop-like or pcap-like) and reports the LDAP
// messages found in every TCP flow.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/ldapdecode/internal/capture"
	"github.com/dantte-lp/ldapdecode/internal/config"
	"github.com/dantte-lp/ldapdecode/internal/decode"
	ldapmetrics "github.com/dantte-lp/ldapdecode/internal/metrics"
	"github.com/dantte-lp/ldapdecode/internal/sink"
	appversion "github.com/dantte-lp/ldapdecode/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain active scrapes once every capture file has finished decoding.
const shutdownTimeout = 5 * time.Second

var (
	configPath string
	noColor    bool
	noSummary  bool
	serverAddr string
	serverPort uint16
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := rootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ldapdecode [capture files...]",
		Short: "Decode LDAP traffic from offline packet captures",
		Long: "ldapdecode reconstructs TCP flows from a snoop-like or pcap-like " +
			"capture file, splits LDAP BER elements out of each flow, and " +
			"prints the LDAP messages it finds.",
		Version:      appversion.Version,
		SilenceUsage: true,
		RunE:         runDecode,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colorized per-message output")
	cmd.Flags().BoolVar(&noSummary, "no-summary", false, "disable the end-of-run summary table")
	cmd.Flags().StringVar(&serverAddr, "server-addr", "", "only process flows touching this IP address")
	cmd.Flags().Uint16Var(&serverPort, "server-port", 0, "only process flows touching this TCP port")

	return cmd
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	logger.Info("ldapdecode starting",
		slog.String("version", appversion.Version),
		slog.Int("capture_files", len(cfg.Capture.Paths)),
		slog.Int("concurrency", cfg.Capture.Concurrency))

	reg := prometheus.NewRegistry()
	collector := ldapmetrics.NewCollector(reg)

	filter, err := buildFilter(cfg)
	if err != nil {
		return fmt.Errorf("build filter: %w", err)
	}

	out := cmd.OutOrStdout()
	consoleSink := sink.New(out, cfg.Sink.Color, cfg.Sink.Summary)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = newMetricsServer(cfg.Metrics, reg)
		g.Go(func() error {
			logger.Info("metrics server listening",
				slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
			return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
		})
	}

	stats, decodeErr := decodeAll(gCtx, cfg, filter, consoleSink, collector, logger)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", slog.Any("error", err))
		}
	}
	stop()
	_ = g.Wait()

	consoleSink.Summary()
	logger.Info("ldapdecode finished",
		slog.Uint64("total", stats.Total),
		slog.Uint64("ldap_messages", stats.LdapMessages),
		slog.Uint64("skipped_truncated", stats.SkippedTruncated),
		slog.Uint64("skipped_non_ipv4", stats.SkippedNonIPv4),
		slog.Uint64("skipped_non_tcp", stats.SkippedNonTCP),
		slog.Uint64("skipped_filtered", stats.SkippedFiltered),
		slog.Uint64("skipped_non_ldap", stats.SkippedNonLdap),
		slog.Uint64("oversized_flows", stats.OversizedFlows),
		slog.Uint64("errors", stats.Errors))

	return decodeErr
}

// decodeAll runs one Driver per capture path, bounded by
// cfg.Capture.Concurrency concurrent files, and aggregates their Stats.
func decodeAll(
	ctx context.Context,
	cfg *config.Config,
	filter decode.Filter,
	consoleSink *sink.ConsoleSink,
	collector *ldapmetrics.Collector,
	logger *slog.Logger,
) (decode.Stats, error) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Capture.Concurrency)

	var mu syncStats
	var total decode.Stats

	for _, path := range cfg.Capture.Paths {
		path := path
		g.Go(func() error {
			stats, err := decodeFile(gCtx, path, cfg, filter, consoleSink, collector, logger)
			mu.add(&total, stats)
			if err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		})
	}

	err := g.Wait()
	return total, err
}

func decodeFile(
	ctx context.Context,
	path string,
	cfg *config.Config,
	filter decode.Filter,
	consoleSink *sink.ConsoleSink,
	collector *ldapmetrics.Collector,
	logger *slog.Logger,
) (decode.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return decode.Stats{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	reader, err := capture.Open(f)
	if err != nil {
		return decode.Stats{}, fmt.Errorf("open capture container: %w", err)
	}

	driver := decode.New(logger.With(slog.String("source", path)), filter, consoleSink, cfg.Flow.MaxIdleFlows, collector, path)

	return driver.Run(ctx, reader)
}

func buildFilter(cfg *config.Config) (decode.Filter, error) {
	addr, err := cfg.Filter.ServerAddrValue()
	if err != nil {
		return decode.Filter{}, err
	}
	return decode.Filter{ServerAddr: addr, ServerPort: cfg.Filter.ServerPort}, nil
}

func loadConfig(args []string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if len(args) > 0 {
		cfg.Capture.Paths = args
	}
	if noColor {
		cfg.Sink.Color = false
	}
	if noSummary {
		cfg.Sink.Summary = false
	}
	if serverAddr != "" {
		cfg.Filter.ServerAddr = serverAddr
	}
	if serverPort != 0 {
		cfg.Filter.ServerPort = serverPort
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := config.ParseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// syncStats serializes total-Stats accumulation across the concurrent
// per-file goroutines in decodeAll.
type syncStats struct {
	mu chan struct{}
}

func (s *syncStats) add(total *decode.Stats, delta decode.Stats) {
	if s.mu == nil {
		s.mu = make(chan struct{}, 1)
	}
	s.mu <- struct{}{}
	defer func() { <-s.mu }()

	total.Total += delta.Total
	total.LdapMessages += delta.LdapMessages
	total.SkippedTruncated += delta.SkippedTruncated
	total.SkippedNonIPv4 += delta.SkippedNonIPv4
	total.SkippedNonTCP += delta.SkippedNonTCP
	total.SkippedFiltered += delta.SkippedFiltered
	total.SkippedNonLdap += delta.SkippedNonLdap
	total.SkippedEmpty += delta.SkippedEmpty
	total.OversizedFlows += delta.OversizedFlows
	total.Errors += delta.Errors
}
