package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vogtb/rsheet/packages/config"
	"github.com/vogtb/rsheet/packages/server"
	"github.com/vogtb/rsheet/packages/spreadsheet"
)

type rootOptions struct {
	configPath  string
	markMode    bool
	httpAddr    string
	maxConns    int
	logLevel    string
	logFormat   string
	traceStdout bool
}

func newRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "rsheet [addr]",
		Short: "Serve a shared reactive spreadsheet",
		Long: `rsheet keeps a sheet of cells shared by every connected client.
Clients send "get <cell>" and "set <cell> <expression>"; a set recomputes
every cell that depends on it before replying.

With addr (e.g. 127.0.0.1:6991) clients connect over TCP, one command per
line. Without it the sheet is served on stdin and stdout.`,
		Version:      version,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, args, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&opts.markMode, "mark-mode", "m", false, "Hide error messages in replies")
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringVar(&opts.httpAddr, "http-addr", "", "Serve the HTTP/JSON and WebSocket API on this address")
	flags.IntVar(&opts.maxConns, "max-conns", config.DefaultMaxConnections, "Maximum concurrently served connections")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text|json")
	flags.BoolVar(&opts.traceStdout, "trace-stdout", false, "Pretty-print command traces to stderr")

	return rootCmd
}

// resolveConfig layers the config file, the positional address and any
// flags the user set explicitly, in that order
func resolveConfig(cmd *cobra.Command, args []string, opts *rootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if len(args) > 0 {
		cfg.ListenAddr = args[0]
	}

	flags := cmd.Flags()
	if flags.Changed("mark-mode") {
		cfg.MarkMode = opts.markMode
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = opts.httpAddr
	}
	if flags.Changed("max-conns") {
		cfg.MaxConnections = opts.maxConns
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("trace-stdout") {
		cfg.Trace.Stdout = opts.traceStdout
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// run serves until the primary transport runs out of connections or ctx is
// done. the HTTP API, when enabled, stops with the primary transport.
func run(ctx context.Context, cfg config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	logger := newLogger(cfg.Log, stderr)
	slog.SetDefault(logger)

	shutdownTracing, err := initTracing(cfg.Trace.Stdout, stderr)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace shutdown failed", slog.Any("error", err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(reg)

	sheet := spreadsheet.NewSheet(
		spreadsheet.WithLogger(logger.With(slog.String("component", "sheet"))),
		spreadsheet.WithPropagationObserver(metrics.ObservePropagation),
	)
	metrics.WatchSheet(sheet)
	if err := seedCells(sheet, cfg.Cells); err != nil {
		return err
	}
	if len(cfg.Cells) > 0 {
		logger.Info("seeded cells", slog.Int("count", len(cfg.Cells)))
	}

	handler := server.NewHandler(sheet,
		server.WithMarkMode(cfg.MarkMode),
		server.WithHandlerLogger(logger),
		server.WithMetrics(metrics),
	)
	srv := server.NewServer(handler, cfg.MaxConnections, logger, metrics)

	var primary server.Manager
	if cfg.ListenAddr != "" {
		tcp, err := server.ListenTCP(ctx, cfg.ListenAddr)
		if err != nil {
			return err
		}
		logger.Info("listening", slog.String("transport", tcp.Transport()), slog.String("addr", tcp.Addr().String()))
		primary = tcp
	} else {
		primary = server.NewStdioManager(stdin, stdout)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, cancelServe := context.WithCancel(gctx)
	defer cancelServe()

	if cfg.HTTPAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		ws := server.NewWebSocketManager(logger)
		router := server.NewRouter(server.RouterConfig{
			Handler:   handler,
			Gatherer:  reg,
			WebSocket: ws,
			Logger:    logger,
		})
		httpServer, err := server.ListenHTTP(ctx, cfg.HTTPAddr, router)
		if err != nil {
			return err
		}
		logger.Info("listening", slog.String("transport", "http"), slog.String("addr", httpServer.Addr().String()))

		g.Go(func() error {
			return httpServer.Serve(serveCtx)
		})
		g.Go(func() error {
			return srv.Serve(serveCtx, ws)
		})
		g.Go(func() error {
			<-serveCtx.Done()
			return ws.Close()
		})
	}

	g.Go(func() error {
		defer cancelServe()
		return srv.Serve(serveCtx, primary)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("shut down")
	return nil
}

// seedCells applies the configured cells in sorted name order
func seedCells(sheet *spreadsheet.Sheet, cells map[string]string) error {
	if len(cells) == 0 {
		return nil
	}
	batch := spreadsheet.NewBatch(sheet)
	for _, name := range slices.Sorted(maps.Keys(cells)) {
		batch.Set(name, cells[name])
	}
	if err := batch.Run(); err != nil {
		return fmt.Errorf("seed cells: %w", err)
	}
	return nil
}
